package memory

import (
	"context"
	"log"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"lucciole/backend/internal/domain"
	"lucciole/backend/internal/store"
	"lucciole/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.Item
	logs            []domain.LogEntry
	shoppingList    domain.ShoppingList
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode, one per
// role in the static role table. Passwords come from SEED_<USERNAME>_PASSWORD
// environment variables with hardcoded dev defaults as fallback. These
// credentials are never used in production (the backend uses PostgreSQL when
// DATABASE_URL is set).
func seedUsers(catalog domain.Catalog) map[string]domain.UserAccount {
	now := time.Now().UTC()
	users := make(map[string]domain.UserAccount, len(catalog.RoleTable))
	warned := false
	for username, role := range catalog.RoleTable {
		envKey := "SEED_" + strings.ToUpper(username) + "_PASSWORD"
		password := os.Getenv(envKey)
		if password == "" {
			password = username + "123"
			warned = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", username, err)
		}
		users[username] = domain.UserAccount{
			Username:  username,
			Password:  string(hash),
			Role:      role,
			Active:    true,
			CreatedAt: now,
		}
	}
	if warned {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_<USERNAME>_PASSWORD to override.")
	}
	return users
}

func NewSeeded(catalog domain.Catalog) *Store {
	s := New(catalog)

	price := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }
	seed := []domain.Item{
		{ID: xid.New("item"), Name: "Acqua Tonica", Category: domain.CategoryBar, Quantity: 24, MinThreshold: 6, Unit: domain.UnitPezzi, Supplier: "Beverage Srl"},
		{ID: xid.New("item"), Name: "Gin London Dry", Category: domain.CategoryBar, Quantity: 3, MinThreshold: 1, Unit: domain.UnitLitri, Capacity: 0.7, Dose: 0.04, CostPrice: price("14.50"), SellPrice: price("0")},
		{ID: xid.New("item"), Name: "Farina 00", Category: domain.CategoryRistorante, Quantity: 25, MinThreshold: 10, Unit: domain.UnitKg, Supplier: "Molino Rossi"},
		{ID: xid.New("item"), Name: "Passata di Pomodoro", Category: domain.CategoryRistorante, Quantity: 18, MinThreshold: 6, Unit: domain.UnitPezzi},
		{ID: xid.New("item"), Name: "Asciugamani Medi", Category: domain.CategoryBiancheria, Quantity: 40, MinThreshold: 15, Unit: domain.UnitPezzi, Supplier: "Lavanderia Blu"},
		{ID: xid.New("item"), Name: "Cloro Granulare", Category: domain.CategoryPiscina, Quantity: 10, MinThreshold: 4, Unit: domain.UnitKg},
		{ID: xid.New("item"), Name: "Lattina Cola", Category: domain.CategoryBar, Quantity: 48, MinThreshold: 12, Unit: domain.UnitPezzi},
	}
	now := time.Now().UTC()
	for i := range seed {
		seed[i].CreatedAt = now
		s.items[seed[i].ID] = seed[i]
	}

	// A sellable menu entry wired to the warehouse cola stock.
	var colaID string
	for _, item := range seed {
		if item.Name == "Lattina Cola" {
			colaID = item.ID
		}
	}
	menu := domain.Item{
		ID:              xid.New("item"),
		Name:            "Cola alla Spina",
		Category:        domain.CategoryMenu,
		MenuType:        domain.MenuTypeDirect,
		LinkedProductID: colaID,
		CostPrice:       price("0.80"),
		SellPrice:       price("3.00"),
		CreatedAt:       now,
	}
	s.items[menu.ID] = menu

	return s
}

func New(catalog domain.Catalog) *Store {
	return &Store{
		items:           make(map[string]domain.Item),
		logs:            make([]domain.LogEntry, 0, 128),
		shoppingList:    domain.ShoppingList{Notes: map[string]string{}},
		usersByUsername: seedUsers(catalog),
	}
}

func (s *Store) ListItems(_ context.Context, includeArchived bool) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if item.IsArchived && !includeArchived {
			continue
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return items, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || item.Category == "" || item.Quantity < 0 || item.MinThreshold < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Quantity = round4(item.Quantity)
	s.items[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" || item.Name == "" || item.Category == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	// Quantity is owned by the delta path; keep the stored value.
	item.Quantity = existing.Quantity
	item.CreatedAt = existing.CreatedAt
	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) SetItemArchived(_ context.Context, id string, archived bool) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	item.IsArchived = archived
	s.items[id] = item
	updated := item
	return &updated, nil
}

func (s *Store) FindItemByNameCategory(_ context.Context, name string, category string) (*domain.Item, error) {
	key := domain.NormalizeName(name)
	if key == "" || category == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.items {
		if item.IsArchived {
			continue
		}
		if item.Category == category && domain.NormalizeName(item.Name) == key {
			found := item
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MergeDelivery(_ context.Context, id string, qty float64, threshold float64, supplier, subcategory, unit, expiryDate string) (*domain.Item, error) {
	if qty < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	item.Quantity = round4(item.Quantity + qty)
	if threshold > 0 {
		item.MinThreshold = threshold
	}
	if strings.TrimSpace(supplier) != "" {
		item.Supplier = strings.TrimSpace(supplier)
	}
	if strings.TrimSpace(subcategory) != "" {
		item.Subcategory = strings.TrimSpace(subcategory)
	}
	if strings.TrimSpace(unit) != "" {
		item.Unit = strings.TrimSpace(unit)
	}
	if strings.TrimSpace(expiryDate) != "" {
		item.ExpiryDate = strings.TrimSpace(expiryDate)
	}
	s.items[id] = item
	merged := item
	return &merged, nil
}

func (s *Store) ApplyQuantityDelta(_ context.Context, id string, delta float64) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	item.Quantity = math.Max(0, round4(item.Quantity+delta))
	s.items[id] = item
	updated := item
	return &updated, nil
}

func (s *Store) AppendLog(_ context.Context, entry domain.LogEntry) error {
	if entry.ItemName == "" || entry.Category == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) ListLogs(_ context.Context) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LogEntry, len(s.logs))
	copy(result, s.logs)
	slices.SortFunc(result, func(a, b domain.LogEntry) int {
		if a.Date.Equal(b.Date) {
			return cmpString(a.ID, b.ID)
		}
		if a.Date.Before(b.Date) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) GetShoppingList(_ context.Context) (*domain.ShoppingList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := domain.ShoppingList{
		Notes:     make(map[string]string, len(s.shoppingList.Notes)),
		UpdatedBy: s.shoppingList.UpdatedBy,
		UpdatedAt: s.shoppingList.UpdatedAt,
	}
	for dept, note := range s.shoppingList.Notes {
		list.Notes[dept] = note
	}
	return &list, nil
}

func (s *Store) PutShoppingList(_ context.Context, list domain.ShoppingList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if list.Notes == nil {
		list.Notes = map[string]string{}
	}
	if list.UpdatedAt.IsZero() {
		list.UpdatedAt = time.Now().UTC()
	}
	s.shoppingList = list
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// round4 keeps quantities at the 4-decimal precision dose pours need.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
