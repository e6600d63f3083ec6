package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lucciole/backend/internal/domain"
	"lucciole/backend/internal/store"
	"lucciole/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	catalog domain.Catalog
	feed    *Feed
}

func New(repo store.Repository, catalog domain.Catalog) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		feed:    NewFeed(),
	}
}

// Feed exposes the live item snapshot stream for the watch endpoint.
func (s *Service) Feed() *Feed {
	return s.feed
}

// AddDelivery records a stock delivery. Deliveries matching an existing
// non-archived item on normalized name and exact category fold into it;
// otherwise a new item is created. Either way exactly one movement log entry
// is appended, keyed by name and category.
func (s *Service) AddDelivery(ctx context.Context, req domain.DeliveryRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Item{}, fmt.Errorf("authentication required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Supplier = strings.TrimSpace(req.Supplier)
	req.Subcategory = strings.TrimSpace(req.Subcategory)
	req.Unit = strings.TrimSpace(req.Unit)
	req.ExpiryDate = strings.TrimSpace(req.ExpiryDate)

	// Kitchen staff load only into their own department, like the original
	// cook account.
	if actor.Role == domain.RoleKitchen {
		req.Category = domain.CategoryRistorante
	}

	if req.Name == "" || req.Category == domain.CategoryMenu || !s.catalog.ValidCategory(req.Category) {
		return domain.Item{}, store.ErrInvalidInput
	}
	if !s.catalog.ValidUnit(req.Unit) {
		return domain.Item{}, store.ErrInvalidInput
	}
	if req.Quantity < 0 || req.MinThreshold < 0 {
		return domain.Item{}, store.ErrInvalidInput
	}
	if req.ExpiryDate != "" {
		if _, err := time.Parse("2006-01-02", req.ExpiryDate); err != nil {
			return domain.Item{}, store.ErrInvalidInput
		}
	}

	var saved *domain.Item
	existing, err := s.repo.FindItemByNameCategory(ctx, req.Name, req.Category)
	switch {
	case err == nil:
		saved, err = s.repo.MergeDelivery(ctx, existing.ID, req.Quantity, req.MinThreshold, req.Supplier, req.Subcategory, req.Unit, req.ExpiryDate)
		if err != nil {
			return domain.Item{}, err
		}
	case errors.Is(err, store.ErrNotFound):
		saved, err = s.repo.CreateItem(ctx, domain.Item{
			Name:         req.Name,
			Category:     req.Category,
			Subcategory:  req.Subcategory,
			Quantity:     req.Quantity,
			MinThreshold: req.MinThreshold,
			Unit:         req.Unit,
			Supplier:     req.Supplier,
			ExpiryDate:   req.ExpiryDate,
		})
		if err != nil {
			return domain.Item{}, err
		}
	default:
		return domain.Item{}, err
	}

	s.appendLog(ctx, domain.LogEntry{
		ItemName:       saved.Name,
		Category:       saved.Category,
		QuantityChange: req.Quantity,
		UserRole:       actor.Role,
		Note:           "delivery",
	})
	s.notifySubscribers(ctx)

	return s.redactForActor(*saved, actor), nil
}

// CreateMenuItem registers a sellable menu entry: either a direct item tied
// to a warehouse product or an untracked dish with a food-cost estimate.
func (s *Service) CreateMenuItem(ctx context.Context, req domain.MenuItemCreateRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.IsManager() {
		return domain.Item{}, fmt.Errorf("manager role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.MenuType = strings.ToLower(strings.TrimSpace(req.MenuType))
	req.LinkedProductID = strings.TrimSpace(req.LinkedProductID)
	if req.Name == "" {
		return domain.Item{}, store.ErrInvalidInput
	}
	if req.MenuType != domain.MenuTypeDirect && req.MenuType != domain.MenuTypeDish {
		return domain.Item{}, store.ErrInvalidInput
	}
	if req.MenuType == domain.MenuTypeDish {
		req.LinkedProductID = ""
	}

	costPrice, err := parsePrice(req.CostPrice)
	if err != nil {
		return domain.Item{}, store.ErrInvalidInput
	}
	sellPrice, err := parsePrice(req.SellPrice)
	if err != nil {
		return domain.Item{}, store.ErrInvalidInput
	}

	saved, err := s.repo.CreateItem(ctx, domain.Item{
		Name:            req.Name,
		Category:        domain.CategoryMenu,
		MenuType:        req.MenuType,
		LinkedProductID: req.LinkedProductID,
		CostPrice:       costPrice,
		SellPrice:       sellPrice,
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.notifySubscribers(ctx)
	return *saved, nil
}

// ListItems returns the live view the UI renders, with the caller's filters
// applied and monetary fields redacted for non-manager roles. Kitchen staff
// only ever see the Ristorante department.
func (s *Service) ListItems(ctx context.Context, filter domain.ItemListFilter) ([]domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if actor.Role == domain.RoleKitchen {
		filter.Category = domain.CategoryRistorante
	}

	items, err := s.repo.ListItems(ctx, filter.IncludeArchived)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	search := domain.NormalizeName(filter.Search)
	result := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		if filter.LowStockOnly && !item.LowStock() {
			continue
		}
		if filter.ExpiringOnly && !item.ExpiringSoon(now) {
			continue
		}
		if search != "" && !strings.Contains(domain.NormalizeName(item.Name), search) {
			continue
		}
		result = append(result, s.redactForActor(item, actor))
	}
	return result, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Item{}, fmt.Errorf("authentication required")
	}

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	return s.redactForActor(*item, actor), nil
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Item{}, fmt.Errorf("authentication required")
	}

	existing, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Item{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Subcategory != nil {
		updated.Subcategory = strings.TrimSpace(*req.Subcategory)
	}
	if req.MinThreshold != nil {
		if *req.MinThreshold < 0 {
			return domain.Item{}, store.ErrInvalidInput
		}
		updated.MinThreshold = *req.MinThreshold
	}
	if req.Unit != nil {
		if !s.catalog.ValidUnit(*req.Unit) {
			return domain.Item{}, store.ErrInvalidInput
		}
		updated.Unit = *req.Unit
	}
	if req.Supplier != nil {
		updated.Supplier = strings.TrimSpace(*req.Supplier)
	}
	if req.ExpiryDate != nil {
		expiry := strings.TrimSpace(*req.ExpiryDate)
		if expiry != "" {
			if _, err := time.Parse("2006-01-02", expiry); err != nil {
				return domain.Item{}, store.ErrInvalidInput
			}
		}
		updated.ExpiryDate = expiry
	}
	if req.Capacity != nil {
		if *req.Capacity < 0 {
			return domain.Item{}, store.ErrInvalidInput
		}
		updated.Capacity = *req.Capacity
	}
	if req.Dose != nil {
		if *req.Dose < 0 {
			return domain.Item{}, store.ErrInvalidInput
		}
		updated.Dose = *req.Dose
	}

	if req.CostPrice != nil || req.SellPrice != nil || req.MenuType != nil || req.LinkedProductID != nil {
		if !actor.IsManager() {
			return domain.Item{}, fmt.Errorf("manager role required")
		}
	}
	if req.CostPrice != nil {
		price, err := parsePrice(*req.CostPrice)
		if err != nil {
			return domain.Item{}, store.ErrInvalidInput
		}
		updated.CostPrice = price
	}
	if req.SellPrice != nil {
		price, err := parsePrice(*req.SellPrice)
		if err != nil {
			return domain.Item{}, store.ErrInvalidInput
		}
		updated.SellPrice = price
	}
	if req.MenuType != nil {
		menuType := strings.ToLower(strings.TrimSpace(*req.MenuType))
		if updated.Category != domain.CategoryMenu || (menuType != domain.MenuTypeDirect && menuType != domain.MenuTypeDish) {
			return domain.Item{}, store.ErrInvalidInput
		}
		updated.MenuType = menuType
	}
	if req.LinkedProductID != nil {
		// Soft reference: resolution happens at sale time, never here.
		updated.LinkedProductID = strings.TrimSpace(*req.LinkedProductID)
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.Item{}, err
	}

	s.notifySubscribers(ctx)
	return s.redactForActor(*saved, actor), nil
}

// ArchiveItem hides an item from default views. Archived items stay in
// storage and in historical reports.
func (s *Service) ArchiveItem(ctx context.Context, id string, archived bool) (domain.Item, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.IsManager() {
		return domain.Item{}, fmt.Errorf("manager role required")
	}

	saved, err := s.repo.SetItemArchived(ctx, id, archived)
	if err != nil {
		return domain.Item{}, err
	}

	s.notifySubscribers(ctx)
	return s.redactForActor(*saved, actor), nil
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleSeniorManager {
		return fmt.Errorf("senior manager role required")
	}

	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return err
	}

	s.notifySubscribers(ctx)
	return nil
}

// ApplyDelta applies a signed quantity change. A missing item is a silent
// no-op. Dish menu entries never have their quantity touched; the movement
// is logged for consumption tracking only. For everything else the stored
// quantity is clamped at zero with 4-decimal precision, while the log entry
// records the requested delta, clamped or not.
func (s *Service) ApplyDelta(ctx context.Context, id string, delta float64, note string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authentication required")
	}

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if item.Tracked() {
		if _, err := s.repo.ApplyQuantityDelta(ctx, id, delta); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
	}

	s.appendLog(ctx, domain.LogEntry{
		ItemName:       item.Name,
		Category:       item.Category,
		QuantityChange: delta,
		UserRole:       actor.Role,
		Note:           note,
	})
	s.notifySubscribers(ctx)
	return nil
}

// Pour decrements a container by one dose: delta = -(dose/capacity) units.
func (s *Service) Pour(ctx context.Context, id string) error {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if !item.CanPour() {
		return fmt.Errorf("%w: item has no dose configuration", store.ErrInvalidInput)
	}
	return s.ApplyDelta(ctx, id, -(item.Dose / item.Capacity), "dose-sold")
}

// SellMenuItem records a menu sale. The sale log entry is the record of
// truth and always lands first; the linked warehouse decrement is
// best-effort and never rolls the sale back. A broken link is a diagnostic,
// not a failure: sale-of-record takes priority over stock accuracy.
func (s *Service) SellMenuItem(ctx context.Context, id string) (domain.SellResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SellResult{}, fmt.Errorf("authentication required")
	}

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.SellResult{}, err
	}
	if item.Category != domain.CategoryMenu {
		return domain.SellResult{}, store.ErrInvalidInput
	}

	if err := s.repo.AppendLog(ctx, domain.LogEntry{
		ID:             xid.New("log"),
		ItemName:       item.Name,
		Category:       domain.SaleCategory,
		QuantityChange: -1,
		UserRole:       actor.Role,
		Note:           "sold from menu",
		Revenue:        item.SellPrice,
		Cost:           item.CostPrice,
		Date:           time.Now().UTC(),
	}); err != nil {
		return domain.SellResult{}, err
	}

	result := domain.SellResult{ItemName: item.Name}
	if item.MenuType == domain.MenuTypeDirect && item.LinkedProductID != "" {
		linked, err := s.repo.GetItem(ctx, item.LinkedProductID)
		if err != nil {
			log.Printf("[service] WARN: menu item %q links to missing product %s, sale recorded without stock decrement", item.Name, item.LinkedProductID)
		} else {
			if err := s.ApplyDelta(ctx, linked.ID, -1, "menu-sale"); err != nil {
				log.Printf("[service] WARN: stock decrement for %q failed: %v", linked.Name, err)
			} else {
				result.LinkedDecremented = true
			}
		}
	}

	s.notifySubscribers(ctx)
	return result, nil
}

func (s *Service) GetShoppingList(ctx context.Context) (domain.ShoppingList, error) {
	list, err := s.repo.GetShoppingList(ctx)
	if err != nil {
		return domain.ShoppingList{}, err
	}
	return *list, nil
}

// PutShoppingList overwrites the shared document wholesale, no history.
func (s *Service) PutShoppingList(ctx context.Context, notes map[string]string) (domain.ShoppingList, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShoppingList{}, fmt.Errorf("authentication required")
	}

	if notes == nil {
		notes = map[string]string{}
	}
	list := domain.ShoppingList{
		Notes:     notes,
		UpdatedBy: actor.Username,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.repo.PutShoppingList(ctx, list); err != nil {
		return domain.ShoppingList{}, err
	}
	return list, nil
}

func (s *Service) ListMovements(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.IsManager() {
		return nil, fmt.Errorf("manager role required")
	}

	logs, err := s.repo.ListLogs(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}

// Snapshot returns the full item list for feed subscribers joining late.
func (s *Service) Snapshot(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx, false)
}

// appendLog is best-effort relative to the item write it follows: the
// original had no transaction spanning the two either.
func (s *Service) appendLog(ctx context.Context, entry domain.LogEntry) {
	entry.ID = xid.New("log")
	entry.Date = time.Now().UTC()
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: failed to append movement log for %q: %v", entry.ItemName, err)
	}
}

func (s *Service) notifySubscribers(ctx context.Context) {
	if s.feed.SubscriberCount() == 0 {
		return
	}
	items, err := s.repo.ListItems(ctx, false)
	if err != nil {
		log.Printf("[service] WARN: snapshot for live feed failed: %v", err)
		return
	}
	s.feed.Publish(items)
}

// ScopeForActor applies the visibility rules of ListItems to an item
// snapshot: kitchen staff see only the Ristorante department and monetary
// fields are redacted for non-manager roles. The live feed runs every frame
// through this before it reaches a subscriber.
func (s *Service) ScopeForActor(items []domain.Item, actor domain.Actor) []domain.Item {
	scoped := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if actor.Role == domain.RoleKitchen && item.Category != domain.CategoryRistorante {
			continue
		}
		scoped = append(scoped, s.redactForActor(item, actor))
	}
	return scoped
}

func (s *Service) redactForActor(item domain.Item, actor domain.Actor) domain.Item {
	if actor.IsManager() {
		return item
	}
	item.CostPrice = decimal.Zero
	item.SellPrice = decimal.Zero
	return item
}

func parsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative price")
	}
	return price, nil
}
