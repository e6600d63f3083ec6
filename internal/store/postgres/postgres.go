package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lucciole/backend/internal/domain"
	"lucciole/backend/internal/store"
	"lucciole/backend/internal/xid"
)

// Store is the PostgreSQL repository. Expected schema:
//
//	items(id text pk, name text, category text, subcategory text,
//	      quantity double precision, min_threshold double precision,
//	      unit text, supplier text, expiry_date text,
//	      cost_price numeric, sell_price numeric,
//	      capacity double precision, dose double precision,
//	      menu_type text, linked_product_id text,
//	      is_archived boolean, created_at timestamptz)
//	movement_logs(id text pk, item_name text, category text,
//	      quantity_change double precision, user_role text, note text,
//	      revenue numeric, cost numeric, date timestamptz)
//	shopping_list(id text pk, notes jsonb, updated_by text,
//	      updated_at timestamptz)
//	users(username text pk, password text, role text, active boolean,
//	      created_at timestamptz)
type Store struct {
	db *sql.DB
}

const shoppingListID = "general"

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `id, name, category, subcategory, quantity, min_threshold, unit,
	supplier, expiry_date, cost_price, sell_price, capacity, dose,
	menu_type, linked_product_id, is_archived, created_at`

func scanItem(row interface{ Scan(...any) error }) (*domain.Item, error) {
	var item domain.Item
	err := row.Scan(
		&item.ID, &item.Name, &item.Category, &item.Subcategory,
		&item.Quantity, &item.MinThreshold, &item.Unit,
		&item.Supplier, &item.ExpiryDate, &item.CostPrice, &item.SellPrice,
		&item.Capacity, &item.Dose,
		&item.MenuType, &item.LinkedProductID, &item.IsArchived, &item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, includeArchived bool) ([]domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items ORDER BY category, name`
	if !includeArchived {
		query = `SELECT ` + itemColumns + ` FROM items WHERE is_archived = false ORDER BY category, name`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 128)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	return scanItem(row)
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.Name == "" || item.Category == "" || item.Quantity < 0 || item.MinThreshold < 0 {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,ROUND($5::numeric,4),$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, item.ID, item.Name, item.Category, item.Subcategory, item.Quantity, item.MinThreshold,
		item.Unit, item.Supplier, item.ExpiryDate, item.CostPrice, item.SellPrice,
		item.Capacity, item.Dose, item.MenuType, item.LinkedProductID, item.IsArchived, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" || item.Name == "" || item.Category == "" {
		return nil, store.ErrInvalidInput
	}

	// Quantity is deliberately absent: it is owned by ApplyQuantityDelta and
	// MergeDelivery so stale client state can never overwrite it.
	row := s.db.QueryRowContext(ctx, `
		UPDATE items SET
			name = $2, subcategory = $3, min_threshold = $4, unit = $5,
			supplier = $6, expiry_date = $7, cost_price = $8, sell_price = $9,
			capacity = $10, dose = $11, menu_type = $12, linked_product_id = $13
		WHERE id = $1
		RETURNING `+itemColumns+`
	`, item.ID, item.Name, item.Subcategory, item.MinThreshold, item.Unit,
		item.Supplier, item.ExpiryDate, item.CostPrice, item.SellPrice,
		item.Capacity, item.Dose, item.MenuType, item.LinkedProductID)
	return scanItem(row)
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetItemArchived(ctx context.Context, id string, archived bool) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE items SET is_archived = $2 WHERE id = $1
		RETURNING `+itemColumns+`
	`, id, archived)
	return scanItem(row)
}

func (s *Store) FindItemByNameCategory(ctx context.Context, name string, category string) (*domain.Item, error) {
	key := domain.NormalizeName(name)
	if key == "" || category == "" {
		return nil, store.ErrInvalidInput
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE lower(trim(name)) = $1 AND category = $2 AND is_archived = false
		LIMIT 1
	`, key, category)
	return scanItem(row)
}

func (s *Store) MergeDelivery(ctx context.Context, id string, qty float64, threshold float64, supplier, subcategory, unit, expiryDate string) (*domain.Item, error) {
	if qty < 0 {
		return nil, store.ErrInvalidInput
	}

	// One statement so the fold is atomic against concurrent deltas.
	// Descriptive fields only overwrite when the incoming value is non-empty.
	row := s.db.QueryRowContext(ctx, `
		UPDATE items SET
			quantity = ROUND((quantity + $2)::numeric, 4)::double precision,
			min_threshold = CASE WHEN $3 > 0 THEN $3 ELSE min_threshold END,
			supplier = COALESCE(NULLIF($4, ''), supplier),
			subcategory = COALESCE(NULLIF($5, ''), subcategory),
			unit = COALESCE(NULLIF($6, ''), unit),
			expiry_date = COALESCE(NULLIF($7, ''), expiry_date)
		WHERE id = $1
		RETURNING `+itemColumns+`
	`, id, qty, threshold, strings.TrimSpace(supplier), strings.TrimSpace(subcategory),
		strings.TrimSpace(unit), strings.TrimSpace(expiryDate))
	return scanItem(row)
}

func (s *Store) ApplyQuantityDelta(ctx context.Context, id string, delta float64) (*domain.Item, error) {
	// Relative update in a single statement: concurrent decrements both land.
	row := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET quantity = GREATEST(0, ROUND((quantity + $2)::numeric, 4))::double precision
		WHERE id = $1
		RETURNING `+itemColumns+`
	`, id, delta)
	return scanItem(row)
}

func (s *Store) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	if entry.ItemName == "" || entry.Category == "" {
		return store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO movement_logs (id, item_name, category, quantity_change, user_role, note, revenue, cost, date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ItemName, entry.Category, entry.QuantityChange,
		entry.UserRole, entry.Note, entry.Revenue, entry.Cost, entry.Date)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListLogs(ctx context.Context) ([]domain.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_name, category, quantity_change, user_role, note, revenue, cost, date
		FROM movement_logs
		ORDER BY date, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LogEntry, 0, 256)
	for rows.Next() {
		var entry domain.LogEntry
		if err := rows.Scan(&entry.ID, &entry.ItemName, &entry.Category, &entry.QuantityChange,
			&entry.UserRole, &entry.Note, &entry.Revenue, &entry.Cost, &entry.Date); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetShoppingList(ctx context.Context) (*domain.ShoppingList, error) {
	var (
		raw       []byte
		updatedBy string
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT notes, updated_by, updated_at FROM shopping_list WHERE id = $1
	`, shoppingListID).Scan(&raw, &updatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ShoppingList{Notes: map[string]string{}}, nil
	}
	if err != nil {
		return nil, err
	}

	notes := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &notes); err != nil {
			return nil, err
		}
	}
	return &domain.ShoppingList{Notes: notes, UpdatedBy: updatedBy, UpdatedAt: updatedAt}, nil
}

func (s *Store) PutShoppingList(ctx context.Context, list domain.ShoppingList) error {
	if list.Notes == nil {
		list.Notes = map[string]string{}
	}
	if list.UpdatedAt.IsZero() {
		list.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(list.Notes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shopping_list (id, notes, updated_by, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET notes = $2, updated_by = $3, updated_at = $4
	`, shoppingListID, payload, list.UpdatedBy, list.UpdatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
