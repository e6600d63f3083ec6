package store

import (
	"context"
	"errors"

	"lucciole/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository is the persistence contract shared by the in-memory and
// postgres stores. Quantity mutations are expressed as relative deltas and
// applied atomically inside the store, never as read-modify-write of a
// caller-cached value, so concurrent decrements cannot lose updates.
type Repository interface {
	ListItems(ctx context.Context, includeArchived bool) ([]domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	DeleteItem(ctx context.Context, id string) error
	SetItemArchived(ctx context.Context, id string, archived bool) (*domain.Item, error)

	// FindItemByNameCategory matches non-archived items on normalized
	// (trimmed, case-folded) name and exact category.
	FindItemByNameCategory(ctx context.Context, name string, category string) (*domain.Item, error)

	// MergeDelivery folds a delivery into an existing item in one call:
	// quantity is increased by qty, and the descriptive fields overwrite the
	// stored ones only when non-empty (non-positive for the threshold).
	MergeDelivery(ctx context.Context, id string, qty float64, threshold float64, supplier, subcategory, unit, expiryDate string) (*domain.Item, error)

	// ApplyQuantityDelta sets quantity = max(0, round(quantity+delta, 4))
	// atomically and returns the updated item.
	ApplyQuantityDelta(ctx context.Context, id string, delta float64) (*domain.Item, error)

	AppendLog(ctx context.Context, entry domain.LogEntry) error
	ListLogs(ctx context.Context) ([]domain.LogEntry, error)

	GetShoppingList(ctx context.Context) (*domain.ShoppingList, error)
	PutShoppingList(ctx context.Context, list domain.ShoppingList) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
