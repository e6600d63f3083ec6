package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Warehouse departments. CategoryMenu marks sellable menu entries, which are
// sale-tracked instead of stock-tracked.
const (
	CategoryBar        = "Bar"
	CategoryRistorante = "Ristorante"
	CategoryBiancheria = "Biancheria e Prodotti"
	CategoryPiscina    = "Piscina"
	CategoryAltro      = "Altro"
	CategoryMenu       = "MENU_ITEM"
)

const (
	UnitPezzi  = "Pz"
	UnitKg     = "Kg"
	UnitLitri  = "Lt"
	UnitPacchi = "Pacchi"
)

const (
	RoleKitchen       = "staff-kitchen"
	RoleBar           = "staff-bar"
	RoleManager       = "manager"
	RoleSeniorManager = "senior-manager"
)

const (
	MenuTypeDirect = "direct"
	MenuTypeDish   = "dish"
)

// SaleCategory tags movement log entries produced by menu sales.
const SaleCategory = "SALE"

// ExpiryWarningDays is how far ahead an expiry date counts as "expiring soon".
const ExpiryWarningDays = 10

// Catalog carries the fixed enumerations and the static identifier-to-role
// table, resolved once at startup and injected where needed.
type Catalog struct {
	RoleTable  map[string]string
	Categories []string
	Units      []string
}

func DefaultCatalog() Catalog {
	return Catalog{
		RoleTable: map[string]string{
			"cucina":    RoleKitchen,
			"bar":       RoleBar,
			"manager":   RoleManager,
			"direzione": RoleSeniorManager,
		},
		Categories: []string{
			CategoryBar, CategoryRistorante, CategoryBiancheria, CategoryPiscina, CategoryAltro,
		},
		Units: []string{UnitPezzi, UnitKg, UnitLitri, UnitPacchi},
	}
}

func (c Catalog) ValidCategory(category string) bool {
	for _, known := range c.Categories {
		if category == known {
			return true
		}
	}
	return category == CategoryMenu
}

func (c Catalog) ValidUnit(unit string) bool {
	if unit == "" {
		return true
	}
	for _, known := range c.Units {
		if unit == known {
			return true
		}
	}
	return false
}

// ItemKind discriminates the three record variants that share the Item shape.
type ItemKind int

const (
	KindStock ItemKind = iota
	KindMenuDirect
	KindMenuDish
)

type Item struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Category        string          `json:"category"`
	Subcategory     string          `json:"subcategory,omitempty"`
	Quantity        float64         `json:"quantity"`
	MinThreshold    float64         `json:"min_threshold"`
	Unit            string          `json:"unit,omitempty"`
	Supplier        string          `json:"supplier,omitempty"`
	ExpiryDate      string          `json:"expiry_date,omitempty"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	SellPrice       decimal.Decimal `json:"sell_price"`
	Capacity        float64         `json:"capacity,omitempty"`
	Dose            float64         `json:"dose,omitempty"`
	MenuType        string          `json:"menu_type,omitempty"`
	LinkedProductID string          `json:"linked_product_id,omitempty"`
	IsArchived      bool            `json:"is_archived"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (i Item) Kind() ItemKind {
	if i.Category != CategoryMenu {
		return KindStock
	}
	if i.MenuType == MenuTypeDish {
		return KindMenuDish
	}
	return KindMenuDirect
}

// Tracked reports whether quantity mutations touch this item's quantity.
// Dish menu entries keep a consumption trail in the log only.
func (i Item) Tracked() bool {
	return i.Kind() != KindMenuDish
}

// CanPour reports whether the dose-based fractional pour is enabled.
func (i Item) CanPour() bool {
	return i.Capacity > 0 && i.Dose > 0
}

func (i Item) LowStock() bool {
	return i.Category != CategoryMenu && i.Quantity <= i.MinThreshold
}

// ExpiringSoon reports whether the expiry date falls within the warning
// window relative to now. Unparseable or empty dates never trigger it.
func (i Item) ExpiringSoon(now time.Time) bool {
	if i.ExpiryDate == "" {
		return false
	}
	expiry, err := time.Parse("2006-01-02", i.ExpiryDate)
	if err != nil {
		return false
	}
	limit := now.AddDate(0, 0, ExpiryWarningDays)
	return !expiry.After(limit)
}

// NormalizeName is the matching key used by merge-on-add and name filters.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LogEntry is one append-only movement record. Entries are name-keyed, not
// id-keyed, so reports survive item deletion. QuantityChange is the requested
// delta, which may exceed the effective change when the zero floor was hit.
type LogEntry struct {
	ID             string          `json:"id"`
	ItemName       string          `json:"item_name"`
	Category       string          `json:"category"`
	QuantityChange float64         `json:"quantity_change"`
	UserRole       string          `json:"user_role"`
	Note           string          `json:"note,omitempty"`
	Revenue        decimal.Decimal `json:"revenue"`
	Cost           decimal.Decimal `json:"cost"`
	Date           time.Time       `json:"date"`
}

func (e LogEntry) IsSale() bool {
	return e.Category == SaleCategory
}

// ShoppingList is the single shared document: free text per department,
// overwritten wholesale on save.
type ShoppingList struct {
	Notes     map[string]string `json:"notes"`
	UpdatedBy string            `json:"updated_by,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type DeliveryRequest struct {
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Subcategory  string  `json:"subcategory"`
	Quantity     float64 `json:"quantity"`
	MinThreshold float64 `json:"min_threshold"`
	Unit         string  `json:"unit"`
	Supplier     string  `json:"supplier"`
	ExpiryDate   string  `json:"expiry_date"`
}

type ItemUpdateRequest struct {
	Name            *string  `json:"name,omitempty"`
	Subcategory     *string  `json:"subcategory,omitempty"`
	MinThreshold    *float64 `json:"min_threshold,omitempty"`
	Unit            *string  `json:"unit,omitempty"`
	Supplier        *string  `json:"supplier,omitempty"`
	ExpiryDate      *string  `json:"expiry_date,omitempty"`
	CostPrice       *string  `json:"cost_price,omitempty"`
	SellPrice       *string  `json:"sell_price,omitempty"`
	Capacity        *float64 `json:"capacity,omitempty"`
	Dose            *float64 `json:"dose,omitempty"`
	MenuType        *string  `json:"menu_type,omitempty"`
	LinkedProductID *string  `json:"linked_product_id,omitempty"`
}

type MenuItemCreateRequest struct {
	Name            string `json:"name"`
	MenuType        string `json:"menu_type"`
	LinkedProductID string `json:"linked_product_id"`
	CostPrice       string `json:"cost_price"`
	SellPrice       string `json:"sell_price"`
}

type DeltaRequest struct {
	Delta float64 `json:"delta"`
	Note  string  `json:"note"`
}

type ItemListFilter struct {
	Category        string
	Search          string
	LowStockOnly    bool
	ExpiringOnly    bool
	IncludeArchived bool
}

type SellResult struct {
	ItemName          string `json:"item_name"`
	LinkedDecremented bool   `json:"linked_decremented"`
}

type ReportRow struct {
	ItemName string          `json:"item_name"`
	Loaded   float64         `json:"loaded"`
	Sold     float64         `json:"sold"`
	Revenue  decimal.Decimal `json:"revenue"`
	Cost     decimal.Decimal `json:"cost"`
	Margin   decimal.Decimal `json:"margin"`
}

type ChartPoint struct {
	Bucket  string          `json:"bucket"`
	Revenue decimal.Decimal `json:"revenue"`
}

const (
	ChartByDay   = "day"
	ChartByMonth = "month"
)

type Report struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	NameFilter  string       `json:"name_filter,omitempty"`
	Granularity string       `json:"granularity"`
	Rows        []ReportRow  `json:"rows"`
	Chart       []ChartPoint `json:"chart"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// IsManager reports whether the actor may see and edit monetary fields.
func (a Actor) IsManager() bool {
	return a.Role == RoleManager || a.Role == RoleSeniorManager
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
