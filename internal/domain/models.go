package domain

import "time"

type StoreRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type StoreCreateRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type InventoryItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Model       string    `json:"model,omitempty"`
	Color       string    `json:"color,omitempty"`
	Storage     string    `json:"storage,omitempty"`
	Condition   string    `json:"condition,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category"`
	IsAccessory bool      `json:"is_accessory"`
	Barcode     string    `json:"barcode,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type InventoryItemCreateRequest struct {
	StoreID     string `json:"store_id"`
	Name        string `json:"name"`
	Model       string `json:"model"`
	Color       string `json:"color"`
	Storage     string `json:"storage"`
	Condition   string `json:"condition"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
	Category    string `json:"category"`
	IsAccessory bool   `json:"is_accessory"`
	Barcode     string `json:"barcode"`
}

type InventoryItemUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Model      *string `json:"model,omitempty"`
	Color      *string `json:"color,omitempty"`
	Storage    *string `json:"storage,omitempty"`
	Condition  *string `json:"condition,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Stock      *int    `json:"stock,omitempty"`
	Category   *string `json:"category,omitempty"`
	Barcode    *string `json:"barcode,omitempty"`
}

// UnitIdentity identifies one physical unit sold. IMEI1 is mandatory for
// every unit; IMEI2 and SerialNumber are only kept for non-phone models.
type UnitIdentity struct {
	IMEI1        string `json:"imei1"`
	IMEI2        string `json:"imei2,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// CartLine is a pending, client-session grouping of one inventory item and a
// quantity, prior to per-unit identity assignment. Units is populated once
// identity collection for the line completes; len(Units) == Quantity then.
type CartLine struct {
	LineID     string         `json:"line_id"`
	ItemID     string         `json:"item_id"`
	Name       string         `json:"name"`
	Model      string         `json:"model,omitempty"`
	PriceCents int64          `json:"price_cents"`
	Quantity   int            `json:"quantity"`
	Units      []UnitIdentity `json:"units,omitempty"`
}

// UnitInstance is one entry of the identity-collection worklist produced by
// expanding cart lines at checkout. Index is 1-based within the line.
type UnitInstance struct {
	UnitID   string        `json:"unit_id"`
	LineID   string        `json:"line_id"`
	ItemID   string        `json:"item_id"`
	Name     string        `json:"name"`
	Model    string        `json:"model,omitempty"`
	Index    int           `json:"index"`
	Identity *UnitIdentity `json:"identity,omitempty"`
}

type SaleItem struct {
	ItemID       string `json:"item_id"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	PriceCents   int64  `json:"price_cents"`
	IMEI1        string `json:"imei1,omitempty"`
	IMEI2        string `json:"imei2,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// PaymentEvent is one entry of a sale's append-only payment audit trail.
type PaymentEvent struct {
	AmountCents      int64     `json:"amount_cents"`
	Method           string    `json:"method"`
	CashCents        int64     `json:"cash_cents"`
	MobileMoneyCents int64     `json:"mobile_money_cents"`
	Date             time.Time `json:"date"`
}

// Sale is the persisted transaction record. TotalCents is fixed at creation;
// PaidCents only ever grows and is deliberately not capped at TotalCents.
type Sale struct {
	ID               string         `json:"id"`
	StoreID          string         `json:"store_id"`
	Items            []SaleItem     `json:"items"`
	TotalCents       int64          `json:"total_cents"`
	PaidCents        int64          `json:"paid_cents"`
	Status           string         `json:"status"`
	PaymentMethod    string         `json:"payment_method"`
	CashCents        int64          `json:"cash_cents"`
	MobileMoneyCents int64          `json:"mobile_money_cents"`
	PaymentHistory   []PaymentEvent `json:"payment_history"`
	BuyerName        string         `json:"buyer_name"`
	BuyerPhone       string         `json:"buyer_phone,omitempty"`
	CashierName      string         `json:"cashier_name"`
	CashierID        string         `json:"cashier_id,omitempty"`
	Currency         string         `json:"currency"`
	CreatedAt        time.Time      `json:"created_at"`
}

// SalePaymentUpdate carries the recomputed payment fields plus the new history
// entry for one payment event. The repository appends Event and overwrites the
// rest; it never rewrites existing history entries.
type SalePaymentUpdate struct {
	PaidCents        int64
	Status           string
	PaymentMethod    string
	CashCents        int64
	MobileMoneyCents int64
	Event            PaymentEvent
}

type FinalizeSaleRequest struct {
	StoreID          string     `json:"store_id"`
	Lines            []CartLine `json:"lines"`
	BuyerName        string     `json:"buyer_name"`
	BuyerPhone       string     `json:"buyer_phone"`
	CashierName      string     `json:"cashier_name"`
	CashierID        string     `json:"cashier_id"`
	Currency         string     `json:"currency"`
	CashCents        int64      `json:"cash_cents"`
	MobileMoneyCents int64      `json:"mobile_money_cents"`
}

// CheckoutResult distinguishes a fully persisted sale from one that only
// exists locally because the storage write failed. The cashier flow shows a
// receipt either way; callers decide how loudly to surface PersistErr.
type CheckoutResult struct {
	Sale       Sale   `json:"sale"`
	Persisted  bool   `json:"persisted"`
	PersistErr string `json:"persist_error,omitempty"`
}

type RecordPaymentRequest struct {
	StoreID            string `json:"store_id"`
	SaleID             string `json:"sale_id"`
	CashCents          int64  `json:"cash_cents"`
	MobileMoneyCents   int64  `json:"mobile_money_cents"`
	ConfirmOverpayment bool   `json:"confirm_overpayment"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerUpsertRequest struct {
	StoreID string `json:"store_id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type DashboardSummary struct {
	StoreID             string `json:"store_id"`
	InventoryValueCents int64  `json:"inventory_value_cents"`
	TodayRevenueCents   int64  `json:"today_revenue_cents"`
	TotalRevenueCents   int64  `json:"total_revenue_cents"`
	UnpaidSales         int    `json:"unpaid_sales"`
	GeneratedAt         string `json:"generated_at"`
}

type ReceiptRequest struct {
	StoreID string `json:"store_id"`
	SaleID  string `json:"sale_id"`
}

type ReceiptResponse struct {
	SaleID       string `json:"sale_id"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
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

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is the persistence model for auth credentials. New registrations
// start in StatusPending and cannot log in until an admin approves them.
type UserAccount struct {
	Username  string
	Password  string
	Name      string
	Role      string
	Status    string
	Active    bool
	CreatedAt time.Time
}

type UserSummary struct {
	Username  string    `json:"username"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// StockAdjustment is a signed stock delta for one inventory item.
type StockAdjustment struct {
	ItemID string
	Delta  int
}

const (
	SaleStatusUnpaid  = "unpaid"
	SaleStatusPartial = "partial"
	SaleStatusPaid    = "paid"
)

const (
	PaymentMethodCash        = "Cash"
	PaymentMethodMobileMoney = "Mobile Money"
	PaymentMethodSplit       = "Split Payment"
	PaymentMethodUnpaid      = "Unpaid"
)

const (
	UserStatusPending  = "pending"
	UserStatusApproved = "approved"
	UserStatusRejected = "rejected"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// PhoneModels is the fixed allow-list of models treated as phones during
// identity collection: phones record IMEI1 only, everything else may also
// carry IMEI2 and a serial number.
var PhoneModels = []string{
	"iPhone 8", "iPhone 8 Plus", "iPhone X", "iPhone XR", "iPhone XS",
	"iPhone XS Max", "iPhone 11", "iPhone 11 Pro", "iPhone 11 Pro Max",
	"iPhone 12 Mini", "iPhone 12", "iPhone 12 Pro", "iPhone 12 Pro Max",
	"iPhone 13 Mini", "iPhone 13", "iPhone 13 Pro", "iPhone 13 Pro Max",
	"iPhone 14", "iPhone 14 Plus", "iPhone 14 Pro", "iPhone 14 Pro Max",
	"iPhone 15", "iPhone 15 Plus", "iPhone 15 Pro", "iPhone 15 Pro Max",
}

func IsPhoneModel(model string) bool {
	for _, m := range PhoneModels {
		if m == model {
			return true
		}
	}
	return false
}
