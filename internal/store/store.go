package store

import (
	"context"
	"errors"

	"applebazaar/backend/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrOutOfStock  = errors.New("out of stock")
	ErrInvalidSale = errors.New("invalid sale")
)

// Repository is the storage collaborator for the sale engine. Each call is an
// independently atomic record write; no multi-record transaction is assumed
// across calls (see the stock-vs-sale consistency note in DESIGN.md).
type Repository interface {
	ListStores(ctx context.Context) ([]domain.StoreRecord, error)
	CreateStore(ctx context.Context, record domain.StoreRecord) (*domain.StoreRecord, error)
	UpdateStore(ctx context.Context, record domain.StoreRecord) (*domain.StoreRecord, error)

	ListInventory(ctx context.Context, storeID string) ([]domain.InventoryItem, error)
	GetInventoryItem(ctx context.Context, storeID string, itemID string) (*domain.InventoryItem, error)
	FindItemByBarcode(ctx context.Context, storeID string, barcode string) (*domain.InventoryItem, error)
	CreateInventoryItem(ctx context.Context, storeID string, item domain.InventoryItem) (*domain.InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, storeID string, item domain.InventoryItem) (*domain.InventoryItem, error)
	DeleteInventoryItem(ctx context.Context, storeID string, itemID string) error

	// AdjustStock applies signed deltas, clamping each resulting stock at
	// zero. Unknown item ids are skipped silently: sale deletion must be able
	// to restore stock for items that still exist even when others are gone.
	AdjustStock(ctx context.Context, storeID string, adjustments []domain.StockAdjustment) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, storeID string, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error)
	UpdateSalePayment(ctx context.Context, storeID string, saleID string, update domain.SalePaymentUpdate) (*domain.Sale, error)
	DeleteSale(ctx context.Context, storeID string, saleID string) (*domain.Sale, error)

	UpsertCustomerByPhone(ctx context.Context, storeID string, customer domain.Customer) (*domain.Customer, error)
	ListCustomers(ctx context.Context, storeID string) ([]domain.Customer, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	UpdateUserStatus(ctx context.Context, username string, status string, active bool) error
}
