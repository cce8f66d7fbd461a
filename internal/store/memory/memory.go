package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"applebazaar/backend/internal/domain"
	"applebazaar/backend/internal/store"
	"applebazaar/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	storesByID      map[string]domain.StoreRecord
	inventory       map[string]map[string]domain.InventoryItem
	salesByID       map[string]map[string]*domain.Sale
	customersByID   map[string]map[string]domain.Customer
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; when
// unset, dev defaults are used with a warning. Production deployments use
// PostgreSQL (DATABASE_URL set), where these seeds never apply.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Status:    domain.UserStatusApproved,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	items := []domain.InventoryItem{
		{ID: "item-ip13-blk-128", Name: "iPhone 13 Black 128GB New", Model: "iPhone 13", Color: "Black", Storage: "128GB", Condition: "New", PriceCents: 6_990_00, Stock: 8, Category: "iPhone", Barcode: "0194252707890", CreatedAt: now},
		{ID: "item-ip13-blu-256", Name: "iPhone 13 Blue 256GB New", Model: "iPhone 13", Color: "Blue", Storage: "256GB", Condition: "New", PriceCents: 7_990_00, Stock: 5, Category: "iPhone", Barcode: "0194252707906", CreatedAt: now},
		{ID: "item-ip12-wht-128", Name: "iPhone 12 White 128GB Used", Model: "iPhone 12", Color: "White", Storage: "128GB", Condition: "Used", PriceCents: 4_490_00, Stock: 3, Category: "iPhone", Barcode: "0194252031988", CreatedAt: now},
		{ID: "item-ip11-blk-64", Name: "iPhone 11 Black 64GB Used", Model: "iPhone 11", Color: "Black", Storage: "64GB", Condition: "Used", PriceCents: 3_290_00, Stock: 6, Category: "iPhone", Barcode: "0190199220805", CreatedAt: now},
		{ID: "item-ip15p-nat-256", Name: "iPhone 15 Pro Natural 256GB New", Model: "iPhone 15 Pro", Color: "Natural Titanium", Storage: "256GB", Condition: "New", PriceCents: 11_990_00, Stock: 2, Category: "iPhone", Barcode: "0195949037224", CreatedAt: now},
		{ID: "item-airpods-pro", Name: "AirPods Pro", Model: "AirPods Pro", PriceCents: 2_490_00, Stock: 12, Category: "Audio", IsAccessory: true, Barcode: "0190199246850", CreatedAt: now},
		{ID: "item-cable-usbc", Name: "USB-C Cable 1m", PriceCents: 190_00, Stock: 40, Category: "Cable", IsAccessory: true, Barcode: "0194252099817", CreatedAt: now},
		{ID: "item-case-13", Name: "Clear Case iPhone 13", PriceCents: 390_00, Stock: 25, Category: "Case", IsAccessory: true, Barcode: "0194252159534", CreatedAt: now},
		{ID: "item-charger-20w", Name: "20W Power Adapter", PriceCents: 250_00, Stock: 30, Category: "Charger", IsAccessory: true, Barcode: "0190199291867", CreatedAt: now},
		{ID: "item-protector", Name: "Tempered Glass Protector", PriceCents: 120_00, Stock: 50, Category: "Protector", IsAccessory: true, Barcode: "0860001851403", CreatedAt: now},
	}

	defaultStore := domain.StoreRecord{ID: "store-1", Name: "Main Store", CreatedAt: now}
	inventory := map[string]map[string]domain.InventoryItem{defaultStore.ID: {}}
	for _, item := range items {
		inventory[defaultStore.ID][item.ID] = item
	}

	return &Store{
		storesByID:      map[string]domain.StoreRecord{defaultStore.ID: defaultStore},
		inventory:       inventory,
		salesByID:       map[string]map[string]*domain.Sale{defaultStore.ID: {}},
		customersByID:   map[string]map[string]domain.Customer{defaultStore.ID: {}},
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListStores(_ context.Context) ([]domain.StoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.StoreRecord, 0, len(s.storesByID))
	for _, record := range s.storesByID {
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b domain.StoreRecord) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return records, nil
}

func (s *Store) CreateStore(_ context.Context, record domain.StoreRecord) (*domain.StoreRecord, error) {
	if strings.TrimSpace(record.Name) == "" {
		return nil, store.ErrInvalidSale
	}
	if record.ID == "" {
		record.ID = xid.New("store")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.storesByID[record.ID]; exists {
		return nil, store.ErrInvalidSale
	}
	s.storesByID[record.ID] = record
	s.inventory[record.ID] = map[string]domain.InventoryItem{}
	s.salesByID[record.ID] = map[string]*domain.Sale{}
	s.customersByID[record.ID] = map[string]domain.Customer{}

	created := record
	return &created, nil
}

func (s *Store) UpdateStore(_ context.Context, record domain.StoreRecord) (*domain.StoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.storesByID[record.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(record.Name) != "" {
		existing.Name = record.Name
	}
	existing.Address = record.Address
	s.storesByID[record.ID] = existing

	updated := existing
	return &updated, nil
}

func (s *Store) ListInventory(_ context.Context, storeID string) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.inventory[storeID]))
	for _, item := range s.inventory[storeID] {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return items, nil
}

func (s *Store) GetInventoryItem(_ context.Context, storeID string, itemID string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.inventory[storeID][itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) FindItemByBarcode(_ context.Context, storeID string, barcode string) (*domain.InventoryItem, error) {
	if strings.TrimSpace(barcode) == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.inventory[storeID] {
		if item.Barcode == barcode {
			copied := item
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateInventoryItem(_ context.Context, storeID string, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Name == "" || item.PriceCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storeInventory, ok := s.inventory[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, exists := storeInventory[item.ID]; exists {
		return nil, store.ErrInvalidSale
	}
	storeInventory[item.ID] = item

	created := item
	return &created, nil
}

func (s *Store) UpdateInventoryItem(_ context.Context, storeID string, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Name == "" || item.PriceCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storeInventory := s.inventory[storeID]
	if _, exists := storeInventory[item.ID]; !exists {
		return nil, store.ErrNotFound
	}
	storeInventory[item.ID] = item

	updated := item
	return &updated, nil
}

func (s *Store) DeleteInventoryItem(_ context.Context, storeID string, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	storeInventory := s.inventory[storeID]
	if _, exists := storeInventory[itemID]; !exists {
		return store.ErrNotFound
	}
	delete(storeInventory, itemID)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, storeID string, adjustments []domain.StockAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	storeInventory, ok := s.inventory[storeID]
	if !ok {
		return store.ErrNotFound
	}

	for _, adj := range adjustments {
		item, exists := storeInventory[adj.ItemID]
		if !exists {
			// Deleted items are skipped so restores never fail partway.
			continue
		}
		item.Stock += adj.Delta
		if item.Stock < 0 {
			item.Stock = 0
		}
		storeInventory[adj.ItemID] = item
	}
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 || sale.TotalCents < 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storeSales, ok := s.salesByID[sale.StoreID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, exists := storeSales[sale.ID]; exists {
		return nil, store.ErrInvalidSale
	}

	saved := cloneSale(&sale)
	storeSales[sale.ID] = saved
	return cloneSale(saved), nil
}

func (s *Store) GetSale(_ context.Context, storeID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[storeID][saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, storeID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID[storeID]))
	for _, sale := range s.salesByID[storeID] {
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) UpdateSalePayment(_ context.Context, storeID string, saleID string, update domain.SalePaymentUpdate) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[storeID][saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if update.PaidCents < sale.PaidCents {
		return nil, store.ErrInvalidSale
	}

	sale.PaidCents = update.PaidCents
	sale.Status = update.Status
	sale.PaymentMethod = update.PaymentMethod
	sale.CashCents = update.CashCents
	sale.MobileMoneyCents = update.MobileMoneyCents
	sale.PaymentHistory = append(sale.PaymentHistory, update.Event)

	return cloneSale(sale), nil
}

func (s *Store) DeleteSale(_ context.Context, storeID string, saleID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[storeID][saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.salesByID[storeID], saleID)
	return cloneSale(sale), nil
}

func (s *Store) UpsertCustomerByPhone(_ context.Context, storeID string, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Phone) == "" && strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	customers, ok := s.customersByID[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}

	if customer.Phone != "" {
		for id, existing := range customers {
			if existing.Phone != customer.Phone {
				continue
			}
			if customer.Name != "" {
				existing.Name = customer.Name
			}
			if customer.Email != "" {
				existing.Email = customer.Email
			}
			if customer.Address != "" {
				existing.Address = customer.Address
			}
			customers[id] = existing
			updated := existing
			return &updated, nil
		}
	}

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customers[customer.ID] = customer

	created := customer
	return &created, nil
}

func (s *Store) ListCustomers(_ context.Context, storeID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID[storeID]))
	for _, customer := range s.customersByID[storeID] {
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidSale
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
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

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) UpdateUserStatus(_ context.Context, username string, status string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Status = status
	user.Active = active
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(sale *domain.Sale) *domain.Sale {
	copied := *sale
	copied.Items = append([]domain.SaleItem(nil), sale.Items...)
	copied.PaymentHistory = append([]domain.PaymentEvent(nil), sale.PaymentHistory...)
	return &copied
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
