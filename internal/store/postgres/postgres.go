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

	"applebazaar/backend/internal/domain"
	"applebazaar/backend/internal/store"
	"applebazaar/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

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

func (s *Store) ListStores(ctx context.Context) ([]domain.StoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(address,''), created_at
		FROM stores
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.StoreRecord, 0, 8)
	for rows.Next() {
		var record domain.StoreRecord
		if err := rows.Scan(&record.ID, &record.Name, &record.Address, &record.CreatedAt); err != nil {
			return nil, err
		}
		record.CreatedAt = record.CreatedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) CreateStore(ctx context.Context, record domain.StoreRecord) (*domain.StoreRecord, error) {
	record.Name = strings.TrimSpace(record.Name)
	if record.Name == "" {
		return nil, store.ErrInvalidSale
	}
	if record.ID == "" {
		record.ID = xid.New("store")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now())
	`, record.ID, record.Name, nullIfEmpty(record.Address), record.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := record
	return &created, nil
}

func (s *Store) UpdateStore(ctx context.Context, record domain.StoreRecord) (*domain.StoreRecord, error) {
	var updated domain.StoreRecord
	err := s.db.QueryRowContext(ctx, `
		UPDATE stores
		SET name = COALESCE(NULLIF($2,''), name), address = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, name, COALESCE(address,''), created_at
	`, record.ID, strings.TrimSpace(record.Name), nullIfEmpty(record.Address)).Scan(
		&updated.ID,
		&updated.Name,
		&updated.Address,
		&updated.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

const inventoryColumns = `id, store_id, name, COALESCE(model,''), COALESCE(color,''),
	COALESCE(storage,''), COALESCE(condition,''), price_cents, stock, category,
	is_accessory, COALESCE(barcode,''), created_at`

func scanInventoryItem(row interface{ Scan(...any) error }) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	var storeID string
	err := row.Scan(
		&item.ID,
		&storeID,
		&item.Name,
		&item.Model,
		&item.Color,
		&item.Storage,
		&item.Condition,
		&item.PriceCents,
		&item.Stock,
		&item.Category,
		&item.IsAccessory,
		&item.Barcode,
		&item.CreatedAt,
	)
	if err != nil {
		return item, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func (s *Store) ListInventory(ctx context.Context, storeID string) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE store_id = $1
		ORDER BY category, name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetInventoryItem(ctx context.Context, storeID string, itemID string) (*domain.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE store_id = $1 AND id = $2
	`, storeID, itemID)
	item, err := scanInventoryItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindItemByBarcode(ctx context.Context, storeID string, barcode string) (*domain.InventoryItem, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE store_id = $1 AND barcode = $2
		LIMIT 1
	`, storeID, barcode)
	item, err := scanInventoryItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateInventoryItem(ctx context.Context, storeID string, item domain.InventoryItem) (*domain.InventoryItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" || item.PriceCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, store_id, name, model, color, storage, condition, price_cents,
			stock, category, is_accessory, barcode, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
	`, item.ID, storeID, item.Name, nullIfEmpty(item.Model), nullIfEmpty(item.Color),
		nullIfEmpty(item.Storage), nullIfEmpty(item.Condition), item.PriceCents,
		item.Stock, item.Category, item.IsAccessory, nullIfEmpty(item.Barcode), item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) UpdateInventoryItem(ctx context.Context, storeID string, item domain.InventoryItem) (*domain.InventoryItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" || item.PriceCents < 0 || item.Stock < 0 {
		return nil, store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $3, model = $4, color = $5, storage = $6, condition = $7,
			price_cents = $8, stock = $9, category = $10, is_accessory = $11,
			barcode = $12, updated_at = now()
		WHERE store_id = $1 AND id = $2
	`, storeID, item.ID, item.Name, nullIfEmpty(item.Model), nullIfEmpty(item.Color),
		nullIfEmpty(item.Storage), nullIfEmpty(item.Condition), item.PriceCents,
		item.Stock, item.Category, item.IsAccessory, nullIfEmpty(item.Barcode))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := item
	return &updated, nil
}

func (s *Store) DeleteInventoryItem(ctx context.Context, storeID string, itemID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM inventory_items
		WHERE store_id = $1 AND id = $2
	`, storeID, itemID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, storeID string, adjustments []domain.StockAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, adj := range adjustments {
		if adj.Delta == 0 {
			continue
		}
		// Missing rows affect zero rows and are skipped: a sale deletion must
		// still restore the items that remain after some were removed.
		_, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET stock = GREATEST(0, stock + $3), updated_at = now()
			WHERE store_id = $1 AND id = $2
		`, storeID, adj.ItemID, adj.Delta)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const saleColumns = `id, store_id, items, total_cents, paid_cents, status, payment_method,
	cash_cents, mobile_money_cents, payment_history, buyer_name, COALESCE(buyer_phone,''),
	cashier_name, COALESCE(cashier_id,''), currency, created_at`

func scanSale(row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	var itemsRaw []byte
	var historyRaw []byte
	err := row.Scan(
		&sale.ID,
		&sale.StoreID,
		&itemsRaw,
		&sale.TotalCents,
		&sale.PaidCents,
		&sale.Status,
		&sale.PaymentMethod,
		&sale.CashCents,
		&sale.MobileMoneyCents,
		&historyRaw,
		&sale.BuyerName,
		&sale.BuyerPhone,
		&sale.CashierName,
		&sale.CashierID,
		&sale.Currency,
		&sale.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsRaw, &sale.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(historyRaw, &sale.PaymentHistory); err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 || sale.TotalCents < 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	itemsRaw, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}
	if sale.PaymentHistory == nil {
		sale.PaymentHistory = []domain.PaymentEvent{}
	}
	historyRaw, err := json.Marshal(sale.PaymentHistory)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, store_id, items, total_cents, paid_cents, status, payment_method,
			cash_cents, mobile_money_cents, payment_history, buyer_name, buyer_phone,
			cashier_name, cashier_id, currency, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, sale.ID, sale.StoreID, itemsRaw, sale.TotalCents, sale.PaidCents, sale.Status,
		sale.PaymentMethod, sale.CashCents, sale.MobileMoneyCents, historyRaw,
		sale.BuyerName, nullIfEmpty(sale.BuyerPhone), sale.CashierName,
		nullIfEmpty(sale.CashierID), sale.Currency, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, storeID string, saleID string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE store_id = $1 AND id = $2
	`, storeID, saleID)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE store_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) UpdateSalePayment(ctx context.Context, storeID string, saleID string, update domain.SalePaymentUpdate) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var currentPaid int64
	err = tx.QueryRowContext(ctx, `
		SELECT paid_cents
		FROM sales
		WHERE store_id = $1 AND id = $2
		FOR UPDATE
	`, storeID, saleID).Scan(&currentPaid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if update.PaidCents < currentPaid {
		return nil, store.ErrInvalidSale
	}

	eventRaw, err := json.Marshal(update.Event)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE sales
		SET paid_cents = $3, status = $4, payment_method = $5, cash_cents = $6,
			mobile_money_cents = $7, payment_history = payment_history || $8::jsonb
		WHERE store_id = $1 AND id = $2
		RETURNING `+saleColumns+`
	`, storeID, saleID, update.PaidCents, update.Status, update.PaymentMethod,
		update.CashCents, update.MobileMoneyCents, eventRaw)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) DeleteSale(ctx context.Context, storeID string, saleID string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM sales
		WHERE store_id = $1 AND id = $2
		RETURNING `+saleColumns+`
	`, storeID, saleID)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) UpsertCustomerByPhone(ctx context.Context, storeID string, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.Name == "" && customer.Phone == "" {
		return nil, store.ErrInvalidSale
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	if customer.Phone == "" {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO customers (id, store_id, name, phone, email, address, created_at, updated_at)
			VALUES ($1,$2,$3,NULL,$4,$5,$6,now())
		`, customer.ID, storeID, customer.Name, nullIfEmpty(customer.Email), nullIfEmpty(customer.Address), customer.CreatedAt)
		if err != nil {
			return nil, err
		}
		created := customer
		return &created, nil
	}

	var saved domain.Customer
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, store_id, name, phone, email, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (store_id, phone)
		DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name,''), customers.name),
			email = COALESCE(EXCLUDED.email, customers.email),
			address = COALESCE(EXCLUDED.address, customers.address),
			updated_at = now()
		RETURNING id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at
	`, customer.ID, storeID, customer.Name, customer.Phone, nullIfEmpty(customer.Email),
		nullIfEmpty(customer.Address), customer.CreatedAt).Scan(
		&saved.ID,
		&saved.Name,
		&saved.Phone,
		&saved.Email,
		&saved.Address,
		&saved.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	saved.CreatedAt = saved.CreatedAt.UTC()
	return &saved, nil
}

func (s *Store) ListCustomers(ctx context.Context, storeID string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), COALESCE(email,''), COALESCE(address,''), created_at
		FROM customers
		WHERE store_id = $1
		ORDER BY name ASC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var customer domain.Customer
		if err := rows.Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Email, &customer.Address, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.Status == "" {
		user.Status = domain.UserStatusPending
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, name, role, status, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.Username, user.Password, nullIfEmpty(user.Name), user.Role, user.Status, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidSale
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, COALESCE(name,''), role, status, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Name, &user.Role, &user.Status, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserStatus(ctx context.Context, username string, status string, active bool) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET status = $2, active = $3, updated_at = now()
		WHERE username = $1
	`, username, status, active)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
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

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
