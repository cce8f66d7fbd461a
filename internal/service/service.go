package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"applebazaar/backend/internal/cache"
	"applebazaar/backend/internal/domain"
	"applebazaar/backend/internal/money"
	"applebazaar/backend/internal/store"
	"applebazaar/backend/internal/xid"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidIMEI        = errors.New("imei must contain exactly 15 digits")
	ErrLineFrozen         = errors.New("line already carries unit identities")
	ErrCheckoutCancelled  = errors.New("checkout was cancelled")
	ErrIdentityIncomplete = errors.New("not every unit has an identity")
	ErrExceedsRemaining   = errors.New("payment exceeds remaining balance")
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
	repo           store.Repository
	summaries      cache.SummaryCache
	defaultStoreID string
	currency       string
	summaryTTL     time.Duration

	observerMu         sync.RWMutex
	inventoryObservers []func(storeID string)
	salesObservers     []func(storeID string)
}

func New(repo store.Repository, summaries cache.SummaryCache, defaultStoreID string, currency string, summaryTTL time.Duration) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "store-1"
	}
	if currency == "" {
		currency = "USD"
	}
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = 60 * time.Second
	}

	return &Service{
		repo:           repo,
		summaries:      summaries,
		defaultStoreID: defaultStoreID,
		currency:       currency,
		summaryTTL:     summaryTTL,
	}
}

// OnInventoryChanged registers a callback fired after any mutation that moves
// stock. Callbacks run synchronously on the mutating goroutine.
func (s *Service) OnInventoryChanged(fn func(storeID string)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.inventoryObservers = append(s.inventoryObservers, fn)
}

// OnSalesChanged registers a callback fired after a sale is created, paid,
// or deleted.
func (s *Service) OnSalesChanged(fn func(storeID string)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.salesObservers = append(s.salesObservers, fn)
}

func (s *Service) notifyInventoryChanged(ctx context.Context, storeID string) {
	if err := s.summaries.Delete(ctx, summaryKey(storeID)); err != nil {
		log.Printf("[service] WARN: failed to invalidate summary cache store=%s: %v", storeID, err)
	}
	s.observerMu.RLock()
	observers := s.inventoryObservers
	s.observerMu.RUnlock()
	for _, fn := range observers {
		fn(storeID)
	}
}

func (s *Service) notifySalesChanged(ctx context.Context, storeID string) {
	if err := s.summaries.Delete(ctx, summaryKey(storeID)); err != nil {
		log.Printf("[service] WARN: failed to invalidate summary cache store=%s: %v", storeID, err)
	}
	s.observerMu.RLock()
	observers := s.salesObservers
	s.observerMu.RUnlock()
	for _, fn := range observers {
		fn(storeID)
	}
}

func summaryKey(storeID string) string {
	return "summary:" + storeID
}

func (s *Service) ListStores(ctx context.Context) ([]domain.StoreRecord, error) {
	return s.repo.ListStores(ctx)
}

func (s *Service) CreateStore(ctx context.Context, req domain.StoreCreateRequest) (domain.StoreRecord, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.StoreRecord{}, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return domain.StoreRecord{}, store.ErrInvalidSale
	}

	created, err := s.repo.CreateStore(ctx, domain.StoreRecord{
		Name:    strings.TrimSpace(req.Name),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.StoreRecord{}, err
	}
	return *created, nil
}

func (s *Service) UpdateStore(ctx context.Context, record domain.StoreRecord) (domain.StoreRecord, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.StoreRecord{}, err
	}
	updated, err := s.repo.UpdateStore(ctx, record)
	if err != nil {
		return domain.StoreRecord{}, err
	}
	return *updated, nil
}

func (s *Service) ListInventory(ctx context.Context, storeID string) ([]domain.InventoryItem, error) {
	return s.repo.ListInventory(ctx, s.storeOrDefault(storeID))
}

func (s *Service) GetInventoryItem(ctx context.Context, storeID string, itemID string) (domain.InventoryItem, error) {
	item, err := s.repo.GetInventoryItem(ctx, s.storeOrDefault(storeID), itemID)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

func (s *Service) FindItemByBarcode(ctx context.Context, storeID string, barcode string) (domain.InventoryItem, error) {
	item, err := s.repo.FindItemByBarcode(ctx, s.storeOrDefault(storeID), strings.TrimSpace(barcode))
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

func (s *Service) CreateInventoryItem(ctx context.Context, req domain.InventoryItemCreateRequest) (domain.InventoryItem, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.InventoryItem{}, err
	}

	storeID := s.storeOrDefault(req.StoreID)
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.PriceCents < 0 || req.Stock < 0 {
		return domain.InventoryItem{}, store.ErrInvalidSale
	}

	created, err := s.repo.CreateInventoryItem(ctx, storeID, domain.InventoryItem{
		Name:        req.Name,
		Model:       strings.TrimSpace(req.Model),
		Color:       strings.TrimSpace(req.Color),
		Storage:     strings.TrimSpace(req.Storage),
		Condition:   strings.TrimSpace(req.Condition),
		PriceCents:  req.PriceCents,
		Stock:       req.Stock,
		Category:    strings.TrimSpace(req.Category),
		IsAccessory: req.IsAccessory,
		Barcode:     strings.TrimSpace(req.Barcode),
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.notifyInventoryChanged(ctx, storeID)
	return *created, nil
}

func (s *Service) UpdateInventoryItem(ctx context.Context, storeID string, itemID string, req domain.InventoryItemUpdateRequest) (domain.InventoryItem, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.InventoryItem{}, err
	}

	storeID = s.storeOrDefault(storeID)
	existing, err := s.repo.GetInventoryItem(ctx, storeID, itemID)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.InventoryItem{}, store.ErrInvalidSale
		}
		updated.Name = name
	}
	if req.Model != nil {
		updated.Model = strings.TrimSpace(*req.Model)
	}
	if req.Color != nil {
		updated.Color = strings.TrimSpace(*req.Color)
	}
	if req.Storage != nil {
		updated.Storage = strings.TrimSpace(*req.Storage)
	}
	if req.Condition != nil {
		updated.Condition = strings.TrimSpace(*req.Condition)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.InventoryItem{}, store.ErrInvalidSale
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.InventoryItem{}, store.ErrInvalidSale
		}
		updated.Stock = *req.Stock
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}

	saved, err := s.repo.UpdateInventoryItem(ctx, storeID, updated)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.notifyInventoryChanged(ctx, storeID)
	return *saved, nil
}

func (s *Service) DeleteInventoryItem(ctx context.Context, storeID string, itemID string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	storeID = s.storeOrDefault(storeID)
	if err := s.repo.DeleteInventoryItem(ctx, storeID, itemID); err != nil {
		return err
	}
	s.notifyInventoryChanged(ctx, storeID)
	return nil
}

// FinalizeSale turns a fully identified set of cart lines into a persisted
// sale. Each physical unit becomes its own quantity-one sale item carrying
// that unit's identity. Payment may be zero, partial, full, or above total;
// the total is never adjusted and the paid amount is never capped.
//
// Persistence is best-effort: when the storage write fails the sale is still
// returned so the cashier can print a receipt, with Persisted=false and the
// failure in PersistErr. Stock is decremented only for persisted sales.
func (s *Service) FinalizeSale(ctx context.Context, req domain.FinalizeSaleRequest) (domain.CheckoutResult, error) {
	storeID := s.storeOrDefault(req.StoreID)
	if len(req.Lines) == 0 {
		return domain.CheckoutResult{}, ErrEmptyCart
	}
	if req.CashCents < 0 || req.MobileMoneyCents < 0 {
		return domain.CheckoutResult{}, store.ErrInvalidSale
	}

	items := make([]domain.SaleItem, 0, len(req.Lines))
	total := int64(0)
	for _, line := range req.Lines {
		if line.Quantity < 1 || line.PriceCents < 0 {
			return domain.CheckoutResult{}, store.ErrInvalidSale
		}
		if len(line.Units) != line.Quantity {
			return domain.CheckoutResult{}, ErrIdentityIncomplete
		}
		for _, unit := range line.Units {
			imei1, ok := normalizeIMEI(unit.IMEI1)
			if !ok {
				return domain.CheckoutResult{}, ErrInvalidIMEI
			}
			item := domain.SaleItem{
				ItemID:     line.ItemID,
				Name:       line.Name,
				Quantity:   1,
				PriceCents: line.PriceCents,
				IMEI1:      imei1,
			}
			if !domain.IsPhoneModel(line.Model) {
				if strings.TrimSpace(unit.IMEI2) != "" {
					imei2, ok := normalizeIMEI(unit.IMEI2)
					if !ok {
						return domain.CheckoutResult{}, ErrInvalidIMEI
					}
					item.IMEI2 = imei2
				}
				item.SerialNumber = strings.TrimSpace(unit.SerialNumber)
			}
			items = append(items, item)
			total += line.PriceCents
		}
	}

	paid := req.CashCents + req.MobileMoneyCents
	now := time.Now().UTC()
	method := paymentMethodFor(req.CashCents, req.MobileMoneyCents)
	sale := domain.Sale{
		ID:               xid.New("sale"),
		StoreID:          storeID,
		Items:            items,
		TotalCents:       total,
		PaidCents:        paid,
		Status:           statusFor(paid, total),
		PaymentMethod:    method,
		CashCents:        req.CashCents,
		MobileMoneyCents: req.MobileMoneyCents,
		PaymentHistory: []domain.PaymentEvent{{
			AmountCents:      paid,
			Method:           method,
			CashCents:        req.CashCents,
			MobileMoneyCents: req.MobileMoneyCents,
			Date:             now,
		}},
		BuyerName:   strings.TrimSpace(req.BuyerName),
		BuyerPhone:  strings.TrimSpace(req.BuyerPhone),
		CashierName: strings.TrimSpace(req.CashierName),
		CashierID:   strings.TrimSpace(req.CashierID),
		Currency:    s.currencyOrDefault(req.Currency),
		CreatedAt:   now,
	}
	if sale.BuyerName == "" {
		sale.BuyerName = "Walk-in Customer"
	}

	saved, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		log.Printf("[service] WARN: sale %s not persisted, receipt still issued: %v", sale.ID, err)
		return domain.CheckoutResult{Sale: sale, Persisted: false, PersistErr: err.Error()}, nil
	}

	if err := s.repo.AdjustStock(ctx, storeID, negateAdjustments(groupAdjustments(items))); err != nil {
		log.Printf("[service] WARN: stock decrement failed for sale %s: %v", saved.ID, err)
	}

	if sale.BuyerPhone != "" || sale.BuyerName != "Walk-in Customer" {
		_, err := s.repo.UpsertCustomerByPhone(ctx, storeID, domain.Customer{
			Name:  sale.BuyerName,
			Phone: sale.BuyerPhone,
		})
		if err != nil {
			log.Printf("[service] WARN: customer upsert failed for sale %s: %v", saved.ID, err)
		}
	}

	s.notifySalesChanged(ctx, storeID)
	s.notifyInventoryChanged(ctx, storeID)
	return domain.CheckoutResult{Sale: *saved, Persisted: true}, nil
}

// RecordPayment applies one more payment to an existing sale. Paying past the
// remaining balance needs ConfirmOverpayment; once confirmed the full amount
// is recorded uncapped, matching how the cashier actually settled.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (domain.Sale, error) {
	storeID := s.storeOrDefault(req.StoreID)
	if req.CashCents < 0 || req.MobileMoneyCents < 0 {
		return domain.Sale{}, store.ErrInvalidSale
	}
	amount := req.CashCents + req.MobileMoneyCents
	if amount < 1 {
		return domain.Sale{}, store.ErrInvalidSale
	}

	sale, err := s.repo.GetSale(ctx, storeID, req.SaleID)
	if err != nil {
		return domain.Sale{}, err
	}

	remaining := sale.TotalCents - sale.PaidCents
	if amount > remaining && !req.ConfirmOverpayment {
		return domain.Sale{}, ErrExceedsRemaining
	}

	newPaid := sale.PaidCents + amount
	totalCash := sale.CashCents + req.CashCents
	totalMomo := sale.MobileMoneyCents + req.MobileMoneyCents
	eventMethod := paymentMethodFor(req.CashCents, req.MobileMoneyCents)

	// First payment or the completing payment recomputes the method from the
	// accumulated channels; a mid-stream payment via a different channel
	// promotes the sale to a split.
	newMethod := sale.PaymentMethod
	if sale.PaidCents == 0 || newPaid >= sale.TotalCents {
		newMethod = paymentMethodFor(totalCash, totalMomo)
	} else if eventMethod != sale.PaymentMethod && sale.PaymentMethod != domain.PaymentMethodSplit {
		newMethod = domain.PaymentMethodSplit
	}

	updated, err := s.repo.UpdateSalePayment(ctx, storeID, req.SaleID, domain.SalePaymentUpdate{
		PaidCents:        newPaid,
		Status:           statusFor(newPaid, sale.TotalCents),
		PaymentMethod:    newMethod,
		CashCents:        totalCash,
		MobileMoneyCents: totalMomo,
		Event: domain.PaymentEvent{
			AmountCents:      amount,
			Method:           eventMethod,
			CashCents:        req.CashCents,
			MobileMoneyCents: req.MobileMoneyCents,
			Date:             time.Now().UTC(),
		},
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.notifySalesChanged(ctx, storeID)
	return *updated, nil
}

func (s *Service) GetSale(ctx context.Context, storeID string, saleID string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, s.storeOrDefault(storeID), saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, s.storeOrDefault(storeID), limit)
}

// DeleteSale removes a sale record and returns its units to stock. Items that
// were deleted from inventory since the sale are skipped; everything else is
// restored.
func (s *Service) DeleteSale(ctx context.Context, storeID string, saleID string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	storeID = s.storeOrDefault(storeID)
	deleted, err := s.repo.DeleteSale(ctx, storeID, saleID)
	if err != nil {
		return err
	}

	if err := s.repo.AdjustStock(ctx, storeID, groupAdjustments(deleted.Items)); err != nil {
		log.Printf("[service] WARN: stock restore failed for deleted sale %s: %v", saleID, err)
	}

	s.notifySalesChanged(ctx, storeID)
	s.notifyInventoryChanged(ctx, storeID)
	return nil
}

func (s *Service) UpsertCustomer(ctx context.Context, req domain.CustomerUpsertRequest) (domain.Customer, error) {
	saved, err := s.repo.UpsertCustomerByPhone(ctx, s.storeOrDefault(req.StoreID), domain.Customer{
		Name:    strings.TrimSpace(req.Name),
		Phone:   strings.TrimSpace(req.Phone),
		Email:   strings.TrimSpace(req.Email),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *saved, nil
}

func (s *Service) ListCustomers(ctx context.Context, storeID string) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, s.storeOrDefault(storeID))
}

// DashboardSummary aggregates inventory value and revenue for one store,
// cache-aside with a short TTL. Revenue counts money actually received, so an
// unpaid sale contributes nothing until payments land.
func (s *Service) DashboardSummary(ctx context.Context, storeID string) (domain.DashboardSummary, error) {
	storeID = s.storeOrDefault(storeID)

	if cached, ok, err := s.summaries.Get(ctx, summaryKey(storeID)); err != nil {
		log.Printf("[service] WARN: summary cache read failed store=%s: %v", storeID, err)
	} else if ok {
		return *cached, nil
	}

	items, err := s.repo.ListInventory(ctx, storeID)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	sales, err := s.repo.ListSales(ctx, storeID, 0)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	summary := domain.DashboardSummary{
		StoreID:     storeID,
		GeneratedAt: now.Format(time.RFC3339),
	}
	for _, item := range items {
		summary.InventoryValueCents += item.PriceCents * int64(item.Stock)
	}
	for _, sale := range sales {
		summary.TotalRevenueCents += sale.PaidCents
		if !sale.CreatedAt.Before(dayStart) {
			summary.TodayRevenueCents += sale.PaidCents
		}
		if sale.Status != domain.SaleStatusPaid {
			summary.UnpaidSales++
		}
	}

	if err := s.summaries.Set(ctx, summaryKey(storeID), &summary, s.summaryTTL); err != nil {
		log.Printf("[service] WARN: summary cache write failed store=%s: %v", storeID, err)
	}
	return summary, nil
}

// BuildReceipt renders a sale as an ESC/POS byte stream plus a plain-text
// preview. Units print one per line with their IMEIs so the warranty slip
// matches the boxes handed over.
func (s *Service) BuildReceipt(ctx context.Context, req domain.ReceiptRequest) (domain.ReceiptResponse, error) {
	storeID := s.storeOrDefault(req.StoreID)
	saleID := strings.TrimSpace(req.SaleID)
	if saleID == "" {
		return domain.ReceiptResponse{}, store.ErrInvalidSale
	}

	sale, err := s.repo.GetSale(ctx, storeID, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	return buildReceipt(*sale), nil
}

// ReceiptForSale renders a receipt for a sale that may not be persisted, the
// path taken when finalize survived a storage failure.
func (s *Service) ReceiptForSale(sale domain.Sale) domain.ReceiptResponse {
	return buildReceipt(sale)
}

func buildReceipt(sale domain.Sale) domain.ReceiptResponse {
	lines := []string{
		"APPLE BAZAAR",
		"================================",
		"Sale: " + sale.ID,
		"Date: " + sale.CreatedAt.Format("2006-01-02 15:04:05"),
		"Cashier: " + sale.CashierName,
		"Customer: " + sale.BuyerName,
		"--------------------------------",
	}
	for _, item := range sale.Items {
		lines = append(lines, fmt.Sprintf("%s x%d  %s", item.Name, item.Quantity, money.Format(item.PriceCents*int64(item.Quantity), sale.Currency)))
		if item.IMEI1 != "" {
			lines = append(lines, "  IMEI: "+item.IMEI1)
		}
		if item.IMEI2 != "" {
			lines = append(lines, "  IMEI2: "+item.IMEI2)
		}
		if item.SerialNumber != "" {
			lines = append(lines, "  S/N: "+item.SerialNumber)
		}
	}
	lines = append(lines,
		"--------------------------------",
		"Total   : "+money.Format(sale.TotalCents, sale.Currency),
		"Paid    : "+money.Format(sale.PaidCents, sale.Currency),
		"Balance : "+money.Format(sale.TotalCents-sale.PaidCents, sale.Currency),
		"Method  : "+sale.PaymentMethod,
		"Status  : "+sale.Status,
		"================================",
		"Thank you for your purchase",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ReceiptResponse{
		SaleID:       sale.ID,
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fmt.Sprintf("receipt-%s.bin", sale.ID),
	}
}

func (s *Service) storeOrDefault(storeID string) string {
	if strings.TrimSpace(storeID) == "" {
		return s.defaultStoreID
	}
	return storeID
}

func (s *Service) currencyOrDefault(currency string) string {
	if strings.TrimSpace(currency) == "" {
		return s.currency
	}
	return currency
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	return nil
}

// paymentMethodFor labels the payment from the channels used. Both channels
// at once is a split; neither means the sale left the counter unpaid.
func paymentMethodFor(cashCents int64, mobileMoneyCents int64) string {
	switch {
	case cashCents > 0 && mobileMoneyCents > 0:
		return domain.PaymentMethodSplit
	case mobileMoneyCents > 0:
		return domain.PaymentMethodMobileMoney
	case cashCents > 0:
		return domain.PaymentMethodCash
	default:
		return domain.PaymentMethodUnpaid
	}
}

// statusFor checks full settlement before the zero case, so a zero-total sale
// with nothing paid still counts as paid.
func statusFor(paidCents int64, totalCents int64) string {
	switch {
	case paidCents >= totalCents:
		return domain.SaleStatusPaid
	case paidCents == 0:
		return domain.SaleStatusUnpaid
	default:
		return domain.SaleStatusPartial
	}
}

func groupAdjustments(items []domain.SaleItem) []domain.StockAdjustment {
	deltaByItem := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := deltaByItem[item.ItemID]; !seen {
			order = append(order, item.ItemID)
		}
		deltaByItem[item.ItemID] += item.Quantity
	}

	adjustments := make([]domain.StockAdjustment, 0, len(order))
	for _, itemID := range order {
		adjustments = append(adjustments, domain.StockAdjustment{ItemID: itemID, Delta: deltaByItem[itemID]})
	}
	return adjustments
}

func negateAdjustments(adjustments []domain.StockAdjustment) []domain.StockAdjustment {
	out := make([]domain.StockAdjustment, len(adjustments))
	for i, adj := range adjustments {
		out[i] = domain.StockAdjustment{ItemID: adj.ItemID, Delta: -adj.Delta}
	}
	return out
}
