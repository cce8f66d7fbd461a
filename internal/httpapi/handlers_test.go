package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"applebazaar/backend/internal/domain"
	"applebazaar/backend/internal/service"
	"applebazaar/backend/internal/store/memory"
)

type testClient struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-pass-1")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-pass-1")

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, "store-1", "USD", time.Minute)
	auth := NewAuthManager(testSecret, time.Hour, repo)
	api := New(svc, auth, "http://127.0.0.1:3000")

	client := &testClient{t: t, handler: api.Handler()}
	client.csrf = client.fetchCSRF()
	return client
}

func (c *testClient) do(method string, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *testClient) decode(rec *httptest.ResponseRecorder, dest any) {
	c.t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		c.t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func (c *testClient) fetchCSRF() string {
	c.t.Helper()
	rec := c.do(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	if rec.Code != http.StatusOK {
		c.t.Fatalf("csrf token fetch = %d", rec.Code)
	}
	var resp struct {
		Token string `json:"csrf_token"`
	}
	c.decode(rec, &resp)
	return resp.Token
}

func (c *testClient) login(username string, password string) {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		c.t.Fatalf("login %s = %d: %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	c.decode(rec, &resp)
	c.token = resp.AccessToken
}

func TestAPIRejectsMissingToken(t *testing.T) {
	client := newTestClient(t)

	rec := client.do(http.MethodGet, "/api/v1/inventory", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAPIRejectsMutationWithoutCSRF(t *testing.T) {
	client := newTestClient(t)
	client.login("cashier", "cashier-pass-1")
	client.csrf = ""

	rec := client.do(http.MethodPost, "/api/v1/carts", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCheckoutFlowEndToEnd(t *testing.T) {
	client := newTestClient(t)
	client.login("cashier", "cashier-pass-1")

	rec := client.do(http.MethodPost, "/api/v1/carts", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cart = %d: %s", rec.Code, rec.Body.String())
	}
	var cartResp struct {
		CartID string `json:"cart_id"`
	}
	client.decode(rec, &cartResp)

	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/items", map[string]any{
		"item_id":  "item-ip13-blk-128",
		"quantity": 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item = %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/checkout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("begin checkout = %d: %s", rec.Code, rec.Body.String())
	}
	var checkoutResp struct {
		Instances []domain.UnitInstance `json:"instances"`
	}
	client.decode(rec, &checkoutResp)
	if len(checkoutResp.Instances) != 2 {
		t.Fatalf("instances = %d, want 2", len(checkoutResp.Instances))
	}

	imeis := []string{"354092061234567", "357001239876543"}
	for i, inst := range checkoutResp.Instances {
		rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/checkout/identity", map[string]any{
			"unit_id": inst.UnitID,
			"imei1":   imeis[i],
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("collect identity = %d: %s", rec.Code, rec.Body.String())
		}
	}

	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/finalize", map[string]any{
		"buyer_name": "Kofi Mensah",
		"cash_cents": 500000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("finalize = %d: %s", rec.Code, rec.Body.String())
	}
	var finalizeResp struct {
		Result  domain.CheckoutResult  `json:"result"`
		Receipt domain.ReceiptResponse `json:"receipt"`
	}
	client.decode(rec, &finalizeResp)
	if !finalizeResp.Result.Persisted {
		t.Fatalf("expected persisted sale")
	}
	sale := finalizeResp.Result.Sale
	if sale.Status != domain.SaleStatusPartial {
		t.Fatalf("status = %s, want partial", sale.Status)
	}
	if finalizeResp.Receipt.PreviewText == "" {
		t.Fatalf("receipt missing")
	}

	// The consumed cart session is gone.
	rec = client.do(http.MethodGet, "/api/v1/carts/"+cartResp.CartID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cart after finalize = %d, want 404", rec.Code)
	}

	// Overpaying the remaining balance needs explicit confirmation.
	remaining := sale.TotalCents - sale.PaidCents
	rec = client.do(http.MethodPost, "/api/v1/sales/"+sale.ID+"/payments", map[string]any{
		"cash_cents": remaining + 100,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("overpayment = %d, want 409: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodPost, "/api/v1/sales/"+sale.ID+"/payments", map[string]any{
		"mobile_money_cents": remaining,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("record payment = %d: %s", rec.Code, rec.Body.String())
	}
	var paymentResp struct {
		Sale domain.Sale `json:"sale"`
	}
	client.decode(rec, &paymentResp)
	if paymentResp.Sale.Status != domain.SaleStatusPaid {
		t.Fatalf("status = %s, want paid", paymentResp.Sale.Status)
	}
}

func TestCartAddRejectsExhaustedStock(t *testing.T) {
	client := newTestClient(t)
	client.login("cashier", "cashier-pass-1")

	rec := client.do(http.MethodPost, "/api/v1/carts", nil)
	var cartResp struct {
		CartID string `json:"cart_id"`
	}
	client.decode(rec, &cartResp)

	// Seeded iPhone 15 Pro has 2 units.
	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/items", map[string]any{
		"item_id":  "item-ip15p-nat-256",
		"quantity": 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add = %d: %s", rec.Code, rec.Body.String())
	}
	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/items", map[string]any{
		"item_id":  "item-ip15p-nat-256",
		"quantity": 1,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("exhausted add = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestSaleDeletionIsAdminOnly(t *testing.T) {
	client := newTestClient(t)
	client.login("cashier", "cashier-pass-1")

	saleID := createPaidSale(t, client)

	rec := client.do(http.MethodDelete, "/api/v1/sales/"+saleID, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier delete = %d, want 403: %s", rec.Code, rec.Body.String())
	}

	client.login("admin", "admin-pass-1")
	rec = client.do(http.MethodDelete, "/api/v1/sales/"+saleID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin delete = %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodGet, "/api/v1/sales/"+saleID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted sale fetch = %d, want 404", rec.Code)
	}
}

func createPaidSale(t *testing.T, client *testClient) string {
	t.Helper()

	rec := client.do(http.MethodPost, "/api/v1/carts", nil)
	var cartResp struct {
		CartID string `json:"cart_id"`
	}
	client.decode(rec, &cartResp)

	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/items", map[string]any{
		"item_id":  "item-ip13-blk-128",
		"quantity": 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item = %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/checkout", nil)
	var checkoutResp struct {
		Instances []domain.UnitInstance `json:"instances"`
	}
	client.decode(rec, &checkoutResp)

	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/checkout/identity", map[string]any{
		"unit_id": checkoutResp.Instances[0].UnitID,
		"imei1":   "354092061234567",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("identity = %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/finalize", map[string]any{
		"cash_cents": 699000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("finalize = %d: %s", rec.Code, rec.Body.String())
	}
	var finalizeResp struct {
		Result domain.CheckoutResult `json:"result"`
	}
	client.decode(rec, &finalizeResp)
	return finalizeResp.Result.Sale.ID
}

func TestBarcodeLookup(t *testing.T) {
	client := newTestClient(t)
	client.login("cashier", "cashier-pass-1")

	rec := client.do(http.MethodGet, "/api/v1/inventory/barcode/0194252707890", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("barcode lookup = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Item domain.InventoryItem `json:"item"`
	}
	client.decode(rec, &resp)
	if resp.Item.ID != "item-ip13-blk-128" {
		t.Fatalf("item = %s, want item-ip13-blk-128", resp.Item.ID)
	}

	rec = client.do(http.MethodGet, "/api/v1/inventory/barcode/0000000000000", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown barcode = %d, want 404", rec.Code)
	}
}

func TestDashboardSummaryEndpoint(t *testing.T) {
	client := newTestClient(t)
	client.login("cashier", "cashier-pass-1")
	createPaidSale(t, client)

	rec := client.do(http.MethodGet, "/api/v1/dashboard/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Summary domain.DashboardSummary `json:"summary"`
	}
	client.decode(rec, &resp)
	if resp.Summary.TotalRevenueCents != 699000 {
		t.Fatalf("revenue = %d, want 699000", resp.Summary.TotalRevenueCents)
	}
}

func TestInventoryManagementIsAdminOnly(t *testing.T) {
	client := newTestClient(t)
	client.login("cashier", "cashier-pass-1")

	rec := client.do(http.MethodPatch, "/api/v1/inventory/item-ip13-blk-128", map[string]any{
		"price_cents": 650000,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier patch = %d, want 403", rec.Code)
	}

	client.login("admin", "admin-pass-1")
	rec = client.do(http.MethodPatch, "/api/v1/inventory/item-ip13-blk-128", map[string]any{
		"price_cents": 650000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin patch = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Item domain.InventoryItem `json:"item"`
	}
	client.decode(rec, &resp)
	if resp.Item.PriceCents != 650000 {
		t.Fatalf("price = %d, want 650000", resp.Item.PriceCents)
	}
}

func TestRegistrationAndApprovalOverHTTP(t *testing.T) {
	client := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/v1/auth/register", domain.RegisterRequest{
		Username: "abena", Password: "secret-pw", Name: "Abena",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body.String())
	}

	rec = client.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "abena", Password: "secret-pw"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("pending login = %d, want 401", rec.Code)
	}

	client.login("admin", "admin-pass-1")
	rec = client.do(http.MethodPost, "/api/v1/users/abena/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body.String())
	}

	client.token = ""
	client.login("abena", "secret-pw")
}

func TestCartCheckoutConcurrentRequests(t *testing.T) {
	client := newTestClient(t)
	client.login("cashier", "cashier-pass-1")

	rec := client.do(http.MethodPost, "/api/v1/carts", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cart = %d: %s", rec.Code, rec.Body.String())
	}
	var cartResp struct {
		CartID string `json:"cart_id"`
	}
	client.decode(rec, &cartResp)

	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/items", map[string]any{
		"item_id":  "item-ip13-blk-128",
		"quantity": 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item = %d: %s", rec.Code, rec.Body.String())
	}

	// Begin and cancel racing against each other on one cart id. Run with the
	// race detector to verify the session's checkout handoff.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/checkout", nil)
			client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/checkout/cancel", nil)
		}()
	}
	wg.Wait()

	// The session survives the churn and a fresh checkout still works.
	rec = client.do(http.MethodPost, "/api/v1/carts/"+cartResp.CartID+"/checkout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout after churn = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	client := newTestClient(t)
	rec := client.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}
