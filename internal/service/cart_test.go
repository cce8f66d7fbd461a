package service

import (
	"errors"
	"testing"

	"applebazaar/backend/internal/domain"
	"applebazaar/backend/internal/store"
)

func phoneItem(stock int) domain.InventoryItem {
	return domain.InventoryItem{
		ID:         "item-ip13",
		Name:       "iPhone 13 Black 128GB",
		Model:      "iPhone 13",
		PriceCents: 699000,
		Stock:      stock,
	}
}

func accessoryItem(stock int) domain.InventoryItem {
	return domain.InventoryItem{
		ID:          "item-pods",
		Name:        "AirPods Pro",
		Model:       "AirPods Pro",
		PriceCents:  249000,
		Stock:       stock,
		IsAccessory: true,
	}
}

func TestCartAddBlocksWhenStockExhausted(t *testing.T) {
	cart := NewCart()
	item := phoneItem(2)

	if err := cart.Add(item, 1); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := cart.Add(item, 1); err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	if err := cart.Add(item, 1); !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if got := cart.AvailableStock(item); got != 0 {
		t.Fatalf("available stock = %d, want 0", got)
	}
}

func TestCartAddAllowsQuantityPastStock(t *testing.T) {
	cart := NewCart()
	item := phoneItem(3)

	if err := cart.Add(item, 5); err != nil {
		t.Fatalf("add past stock failed: %v", err)
	}
	if got := cart.Lines()[0].Quantity; got != 5 {
		t.Fatalf("quantity = %d, want 5", got)
	}
}

func TestCartAddMergesPastStockWhileAnyRemains(t *testing.T) {
	cart := NewCart()
	item := phoneItem(3)

	if err := cart.Add(item, 2); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := cart.Add(item, 4); err != nil {
		t.Fatalf("merge past stock failed: %v", err)
	}
	if got := cart.Lines()[0].Quantity; got != 6 {
		t.Fatalf("merged quantity = %d, want 6", got)
	}

	// Once the cart has consumed every shelf unit further adds are refused.
	if err := cart.Add(item, 1); !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock on depleted item, got %v", err)
	}
	if got := cart.AvailableStock(item); got != -3 {
		t.Fatalf("available stock = %d, want -3", got)
	}
}

func TestCartAddMergesIntoIdentityLessLine(t *testing.T) {
	cart := NewCart()
	item := phoneItem(10)

	if err := cart.Add(item, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := cart.Add(item, 3); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	lines := cart.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected one merged line, got %d", len(lines))
	}
	if lines[0].Quantity != 5 {
		t.Fatalf("merged quantity = %d, want 5", lines[0].Quantity)
	}
	if cart.TotalCents() != 5*item.PriceCents {
		t.Fatalf("total = %d, want %d", cart.TotalCents(), 5*item.PriceCents)
	}
}

func TestCartUpdateQuantityRemovesBelowOne(t *testing.T) {
	cart := NewCart()
	item := phoneItem(10)
	if err := cart.Add(item, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	lineID := cart.Lines()[0].LineID

	if err := cart.UpdateQuantity(lineID, 4); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got := cart.Lines()[0].Quantity; got != 4 {
		t.Fatalf("quantity = %d, want 4", got)
	}

	if err := cart.UpdateQuantity(lineID, 0); err != nil {
		t.Fatalf("update to zero failed: %v", err)
	}
	if len(cart.Lines()) != 0 {
		t.Fatalf("expected empty cart after zero-quantity update")
	}
}

func TestBeginCheckoutEmptyCart(t *testing.T) {
	cart := NewCart()
	if _, err := cart.BeginCheckout(); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCheckoutExpandsLinesInOrder(t *testing.T) {
	cart := NewCart()
	if err := cart.Add(phoneItem(10), 3); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := cart.Add(accessoryItem(10), 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	checkout, err := cart.BeginCheckout()
	if err != nil {
		t.Fatalf("begin checkout failed: %v", err)
	}

	instances := checkout.Instances()
	if len(instances) != 5 {
		t.Fatalf("expected 5 unit instances, got %d", len(instances))
	}
	for i, inst := range instances[:3] {
		if inst.ItemID != "item-ip13" {
			t.Fatalf("instance %d item = %s, want item-ip13", i, inst.ItemID)
		}
		if inst.Index != i+1 {
			t.Fatalf("instance %d index = %d, want %d", i, inst.Index, i+1)
		}
	}
	if instances[3].ItemID != "item-pods" || instances[3].Index != 1 {
		t.Fatalf("fourth instance = %+v, want first airpods unit", instances[3])
	}
}

func TestCollectIdentityValidatesIMEI(t *testing.T) {
	cart := NewCart()
	if err := cart.Add(phoneItem(10), 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	checkout, err := cart.BeginCheckout()
	if err != nil {
		t.Fatalf("begin checkout failed: %v", err)
	}
	unitID := checkout.Instances()[0].UnitID

	if _, err := checkout.CollectIdentity(unitID, "1234", "", ""); !errors.Is(err, ErrInvalidIMEI) {
		t.Fatalf("short imei: expected ErrInvalidIMEI, got %v", err)
	}
	if _, err := checkout.CollectIdentity(unitID, "1234567890123456", "", ""); !errors.Is(err, ErrInvalidIMEI) {
		t.Fatalf("16-digit imei: expected ErrInvalidIMEI, got %v", err)
	}

	// Separators are stripped before the length check.
	next, err := checkout.CollectIdentity(unitID, "35-409206-123456-7", "", "")
	if err != nil {
		t.Fatalf("dashed imei rejected: %v", err)
	}
	if next != nil {
		t.Fatalf("expected no next unit, got %+v", next)
	}
	if !checkout.Complete() {
		t.Fatalf("checkout should be complete")
	}

	lines, err := checkout.Lines()
	if err != nil {
		t.Fatalf("lines failed: %v", err)
	}
	if got := lines[0].Units[0].IMEI1; got != "354092061234567" {
		t.Fatalf("normalized imei = %q, want 354092061234567", got)
	}
}

func TestCollectIdentityPhoneModelDropsSecondaryFields(t *testing.T) {
	cart := NewCart()
	if err := cart.Add(phoneItem(10), 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	checkout, err := cart.BeginCheckout()
	if err != nil {
		t.Fatalf("begin checkout failed: %v", err)
	}
	unitID := checkout.Instances()[0].UnitID

	if _, err := checkout.CollectIdentity(unitID, "354092061234567", "861234567890123", "C02XY"); err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	lines, err := checkout.Lines()
	if err != nil {
		t.Fatalf("lines failed: %v", err)
	}
	unit := lines[0].Units[0]
	if unit.IMEI2 != "" || unit.SerialNumber != "" {
		t.Fatalf("phone model kept secondary identity: %+v", unit)
	}
}

func TestCollectIdentityAccessoryKeepsSecondaryFields(t *testing.T) {
	cart := NewCart()
	if err := cart.Add(accessoryItem(10), 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	checkout, err := cart.BeginCheckout()
	if err != nil {
		t.Fatalf("begin checkout failed: %v", err)
	}
	unitID := checkout.Instances()[0].UnitID

	if _, err := checkout.CollectIdentity(unitID, "354092061234567", "861234567890123", "  GX7P2LL  "); err != nil {
		t.Fatalf("collect failed: %v", err)
	}

	lines, err := checkout.Lines()
	if err != nil {
		t.Fatalf("lines failed: %v", err)
	}
	unit := lines[0].Units[0]
	if unit.IMEI2 != "861234567890123" {
		t.Fatalf("imei2 = %q, want 861234567890123", unit.IMEI2)
	}
	if unit.SerialNumber != "GX7P2LL" {
		t.Fatalf("serial = %q, want GX7P2LL", unit.SerialNumber)
	}
}

func TestCollectIdentityReturnsNextAndOverwritesOnRescan(t *testing.T) {
	cart := NewCart()
	if err := cart.Add(phoneItem(10), 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	checkout, err := cart.BeginCheckout()
	if err != nil {
		t.Fatalf("begin checkout failed: %v", err)
	}
	instances := checkout.Instances()

	next, err := checkout.CollectIdentity(instances[0].UnitID, "354092061234567", "", "")
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if next == nil || next.UnitID != instances[1].UnitID {
		t.Fatalf("next = %+v, want second unit", next)
	}

	// Re-scanning the first unit replaces only its identity and still reports
	// the second unit as pending.
	next, err = checkout.CollectIdentity(instances[0].UnitID, "357001239876543", "", "")
	if err != nil {
		t.Fatalf("rescan failed: %v", err)
	}
	if next == nil || next.UnitID != instances[1].UnitID {
		t.Fatalf("next after rescan = %+v, want second unit", next)
	}

	if _, err := checkout.CollectIdentity(instances[1].UnitID, "352000112223334", "", ""); err != nil {
		t.Fatalf("collect second failed: %v", err)
	}
	lines, err := checkout.Lines()
	if err != nil {
		t.Fatalf("lines failed: %v", err)
	}
	if got := lines[0].Units[0].IMEI1; got != "357001239876543" {
		t.Fatalf("first unit imei = %q, want overwritten value", got)
	}
}

func TestCheckoutLinesFailsWhileIncomplete(t *testing.T) {
	cart := NewCart()
	if err := cart.Add(phoneItem(10), 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	checkout, err := cart.BeginCheckout()
	if err != nil {
		t.Fatalf("begin checkout failed: %v", err)
	}

	if _, err := checkout.Lines(); !errors.Is(err, ErrIdentityIncomplete) {
		t.Fatalf("expected ErrIdentityIncomplete, got %v", err)
	}
}

func TestCheckoutCancelDiscardsIdentities(t *testing.T) {
	cart := NewCart()
	if err := cart.Add(phoneItem(10), 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	checkout, err := cart.BeginCheckout()
	if err != nil {
		t.Fatalf("begin checkout failed: %v", err)
	}
	unitID := checkout.Instances()[0].UnitID

	checkout.Cancel()
	if _, err := checkout.CollectIdentity(unitID, "354092061234567", "", ""); !errors.Is(err, ErrCheckoutCancelled) {
		t.Fatalf("expected ErrCheckoutCancelled, got %v", err)
	}

	// The cart itself is untouched by a cancelled checkout.
	if len(cart.Lines()) != 1 {
		t.Fatalf("cart lines changed after cancel")
	}
}

func TestApplyFreezesLineAndNewAddOpensNewLine(t *testing.T) {
	cart := NewCart()
	item := phoneItem(10)
	if err := cart.Add(item, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	checkout, err := cart.BeginCheckout()
	if err != nil {
		t.Fatalf("begin checkout failed: %v", err)
	}
	unitID := checkout.Instances()[0].UnitID
	if _, err := checkout.CollectIdentity(unitID, "354092061234567", "", ""); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if _, err := checkout.Apply(); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	frozen := cart.Lines()[0]
	if len(frozen.Units) != 1 {
		t.Fatalf("applied line has no units")
	}
	if err := cart.UpdateQuantity(frozen.LineID, 3); !errors.Is(err, ErrLineFrozen) {
		t.Fatalf("expected ErrLineFrozen, got %v", err)
	}

	if err := cart.Add(item, 1); err != nil {
		t.Fatalf("add after apply failed: %v", err)
	}
	lines := cart.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected a new line, got %d lines", len(lines))
	}
	if lines[1].LineID == frozen.LineID {
		t.Fatalf("new add merged into frozen line")
	}
}
