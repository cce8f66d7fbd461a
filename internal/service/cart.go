package service

import (
	"fmt"
	"strings"
	"sync"

	"applebazaar/backend/internal/domain"
	"applebazaar/backend/internal/store"
	"applebazaar/backend/internal/xid"
)

// Cart is one cashier session's pending sale. Lines merge by item while no
// unit identities have been recorded; once a line carries identities it is
// frozen and a fresh add for the same item opens a new line. Quantities may
// run past the shelf count (back-orders are store policy); only a fully
// depleted item refuses new adds.
type Cart struct {
	mu    sync.Mutex
	id    string
	lines []domain.CartLine
}

func NewCart() *Cart {
	return &Cart{id: xid.New("cart")}
}

func (c *Cart) ID() string {
	return c.id
}

// Add reserves qty more units of item in the cart. Availability counts units
// already reserved by this cart, but only a depleted item blocks the add; a
// quantity above the remaining stock is accepted as-is.
func (c *Cart) Add(item domain.InventoryItem, qty int) error {
	if qty < 1 {
		qty = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.availableLocked(item) <= 0 {
		return store.ErrOutOfStock
	}

	for i := range c.lines {
		line := &c.lines[i]
		if line.ItemID == item.ID && len(line.Units) == 0 {
			line.Quantity += qty
			return nil
		}
	}

	c.lines = append(c.lines, domain.CartLine{
		LineID:     xid.New("line"),
		ItemID:     item.ID,
		Name:       item.Name,
		Model:      item.Model,
		PriceCents: item.PriceCents,
		Quantity:   qty,
	})
	return nil
}

// AvailableStock is the item stock minus what this cart has reserved.
func (c *Cart) AvailableStock(item domain.InventoryItem) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availableLocked(item)
}

func (c *Cart) availableLocked(item domain.InventoryItem) int {
	reserved := 0
	for _, line := range c.lines {
		if line.ItemID == item.ID {
			reserved += line.Quantity
		}
	}
	return item.Stock - reserved
}

// UpdateQuantity sets the quantity of an identity-less line. A quantity below
// one removes the line. Lines that already carry unit identities are frozen.
func (c *Cart) UpdateQuantity(lineID string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.lines {
		line := &c.lines[i]
		if line.LineID != lineID {
			continue
		}
		if len(line.Units) > 0 {
			return ErrLineFrozen
		}
		if qty < 1 {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
		line.Quantity = qty
		return nil
	}
	return store.ErrNotFound
}

func (c *Cart) Remove(lineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.lines {
		if c.lines[i].LineID == lineID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (c *Cart) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneLines(c.lines)
}

func (c *Cart) TotalCents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := int64(0)
	for _, line := range c.lines {
		total += line.PriceCents * int64(line.Quantity)
	}
	return total
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

func (c *Cart) setLines(lines []domain.CartLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = lines
}

// BeginCheckout expands the cart into a per-unit identity worklist. A line of
// quantity three yields three instances, each needing its own IMEI before the
// sale can finalize. The cart itself stays untouched until the checkout is
// applied or cancelled.
func (c *Cart) BeginCheckout() (*Checkout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return nil, ErrEmptyCart
	}

	checkout := &Checkout{cart: c}
	for _, line := range c.lines {
		for i := 1; i <= line.Quantity; i++ {
			checkout.instances = append(checkout.instances, domain.UnitInstance{
				UnitID: fmt.Sprintf("%s-%d", line.LineID, i),
				LineID: line.LineID,
				ItemID: line.ItemID,
				Name:   line.Name,
				Model:  line.Model,
				Index:  i,
			})
		}
	}
	return checkout, nil
}

// Checkout walks the expanded unit list collecting one identity per physical
// unit sold. Instances keep the cart's line order, so the cashier scans units
// in the same order the cart shows them.
type Checkout struct {
	mu        sync.Mutex
	cart      *Cart
	instances []domain.UnitInstance
	cancelled bool
}

func (ck *Checkout) Instances() []domain.UnitInstance {
	ck.mu.Lock()
	defer ck.mu.Unlock()

	out := make([]domain.UnitInstance, len(ck.instances))
	copy(out, ck.instances)
	return out
}

// CollectIdentity records the identity for one unit and reports the next unit
// still waiting, or nil when every unit is identified. Re-collecting a unit
// overwrites only that unit, so a mis-scan is fixed by scanning again.
func (ck *Checkout) CollectIdentity(unitID string, imei1 string, imei2 string, serial string) (*domain.UnitInstance, error) {
	ck.mu.Lock()
	defer ck.mu.Unlock()

	if ck.cancelled {
		return nil, ErrCheckoutCancelled
	}

	idx := -1
	for i := range ck.instances {
		if ck.instances[i].UnitID == unitID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, store.ErrNotFound
	}

	primary, ok := normalizeIMEI(imei1)
	if !ok {
		return nil, ErrInvalidIMEI
	}

	identity := domain.UnitIdentity{IMEI1: primary}
	if !domain.IsPhoneModel(ck.instances[idx].Model) {
		// Non-phone models may carry a second IMEI and a free-form serial.
		if strings.TrimSpace(imei2) != "" {
			secondary, ok := normalizeIMEI(imei2)
			if !ok {
				return nil, ErrInvalidIMEI
			}
			identity.IMEI2 = secondary
		}
		identity.SerialNumber = strings.TrimSpace(serial)
	}
	ck.instances[idx].Identity = &identity

	for i := range ck.instances {
		if ck.instances[i].Identity == nil {
			next := ck.instances[i]
			return &next, nil
		}
	}
	return nil, nil
}

func (ck *Checkout) Complete() bool {
	ck.mu.Lock()
	defer ck.mu.Unlock()

	for i := range ck.instances {
		if ck.instances[i].Identity == nil {
			return false
		}
	}
	return len(ck.instances) > 0
}

// Lines consolidates the identified units back into cart lines, grouped by
// the line they expanded from, with Units filled one per instance in scan
// order. It fails while any unit is still unidentified.
func (ck *Checkout) Lines() ([]domain.CartLine, error) {
	ck.mu.Lock()
	defer ck.mu.Unlock()

	if ck.cancelled {
		return nil, ErrCheckoutCancelled
	}

	unitsByLine := make(map[string][]domain.UnitIdentity, 4)
	for i := range ck.instances {
		inst := ck.instances[i]
		if inst.Identity == nil {
			return nil, ErrIdentityIncomplete
		}
		unitsByLine[inst.LineID] = append(unitsByLine[inst.LineID], *inst.Identity)
	}

	lines := ck.cart.Lines()
	for i := range lines {
		lines[i].Units = unitsByLine[lines[i].LineID]
	}
	return lines, nil
}

// Apply writes the collected identities back onto the cart lines. From then
// on those lines are frozen: adding the same item again opens a new line
// instead of merging into an already-identified one.
func (ck *Checkout) Apply() ([]domain.CartLine, error) {
	lines, err := ck.Lines()
	if err != nil {
		return nil, err
	}
	ck.cart.setLines(cloneLines(lines))
	return lines, nil
}

// Cancel abandons the checkout. Collected identities are discarded; the cart
// and stock are untouched because nothing is decremented before finalize.
func (ck *Checkout) Cancel() {
	ck.mu.Lock()
	defer ck.mu.Unlock()
	ck.cancelled = true
	ck.instances = nil
}

// normalizeIMEI strips every non-digit and accepts exactly 15 digits, the
// standard IMEI length. Scanners often emit separators, so "35-409206-..." is
// fine as long as 15 digits remain.
func normalizeIMEI(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() != 15 {
		return "", false
	}
	return digits.String(), true
}

func cloneLines(lines []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, len(lines))
	copy(out, lines)
	for i := range out {
		out[i].Units = append([]domain.UnitIdentity(nil), out[i].Units...)
	}
	return out
}
