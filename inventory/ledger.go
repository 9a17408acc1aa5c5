package inventory

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidMaterial   = errors.New("material type is required")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Entry is one line of a ledger snapshot.
type Entry struct {
	Material string `json:"material"`
	Quantity int    `json:"quantity"`
}

// Ledger tracks material quantities for one warehouse under an inclusive
// capacity bound. The sum of all quantities never exceeds CapacityMax.
type Ledger struct {
	mu          sync.RWMutex
	capacityMax int
	order       []string
	quantities  map[string]int
	total       int
}

func NewLedger(capacityMax int) *Ledger {
	return &Ledger{
		capacityMax: capacityMax,
		quantities:  make(map[string]int),
	}
}

// Receive adds quantity of material. The ledger is left untouched when the
// receipt would push the total past the capacity bound.
func (l *Ledger) Receive(material string, quantity int) error {
	if material == "" {
		return ErrInvalidMaterial
	}
	if quantity <= 0 {
		return fmt.Errorf("receive %s: %w", material, ErrInvalidQuantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if quantity > l.capacityMax-l.total {
		return fmt.Errorf("receive %d %s (total %d, max %d): %w",
			quantity, material, l.total, l.capacityMax, ErrCapacityExceeded)
	}
	if _, ok := l.quantities[material]; !ok {
		l.order = append(l.order, material)
	}
	l.quantities[material] += quantity
	l.total += quantity
	return nil
}

// Withdraw removes quantity of material, all or nothing.
func (l *Ledger) Withdraw(material string, quantity int) error {
	if material == "" {
		return ErrInvalidMaterial
	}
	if quantity <= 0 {
		return fmt.Errorf("withdraw %s: %w", material, ErrInvalidQuantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.quantities[material]
	if have < quantity {
		return fmt.Errorf("withdraw %d %s (have %d): %w", quantity, material, have, ErrInsufficientStock)
	}
	l.quantities[material] = have - quantity
	l.total -= quantity
	return nil
}

// Snapshot returns the ledger contents in insertion order. The returned
// slice is a copy and is never mutated by the ledger.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, len(l.order))
	for i, m := range l.order {
		entries[i] = Entry{Material: m, Quantity: l.quantities[m]}
	}
	return entries
}

func (l *Ledger) Quantity(material string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quantities[material]
}

func (l *Ledger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Free is the remaining room under the capacity bound.
func (l *Ledger) Free() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.capacityMax - l.total
}

func (l *Ledger) CapacityMax() int { return l.capacityMax }
