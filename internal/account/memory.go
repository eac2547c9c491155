package account

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/coinpilot/txengine/pkg/money"
)

// MemoryAccount is an in-memory Account used by the simulator and
// tests. Balance updates are synchronized; the engines themselves only
// read.
type MemoryAccount struct {
	id       uuid.UUID
	label    string
	currency money.Currency
	kind     Kind

	mu      sync.RWMutex
	balance money.Value
	held    money.Value
}

// NewMemoryAccount creates an account holding the given balance.
func NewMemoryAccount(label string, kind Kind, balance money.Value) *MemoryAccount {
	return &MemoryAccount{
		id:       uuid.New(),
		label:    label,
		currency: balance.Currency,
		kind:     kind,
		balance:  balance,
		held:     money.Zero(balance.Currency),
	}
}

func (a *MemoryAccount) ID() uuid.UUID            { return a.id }
func (a *MemoryAccount) Label() string            { return a.label }
func (a *MemoryAccount) Currency() money.Currency { return a.currency }
func (a *MemoryAccount) Kind() Kind               { return a.kind }

func (a *MemoryAccount) Balance(ctx context.Context) (money.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance, nil
}

func (a *MemoryAccount) ActionableBalance(ctx context.Context) (money.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	actionable, err := a.balance.Sub(a.held)
	if err != nil {
		return money.Value{}, err
	}
	if actionable.IsNegative() {
		return money.Zero(a.currency), nil
	}
	return actionable, nil
}

// SetHold reserves part of the balance, e.g. for a pending order.
func (a *MemoryAccount) SetHold(held money.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held = held
}

// AccountTarget adapts an Account into a Target.
type AccountTarget struct {
	Account

	mu        sync.Mutex
	completed []string
}

// NewAccountTarget wraps an account as a transaction destination.
func NewAccountTarget(a Account) *AccountTarget {
	return &AccountTarget{Account: a}
}

func (t *AccountTarget) OnTxCompleted(ctx context.Context, txID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = append(t.completed, txID)
	return nil
}

// CompletedTransactions returns the transaction ids reported via
// OnTxCompleted.
func (t *AccountTarget) CompletedTransactions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.completed))
	copy(out, t.completed)
	return out
}

// CryptoAddress is an AddressTarget for a raw receive address.
type CryptoAddress struct {
	label    string
	address  string
	currency money.Currency
}

// NewCryptoAddress builds an address target. The label defaults to the
// address itself when empty.
func NewCryptoAddress(address, label string, currency money.Currency) *CryptoAddress {
	if label == "" {
		label = address
	}
	return &CryptoAddress{label: label, address: address, currency: currency}
}

func (c *CryptoAddress) Label() string            { return c.label }
func (c *CryptoAddress) Address() string          { return c.address }
func (c *CryptoAddress) Currency() money.Currency { return c.currency }

func (c *CryptoAddress) OnTxCompleted(ctx context.Context, txID string) error {
	// Raw addresses have nothing to reconcile.
	return nil
}
