package txengine

import (
	"context"

	"github.com/google/uuid"

	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/pkg/money"
)

// OrderStatus is the lifecycle of a backend order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSucceeded OrderStatus = "succeeded"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is a backend order created against the ledger. For
// non-custodial flows the backend supplies the deposit address the
// on-chain leg must pay into.
type Order struct {
	ID             uuid.UUID
	Direction      quotes.OrderDirection
	QuoteID        uuid.UUID
	Volume         money.Value
	Currency       string
	DepositAddress string
	Status         OrderStatus
}

// OrderService is the order/ledger backend. External collaborator; the
// engines never assume anything about its wire shape.
type OrderService interface {
	CreateOrder(ctx context.Context, direction quotes.OrderDirection, quoteID uuid.UUID, volume money.Value, currency string) (Order, error)

	// UpdateOrder reports settlement success or failure so the backend
	// never retains a dangling order after a failed settle.
	UpdateOrder(ctx context.Context, id uuid.UUID, success bool) error
}

// TransferService settles custodial-to-address transfers directly,
// without an order. Used by the trading send/withdraw engine.
type TransferService interface {
	Transfer(ctx context.Context, amount money.Value, destination string) (txID string, err error)

	// TransferFees returns the flat withdrawal fee and the minimum
	// transferable amount for a currency.
	TransferFees(ctx context.Context, currency money.Currency) (fee, minimum money.Value, err error)
}

// TransactionResult is the terminal outcome of Execute.
type TransactionResult struct {
	// Order is set for flows that created a backend order.
	Order *Order
	// TxHash is set for flows that broadcast on-chain.
	TxHash string
	Amount money.Value
}
