package txengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/pkg/money"
)

// transferFeeTTL bounds how long a fetched withdrawal fee is reused
// before the backend is asked again.
const transferFeeTTL = 20 * time.Second

// TradingToOnChainEngine withdraws from a custodial balance to a raw
// on-chain address. The platform performs the broadcast, so there is
// no order and no signing leg; the flat withdrawal fee and the minimum
// transferable amount come from the transfer backend and are cached
// briefly because every amount update re-reads them.
type TradingToOnChainEngine struct {
	logger    *zap.Logger
	quotes    *quotes.Engine
	limits    *limits.Calculator
	transfers TransferService
	fiat      money.Currency

	source account.Account
	target account.AddressTarget

	feeMu      sync.Mutex
	feeFetched time.Time
	cachedFee  money.Value
	cachedMin  money.Value
}

// NewTradingToOnChainEngine creates the custodial send/withdraw
// variant.
func NewTradingToOnChainEngine(
	logger *zap.Logger,
	q *quotes.Engine,
	l *limits.Calculator,
	transfers TransferService,
	fiat money.Currency,
) *TradingToOnChainEngine {
	return &TradingToOnChainEngine{
		logger:    logger.Named("trading-to-onchain"),
		quotes:    q,
		limits:    l,
		transfers: transfers,
		fiat:      fiat,
	}
}

func (e *TradingToOnChainEngine) Start(source account.Account, target account.Target) error {
	if source.Kind() != account.KindCustodial {
		panic("trading to on-chain engine requires a custodial source")
	}
	addr, ok := target.(account.AddressTarget)
	if !ok {
		panic("trading to on-chain engine requires an address target")
	}
	if source.Currency().Code != target.Currency().Code {
		panic("trading to on-chain engine requires matching source and target assets")
	}
	e.source = source
	e.target = addr
	return nil
}

// transferFees returns the withdrawal fee and minimum, re-fetching
// only after the cache expires.
func (e *TradingToOnChainEngine) transferFees(ctx context.Context) (fee, minimum money.Value, err error) {
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	if time.Since(e.feeFetched) < transferFeeTTL {
		return e.cachedFee, e.cachedMin, nil
	}
	fee, minimum, err = e.transfers.TransferFees(ctx, e.source.Currency())
	if err != nil {
		return money.Value{}, money.Value{}, fmt.Errorf("fetch transfer fees: %w", err)
	}
	e.cachedFee = fee
	e.cachedMin = minimum
	e.feeFetched = time.Now()
	return fee, minimum, nil
}

// availableAfterFee is the actionable balance minus the flat fee,
// floored at zero.
func (e *TradingToOnChainEngine) availableAfterFee(ctx context.Context, fee money.Value) (money.Value, error) {
	balance, err := e.source.ActionableBalance(ctx)
	if err != nil {
		return money.Value{}, fmt.Errorf("actionable balance: %w", err)
	}
	available, err := balance.Sub(fee)
	if err != nil {
		return money.Value{}, err
	}
	if available.IsNegative() {
		return money.Zero(e.source.Currency()), nil
	}
	return available, nil
}

func (e *TradingToOnChainEngine) InitializeTransaction(ctx context.Context) (PendingTransaction, error) {
	pair := quotes.OrderPair{Source: e.source.Currency(), Destination: e.fiat}
	if _, err := e.quotes.StartPolling(ctx, quotes.DirectionToUserKey, pair); err != nil {
		return PendingTransaction{}, err
	}
	if _, err := e.quotes.Latest(ctx); err != nil {
		return PendingTransaction{}, err
	}

	fee, minimum, err := e.transferFees(ctx)
	if err != nil {
		return PendingTransaction{}, err
	}
	available, err := e.availableAfterFee(ctx, fee)
	if err != nil {
		return PendingTransaction{}, err
	}

	p := NewPendingTransaction(e.source.Currency(), e.fiat)
	p = p.WithBalances(p.Amount, available, fee, fee)
	return p.WithLimits(limits.Limits{Min: minimum, Max: available, MinAPI: minimum}), nil
}

func (e *TradingToOnChainEngine) Update(ctx context.Context, amount money.Value, p PendingTransaction) (PendingTransaction, error) {
	amount = validateUpdateAmount(amount, false)
	fee, minimum, err := e.transferFees(ctx)
	if err != nil {
		return p, err
	}
	available, err := e.availableAfterFee(ctx, fee)
	if err != nil {
		return p, err
	}
	p = p.WithBalances(amount, available, fee, fee)
	p = p.WithLimits(limits.Limits{Min: minimum, Max: available, MinAPI: minimum})
	e.quotes.UpdateAmount(amount.Amount)
	return p.ClearConfirmations(), nil
}

func (e *TradingToOnChainEngine) UpdateFeeLevel(ctx context.Context, p PendingTransaction, level FeeLevel, custom *money.Value) (PendingTransaction, error) {
	if !p.FeeSelection.Contains(level) {
		panic(fmt.Sprintf("fee level %s not available", level))
	}
	// The platform pays a flat withdrawal fee; nothing to select.
	return p, nil
}

func (e *TradingToOnChainEngine) BuildConfirmations(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	quote, err := e.quotes.Latest(ctx)
	if err != nil {
		return p, fmt.Errorf("build confirmations: %w", err)
	}
	confirmations, err := buildSendConfirmations(p, quote.Price, e.source.Label(), e.target.Label())
	if err != nil {
		return p, err
	}
	return p.WithConfirmations(confirmations), nil
}

func (e *TradingToOnChainEngine) ValidateAll(ctx context.Context, p PendingTransaction) (PendingTransaction, error) {
	return applyValidation(p, e.limits.ValidateAmount(p.Amount, p.Available, p.Limits))
}

func (e *TradingToOnChainEngine) Execute(ctx context.Context, p PendingTransaction, secondPassword string) (TransactionResult, error) {
	if !p.CanExecute() {
		return TransactionResult{}, fmt.Errorf("execute called without passing validation: %s", p.ValidationState)
	}
	txID, err := e.transfers.Transfer(ctx, p.Amount, e.target.Address())
	if err != nil {
		return TransactionResult{}, fmt.Errorf("transfer: %w", err)
	}
	e.logger.Info("custodial transfer submitted",
		zap.String("tx_id", txID),
		zap.String("amount", p.Amount.String()))
	return TransactionResult{TxHash: txID, Amount: p.Amount}, nil
}

func (e *TradingToOnChainEngine) PostExecute(ctx context.Context, result TransactionResult) error {
	return e.target.OnTxCompleted(ctx, result.TxHash)
}

func (e *TradingToOnChainEngine) Stop() { e.quotes.Stop() }
