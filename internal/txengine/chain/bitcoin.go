package chain

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/internal/txengine"
	"github.com/coinpilot/txengine/pkg/money"
)

const (
	// btcTxVBytes is the size estimate used for fee math; good enough
	// for a typical two-in two-out payment.
	btcTxVBytes = 250
	// btcDustSats is the network dust threshold; outputs below it are
	// unrelayable.
	btcDustSats = 546
)

// BitcoinEngine is the bitcoin on-chain sub-engine.
type BitcoinEngine struct {
	logger      *zap.Logger
	fees        FeeService
	broadcaster Broadcaster
	params      *chaincfg.Params

	source account.Account
	target account.AddressTarget
	rates  FeeRates
}

// NewBitcoinEngine creates a bitcoin engine validating mainnet
// addresses.
func NewBitcoinEngine(logger *zap.Logger, fees FeeService, broadcaster Broadcaster) *BitcoinEngine {
	return &BitcoinEngine{
		logger:      logger.Named("btc"),
		fees:        fees,
		broadcaster: broadcaster,
		params:      &chaincfg.MainNetParams,
	}
}

func (e *BitcoinEngine) checkAddress(addr string) error {
	decoded, err := btcutil.DecodeAddress(addr, e.params)
	if err != nil {
		return fmt.Errorf("invalid bitcoin address %q: %w", addr, err)
	}
	if !decoded.IsForNet(e.params) {
		return fmt.Errorf("address %q is not a %s address", addr, e.params.Name)
	}
	return nil
}

func (e *BitcoinEngine) Start(source account.Account, target account.Target) error {
	if source.Kind() != account.KindNonCustodial || source.Currency().Code != money.BTC.Code {
		panic("bitcoin engine requires a non-custodial BTC source")
	}
	addr, ok := target.(account.AddressTarget)
	if !ok {
		panic("bitcoin engine requires an address target")
	}
	if err := e.checkAddress(addr.Address()); err != nil {
		return err
	}
	e.source = source
	e.target = addr
	return nil
}

// Restart swaps the destination address, keeping fees and amount.
func (e *BitcoinEngine) Restart(target account.Target, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	addr, ok := target.(account.AddressTarget)
	if !ok {
		return p, fmt.Errorf("restart requires an address target")
	}
	if err := e.checkAddress(addr.Address()); err != nil {
		return p, err
	}
	e.target = addr
	return p, nil
}

// feeFor is rate * size, shifted from satoshi into BTC.
func (e *BitcoinEngine) feeFor(level txengine.FeeLevel) money.Value {
	rate := e.rates.Regular
	if level == txengine.FeeLevelPriority {
		rate = e.rates.Priority
	}
	sats := rate.Mul(decimal.NewFromInt(btcTxVBytes))
	return money.New(sats.Shift(-8), money.BTC)
}

func (e *BitcoinEngine) balances(ctx context.Context, amount money.Value, fee money.Value, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	balance, err := e.source.ActionableBalance(ctx)
	if err != nil {
		return p, fmt.Errorf("actionable balance: %w", err)
	}
	available, err := balance.Sub(fee)
	if err != nil {
		return p, err
	}
	if available.IsNegative() {
		available = money.Zero(money.BTC)
	}
	return p.WithBalances(amount, available, fee, fee), nil
}

func (e *BitcoinEngine) InitializeTransaction(ctx context.Context) (txengine.PendingTransaction, error) {
	rates, err := e.fees.FeeRates(ctx, money.BTC)
	if err != nil {
		return txengine.PendingTransaction{}, fmt.Errorf("fetch fee rates: %w", err)
	}
	e.rates = rates

	p := txengine.NewPendingTransaction(money.BTC, money.USD)
	p.FeeSelection = txengine.FeeSelection{
		Selected:  txengine.FeeLevelRegular,
		Available: []txengine.FeeLevel{txengine.FeeLevelRegular, txengine.FeeLevelPriority},
		Asset:     money.BTC,
	}
	return e.balances(ctx, p.Amount, e.feeFor(txengine.FeeLevelRegular), p)
}

func (e *BitcoinEngine) Update(ctx context.Context, amount money.Value, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	return e.balances(ctx, amount, e.feeFor(p.FeeSelection.Selected), p)
}

func (e *BitcoinEngine) UpdateFeeLevel(ctx context.Context, p txengine.PendingTransaction, level txengine.FeeLevel, custom *money.Value) (txengine.PendingTransaction, error) {
	p = p.WithSelectedFeeLevel(level, custom)
	return e.balances(ctx, p.Amount, e.feeFor(level), p)
}

func (e *BitcoinEngine) ValidateAmount(ctx context.Context, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	dust := money.New(decimal.NewFromInt(btcDustSats).Shift(-8), money.BTC)
	below, err := p.Amount.Cmp(dust)
	if err != nil {
		return p, limits.NewValidationError(limits.ValidationUnknownError)
	}
	if below < 0 {
		return p, limits.NewValidationError(limits.ValidationBelowMinimumLimit)
	}
	over, err := p.Amount.Cmp(p.Available)
	if err != nil {
		return p, limits.NewValidationError(limits.ValidationUnknownError)
	}
	if over > 0 {
		return p, limits.NewValidationError(limits.ValidationInsufficientFunds)
	}
	return p.WithValidationState(limits.ValidationCanExecute), nil
}

func (e *BitcoinEngine) Execute(ctx context.Context, p txengine.PendingTransaction, secondPassword string) (txengine.TransactionResult, error) {
	hash, err := e.broadcaster.Broadcast(ctx, Payment{
		Asset:  money.BTC,
		From:   e.source.ID().String(),
		To:     e.target.Address(),
		Amount: p.Amount,
		Fee:    p.FeeAmount,
	})
	if err != nil {
		return txengine.TransactionResult{}, fmt.Errorf("broadcast: %w", err)
	}
	e.logger.Info("payment broadcast", zap.String("tx_hash", hash))
	return txengine.TransactionResult{TxHash: hash, Amount: p.Amount}, nil
}
