package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/internal/txengine"
	"github.com/coinpilot/txengine/pkg/money"
)

// ethTransferGas is the fixed gas cost of a plain value transfer.
const ethTransferGas = 21000

// EthereumEngine is the ethereum on-chain sub-engine.
type EthereumEngine struct {
	logger      *zap.Logger
	fees        FeeService
	broadcaster Broadcaster

	source account.Account
	target account.AddressTarget
	rates  FeeRates
}

// NewEthereumEngine creates an ethereum engine.
func NewEthereumEngine(logger *zap.Logger, fees FeeService, broadcaster Broadcaster) *EthereumEngine {
	return &EthereumEngine{
		logger:      logger.Named("eth"),
		fees:        fees,
		broadcaster: broadcaster,
	}
}

func (e *EthereumEngine) checkAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid ethereum address %q", addr)
	}
	return nil
}

func (e *EthereumEngine) Start(source account.Account, target account.Target) error {
	if source.Kind() != account.KindNonCustodial || source.Currency().Code != money.ETH.Code {
		panic("ethereum engine requires a non-custodial ETH source")
	}
	addr, ok := target.(account.AddressTarget)
	if !ok {
		panic("ethereum engine requires an address target")
	}
	if err := e.checkAddress(addr.Address()); err != nil {
		return err
	}
	e.source = source
	e.target = addr
	return nil
}

func (e *EthereumEngine) Restart(target account.Target, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
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

// feeFor is gasPrice * gasLimit, shifted from gwei into ETH.
func (e *EthereumEngine) feeFor(level txengine.FeeLevel) money.Value {
	rate := e.rates.Regular
	if level == txengine.FeeLevelPriority {
		rate = e.rates.Priority
	}
	gwei := rate.Mul(decimal.NewFromInt(ethTransferGas))
	return money.New(gwei.Shift(-9), money.ETH)
}

func (e *EthereumEngine) balances(ctx context.Context, amount money.Value, fee money.Value, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	balance, err := e.source.ActionableBalance(ctx)
	if err != nil {
		return p, fmt.Errorf("actionable balance: %w", err)
	}
	available, err := balance.Sub(fee)
	if err != nil {
		return p, err
	}
	if available.IsNegative() {
		available = money.Zero(money.ETH)
	}
	return p.WithBalances(amount, available, fee, fee), nil
}

func (e *EthereumEngine) InitializeTransaction(ctx context.Context) (txengine.PendingTransaction, error) {
	rates, err := e.fees.FeeRates(ctx, money.ETH)
	if err != nil {
		return txengine.PendingTransaction{}, fmt.Errorf("fetch fee rates: %w", err)
	}
	e.rates = rates

	p := txengine.NewPendingTransaction(money.ETH, money.USD)
	p.FeeSelection = txengine.FeeSelection{
		Selected:  txengine.FeeLevelRegular,
		Available: []txengine.FeeLevel{txengine.FeeLevelRegular, txengine.FeeLevelPriority},
		Asset:     money.ETH,
	}
	return e.balances(ctx, p.Amount, e.feeFor(txengine.FeeLevelRegular), p)
}

func (e *EthereumEngine) Update(ctx context.Context, amount money.Value, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	return e.balances(ctx, amount, e.feeFor(p.FeeSelection.Selected), p)
}

func (e *EthereumEngine) UpdateFeeLevel(ctx context.Context, p txengine.PendingTransaction, level txengine.FeeLevel, custom *money.Value) (txengine.PendingTransaction, error) {
	p = p.WithSelectedFeeLevel(level, custom)
	return e.balances(ctx, p.Amount, e.feeFor(level), p)
}

func (e *EthereumEngine) ValidateAmount(ctx context.Context, p txengine.PendingTransaction) (txengine.PendingTransaction, error) {
	if !p.Amount.IsPositive() {
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

func (e *EthereumEngine) Execute(ctx context.Context, p txengine.PendingTransaction, secondPassword string) (txengine.TransactionResult, error) {
	hash, err := e.broadcaster.Broadcast(ctx, Payment{
		Asset:  money.ETH,
		From:   e.source.ID().String(),
		To:     e.target.Address(),
		Amount: p.Amount,
		Fee:    p.FeeAmount,
	})
	if err != nil {
		return txengine.TransactionResult{}, fmt.Errorf("broadcast: %w", err)
	}
	e.logger.Info("transaction broadcast", zap.String("tx_hash", hash))
	return txengine.TransactionResult{TxHash: hash, Amount: p.Amount}, nil
}
