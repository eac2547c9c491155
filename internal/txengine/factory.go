package txengine

import (
	"go.uber.org/zap"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/pkg/money"
)

// Deps are the collaborators an engine variant may need. OnChain is
// only consulted by non-custodial variants; Transfers only by the
// custodial withdraw variant.
type Deps struct {
	Logger    *zap.Logger
	Quotes    *quotes.Engine
	Limits    *limits.Calculator
	Orders    OrderService
	Transfers TransferService
	OnChain   OnChainEngine

	// FiatCurrency is the wallet display currency, used wherever a
	// flow needs a fiat leg the pair itself does not carry.
	FiatCurrency money.Currency
}

// NewEngine selects the engine variant for an account kind and action.
// The mapping is total over the supported combinations; anything else
// returns ErrNoEngine.
func NewEngine(kind account.Kind, action AssetAction, deps Deps) (TransactionEngine, error) {
	switch {
	case kind == account.KindCustodial && action == ActionSell:
		return NewTradingSellEngine(deps.Logger, deps.Quotes, deps.Limits, deps.Orders), nil
	case kind == account.KindNonCustodial && action == ActionSell:
		return NewNonCustodialSellEngine(deps.Logger, deps.Quotes, deps.Limits, deps.Orders, deps.OnChain), nil
	case kind == account.KindCustodial && action == ActionSwap:
		return NewSwapEngine(deps.Logger, deps.Quotes, deps.Limits, deps.Orders, deps.FiatCurrency), nil
	case kind == account.KindNonCustodial && action == ActionSwap:
		return NewOnChainSwapEngine(deps.Logger, deps.Quotes, deps.Limits, deps.Orders, deps.OnChain, deps.FiatCurrency), nil
	case kind == account.KindCustodial && (action == ActionSend || action == ActionWithdraw):
		return NewTradingToOnChainEngine(deps.Logger, deps.Quotes, deps.Limits, deps.Transfers, deps.FiatCurrency), nil
	case kind == account.KindNonCustodial && action == ActionSend:
		return NewNonCustodialSendEngine(deps.Logger, deps.Quotes, deps.OnChain, deps.FiatCurrency), nil
	case kind == account.KindCustodial && (action == ActionBuy || action == ActionDeposit):
		return NewTradingBuyEngine(deps.Logger, deps.Quotes, deps.Limits, deps.Orders), nil
	}
	return nil, ErrNoEngine
}
