// txflow-sim wires the transaction stack end to end against in-memory
// collaborators and runs one scripted non-custodial sell: initialise,
// enter an amount, confirm, execute, reset. Useful for eyeballing the
// state stream and the order store without a backend.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/config"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/internal/orderstore"
	"github.com/coinpilot/txengine/internal/quotes"
	"github.com/coinpilot/txengine/internal/txengine"
	"github.com/coinpilot/txengine/internal/txengine/chain"
	"github.com/coinpilot/txengine/internal/txflow"
	"github.com/coinpilot/txengine/pkg/logger"
	"github.com/coinpilot/txengine/pkg/money"
)

const depositAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

// walkFetcher prices BTC/GBP on a small deterministic walk so the
// quote stream visibly moves.
type walkFetcher struct {
	price decimal.Decimal
	step  decimal.Decimal
	up    bool
}

func newWalkFetcher() *walkFetcher {
	return &walkFetcher{
		price: decimal.NewFromInt(20000),
		step:  decimal.NewFromInt(25),
	}
}

func (f *walkFetcher) FetchQuote(ctx context.Context, direction quotes.OrderDirection, pair quotes.OrderPair, amount decimal.Decimal) (quotes.PricedQuote, error) {
	if f.up {
		f.price = f.price.Add(f.step)
	} else {
		f.price = f.price.Sub(f.step)
	}
	f.up = !f.up
	return quotes.PricedQuote{
		ID:                   uuid.New(),
		Pair:                 pair,
		Price:                money.New(f.price, pair.Destination),
		StaticFee:            money.New(decimal.NewFromInt(1), pair.Destination),
		NetworkFee:           money.Zero(pair.Destination),
		SampleDepositAddress: depositAddress,
		CreatedAt:            time.Now(),
	}, nil
}

type staticTiers struct{}

func (staticTiers) Tiers(ctx context.Context) (limits.UserTiers, error) {
	return limits.UserTiers{Tier: 2, Tier1Approved: true, Tier2Approved: true}, nil
}

type staticTradeLimits struct{}

func (staticTradeLimits) FetchLimits(ctx context.Context, fiat money.Currency, product string) (limits.TradeBounds, error) {
	return limits.TradeBounds{
		MinOrder: decimal.NewFromInt(10),
		MaxOrder: decimal.NewFromInt(10000),
	}, nil
}

type staticPrices struct{}

func (staticPrices) Price(ctx context.Context, base, fiat money.Currency) (money.Value, error) {
	return money.New(decimal.NewFromInt(20000), fiat), nil
}

type staticFees struct{}

func (staticFees) FeeRates(ctx context.Context, asset money.Currency) (chain.FeeRates, error) {
	return chain.FeeRates{Regular: decimal.NewFromInt(10), Priority: decimal.NewFromInt(40)}, nil
}

type loopbackBroadcaster struct {
	log *zap.Logger
}

func (b loopbackBroadcaster) Broadcast(ctx context.Context, payment chain.Payment) (string, error) {
	hash := uuid.New().String()
	b.log.Info("broadcast",
		zap.String("asset", payment.Asset.Code),
		zap.String("to", payment.To),
		zap.String("amount", payment.Amount.String()),
		zap.String("tx_hash", hash))
	return hash, nil
}

func run() error {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := orderstore.Open(cfg.OrderStoreDSN)
	if err != nil {
		return err
	}
	orders := orderstore.New(log, db, orderstore.WithAddressAllocator(func(string) string {
		return depositAddress
	}))

	metricsReg := prometheus.NewRegistry()
	quoteEngine := quotes.NewEngine(log, newWalkFetcher(), cfg.QuotePollInterval,
		quotes.WithFetchTimeout(cfg.QuoteFetchTimeout),
		quotes.WithMetrics(metricsReg))
	calculator := limits.NewCalculator(log, staticTiers{}, staticTradeLimits{}, staticPrices{})
	bitcoin := chain.NewBitcoinEngine(log, staticFees{}, loopbackBroadcaster{log: log})

	model := txflow.NewModel(log, txengine.Deps{
		Logger:       log,
		Quotes:       quoteEngine,
		Limits:       calculator,
		Orders:       orders,
		OnChain:      bitcoin,
		FiatCurrency: money.GBP,
	}, nil)
	defer model.Close()

	go func() {
		for state := range model.States() {
			log.Info("state",
				zap.Stringer("step", state.Step),
				zap.String("amount", state.Pending.Amount.String()),
				zap.Int("confirmations", len(state.Pending.Confirmations)),
				zap.Bool("next_enabled", state.NextEnabled),
				zap.Error(state.ErrorState))
		}
	}()

	source := account.NewMemoryAccount("BTC Keys", account.KindNonCustodial,
		money.New(decimal.NewFromInt(1), money.BTC))
	target := account.NewAccountTarget(account.NewMemoryAccount("GBP Wallet", account.KindCustodial,
		money.Zero(money.GBP)))

	model.Process(txflow.InitialiseWithSourceAndTarget{
		AssetAction: txengine.ActionSell,
		Source:      source,
		Target:      target,
	})
	if err := waitFor(model, func(s txflow.TransactionState) bool {
		return s.Step == txflow.StepEnterAmount && s.Pending.Limits != nil
	}); err != nil {
		return err
	}

	model.Process(txflow.AmountChanged{
		Amount: money.New(decimal.RequireFromString("0.01"), money.BTC),
	})
	if err := waitFor(model, func(s txflow.TransactionState) bool { return s.NextEnabled }); err != nil {
		return err
	}

	model.Process(txflow.PrepareTransaction{})
	if err := waitFor(model, func(s txflow.TransactionState) bool {
		return s.Step == txflow.StepConfirmDetail && len(s.Pending.Confirmations) > 0
	}); err != nil {
		return err
	}
	for _, c := range model.CurrentState().Pending.Confirmations {
		log.Info("confirmation", zap.Stringer("item", c))
	}

	model.Process(txflow.ExecuteTransaction{})
	if err := waitFor(model, func(s txflow.TransactionState) bool {
		return s.ExecutionStatus == txflow.ExecutionCompleted || s.ExecutionStatus == txflow.ExecutionError
	}); err != nil {
		return err
	}
	final := model.CurrentState()
	if final.ExecutionStatus == txflow.ExecutionError {
		return fmt.Errorf("execution failed: %w", final.ErrorState)
	}
	log.Info("settled", zap.Stringer("step", final.Step))

	model.Process(txflow.ResetFlow{})
	if err := waitFor(model, func(s txflow.TransactionState) bool {
		return s.Step == txflow.StepClosed
	}); err != nil {
		return err
	}

	families, err := metricsReg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			log.Info("metric",
				zap.String("name", mf.GetName()),
				zap.Float64("value", m.GetCounter().GetValue()))
		}
	}
	return nil
}

func waitFor(model *txflow.Model, cond func(txflow.TransactionState) bool) error {
	deadline := time.After(30 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return fmt.Errorf("timed out at step %s", model.CurrentState().Step)
		case <-tick.C:
			if cond(model.CurrentState()) {
				return nil
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "txflow-sim:", err)
		os.Exit(1)
	}
}
