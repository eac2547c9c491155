package chain

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coinpilot/txengine/internal/account"
	"github.com/coinpilot/txengine/internal/limits"
	"github.com/coinpilot/txengine/internal/txengine"
	"github.com/coinpilot/txengine/pkg/money"
)

const (
	btcAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	ethAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func val(s string, c money.Currency) money.Value { return money.New(dec(s), c) }

type stubFees struct {
	rates FeeRates
}

func (s stubFees) FeeRates(ctx context.Context, asset money.Currency) (FeeRates, error) {
	return s.rates, nil
}

type stubBroadcaster struct {
	payments []Payment
	err      error
}

func (s *stubBroadcaster) Broadcast(ctx context.Context, payment Payment) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.payments = append(s.payments, payment)
	return "hash-1", nil
}

func newBitcoinEngine(t *testing.T, broadcaster *stubBroadcaster) *BitcoinEngine {
	t.Helper()
	fees := stubFees{rates: FeeRates{Regular: dec("10"), Priority: dec("40")}}
	return NewBitcoinEngine(zaptest.NewLogger(t), fees, broadcaster)
}

func TestBitcoinStartRejectsInvalidAddress(t *testing.T) {
	engine := newBitcoinEngine(t, &stubBroadcaster{})
	source := account.NewMemoryAccount("BTC Keys", account.KindNonCustodial, val("1", money.BTC))

	err := engine.Start(source, account.NewCryptoAddress("not-an-address", "", money.BTC))
	require.Error(t, err)

	require.NoError(t, engine.Start(source, account.NewCryptoAddress(btcAddress, "", money.BTC)))
}

func TestBitcoinStartPanicsOnCustodialSource(t *testing.T) {
	engine := newBitcoinEngine(t, &stubBroadcaster{})
	source := account.NewMemoryAccount("BTC Wallet", account.KindCustodial, val("1", money.BTC))
	assert.Panics(t, func() {
		_ = engine.Start(source, account.NewCryptoAddress(btcAddress, "", money.BTC))
	})
}

func TestBitcoinFeeLevels(t *testing.T) {
	ctx := context.Background()
	engine := newBitcoinEngine(t, &stubBroadcaster{})
	source := account.NewMemoryAccount("BTC Keys", account.KindNonCustodial, val("1", money.BTC))
	require.NoError(t, engine.Start(source, account.NewCryptoAddress(btcAddress, "", money.BTC)))

	p, err := engine.InitializeTransaction(ctx)
	require.NoError(t, err)
	// 250 vbytes at 10 sat/vB.
	assert.True(t, p.FeeAmount.Amount.Equal(dec("0.000025")), "fee %s", p.FeeAmount)
	assert.True(t, p.Available.Amount.Equal(dec("0.999975")), "available %s", p.Available)

	p, err = engine.UpdateFeeLevel(ctx, p, txengine.FeeLevelPriority, nil)
	require.NoError(t, err)
	assert.True(t, p.FeeAmount.Amount.Equal(dec("0.0001")), "fee %s", p.FeeAmount)
}

func TestBitcoinValidateAmount(t *testing.T) {
	ctx := context.Background()
	engine := newBitcoinEngine(t, &stubBroadcaster{})
	source := account.NewMemoryAccount("BTC Keys", account.KindNonCustodial, val("0.01", money.BTC))
	require.NoError(t, engine.Start(source, account.NewCryptoAddress(btcAddress, "", money.BTC)))

	p, err := engine.InitializeTransaction(ctx)
	require.NoError(t, err)

	cases := []struct {
		name   string
		amount string
		want   limits.ValidationState
	}{
		{"dust", "0.00000100", limits.ValidationBelowMinimumLimit},
		{"over balance", "0.02", limits.ValidationInsufficientFunds},
		{"valid", "0.005", limits.ValidationCanExecute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			updated, err := engine.Update(ctx, val(tc.amount, money.BTC), p)
			require.NoError(t, err)
			validated, err := engine.ValidateAmount(ctx, updated)
			if tc.want == limits.ValidationCanExecute {
				require.NoError(t, err)
				assert.Equal(t, tc.want, validated.ValidationState)
				return
			}
			var verr *limits.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.want, verr.State)
		})
	}
}

func TestBitcoinExecuteBroadcastsPayment(t *testing.T) {
	ctx := context.Background()
	broadcaster := &stubBroadcaster{}
	engine := newBitcoinEngine(t, broadcaster)
	source := account.NewMemoryAccount("BTC Keys", account.KindNonCustodial, val("1", money.BTC))
	require.NoError(t, engine.Start(source, account.NewCryptoAddress(btcAddress, "", money.BTC)))

	p, err := engine.InitializeTransaction(ctx)
	require.NoError(t, err)
	p, err = engine.Update(ctx, val("0.01", money.BTC), p)
	require.NoError(t, err)

	result, err := engine.Execute(ctx, p, "")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", result.TxHash)
	require.Len(t, broadcaster.payments, 1)
	assert.Equal(t, btcAddress, broadcaster.payments[0].To)
	assert.True(t, broadcaster.payments[0].Amount.Amount.Equal(dec("0.01")))
}

func TestBitcoinRestartSwapsTarget(t *testing.T) {
	ctx := context.Background()
	broadcaster := &stubBroadcaster{}
	engine := newBitcoinEngine(t, broadcaster)
	source := account.NewMemoryAccount("BTC Keys", account.KindNonCustodial, val("1", money.BTC))
	require.NoError(t, engine.Start(source, account.NewCryptoAddress(btcAddress, "", money.BTC)))

	p, err := engine.InitializeTransaction(ctx)
	require.NoError(t, err)

	_, err = engine.Restart(account.NewCryptoAddress("bogus", "", money.BTC), p)
	require.Error(t, err)

	other := "12higDjoCCNXSA95xZMWUdPvXNmkAduhWv"
	p, err = engine.Restart(account.NewCryptoAddress(other, "", money.BTC), p)
	require.NoError(t, err)

	_, err = engine.Execute(ctx, p, "")
	require.NoError(t, err)
	require.Len(t, broadcaster.payments, 1)
	assert.Equal(t, other, broadcaster.payments[0].To)
}

func newEthereumEngine(t *testing.T, broadcaster *stubBroadcaster) *EthereumEngine {
	t.Helper()
	fees := stubFees{rates: FeeRates{Regular: dec("20"), Priority: dec("50")}}
	return NewEthereumEngine(zaptest.NewLogger(t), fees, broadcaster)
}

func TestEthereumAddressValidation(t *testing.T) {
	engine := newEthereumEngine(t, &stubBroadcaster{})
	source := account.NewMemoryAccount("ETH Keys", account.KindNonCustodial, val("2", money.ETH))

	err := engine.Start(source, account.NewCryptoAddress("0x1234", "", money.ETH))
	require.Error(t, err)

	require.NoError(t, engine.Start(source, account.NewCryptoAddress(ethAddress, "", money.ETH)))
}

func TestEthereumGasModel(t *testing.T) {
	ctx := context.Background()
	engine := newEthereumEngine(t, &stubBroadcaster{})
	source := account.NewMemoryAccount("ETH Keys", account.KindNonCustodial, val("2", money.ETH))
	require.NoError(t, engine.Start(source, account.NewCryptoAddress(ethAddress, "", money.ETH)))

	p, err := engine.InitializeTransaction(ctx)
	require.NoError(t, err)
	// 21000 gas at 20 gwei.
	assert.True(t, p.FeeAmount.Amount.Equal(dec("0.00042")), "fee %s", p.FeeAmount)

	p, err = engine.UpdateFeeLevel(ctx, p, txengine.FeeLevelPriority, nil)
	require.NoError(t, err)
	assert.True(t, p.FeeAmount.Amount.Equal(dec("0.00105")), "fee %s", p.FeeAmount)
}

func TestEthereumExecuteBroadcastsPayment(t *testing.T) {
	ctx := context.Background()
	broadcaster := &stubBroadcaster{}
	engine := newEthereumEngine(t, broadcaster)
	source := account.NewMemoryAccount("ETH Keys", account.KindNonCustodial, val("2", money.ETH))
	require.NoError(t, engine.Start(source, account.NewCryptoAddress(ethAddress, "", money.ETH)))

	p, err := engine.InitializeTransaction(ctx)
	require.NoError(t, err)
	p, err = engine.Update(ctx, val("0.5", money.ETH), p)
	require.NoError(t, err)

	result, err := engine.Execute(ctx, p, "")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", result.TxHash)
	require.Len(t, broadcaster.payments, 1)
	assert.Equal(t, ethAddress, broadcaster.payments[0].To)
}
