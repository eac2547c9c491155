package money

// Kind distinguishes fiat from crypto currencies. A handful of
// behaviours branch on it: fiat input is only allowed on engines that
// can transact fiat, and display precision differs.
type Kind int

const (
	KindFiat Kind = iota
	KindCrypto
)

// Currency identifies a currency and its minor-unit precision.
type Currency struct {
	Code      string
	Kind      Kind
	Precision int32
}

// IsFiat reports whether the currency is fiat.
func (c Currency) IsFiat() bool { return c.Kind == KindFiat }

// IsCrypto reports whether the currency is crypto.
func (c Currency) IsCrypto() bool { return c.Kind == KindCrypto }

func (c Currency) String() string { return c.Code }

// Fiat builds a fiat currency with 2 decimal places.
func Fiat(code string) Currency {
	return Currency{Code: code, Kind: KindFiat, Precision: 2}
}

// Crypto builds a crypto currency with the given precision.
func Crypto(code string, precision int32) Currency {
	return Currency{Code: code, Kind: KindCrypto, Precision: precision}
}

// Common currencies used across engines and tests.
var (
	USD = Fiat("USD")
	EUR = Fiat("EUR")
	GBP = Fiat("GBP")

	BTC = Crypto("BTC", 8)
	ETH = Crypto("ETH", 18)
	XLM = Crypto("XLM", 7)
)
