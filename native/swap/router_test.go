package swap

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

type memLedger struct {
	tokens map[[20]byte]*big.Int
	native map[[20]byte]*big.Int
}

func newMemLedger() *memLedger {
	return &memLedger{
		tokens: make(map[[20]byte]*big.Int),
		native: make(map[[20]byte]*big.Int),
	}
}

func balance(m map[[20]byte]*big.Int, addr [20]byte) *big.Int {
	if b, ok := m[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func move(m map[[20]byte]*big.Int, from, to [20]byte, amount *big.Int) error {
	fromBal := balance(m, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: insufficient funds")
	}
	m[from] = fromBal.Sub(fromBal, amount)
	m[to] = new(big.Int).Add(balance(m, to), amount)
	return nil
}

func (l *memLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	return move(l.tokens, from, to, amount)
}

func (l *memLedger) TransferNative(from, to [20]byte, amount *big.Int) error {
	return move(l.native, from, to, amount)
}

func (l *memLedger) BalanceOf(addr [20]byte) (*big.Int, error) {
	return balance(l.tokens, addr), nil
}

func (l *memLedger) NativeBalanceOf(addr [20]byte) (*big.Int, error) {
	return balance(l.native, addr), nil
}

// fixedRate quotes 1 token = rate native units in both directions.
type fixedRate struct {
	rate int64
}

func (f fixedRate) NativeToToken(amount *big.Int) (*big.Int, error) {
	return new(big.Int).Quo(amount, big.NewInt(f.rate)), nil
}

func (f fixedRate) TokenToNative(amount *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(amount, big.NewInt(f.rate)), nil
}

var (
	pool      = [20]byte{0: 0xF0}
	payer     = [20]byte{1: 0x11}
	recipient = [20]byte{2: 0x22}
)

func newTestRouter(t *testing.T, feeBps uint64) (*Router, *memLedger) {
	t.Helper()
	ledger := newMemLedger()
	router := NewRouter(ledger, fixedRate{rate: 1000}, pool, feeBps)
	router.SetNowFunc(func() int64 { return 100 })
	return router, ledger
}

func TestSwapNativeForExactTokens(t *testing.T) {
	router, ledger := newTestRouter(t, 30)
	ledger.native[payer] = big.NewInt(2_000_000)
	ledger.tokens[pool] = big.NewInt(5_000)

	consumed, err := router.SwapNativeForExactTokens(payer, recipient, big.NewInt(2_000_000), big.NewInt(1_000), 100)
	require.NoError(t, err)
	// 1000 tokens quote to 1_000_000 native plus a 30 bps fee.
	require.Equal(t, big.NewInt(1_003_000), consumed)

	gotTokens, _ := ledger.BalanceOf(recipient)
	require.Equal(t, big.NewInt(1_000), gotTokens)
	poolNative, _ := ledger.NativeBalanceOf(pool)
	require.Equal(t, consumed, poolNative)
}

func TestQuoteNativeToTokensFitsWithinInput(t *testing.T) {
	router, ledger := newTestRouter(t, 30)
	ledger.native[payer] = big.NewInt(1_003_000)
	ledger.tokens[pool] = big.NewInt(5_000)

	quoted, err := router.QuoteNativeToTokens(big.NewInt(1_003_000))
	require.NoError(t, err)
	// The fee comes off the input before pricing, so the quoted output is
	// purchasable with the budget that produced it.
	require.Equal(t, big.NewInt(999), quoted)

	consumed, err := router.SwapNativeForExactTokens(payer, recipient, big.NewInt(1_003_000), quoted, 100)
	require.NoError(t, err)
	require.True(t, consumed.Cmp(big.NewInt(1_003_000)) <= 0, "consumed %s exceeds budget", consumed)

	_, err = router.QuoteNativeToTokens(big.NewInt(0))
	require.Error(t, err)
}

func TestSwapNativeForExactTokensLimits(t *testing.T) {
	router, ledger := newTestRouter(t, 30)
	ledger.native[payer] = big.NewInt(2_000_000)
	ledger.tokens[pool] = big.NewInt(5_000)

	_, err := router.SwapNativeForExactTokens(payer, recipient, big.NewInt(1_000_000), big.NewInt(1_000), 100)
	require.ErrorIs(t, err, ErrExcessiveInput)

	_, err = router.SwapNativeForExactTokens(payer, recipient, big.NewInt(2_000_000), big.NewInt(1_000), 99)
	require.ErrorIs(t, err, ErrDeadlineExpired)

	_, err = router.SwapNativeForExactTokens(payer, recipient, big.NewInt(2_000_000), big.NewInt(6_000), 100)
	require.ErrorIs(t, err, ErrExcessiveInput)
}

func TestSwapNativeForExactTokensPoolDry(t *testing.T) {
	router, ledger := newTestRouter(t, 0)
	ledger.native[payer] = big.NewInt(10_000_000)
	ledger.tokens[pool] = big.NewInt(500)

	_, err := router.SwapNativeForExactTokens(payer, recipient, big.NewInt(10_000_000), big.NewInt(1_000), 100)
	require.ErrorIs(t, err, ErrInsufficientOutput)

	// No leg may execute when the pool cannot deliver.
	payerNative, _ := ledger.NativeBalanceOf(payer)
	require.Equal(t, big.NewInt(10_000_000), payerNative)
}

func TestSwapExactTokensForNative(t *testing.T) {
	router, ledger := newTestRouter(t, 30)
	ledger.tokens[payer] = big.NewInt(1_000)
	ledger.native[pool] = big.NewInt(2_000_000)

	out, err := router.SwapExactTokensForNative(payer, recipient, big.NewInt(1_000), big.NewInt(900_000), 100)
	require.NoError(t, err)
	// 1000 tokens quote to 1_000_000 native less the 30 bps fee.
	require.Equal(t, big.NewInt(997_000), out)

	gotNative, _ := ledger.NativeBalanceOf(recipient)
	require.Equal(t, out, gotNative)
	poolTokens, _ := ledger.BalanceOf(pool)
	require.Equal(t, big.NewInt(1_000), poolTokens)
}

func TestSwapExactTokensForNativeLimits(t *testing.T) {
	router, ledger := newTestRouter(t, 30)
	ledger.tokens[payer] = big.NewInt(1_000)
	ledger.native[pool] = big.NewInt(2_000_000)

	_, err := router.SwapExactTokensForNative(payer, recipient, big.NewInt(1_000), big.NewInt(998_000), 100)
	require.ErrorIs(t, err, ErrInsufficientOutput)

	ledger.native[pool] = big.NewInt(100)
	_, err = router.SwapExactTokensForNative(payer, recipient, big.NewInt(1_000), nil, 100)
	require.ErrorIs(t, err, ErrInsufficientOutput)
	payerTokens, _ := ledger.BalanceOf(payer)
	require.Equal(t, big.NewInt(1_000), payerTokens)
}
