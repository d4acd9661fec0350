package swap

import (
	"errors"
	"math/big"
	"time"
)

var (
	// ErrDeadlineExpired marks swaps submitted past their deadline.
	ErrDeadlineExpired = errors.New("swap: deadline expired")
	// ErrExcessiveInput marks exact-output swaps whose required input exceeds
	// the caller's maximum.
	ErrExcessiveInput = errors.New("swap: excessive input amount")
	// ErrInsufficientOutput marks exact-input swaps returning less than the
	// caller's minimum.
	ErrInsufficientOutput = errors.New("swap: insufficient output amount")

	errNilBank   = errors.New("swap router: bank ledger not configured")
	errNilOracle = errors.New("swap router: price oracle not configured")
)

const feeDenominator = 10_000

// balanceLedger is the subset of the bank ledger the router moves funds
// through.
type balanceLedger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferNative(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
	NativeBalanceOf(addr [20]byte) (*big.Int, error)
}

// converter prices swaps through the oracle's resolution state machine.
type converter interface {
	NativeToToken(amount *big.Int) (*big.Int, error)
	TokenToNative(amount *big.Int) (*big.Int, error)
}

// Router is an oracle-priced swap venue backed by a funded pool account. It
// stands in for the external automated-market-maker capability: exact-output
// swaps quote the native input at the resolved price plus a fee and any
// failure propagates to the caller with no partial state.
type Router struct {
	bank   balanceLedger
	oracle converter
	pool   [20]byte
	feeBps uint64
	nowFn  func() int64
}

// NewRouter constructs a router trading against the pool account with the
// given fee in basis points.
func NewRouter(bank balanceLedger, oracle converter, pool [20]byte, feeBps uint64) *Router {
	return &Router{
		bank:   bank,
		oracle: oracle,
		pool:   pool,
		feeBps: feeBps,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the deadline clock. Primarily intended for tests.
func (r *Router) SetNowFunc(now func() int64) {
	if r == nil {
		return
	}
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Router) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Router) ready() error {
	if r == nil || r.bank == nil {
		return errNilBank
	}
	if r.oracle == nil {
		return errNilOracle
	}
	return nil
}

func (r *Router) withFee(amount *big.Int) *big.Int {
	gross := new(big.Int).Mul(amount, big.NewInt(feeDenominator+int64(r.feeBps)))
	return gross.Quo(gross, big.NewInt(feeDenominator))
}

func (r *Router) lessFee(amount *big.Int) *big.Int {
	net := new(big.Int).Mul(amount, big.NewInt(feeDenominator-int64(r.feeBps)))
	return net.Quo(net, big.NewInt(feeDenominator))
}

// QuoteNativeToTokens reports how many settlement tokens the given native
// amount buys once the pool fee is taken. The result is sized so that an
// exact-output swap for it never consumes more than nativeIn.
func (r *Router) QuoteNativeToTokens(nativeIn *big.Int) (*big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if nativeIn == nil || nativeIn.Sign() <= 0 {
		return nil, errors.New("swap: native input must be positive")
	}
	return r.oracle.NativeToToken(r.lessFee(nativeIn))
}

// SwapNativeForExactTokens pulls native units from the payer and delivers
// exactly tokenOut settlement tokens to the recipient, returning the native
// amount actually consumed.
func (r *Router) SwapNativeForExactTokens(payer, recipient [20]byte, maxNativeIn, tokenOut *big.Int, deadline int64) (*big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if r.now() > deadline {
		return nil, ErrDeadlineExpired
	}
	if tokenOut == nil || tokenOut.Sign() <= 0 {
		return nil, errors.New("swap: token output must be positive")
	}
	quoted, err := r.oracle.TokenToNative(tokenOut)
	if err != nil {
		return nil, err
	}
	nativeIn := r.withFee(quoted)
	if maxNativeIn == nil || nativeIn.Cmp(maxNativeIn) > 0 {
		return nil, ErrExcessiveInput
	}
	// Verify pool inventory before moving any funds so a failed leg cannot
	// leave a half-executed swap behind.
	reserve, err := r.bank.BalanceOf(r.pool)
	if err != nil {
		return nil, err
	}
	if reserve.Cmp(tokenOut) < 0 {
		return nil, ErrInsufficientOutput
	}
	if err := r.bank.TransferNative(payer, r.pool, nativeIn); err != nil {
		return nil, err
	}
	if err := r.bank.Transfer(r.pool, recipient, tokenOut); err != nil {
		return nil, err
	}
	return nativeIn, nil
}

// SwapExactTokensForNative pulls tokenIn settlement tokens from the payer and
// delivers the oracle-priced native amount, net of fees, to the recipient.
func (r *Router) SwapExactTokensForNative(payer, recipient [20]byte, tokenIn, minNativeOut *big.Int, deadline int64) (*big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if r.now() > deadline {
		return nil, ErrDeadlineExpired
	}
	if tokenIn == nil || tokenIn.Sign() <= 0 {
		return nil, errors.New("swap: token input must be positive")
	}
	quoted, err := r.oracle.TokenToNative(tokenIn)
	if err != nil {
		return nil, err
	}
	nativeOut := r.lessFee(quoted)
	if minNativeOut != nil && nativeOut.Cmp(minNativeOut) < 0 {
		return nil, ErrInsufficientOutput
	}
	reserve, err := r.bank.NativeBalanceOf(r.pool)
	if err != nil {
		return nil, err
	}
	if reserve.Cmp(nativeOut) < 0 {
		return nil, ErrInsufficientOutput
	}
	if err := r.bank.Transfer(payer, r.pool, tokenIn); err != nil {
		return nil, err
	}
	if err := r.bank.TransferNative(r.pool, recipient, nativeOut); err != nil {
		return nil, err
	}
	return nativeOut, nil
}
