package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"scrollpay/core/events"
)

const (
	// HeartbeatPeriod is the maximum age of a reading considered fresh.
	HeartbeatPeriod = int64(time.Hour / time.Second)
	// GracePeriod is the extra window after heartbeat expiry during which a
	// recent fallback price remains acceptable.
	GracePeriod = int64(time.Hour / time.Second)
	// PricePrecision is the fixed-point precision of resolved prices.
	PricePrecision = 8
	// NativeDecimals is the precision of native asset amounts.
	NativeDecimals = 18
	// TokenDecimals is the precision of settlement token amounts.
	TokenDecimals = 6
)

var (
	// ErrInvalidPriceFeed marks a missing feed at construction or an
	// unreachable feed with no usable fallback.
	ErrInvalidPriceFeed = errors.New("oracle: invalid price feed")
	// ErrStalePriceData marks a reading too old to use with no valid
	// fallback, or an answered round older than the latest round.
	ErrStalePriceData = errors.New("oracle: stale price data")
	// ErrInvalidPrice marks a non-positive answer, a zero reading timestamp
	// or a zero fallback value.
	ErrInvalidPrice = errors.New("oracle: invalid price")
	// ErrUnauthorizedCaller marks owner-restricted operations invoked by
	// anyone else.
	ErrUnauthorizedCaller = errors.New("oracle: unauthorized caller")
)

var (
	priceScale      = new(big.Int).Exp(big.NewInt(10), big.NewInt(PricePrecision), nil)
	conversionScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(NativeDecimals-TokenDecimals), nil)
)

// FallbackPrice holds the owner-set price used when the primary feed is stale
// or unreachable. Price is always positive when set.
type FallbackPrice struct {
	Price      *big.Int
	LastUpdate int64
}

// Clone returns a deep copy of the fallback record.
func (f *FallbackPrice) Clone() *FallbackPrice {
	if f == nil {
		return nil
	}
	clone := &FallbackPrice{LastUpdate: f.LastUpdate}
	if f.Price != nil {
		clone.Price = new(big.Int).Set(f.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return clone
}

// fallbackStore abstracts the subset of state manager functionality required
// to persist the fallback price across restarts.
type fallbackStore interface {
	OracleFallbackGet() (*FallbackPrice, bool, error)
	OracleFallbackPut(*FallbackPrice) error
}

// Oracle resolves the latest price with staleness detection and an
// owner-configurable fallback. Every resolution evaluates the feed fresh; no
// caching is performed.
type Oracle struct {
	mu       sync.RWMutex
	feed     PriceFeed
	store    fallbackStore
	owner    [20]byte
	fallback *FallbackPrice
	nowFn    func() int64
	emitter  events.Emitter
}

// NewOracle constructs an oracle bound to the provided feed. A nil feed is
// rejected up front so resolution never dereferences a missing capability.
func NewOracle(feed PriceFeed) (*Oracle, error) {
	if feed == nil {
		return nil, ErrInvalidPriceFeed
	}
	return &Oracle{
		feed:    feed,
		nowFn:   func() int64 { return time.Now().Unix() },
		emitter: events.NoopEmitter{},
	}, nil
}

// SetState configures the storage backend used to persist the fallback price
// and loads any previously stored value.
func (o *Oracle) SetState(store fallbackStore) error {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.store = store
	if store == nil {
		return nil
	}
	stored, ok, err := store.OracleFallbackGet()
	if err != nil {
		return err
	}
	if ok {
		o.fallback = stored.Clone()
	}
	return nil
}

// SetOwner configures the address allowed to rotate the fallback price.
func (o *Oracle) SetOwner(owner [20]byte) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.owner = owner
	o.mu.Unlock()
}

// SetNowFunc overrides the time source used by the oracle. Primarily intended
// for tests to provide deterministic timestamps.
func (o *Oracle) SetNowFunc(now func() int64) {
	if o == nil {
		return
	}
	o.mu.Lock()
	if now == nil {
		o.nowFn = func() int64 { return time.Now().Unix() }
	} else {
		o.nowFn = now
	}
	o.mu.Unlock()
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (o *Oracle) SetEmitter(emitter events.Emitter) {
	if o == nil {
		return
	}
	o.mu.Lock()
	if emitter == nil {
		o.emitter = events.NoopEmitter{}
	} else {
		o.emitter = emitter
	}
	o.mu.Unlock()
}

func (o *Oracle) now() int64 {
	o.mu.RLock()
	nowFn := o.nowFn
	o.mu.RUnlock()
	if nowFn == nil {
		return time.Now().Unix()
	}
	return nowFn()
}

func (o *Oracle) fallbackSnapshot() *FallbackPrice {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fallback.Clone()
}

// ResolvePrice returns the latest usable price as an 8-decimal fixed point
// value. Resolution order: fresh feed answer, then the fallback price when the
// feed is unreachable or stale within its respective windows, then failure.
func (o *Oracle) ResolvePrice() (*big.Int, error) {
	if o == nil || o.feed == nil {
		return nil, ErrInvalidPriceFeed
	}
	round, err := o.feed.LatestRound()
	now := o.now()
	fallback := o.fallbackSnapshot()
	if err != nil {
		if fallback != nil && now <= fallback.LastUpdate+HeartbeatPeriod {
			return new(big.Int).Set(fallback.Price), nil
		}
		return nil, ErrInvalidPriceFeed
	}
	if now > round.UpdatedAt+HeartbeatPeriod {
		withinGrace := now <= round.UpdatedAt+HeartbeatPeriod+GracePeriod
		fallbackFresh := fallback != nil && fallback.LastUpdate+HeartbeatPeriod >= round.UpdatedAt
		if withinGrace && fallbackFresh {
			return new(big.Int).Set(fallback.Price), nil
		}
		return nil, ErrStalePriceData
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if round.UpdatedAt == 0 {
		return nil, ErrInvalidPrice
	}
	if round.AnsweredInRound < round.RoundID {
		return nil, ErrStalePriceData
	}
	return new(big.Int).Set(round.Answer), nil
}

// NativeToToken converts an 18-decimal native amount into a 6-decimal token
// amount at the resolved price. A zero input short-circuits to zero without
// touching the feed.
func (o *Oracle) NativeToToken(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := o.ResolvePrice()
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(amount, price)
	out.Quo(out, priceScale)
	out.Quo(out, conversionScale)
	return out, nil
}

// TokenToNative converts a 6-decimal token amount into an 18-decimal native
// amount at the resolved price. A zero input short-circuits to zero without
// touching the feed.
func (o *Oracle) TokenToNative(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := o.ResolvePrice()
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(amount, conversionScale)
	out.Mul(out, priceScale)
	out.Quo(out, price)
	return out, nil
}

// UpdateFallbackPrice rotates the owner-set fallback price. Zero and negative
// values are rejected so the fallback always carries a usable price.
func (o *Oracle) UpdateFallbackPrice(caller [20]byte, price *big.Int) error {
	if o == nil {
		return ErrInvalidPriceFeed
	}
	o.mu.Lock()
	if caller != o.owner {
		o.mu.Unlock()
		return ErrUnauthorizedCaller
	}
	if price == nil || price.Sign() <= 0 {
		o.mu.Unlock()
		return ErrInvalidPrice
	}
	now := o.nowFn()
	updated := &FallbackPrice{Price: new(big.Int).Set(price), LastUpdate: now}
	if o.store != nil {
		if err := o.store.OracleFallbackPut(updated); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.fallback = updated
	emitter := o.emitter
	o.mu.Unlock()
	if emitter != nil {
		emitter.Emit(events.OracleFallbackUpdated{Price: new(big.Int).Set(price), UpdatedAt: now})
	}
	return nil
}

// Fallback returns a copy of the current fallback price, if one has been set.
func (o *Oracle) Fallback() (*FallbackPrice, bool) {
	if o == nil {
		return nil, false
	}
	snapshot := o.fallbackSnapshot()
	if snapshot == nil {
		return nil, false
	}
	return snapshot, true
}

// Healthy reports whether the primary feed currently produces a fresh, valid
// reading. It never fails; any feed error or validation violation reports
// false.
func (o *Oracle) Healthy() bool {
	if o == nil || o.feed == nil {
		return false
	}
	round, err := o.feed.LatestRound()
	if err != nil {
		return false
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return false
	}
	if round.UpdatedAt == 0 {
		return false
	}
	return o.now() <= round.UpdatedAt+HeartbeatPeriod
}
