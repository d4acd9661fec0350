package payments

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"scrollpay/core/events"
	"scrollpay/native/common"
)

// ModuleName identifies the payments module for the global pause switch.
const ModuleName = "payments"

// swapDeadline bounds how long a native payment swap may stay pending.
const swapDeadline = int64(5 * time.Minute / time.Second)

var (
	// ErrInsufficientBalance marks withdrawals or debits exceeding the
	// merchant's ledger balance.
	ErrInsufficientBalance = errors.New("payments: insufficient balance")
	// ErrWithdrawalDelayNotMet marks completion attempts before the delay
	// has elapsed.
	ErrWithdrawalDelayNotMet = errors.New("payments: withdrawal delay not met")
	// ErrNoWithdrawalRequest marks completion attempts with no pending
	// request, including a second completion of an already settled one.
	ErrNoWithdrawalRequest = errors.New("payments: no pending withdrawal request")
	// ErrInvalidPaymentID marks lookups for unknown ids and dispute
	// resolution against payments that are not currently disputed.
	ErrInvalidPaymentID = errors.New("payments: invalid payment id")
	// ErrDisputeWindowClosed marks disputes raised after the window.
	ErrDisputeWindowClosed = errors.New("payments: dispute window closed")
	// ErrPaymentAlreadyDisputed marks repeat disputes, including attempts to
	// re-dispute a payment whose dispute has already been settled.
	ErrPaymentAlreadyDisputed = errors.New("payments: payment already disputed")
	// ErrUnauthorizedWithdrawal marks dispute attempts by anyone but the
	// payment's client. The name mirrors the error kind surfaced by the
	// ledger for all caller mismatches on client-side operations.
	ErrUnauthorizedWithdrawal = errors.New("payments: unauthorized caller")
	// ErrUnauthorizedCaller marks owner-restricted operations invoked by
	// anyone else.
	ErrUnauthorizedCaller = errors.New("payments: owner required")

	errNilState = errors.New("payments engine: state not configured")
	errNilToken = errors.New("payments engine: token ledger not configured")
	errNilSwap  = errors.New("payments engine: swap router not configured")
)

// engineState is the subset of state manager functionality the engine mutates.
// All mappings are exclusively owned by the engine; no other component writes
// them.
type engineState interface {
	PaymentPut(*Payment) error
	PaymentGet(id uint64) (*Payment, bool, error)
	NextPaymentID() (uint64, error)
	MerchantBalanceGet(addr [20]byte) (*big.Int, error)
	MerchantBalancePut(addr [20]byte, balance *big.Int) error
	WithdrawalGet(addr [20]byte) (*WithdrawalRequest, bool, error)
	WithdrawalPut(addr [20]byte, req *WithdrawalRequest) error
	WithdrawalDelete(addr [20]byte) error
	SubscriptionPut(*Subscription) error
	SubscriptionGet(id uint64) (*Subscription, bool, error)
	NextSubscriptionID() (uint64, error)
	SubscriptionCount() (uint64, error)
}

// TokenLedger is the external fungible-token capability. Transfers may fail
// and any failure aborts the enclosing operation.
type TokenLedger interface {
	TransferFrom(owner, spender, to [20]byte, amount *big.Int) error
	Transfer(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
}

// Swapper is the external swap capability used to settle native payments into
// the settlement token. The quote must account for the venue's fee so that a
// subsequent exact-output swap for the quoted amount fits within the input.
type Swapper interface {
	QuoteNativeToTokens(nativeIn *big.Int) (*big.Int, error)
	SwapNativeForExactTokens(payer, recipient [20]byte, maxNativeIn, tokenOut *big.Int, deadline int64) (*big.Int, error)
}

// Engine owns merchant balances, payment records, withdrawal requests and
// subscriptions. Every externally reachable mutating operation holds the call
// lock for its entire duration and executes all-or-nothing: validations and
// external capability calls precede ledger writes.
type Engine struct {
	state   engineState
	token   TokenLedger
	swapper Swapper
	pauses  common.PauseView
	lock    common.CallLock
	owner   [20]byte
	vault   [20]byte
	nowFn   func() int64
	emitter events.Emitter
}

// NewEngine creates a payments engine with a no-op emitter. Callers override
// collaborators via the setters before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken configures the token transfer capability.
func (e *Engine) SetToken(token TokenLedger) { e.token = token }

// SetSwapper configures the swap capability used for native payments.
func (e *Engine) SetSwapper(swapper Swapper) { e.swapper = swapper }

// SetPauses configures the pause switches consulted by payment-creating
// operations.
func (e *Engine) SetPauses(pauses common.PauseView) { e.pauses = pauses }

// SetOwner configures the address allowed to resolve disputes.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetVault configures the module account that escrows settlement tokens
// backing merchant balances.
func (e *Engine) SetVault(vault [20]byte) { e.vault = vault }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) requireCollaborators(needSwap bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	if needSwap && e.swapper == nil {
		return errNilSwap
	}
	return nil
}

// createPayment is the single state-mutating primitive shared by direct
// payments, goods payments and subscription charges. The settlement tokens
// must already sit in the vault when it runs.
func (e *Engine) createPayment(merchant, client [20]byte, amount *big.Int, native bool, orderRef []byte) (*Payment, error) {
	id, err := e.state.NextPaymentID()
	if err != nil {
		return nil, err
	}
	payment := &Payment{
		ID:        id,
		Merchant:  merchant,
		Client:    client,
		Amount:    cloneAmount(amount),
		Timestamp: e.now(),
	}
	if err := e.state.PaymentPut(payment); err != nil {
		return nil, err
	}
	balance, err := e.state.MerchantBalanceGet(merchant)
	if err != nil {
		return nil, err
	}
	if err := e.state.MerchantBalancePut(merchant, new(big.Int).Add(balance, payment.Amount)); err != nil {
		return nil, err
	}
	e.emit(events.PaymentProcessed{
		ID:       payment.ID,
		Merchant: merchant,
		Client:   client,
		Amount:   cloneAmount(payment.Amount),
		Native:   native,
		OrderRef: append([]byte(nil), orderRef...),
	})
	return payment.Clone(), nil
}

// ProcessPayment settles a payment from the client to the merchant. When
// useNative is set the supplied amount is the attached native value: the swap
// venue quotes how many settlement tokens it buys at the resolved price net of
// the pool fee, and exactly that many are swapped into the vault before the
// payment record is created. Otherwise the amount is pulled from the client's
// token allowance.
func (e *Engine) ProcessPayment(client, merchant [20]byte, amount *big.Int, useNative bool) (*Payment, error) {
	if err := e.lock.Acquire(); err != nil {
		return nil, err
	}
	defer e.lock.Release()
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if err := e.requireCollaborators(useNative); err != nil {
		return nil, err
	}
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("payments: amount must be positive")
	}
	if !useNative {
		if err := e.token.TransferFrom(client, e.vault, e.vault, amt); err != nil {
			return nil, err
		}
		return e.createPayment(merchant, client, amt, false, nil)
	}
	tokenOut, err := e.swapper.QuoteNativeToTokens(amt)
	if err != nil {
		return nil, err
	}
	if tokenOut.Sign() <= 0 {
		return nil, fmt.Errorf("payments: native value too small to settle")
	}
	if _, err := e.swapper.SwapNativeForExactTokens(client, e.vault, amt, tokenOut, e.now()+swapDeadline); err != nil {
		return nil, err
	}
	return e.createPayment(merchant, client, tokenOut, true, nil)
}

// PayForGoods settles a token payment tagged with an order reference so
// indexers can reconcile it against an off-ledger order book. It shares the
// payment-creation primitive with ProcessPayment.
func (e *Engine) PayForGoods(client, merchant [20]byte, amount *big.Int, orderRef [32]byte) (*Payment, error) {
	if err := e.lock.Acquire(); err != nil {
		return nil, err
	}
	defer e.lock.Release()
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if err := e.requireCollaborators(false); err != nil {
		return nil, err
	}
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("payments: amount must be positive")
	}
	if err := e.token.TransferFrom(client, e.vault, e.vault, amt); err != nil {
		return nil, err
	}
	return e.createPayment(merchant, client, amt, false, orderRef[:])
}

// RequestWithdrawal queues a delayed withdrawal for the merchant, overwriting
// any prior pending request. The balance is only verified, not reserved; it is
// re-checked at completion.
func (e *Engine) RequestWithdrawal(merchant [20]byte, amount *big.Int) error {
	if err := e.lock.Acquire(); err != nil {
		return err
	}
	defer e.lock.Release()
	if e.state == nil {
		return errNilState
	}
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("payments: amount must be positive")
	}
	balance, err := e.state.MerchantBalanceGet(merchant)
	if err != nil {
		return err
	}
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	now := e.now()
	if err := e.state.WithdrawalPut(merchant, &WithdrawalRequest{Amount: amt, RequestTime: now}); err != nil {
		return err
	}
	e.emit(events.WithdrawalRequested{Merchant: merchant, Amount: cloneAmount(amt), RequestTime: now})
	return nil
}

// CompleteWithdrawal settles the merchant's pending request once the delay has
// elapsed, debiting the balance and transferring tokens out of the vault. The
// request is deleted alongside the debit so a second call finds nothing
// pending.
func (e *Engine) CompleteWithdrawal(merchant [20]byte) error {
	if err := e.lock.Acquire(); err != nil {
		return err
	}
	defer e.lock.Release()
	if err := e.requireCollaborators(false); err != nil {
		return err
	}
	request, ok, err := e.state.WithdrawalGet(merchant)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoWithdrawalRequest
	}
	if e.now() < request.RequestTime+WithdrawalDelay {
		return ErrWithdrawalDelayNotMet
	}
	balance, err := e.state.MerchantBalanceGet(merchant)
	if err != nil {
		return err
	}
	amount := cloneAmount(request.Amount)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.token.Transfer(e.vault, merchant, amount); err != nil {
		return err
	}
	if err := e.state.MerchantBalancePut(merchant, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	if err := e.state.WithdrawalDelete(merchant); err != nil {
		return err
	}
	e.emit(events.WithdrawalCompleted{Merchant: merchant, Amount: cloneAmount(amount)})
	return nil
}

// RaiseDispute flags the payment as disputed. Only the payment's client may
// raise it, exactly once, within the dispute window measured from creation.
func (e *Engine) RaiseDispute(caller [20]byte, paymentID uint64) error {
	if err := e.lock.Acquire(); err != nil {
		return err
	}
	defer e.lock.Release()
	if e.state == nil {
		return errNilState
	}
	payment, ok, err := e.state.PaymentGet(paymentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidPaymentID
	}
	if caller != payment.Client {
		return ErrUnauthorizedWithdrawal
	}
	if e.now() > payment.Timestamp+DisputeWindow {
		return ErrDisputeWindowClosed
	}
	if payment.Disputed || payment.Completed {
		return ErrPaymentAlreadyDisputed
	}
	payment.Disputed = true
	if err := e.state.PaymentPut(payment); err != nil {
		return err
	}
	e.emit(events.DisputeRaised{PaymentID: paymentID, Client: caller})
	return nil
}

// ResolveDispute settles a disputed payment by owner decision. Merchant-favor
// keeps the creation-time credit in place; client-favor claws the credit back
// from the merchant balance and refunds the client from the vault. Either way
// the payment transitions to completed exactly once.
func (e *Engine) ResolveDispute(caller [20]byte, paymentID uint64, merchantFavor bool) error {
	if err := e.lock.Acquire(); err != nil {
		return err
	}
	defer e.lock.Release()
	if err := e.requireCollaborators(false); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrUnauthorizedCaller
	}
	payment, ok, err := e.state.PaymentGet(paymentID)
	if err != nil {
		return err
	}
	if !ok || !payment.Disputed {
		return ErrInvalidPaymentID
	}
	amount := cloneAmount(payment.Amount)
	if !merchantFavor {
		balance, err := e.state.MerchantBalanceGet(payment.Merchant)
		if err != nil {
			return err
		}
		// The merchant may have withdrawn part of the credit since the
		// dispute window outlives the withdrawal delay; claw back what is
		// still held and draw the remainder from the pooled vault.
		debit := amount
		if balance.Cmp(amount) < 0 {
			debit = balance
		}
		if err := e.token.Transfer(e.vault, payment.Client, amount); err != nil {
			return err
		}
		if err := e.state.MerchantBalancePut(payment.Merchant, new(big.Int).Sub(balance, debit)); err != nil {
			return err
		}
	}
	payment.Completed = true
	payment.Disputed = false
	if err := e.state.PaymentPut(payment); err != nil {
		return err
	}
	e.emit(events.DisputeResolved{PaymentID: paymentID, MerchantFavor: merchantFavor, Amount: amount})
	return nil
}

// CreateSubscription registers a recurring payment and immediately charges the
// first cycle by pulling tokens from the subscriber.
func (e *Engine) CreateSubscription(subscriber, merchant [20]byte, amount *big.Int, interval int64) (*Subscription, error) {
	if err := e.lock.Acquire(); err != nil {
		return nil, err
	}
	defer e.lock.Release()
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if err := e.requireCollaborators(false); err != nil {
		return nil, err
	}
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("payments: amount must be positive")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("payments: interval must be positive")
	}
	if err := e.token.TransferFrom(subscriber, e.vault, e.vault, amt); err != nil {
		return nil, err
	}
	payment, err := e.createPayment(merchant, subscriber, amt, false, nil)
	if err != nil {
		return nil, err
	}
	id, err := e.state.NextSubscriptionID()
	if err != nil {
		return nil, err
	}
	now := e.now()
	sub := &Subscription{
		ID:          id,
		Merchant:    merchant,
		Subscriber:  subscriber,
		Amount:      amt,
		Interval:    interval,
		LastPayment: now,
	}
	if err := e.state.SubscriptionPut(sub); err != nil {
		return nil, err
	}
	e.emit(events.SubscriptionCreated{
		ID:         id,
		Merchant:   merchant,
		Subscriber: subscriber,
		Amount:     cloneAmount(amt),
		Interval:   interval,
	})
	e.emit(events.SubscriptionCharged{ID: id, PaymentID: payment.ID, Amount: cloneAmount(amt), ChargedAt: now})
	return sub.Clone(), nil
}

// ProcessSubscriptions walks at most limit subscriptions starting at cursor
// and charges every due, sufficiently funded one, advancing lastPayment. Due
// but underfunded subscriptions are silently skipped and retried on a later
// cycle; an external keeper drives the cursor so each invocation stays
// bounded. The returned cursor wraps to zero once the end is reached.
func (e *Engine) ProcessSubscriptions(cursor uint64, limit int) (uint64, int, error) {
	if err := e.lock.Acquire(); err != nil {
		return cursor, 0, err
	}
	defer e.lock.Release()
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return cursor, 0, err
	}
	if err := e.requireCollaborators(false); err != nil {
		return cursor, 0, err
	}
	if limit <= 0 {
		return cursor, 0, fmt.Errorf("payments: limit must be positive")
	}
	total, err := e.state.SubscriptionCount()
	if err != nil {
		return cursor, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}
	if cursor >= total {
		cursor = 0
	}
	now := e.now()
	charged := 0
	id := cursor
	for visited := 0; visited < limit && id < total; visited++ {
		sub, ok, err := e.state.SubscriptionGet(id)
		if err != nil {
			return id, charged, err
		}
		id++
		if !ok || !sub.Due(now) {
			continue
		}
		balance, err := e.token.BalanceOf(sub.Subscriber)
		if err != nil {
			return id, charged, err
		}
		if balance.Cmp(sub.Amount) < 0 {
			continue
		}
		if err := e.token.TransferFrom(sub.Subscriber, e.vault, e.vault, sub.Amount); err != nil {
			// An exhausted allowance behaves like an underfunded
			// subscriber: skip this cycle, retry on the next.
			continue
		}
		payment, err := e.createPayment(sub.Merchant, sub.Subscriber, sub.Amount, false, nil)
		if err != nil {
			return id, charged, err
		}
		sub.LastPayment = now
		if err := e.state.SubscriptionPut(sub); err != nil {
			return id, charged, err
		}
		charged++
		e.emit(events.SubscriptionCharged{
			ID:        sub.ID,
			PaymentID: payment.ID,
			Amount:    cloneAmount(sub.Amount),
			ChargedAt: now,
		})
	}
	next := id
	if next >= total {
		next = 0
	}
	return next, charged, nil
}

// Payment returns a copy of the stored payment record.
func (e *Engine) Payment(id uint64) (*Payment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	payment, ok, err := e.state.PaymentGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidPaymentID
	}
	return payment.Clone(), nil
}

// MerchantBalance returns the merchant's withdrawable ledger credit.
func (e *Engine) MerchantBalance(merchant [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.MerchantBalanceGet(merchant)
}

// PendingWithdrawal returns the merchant's outstanding request, if any.
func (e *Engine) PendingWithdrawal(merchant [20]byte) (*WithdrawalRequest, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	request, ok, err := e.state.WithdrawalGet(merchant)
	if err != nil || !ok {
		return nil, false, err
	}
	return request.Clone(), true, nil
}

// Subscription returns a copy of the stored subscription record.
func (e *Engine) Subscription(id uint64) (*Subscription, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	sub, ok, err := e.state.SubscriptionGet(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return sub.Clone(), true, nil
}
