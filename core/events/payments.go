package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"scrollpay/core/types"
)

const (
	// TypePaymentProcessed is emitted once a payment record has been created
	// and the merchant balance credited.
	TypePaymentProcessed = "payments.processed"
	// TypeWithdrawalRequested is emitted when a merchant queues a withdrawal.
	TypeWithdrawalRequested = "payments.withdrawal_requested"
	// TypeWithdrawalCompleted is emitted when a queued withdrawal settles.
	TypeWithdrawalCompleted = "payments.withdrawal_completed"
	// TypeDisputeRaised is emitted when a client contests a payment.
	TypeDisputeRaised = "payments.dispute_raised"
	// TypeDisputeResolved is emitted when the owner settles a dispute.
	TypeDisputeResolved = "payments.dispute_resolved"
	// TypeSubscriptionCreated is emitted when a recurring payment is set up.
	TypeSubscriptionCreated = "payments.subscription_created"
	// TypeSubscriptionCharged is emitted on every successful recurring charge.
	TypeSubscriptionCharged = "payments.subscription_charged"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// PaymentProcessed captures a newly created payment record. Downstream
// consumers correlate the payment id with merchant settlement.
type PaymentProcessed struct {
	ID       uint64
	Merchant [20]byte
	Client   [20]byte
	Amount   *big.Int
	Native   bool
	OrderRef []byte
}

// EventType satisfies the events.Event interface.
func (PaymentProcessed) EventType() string { return TypePaymentProcessed }

// Event converts the structured payload into a wire-friendly representation.
func (e PaymentProcessed) Event() *types.Event {
	attrs := map[string]string{
		"id":       strconv.FormatUint(e.ID, 10),
		"merchant": hex.EncodeToString(e.Merchant[:]),
		"client":   hex.EncodeToString(e.Client[:]),
		"amount":   amountString(e.Amount),
		"native":   strconv.FormatBool(e.Native),
	}
	if len(e.OrderRef) > 0 {
		attrs["orderRef"] = hex.EncodeToString(e.OrderRef)
	}
	return &types.Event{Type: TypePaymentProcessed, Attributes: attrs}
}

// WithdrawalRequested records a merchant queuing funds for delayed withdrawal.
type WithdrawalRequested struct {
	Merchant    [20]byte
	Amount      *big.Int
	RequestTime int64
}

// EventType satisfies the events.Event interface.
func (WithdrawalRequested) EventType() string { return TypeWithdrawalRequested }

// Event converts the structured payload into a wire-friendly representation.
func (e WithdrawalRequested) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawalRequested, Attributes: map[string]string{
		"merchant":    hex.EncodeToString(e.Merchant[:]),
		"amount":      amountString(e.Amount),
		"requestTime": strconv.FormatInt(e.RequestTime, 10),
	}}
}

// WithdrawalCompleted records a settled withdrawal.
type WithdrawalCompleted struct {
	Merchant [20]byte
	Amount   *big.Int
}

// EventType satisfies the events.Event interface.
func (WithdrawalCompleted) EventType() string { return TypeWithdrawalCompleted }

// Event converts the structured payload into a wire-friendly representation.
func (e WithdrawalCompleted) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawalCompleted, Attributes: map[string]string{
		"merchant": hex.EncodeToString(e.Merchant[:]),
		"amount":   amountString(e.Amount),
	}}
}

// DisputeRaised records a client contesting a payment inside the dispute
// window.
type DisputeRaised struct {
	PaymentID uint64
	Client    [20]byte
}

// EventType satisfies the events.Event interface.
func (DisputeRaised) EventType() string { return TypeDisputeRaised }

// Event converts the structured payload into a wire-friendly representation.
func (e DisputeRaised) Event() *types.Event {
	return &types.Event{Type: TypeDisputeRaised, Attributes: map[string]string{
		"id":     strconv.FormatUint(e.PaymentID, 10),
		"client": hex.EncodeToString(e.Client[:]),
	}}
}

// DisputeResolved records the owner's settlement of a disputed payment.
type DisputeResolved struct {
	PaymentID     uint64
	MerchantFavor bool
	Amount        *big.Int
}

// EventType satisfies the events.Event interface.
func (DisputeResolved) EventType() string { return TypeDisputeResolved }

// Event converts the structured payload into a wire-friendly representation.
func (e DisputeResolved) Event() *types.Event {
	return &types.Event{Type: TypeDisputeResolved, Attributes: map[string]string{
		"id":            strconv.FormatUint(e.PaymentID, 10),
		"merchantFavor": strconv.FormatBool(e.MerchantFavor),
		"amount":        amountString(e.Amount),
	}}
}

// SubscriptionCreated records a new recurring payment agreement.
type SubscriptionCreated struct {
	ID         uint64
	Merchant   [20]byte
	Subscriber [20]byte
	Amount     *big.Int
	Interval   int64
}

// EventType satisfies the events.Event interface.
func (SubscriptionCreated) EventType() string { return TypeSubscriptionCreated }

// Event converts the structured payload into a wire-friendly representation.
func (e SubscriptionCreated) Event() *types.Event {
	return &types.Event{Type: TypeSubscriptionCreated, Attributes: map[string]string{
		"id":         strconv.FormatUint(e.ID, 10),
		"merchant":   hex.EncodeToString(e.Merchant[:]),
		"subscriber": hex.EncodeToString(e.Subscriber[:]),
		"amount":     amountString(e.Amount),
		"interval":   strconv.FormatInt(e.Interval, 10),
	}}
}

// SubscriptionCharged records one successful recurring charge cycle.
type SubscriptionCharged struct {
	ID        uint64
	PaymentID uint64
	Amount    *big.Int
	ChargedAt int64
}

// EventType satisfies the events.Event interface.
func (SubscriptionCharged) EventType() string { return TypeSubscriptionCharged }

// Event converts the structured payload into a wire-friendly representation.
func (e SubscriptionCharged) Event() *types.Event {
	return &types.Event{Type: TypeSubscriptionCharged, Attributes: map[string]string{
		"id":        strconv.FormatUint(e.ID, 10),
		"paymentId": strconv.FormatUint(e.PaymentID, 10),
		"amount":    amountString(e.Amount),
		"chargedAt": strconv.FormatInt(e.ChargedAt, 10),
	}}
}
