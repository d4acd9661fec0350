package payments

import (
	"math/big"
	"time"
)

const (
	// WithdrawalDelay is the mandatory wait between a withdrawal request and
	// its completion.
	WithdrawalDelay = int64(72 * time.Hour / time.Second)
	// DisputeWindow is the time after payment creation during which the
	// client may contest it.
	DisputeWindow = int64(72 * time.Hour / time.Second)
)

// Payment is a single processed payment. Records are created once, mutated
// only by dispute transitions and never deleted. Identifiers are allocated
// monotonically starting at 0.
type Payment struct {
	ID        uint64
	Merchant  [20]byte
	Client    [20]byte
	Amount    *big.Int
	Timestamp int64
	Disputed  bool
	Completed bool
}

// Clone returns a deep copy of the payment so callers can safely mutate the
// copy without affecting the stored instance.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// WithdrawalRequest is the single outstanding delayed withdrawal for a
// merchant. A new request overwrites any prior one; the record is deleted on
// successful completion.
type WithdrawalRequest struct {
	Amount      *big.Int
	RequestTime int64
}

// Clone returns a deep copy of the request.
func (w *WithdrawalRequest) Clone() *WithdrawalRequest {
	if w == nil {
		return nil
	}
	clone := *w
	if w.Amount != nil {
		clone.Amount = new(big.Int).Set(w.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Subscription is a recurring payment agreement. LastPayment advances each
// time a charge succeeds; records are never deleted.
type Subscription struct {
	ID          uint64
	Merchant    [20]byte
	Subscriber  [20]byte
	Amount      *big.Int
	Interval    int64
	LastPayment int64
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Amount != nil {
		clone.Amount = new(big.Int).Set(s.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Due reports whether the subscription should be charged at the supplied
// time.
func (s *Subscription) Due(now int64) bool {
	if s == nil {
		return false
	}
	return now >= s.LastPayment+s.Interval
}
