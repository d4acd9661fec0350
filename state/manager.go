package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"scrollpay/core/types"
	"scrollpay/native/oracle"
	"scrollpay/native/payments"
	"scrollpay/storage"
)

var (
	paymentRecordPrefix   = []byte("payments/record/")
	paymentSeqKey         = []byte("payments/seq")
	merchantBalancePrefix = []byte("payments/balance/")
	withdrawalPrefix      = []byte("payments/withdrawal/")
	subscriptionPrefix    = []byte("payments/sub/")
	subscriptionSeqKey    = []byte("payments/sub/seq")
	accountPrefix         = []byte("bank/account/")
	allowancePrefix       = []byte("bank/allowance/")
	oracleFallbackKey     = []byte("oracle/fallback")
	pausesKey             = []byte("system/pauses")
	genesisKey            = []byte("system/genesis")
)

// Manager provides the typed, RLP-encoded views over the key-value store that
// the ledger engines mutate. Writers coordinate through the engines' call
// locks; the manager itself performs no additional locking.
type Manager struct {
	db storage.Database
}

// NewManager constructs a state manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) kvGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: database not configured")
	}
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) kvPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

func (m *Manager) nextSeq(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.kvGet(key, &current); err != nil {
		return 0, err
	}
	if err := m.kvPut(key, current+1); err != nil {
		return 0, err
	}
	return current, nil
}

func (m *Manager) seqValue(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.kvGet(key, &current); err != nil {
		return 0, err
	}
	return current, nil
}

// --- payments ---

type storedPayment struct {
	ID        uint64
	Merchant  [20]byte
	Client    [20]byte
	Amount    *big.Int
	Timestamp uint64
	Disputed  bool
	Completed bool
}

func paymentKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", paymentRecordPrefix, id))
}

// PaymentPut persists the payment record.
func (m *Manager) PaymentPut(p *payments.Payment) error {
	if p == nil {
		return fmt.Errorf("state: nil payment")
	}
	stored := storedPayment{
		ID:        p.ID,
		Merchant:  p.Merchant,
		Client:    p.Client,
		Amount:    p.Amount,
		Timestamp: uint64(p.Timestamp),
		Disputed:  p.Disputed,
		Completed: p.Completed,
	}
	if stored.Amount == nil {
		stored.Amount = big.NewInt(0)
	}
	return m.kvPut(paymentKey(p.ID), &stored)
}

// PaymentGet loads the payment record for the id.
func (m *Manager) PaymentGet(id uint64) (*payments.Payment, bool, error) {
	var stored storedPayment
	ok, err := m.kvGet(paymentKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &payments.Payment{
		ID:        stored.ID,
		Merchant:  stored.Merchant,
		Client:    stored.Client,
		Amount:    stored.Amount,
		Timestamp: int64(stored.Timestamp),
		Disputed:  stored.Disputed,
		Completed: stored.Completed,
	}, true, nil
}

// NextPaymentID allocates the next monotonically increasing payment id.
func (m *Manager) NextPaymentID() (uint64, error) {
	return m.nextSeq(paymentSeqKey)
}

// PaymentCount reports how many payments have been recorded.
func (m *Manager) PaymentCount() (uint64, error) {
	return m.seqValue(paymentSeqKey)
}

func merchantBalanceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", merchantBalancePrefix, addr))
}

// MerchantBalanceGet loads the merchant's withdrawable credit, zero when
// unset.
func (m *Manager) MerchantBalanceGet(addr [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.kvGet(merchantBalanceKey(addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// MerchantBalancePut stores the merchant's withdrawable credit.
func (m *Manager) MerchantBalancePut(addr [20]byte, balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("state: merchant balance must be non-negative")
	}
	return m.kvPut(merchantBalanceKey(addr), balance)
}

type storedWithdrawal struct {
	Amount      *big.Int
	RequestTime uint64
}

func withdrawalKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", withdrawalPrefix, addr))
}

// WithdrawalGet loads the merchant's pending request, if any.
func (m *Manager) WithdrawalGet(addr [20]byte) (*payments.WithdrawalRequest, bool, error) {
	var stored storedWithdrawal
	ok, err := m.kvGet(withdrawalKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &payments.WithdrawalRequest{
		Amount:      stored.Amount,
		RequestTime: int64(stored.RequestTime),
	}, true, nil
}

// WithdrawalPut stores the merchant's pending request, replacing any prior
// one.
func (m *Manager) WithdrawalPut(addr [20]byte, req *payments.WithdrawalRequest) error {
	if req == nil {
		return fmt.Errorf("state: nil withdrawal request")
	}
	stored := storedWithdrawal{Amount: req.Amount, RequestTime: uint64(req.RequestTime)}
	if stored.Amount == nil {
		stored.Amount = big.NewInt(0)
	}
	return m.kvPut(withdrawalKey(addr), &stored)
}

// WithdrawalDelete removes the merchant's pending request.
func (m *Manager) WithdrawalDelete(addr [20]byte) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	return m.db.Delete(withdrawalKey(addr))
}

type storedSubscription struct {
	ID          uint64
	Merchant    [20]byte
	Subscriber  [20]byte
	Amount      *big.Int
	Interval    uint64
	LastPayment uint64
}

func subscriptionKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", subscriptionPrefix, id))
}

// SubscriptionPut persists the subscription record.
func (m *Manager) SubscriptionPut(s *payments.Subscription) error {
	if s == nil {
		return fmt.Errorf("state: nil subscription")
	}
	stored := storedSubscription{
		ID:          s.ID,
		Merchant:    s.Merchant,
		Subscriber:  s.Subscriber,
		Amount:      s.Amount,
		Interval:    uint64(s.Interval),
		LastPayment: uint64(s.LastPayment),
	}
	if stored.Amount == nil {
		stored.Amount = big.NewInt(0)
	}
	return m.kvPut(subscriptionKey(s.ID), &stored)
}

// SubscriptionGet loads the subscription record for the id.
func (m *Manager) SubscriptionGet(id uint64) (*payments.Subscription, bool, error) {
	var stored storedSubscription
	ok, err := m.kvGet(subscriptionKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &payments.Subscription{
		ID:          stored.ID,
		Merchant:    stored.Merchant,
		Subscriber:  stored.Subscriber,
		Amount:      stored.Amount,
		Interval:    int64(stored.Interval),
		LastPayment: int64(stored.LastPayment),
	}, true, nil
}

// NextSubscriptionID allocates the next monotonically increasing subscription
// id.
func (m *Manager) NextSubscriptionID() (uint64, error) {
	return m.nextSeq(subscriptionSeqKey)
}

// SubscriptionCount reports how many subscriptions have been created.
func (m *Manager) SubscriptionCount() (uint64, error) {
	return m.seqValue(subscriptionSeqKey)
}

// --- bank ---

type storedAccount struct {
	Nonce         uint64
	BalanceNative *big.Int
	BalanceToken  *big.Int
}

func accountKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", accountPrefix, addr))
}

// AccountGet loads the account for the address, returning a zeroed account
// when unset.
func (m *Manager) AccountGet(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.kvGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).Normalize(), nil
	}
	acc := &types.Account{
		Nonce:         stored.Nonce,
		BalanceNative: stored.BalanceNative,
		BalanceToken:  stored.BalanceToken,
	}
	return acc.Normalize(), nil
}

// AccountPut stores the account for the address.
func (m *Manager) AccountPut(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	normalized := account.Clone()
	stored := storedAccount{
		Nonce:         normalized.Nonce,
		BalanceNative: normalized.BalanceNative,
		BalanceToken:  normalized.BalanceToken,
	}
	return m.kvPut(accountKey(addr), &stored)
}

func allowanceKey(owner, spender [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", allowancePrefix, owner, spender))
}

// AllowanceGet loads the delegated spending budget, zero when unset.
func (m *Manager) AllowanceGet(owner, spender [20]byte) (*big.Int, error) {
	allowance := new(big.Int)
	ok, err := m.kvGet(allowanceKey(owner, spender), allowance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// AllowancePut stores the delegated spending budget.
func (m *Manager) AllowancePut(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: allowance must be non-negative")
	}
	return m.kvPut(allowanceKey(owner, spender), amount)
}

// --- oracle ---

type storedFallback struct {
	Price      *big.Int
	LastUpdate uint64
}

// OracleFallbackGet loads the persisted fallback price, if one was ever set.
func (m *Manager) OracleFallbackGet() (*oracle.FallbackPrice, bool, error) {
	var stored storedFallback
	ok, err := m.kvGet(oracleFallbackKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &oracle.FallbackPrice{
		Price:      stored.Price,
		LastUpdate: int64(stored.LastUpdate),
	}, true, nil
}

// OracleFallbackPut persists the fallback price.
func (m *Manager) OracleFallbackPut(fb *oracle.FallbackPrice) error {
	if fb == nil || fb.Price == nil || fb.Price.Sign() <= 0 {
		return fmt.Errorf("state: fallback price must be positive")
	}
	return m.kvPut(oracleFallbackKey, &storedFallback{
		Price:      fb.Price,
		LastUpdate: uint64(fb.LastUpdate),
	})
}

// --- genesis ---

// GenesisApplied reports whether the one-time genesis allocations have been
// seeded into this store.
func (m *Manager) GenesisApplied() (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: database not configured")
	}
	return m.db.Has(genesisKey)
}

// MarkGenesisApplied records that genesis allocations were seeded so a restart
// cannot apply them again.
func (m *Manager) MarkGenesisApplied() error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	return m.db.Put(genesisKey, []byte{1})
}

// --- pauses ---

// IsPaused reports whether the named module's pause toggle is enabled. Errors
// reading the toggle fail closed so a corrupted record cannot silently
// re-enable a paused module.
func (m *Manager) IsPaused(module string) bool {
	if m == nil || m.db == nil {
		return false
	}
	raw, err := m.db.Get(pausesKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false
		}
		return true
	}
	var payload map[string]bool
	if err := json.Unmarshal(raw, &payload); err != nil {
		return true
	}
	return payload[module]
}

// SetPaused flips the named module's pause toggle.
func (m *Manager) SetPaused(module string, paused bool) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	payload := make(map[string]bool)
	if raw, err := m.db.Get(pausesKey); err == nil {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("state: decode pauses: %w", err)
		}
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	payload[module] = paused
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.db.Put(pausesKey, raw)
}
