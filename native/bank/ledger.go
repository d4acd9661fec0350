package bank

import (
	"errors"
	"fmt"
	"math/big"

	"scrollpay/core/types"
)

var (
	// ErrInsufficientFunds marks transfers exceeding the sender balance.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrInsufficientAllowance marks delegated transfers exceeding the
	// approved allowance.
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
)

// Storage abstracts the subset of state manager functionality required by the
// balance ledger.
type Storage interface {
	AccountGet(addr [20]byte) (*types.Account, error)
	AccountPut(addr [20]byte, account *types.Account) error
	AllowanceGet(owner, spender [20]byte) (*big.Int, error)
	AllowancePut(owner, spender [20]byte, amount *big.Int) error
}

// Ledger tracks settlement token and native asset balances per address along
// with delegated spending allowances. It is the in-process stand-in for the
// external fungible-token capability the payment engine consumes.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (l *Ledger) account(addr [20]byte) (*types.Account, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: storage not configured")
	}
	acc, err := l.store.AccountGet(addr)
	if err != nil {
		return nil, err
	}
	return acc.Normalize(), nil
}

// BalanceOf reports the settlement token balance for the address.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	acc, err := l.account(addr)
	if err != nil {
		return nil, err
	}
	return cloneAmount(acc.BalanceToken), nil
}

// NativeBalanceOf reports the native asset balance for the address.
func (l *Ledger) NativeBalanceOf(addr [20]byte) (*big.Int, error) {
	acc, err := l.account(addr)
	if err != nil {
		return nil, err
	}
	return cloneAmount(acc.BalanceNative), nil
}

// Mint credits settlement tokens to the address. Used for genesis allocations
// and tests.
func (l *Ledger) Mint(addr [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("bank: mint amount must be positive")
	}
	acc, err := l.account(addr)
	if err != nil {
		return err
	}
	acc.BalanceToken = new(big.Int).Add(acc.BalanceToken, amt)
	return l.store.AccountPut(addr, acc)
}

// MintNative credits native units to the address.
func (l *Ledger) MintNative(addr [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("bank: mint amount must be positive")
	}
	acc, err := l.account(addr)
	if err != nil {
		return err
	}
	acc.BalanceNative = new(big.Int).Add(acc.BalanceNative, amt)
	return l.store.AccountPut(addr, acc)
}

// Transfer moves settlement tokens between addresses.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	return l.move(from, to, amount, false)
}

// TransferNative moves native units between addresses.
func (l *Ledger) TransferNative(from, to [20]byte, amount *big.Int) error {
	return l.move(from, to, amount, true)
}

func (l *Ledger) move(from, to [20]byte, amount *big.Int, native bool) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("bank: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := l.account(from)
	if err != nil {
		return err
	}
	if native {
		if fromAcc.BalanceNative.Cmp(amt) < 0 {
			return ErrInsufficientFunds
		}
	} else {
		if fromAcc.BalanceToken.Cmp(amt) < 0 {
			return ErrInsufficientFunds
		}
	}
	// A self-transfer must not touch the balance. Loading the account twice
	// would write the credited copy over the debited one.
	if from == to {
		return nil
	}
	toAcc, err := l.account(to)
	if err != nil {
		return err
	}
	if native {
		fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, amt)
		toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, amt)
	} else {
		fromAcc.BalanceToken = new(big.Int).Sub(fromAcc.BalanceToken, amt)
		toAcc.BalanceToken = new(big.Int).Add(toAcc.BalanceToken, amt)
	}
	if err := l.store.AccountPut(from, fromAcc); err != nil {
		return err
	}
	return l.store.AccountPut(to, toAcc)
}

// Approve records the allowance the spender may move out of the owner account.
func (l *Ledger) Approve(owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("bank: storage not configured")
	}
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("bank: negative allowance")
	}
	return l.store.AllowancePut(owner, spender, amt)
}

// Allowance reports the remaining delegated spending budget.
func (l *Ledger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: storage not configured")
	}
	remaining, err := l.store.AllowanceGet(owner, spender)
	if err != nil {
		return nil, err
	}
	return cloneAmount(remaining), nil
}

// TransferFrom moves settlement tokens from the owner to the recipient on
// behalf of the spender, debiting the spender's allowance.
func (l *Ledger) TransferFrom(owner, spender, to [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("bank: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return nil
	}
	remaining, err := l.Allowance(owner, spender)
	if err != nil {
		return err
	}
	if remaining.Cmp(amt) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.move(owner, to, amt, false); err != nil {
		return err
	}
	return l.store.AllowancePut(owner, spender, new(big.Int).Sub(remaining, amt))
}
