package types

import "math/big"

// Account tracks the balances held by a single address: the native asset used
// to pay for native-denominated payments and the settlement token the ledger
// escrows merchant funds in.
type Account struct {
	Nonce         uint64   `json:"nonce"`
	BalanceNative *big.Int `json:"balanceNative"`
	BalanceToken  *big.Int `json:"balanceToken"`
}

// Normalize replaces nil balance fields with zero values so callers can operate
// on the account without nil checks.
func (a *Account) Normalize() *Account {
	if a == nil {
		return &Account{BalanceNative: big.NewInt(0), BalanceToken: big.NewInt(0)}
	}
	if a.BalanceNative == nil {
		a.BalanceNative = big.NewInt(0)
	}
	if a.BalanceToken == nil {
		a.BalanceToken = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).Normalize()
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceNative != nil {
		clone.BalanceNative = new(big.Int).Set(a.BalanceNative)
	}
	if a.BalanceToken != nil {
		clone.BalanceToken = new(big.Int).Set(a.BalanceToken)
	}
	return clone.Normalize()
}
