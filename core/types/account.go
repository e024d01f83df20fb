package types

import "math/big"

// Account holds the balances tracked for an address. NHB is the settlement
// currency for marketplace trades; ZNHB is a fungible token that can be held
// (and stranded) by any account, including the marketplace itself.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceNHB  *big.Int `json:"balanceNHB"`
	BalanceZNHB *big.Int `json:"balanceZNHB"`
}

// EnsureDefaults replaces nil balances with zero values and returns the
// account for chaining.
func (a *Account) EnsureDefaults() *Account {
	if a == nil {
		return &Account{BalanceNHB: big.NewInt(0), BalanceZNHB: big.NewInt(0)}
	}
	if a.BalanceNHB == nil {
		a.BalanceNHB = big.NewInt(0)
	}
	if a.BalanceZNHB == nil {
		a.BalanceZNHB = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.BalanceNHB != nil {
		clone.BalanceNHB = new(big.Int).Set(a.BalanceNHB)
	}
	if a.BalanceZNHB != nil {
		clone.BalanceZNHB = new(big.Int).Set(a.BalanceZNHB)
	}
	return &clone
}
