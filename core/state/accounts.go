package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"nhbmarket/core/types"
)

var accountPrefix = []byte("account:")

type storedAccount struct {
	Nonce       uint64
	BalanceNHB  *big.Int
	BalanceZNHB *big.Int
}

func accountKey(addr []byte) []byte {
	return prefixedKey(accountPrefix, addr)
}

func checkBalance(label string, v *big.Int) error {
	if v.Sign() < 0 {
		return fmt.Errorf("%s balance negative", label)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return fmt.Errorf("%s balance overflow", label)
	}
	return nil
}

// GetAccount returns the balances stored under the provided address. Unknown
// addresses yield a zero-balance account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	var stored storedAccount
	ok, err := m.getRLP(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := (&types.Account{}).EnsureDefaults()
	if !ok {
		return account, nil
	}
	account.Nonce = stored.Nonce
	if stored.BalanceNHB != nil {
		account.BalanceNHB = new(big.Int).Set(stored.BalanceNHB)
	}
	if stored.BalanceZNHB != nil {
		account.BalanceZNHB = new(big.Int).Set(stored.BalanceZNHB)
	}
	return account, nil
}

// PutAccount persists the provided account state under the supplied address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("nil account")
	}
	account.EnsureDefaults()
	if err := checkBalance("NHB", account.BalanceNHB); err != nil {
		return err
	}
	if err := checkBalance("ZNHB", account.BalanceZNHB); err != nil {
		return err
	}
	return m.putRLP(accountKey(addr), &storedAccount{
		Nonce:       account.Nonce,
		BalanceNHB:  new(big.Int).Set(account.BalanceNHB),
		BalanceZNHB: new(big.Int).Set(account.BalanceZNHB),
	})
}
