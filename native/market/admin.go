package market

import (
	"fmt"
	"strings"
)

// RecoverToken moves the market account's entire balance of a stranded
// fungible token to the given recipient. Restricted to the contract owner.
// The settlement currency backs open bids and purchases and cannot be
// recovered.
func (e *Engine) RecoverToken(caller [20]byte, token string, to [20]byte) error {
	if err := e.mutate(); err != nil {
		return err
	}
	if e.owner == ([20]byte{}) || caller != e.owner {
		return ErrNotContractOwner
	}
	if to == ([20]byte{}) {
		return ErrZeroRecipient
	}
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if normalized == SettlementToken {
		return ErrSettlementToken
	}
	balance, err := e.currency.Balance(normalized, e.marketAddr)
	if err != nil {
		return fmt.Errorf("market: recover: %w", err)
	}
	if err := e.currency.Transfer(normalized, e.marketAddr, to, balance); err != nil {
		return fmt.Errorf("market: recover: %w", err)
	}
	e.emit(NewTokenRecoveredEvent(normalized, to, balance))
	return nil
}
