package assets

import "math/big"

// Collection describes a contract that issues unique assets.
type Collection struct {
	Address   [20]byte `json:"address"`
	Name      string   `json:"name"`
	Symbol    string   `json:"symbol"`
	Minter    [20]byte `json:"minter"`
	CreatedAt int64    `json:"createdAt"`
}

// Token is a single uniquely identified asset and its current authority.
type Token struct {
	Collection [20]byte `json:"collection"`
	ID         *big.Int `json:"id"`
	Owner      [20]byte `json:"owner"`
	Approved   [20]byte `json:"approved"`
}

// Clone returns a deep copy of the token record.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	clone := *t
	if t.ID != nil {
		clone.ID = new(big.Int).Set(t.ID)
	} else {
		clone.ID = big.NewInt(0)
	}
	return &clone
}
