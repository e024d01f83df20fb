package genesis

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"nhbmarket/native/assets"
	"nhbmarket/native/market"
)

// Credits is the currency surface genesis allocates balances through.
type Credits interface {
	Credit(token string, addr [20]byte, amount *big.Int) error
}

// Collections is the asset registry surface genesis seeds.
type Collections interface {
	CreateCollection(creator [20]byte, name, symbol string) (*assets.Collection, error)
	Mint(caller, collection [20]byte, id *big.Int, to [20]byte) (*assets.Token, error)
}

// Royalties is the market surface genesis records royalties through.
type Royalties interface {
	SetCollectionRoyalty(caller, collection [20]byte, name string, payout [20]byte, bps uint32) (*market.Royalty, error)
}

// Apply writes the genesis contents through the native modules. Callers run
// it inside a single ledger transaction so a failure leaves no partial state.
// Iteration order is fixed so identical specs produce identical state.
func Apply(spec *GenesisSpec, credits Credits, collections Collections, royalties Royalties) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if credits == nil || collections == nil || royalties == nil {
		return fmt.Errorf("genesis: modules must not be nil")
	}

	// 1) Allocations (outer: addresses sorted; inner: symbols sorted)
	allocAddresses := make([]string, 0, len(spec.Alloc))
	for addr := range spec.Alloc {
		allocAddresses = append(allocAddresses, addr)
	}
	sort.Strings(allocAddresses)
	for _, addrStr := range allocAddresses {
		parsed, err := ParseBech32Account(addrStr)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
		balances := spec.Alloc[addrStr]
		symbols := make([]string, 0, len(balances))
		for symbol := range balances {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			amount, err := parseAmountString(balances[symbol])
			if err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", addrStr, symbol, err)
			}
			if err := credits.Credit(strings.ToUpper(symbol), parsed, amount); err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", addrStr, symbol, err)
			}
		}
	}

	// 2) Collections in declaration order, then their tokens and royalty.
	for i := range spec.Collections {
		c := &spec.Collections[i]
		creator := c.creator
		if creator == ([20]byte{}) {
			parsed, err := ParseBech32Account(c.Creator)
			if err != nil {
				return fmt.Errorf("collections[%d].creator: %w", i, err)
			}
			creator = parsed
		}
		collection, err := collections.CreateCollection(creator, c.Name, c.Symbol)
		if err != nil {
			return fmt.Errorf("collections[%d]: %w", i, err)
		}
		for j := range c.Tokens {
			tok := &c.Tokens[j]
			id, owner := tok.id, tok.owner
			if id == nil {
				if id, err = parseAmountString(tok.ID); err != nil {
					return fmt.Errorf("collections[%d].tokens[%d]: %w", i, j, err)
				}
				if owner, err = ParseBech32Account(tok.Owner); err != nil {
					return fmt.Errorf("collections[%d].tokens[%d]: %w", i, j, err)
				}
			}
			if _, err := collections.Mint(creator, collection.Address, id, owner); err != nil {
				return fmt.Errorf("collections[%d].tokens[%d]: %w", i, j, err)
			}
		}
		if r := c.Royalty; r != nil {
			payout := r.payout
			if payout == ([20]byte{}) {
				if payout, err = ParseBech32Account(r.Payout); err != nil {
					return fmt.Errorf("collections[%d].royalty: %w", i, err)
				}
			}
			if _, err := royalties.SetCollectionRoyalty(creator, collection.Address, r.Name, payout, r.Bps); err != nil {
				return fmt.Errorf("collections[%d].royalty: %w", i, err)
			}
		}
	}
	return nil
}
