package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"nhbmarket/native/bank"
	"nhbmarket/native/market"
)

// GenesisSpec seeds a fresh marketplace: token balances, asset collections
// with their initial owners, and collection royalties.
type GenesisSpec struct {
	GenesisTime string                       `json:"genesisTime"`
	Alloc       map[string]map[string]string `json:"alloc"` // addr -> token -> amount
	Collections []CollectionSpec             `json:"collections"`

	genesisTimestamp time.Time
}

type CollectionSpec struct {
	Creator string       `json:"creator"`
	Name    string       `json:"name"`
	Symbol  string       `json:"symbol"`
	Tokens  []TokenSpec  `json:"tokens,omitempty"`
	Royalty *RoyaltySpec `json:"royalty,omitempty"`

	creator [20]byte
}

type TokenSpec struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`

	id    *big.Int
	owner [20]byte
}

type RoyaltySpec struct {
	Name   string `json:"name"`
	Payout string `json:"payout"`
	Bps    uint32 `json:"bps"`

	payout [20]byte
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a JSON genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	for addr, balances := range s.Alloc {
		if _, err := ParseBech32Account(addr); err != nil {
			return fmt.Errorf("alloc[%q]: %w", addr, err)
		}
		for token, amount := range balances {
			if _, err := bank.NormalizeToken(token); err != nil {
				return fmt.Errorf("alloc[%q]: %w", addr, err)
			}
			if _, err := parseAmountString(amount); err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", addr, token, err)
			}
		}
	}

	seen := make(map[string]struct{}, len(s.Collections))
	for i := range s.Collections {
		c := &s.Collections[i]
		creator, err := ParseBech32Account(c.Creator)
		if err != nil {
			return fmt.Errorf("collections[%d].creator: %w", i, err)
		}
		c.creator = creator
		symbol := strings.ToUpper(strings.TrimSpace(c.Symbol))
		if symbol == "" || strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("collections[%d]: name and symbol required", i)
		}
		key := c.Creator + "/" + symbol
		if _, dup := seen[key]; dup {
			return fmt.Errorf("collections[%d]: duplicate symbol %q for creator", i, symbol)
		}
		seen[key] = struct{}{}

		ids := make(map[string]struct{}, len(c.Tokens))
		for j := range c.Tokens {
			tok := &c.Tokens[j]
			id, err := parseAmountString(tok.ID)
			if err != nil {
				return fmt.Errorf("collections[%d].tokens[%d].id: %w", i, j, err)
			}
			if _, dup := ids[id.String()]; dup {
				return fmt.Errorf("collections[%d].tokens[%d]: duplicate id %s", i, j, id)
			}
			ids[id.String()] = struct{}{}
			owner, err := ParseBech32Account(tok.Owner)
			if err != nil {
				return fmt.Errorf("collections[%d].tokens[%d].owner: %w", i, j, err)
			}
			tok.id = id
			tok.owner = owner
		}

		if r := c.Royalty; r != nil {
			if r.Bps > market.MaxRoyaltyBps {
				return fmt.Errorf("collections[%d].royalty: bps %d exceeds %d", i, r.Bps, market.MaxRoyaltyBps)
			}
			payout, err := ParseBech32Account(r.Payout)
			if err != nil {
				return fmt.Errorf("collections[%d].royalty.payout: %w", i, err)
			}
			r.payout = payout
		}
	}
	return nil
}

func parseGenesisTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("genesisTime: %w", err)
	}
	return ts.UTC(), nil
}

func parseAmountString(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return amount, nil
}
