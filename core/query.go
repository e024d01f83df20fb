package core

import (
	"math/big"

	"nhbmarket/native/assets"
	"nhbmarket/native/bank"
	"nhbmarket/native/market"
)

// Balances holds the fungible balances of an account.
type Balances struct {
	NHB  *big.Int `json:"nhb"`
	ZNHB *big.Int `json:"znhb"`
}

// Listing returns the stored listing. Unknown ids yield the zero record.
func (n *Node) Listing(id uint64) (*market.Listing, error) {
	var listing *market.Listing
	err := n.view(func() error {
		var err error
		listing, err = n.market.Listing(id)
		return err
	})
	return listing, err
}

// ActiveListings returns every live listing ordered by id.
func (n *Node) ActiveListings() ([]*market.Listing, error) {
	var listings []*market.Listing
	err := n.view(func() error {
		var err error
		listings, err = n.market.ActiveListings()
		return err
	})
	return listings, err
}

// NextListingID returns the id the next listing will receive.
func (n *Node) NextListingID() (uint64, error) {
	var next uint64
	err := n.view(func() error {
		var err error
		next, err = n.market.NextListingID()
		return err
	})
	return next, err
}

// Royalty returns the royalty terms of a collection.
func (n *Node) Royalty(collection [20]byte) (*market.Royalty, error) {
	var royalty *market.Royalty
	err := n.view(func() error {
		var err error
		royalty, err = n.market.Royalty(collection)
		return err
	})
	return royalty, err
}

// Collections lists every registered collection.
func (n *Node) Collections() ([]*assets.Collection, error) {
	var out []*assets.Collection
	err := n.view(func() error {
		var err error
		out, err = n.assets.Collections()
		return err
	})
	return out, err
}

// Collection returns a single collection.
func (n *Node) Collection(addr [20]byte) (*assets.Collection, error) {
	var out *assets.Collection
	err := n.view(func() error {
		var err error
		out, err = n.assets.Collection(addr)
		return err
	})
	return out, err
}

// Token returns a minted token and its current authority.
func (n *Node) Token(collection [20]byte, id *big.Int) (*assets.Token, error) {
	var out *assets.Token
	err := n.view(func() error {
		var err error
		out, err = n.assets.Token(collection, id)
		return err
	})
	return out, err
}

// Balances returns both fungible balances of addr.
func (n *Node) Balances(addr [20]byte) (*Balances, error) {
	out := &Balances{}
	err := n.view(func() error {
		var err error
		if out.NHB, err = n.bank.Balance(bank.TokenNHB, addr); err != nil {
			return err
		}
		out.ZNHB, err = n.bank.Balance(bank.TokenZNHB, addr)
		return err
	})
	return out, err
}

// RoyaltyQuote reports how a sale of amount in collection would be divided.
func (n *Node) RoyaltyQuote(collection [20]byte, amount *big.Int) (sellerCut, royaltyCut *big.Int, payout [20]byte, err error) {
	err = n.view(func() error {
		var viewErr error
		sellerCut, royaltyCut, payout, viewErr = n.market.RoyaltySplit(collection, amount)
		return viewErr
	})
	return sellerCut, royaltyCut, payout, err
}

// MarketApproved reports whether owner has made the market account an
// operator for collection, which every sale and auction settlement needs.
func (n *Node) MarketApproved(collection, owner [20]byte) (bool, error) {
	var approved bool
	err := n.view(func() error {
		var err error
		approved, err = n.assets.IsApprovedForAll(collection, owner, n.market.MarketAddress())
		return err
	})
	return approved, err
}
