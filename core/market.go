package core

import (
	"context"
	"math/big"

	"go.opentelemetry.io/otel/attribute"

	"nhbmarket/crypto"
	"nhbmarket/native/market"
)

func formatAccount(addr [20]byte) string { return crypto.FormatAccount(addr) }

func listingAttr(id uint64) attribute.KeyValue {
	return attribute.Int64("market.listing_id", int64(id))
}

// CreateListing lists an asset the caller owns. See market.Engine.CreateListing.
func (n *Node) CreateListing(ctx context.Context, caller, assetContract [20]byte, assetID, price *big.Int, isAuction bool, biddingDuration int64) (*market.Listing, error) {
	var listing *market.Listing
	err := n.apply(ctx, "create_listing", func() error {
		var err error
		listing, err = n.market.CreateListing(caller, assetContract, assetID, price, isAuction, biddingDuration)
		return err
	}, attribute.Bool("market.auction", isAuction))
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// UpdatePrice changes the asking price of a listing.
func (n *Node) UpdatePrice(ctx context.Context, caller [20]byte, id uint64, newPrice *big.Int) error {
	return n.apply(ctx, "update_price", func() error {
		return n.market.UpdatePrice(caller, id, newPrice)
	}, listingAttr(id))
}

// RemoveListing deletes a fixed-price listing on behalf of its seller.
func (n *Node) RemoveListing(ctx context.Context, caller [20]byte, id uint64) error {
	return n.apply(ctx, "remove_listing", func() error {
		return n.market.RemoveListing(caller, id)
	}, listingAttr(id))
}

// Buy settles a listing at its price using paid from the caller's balance.
func (n *Node) Buy(ctx context.Context, caller [20]byte, id uint64, paid *big.Int) error {
	return n.apply(ctx, "buy", func() error {
		return n.market.Buy(caller, id, paid)
	}, listingAttr(id))
}

// Withdraw settles an ended auction.
func (n *Node) Withdraw(ctx context.Context, caller [20]byte, id uint64) error {
	return n.apply(ctx, "withdraw", func() error {
		return n.market.Withdraw(caller, id)
	}, listingAttr(id))
}

// AuctionCancel cancels a running auction.
func (n *Node) AuctionCancel(ctx context.Context, caller [20]byte, id uint64) error {
	return n.apply(ctx, "auction_cancel", func() error {
		return n.market.AuctionCancel(caller, id)
	}, listingAttr(id))
}

// SetCollectionRoyalty records the write-once royalty terms of a collection.
func (n *Node) SetCollectionRoyalty(ctx context.Context, caller, collection [20]byte, name string, payout [20]byte, bps uint32) (*market.Royalty, error) {
	var royalty *market.Royalty
	err := n.apply(ctx, "set_royalty", func() error {
		var err error
		royalty, err = n.market.SetCollectionRoyalty(caller, collection, name, payout, bps)
		return err
	}, attribute.Int("market.royalty_bps", int(bps)))
	if err != nil {
		return nil, err
	}
	return royalty, nil
}

// RecoverToken sweeps a stranded fungible token balance out of the market
// account. Only the contract owner may call it.
func (n *Node) RecoverToken(ctx context.Context, caller [20]byte, token string, to [20]byte) error {
	return n.apply(ctx, "recover_token", func() error {
		return n.market.RecoverToken(caller, token, to)
	}, attribute.String("market.token", token))
}
