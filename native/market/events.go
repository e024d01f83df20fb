package market

import (
	"math/big"
	"strconv"

	"nhbmarket/core/types"
	"nhbmarket/crypto"
)

const (
	EventTypeListingCreated      = "market.listing.created"
	EventTypeListingPurchased    = "market.listing.purchased"
	EventTypeListingPriceUpdated = "market.listing.price_updated"
	EventTypeListingRemoved      = "market.listing.removed"
	EventTypeAuctionCancelled    = "market.auction.cancelled"
	EventTypeRoyaltySet          = "market.royalty.set"
	EventTypeTokenRecovered      = "market.token.recovered"
)

// Values of the saleKind attribute on purchase notifications.
const (
	SaleKindFixed   = "fixed"
	SaleKindAuction = "auction"
)

// EventTypeBidPlaced is part of the notification vocabulary consumed by
// indexers, but no entry point accepts bids so it is never emitted.
const EventTypeBidPlaced = "market.bid.placed"

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func listingAttributes(l *Listing) map[string]string {
	attrs := map[string]string{
		"listingId":     strconv.FormatUint(l.ID, 10),
		"assetContract": crypto.FormatCollection(l.AssetContract),
		"assetId":       amountString(l.AssetID),
		"seller":        crypto.FormatAccount(l.Seller),
		"price":         amountString(l.Price),
		"currentBid":    amountString(l.CurrentBid),
		"isAuction":     strconv.FormatBool(l.IsAuction),
		"endTime":       strconv.FormatInt(l.EndTime, 10),
	}
	if l.HasBidder() {
		attrs["highestBidder"] = crypto.FormatAccount(l.HighestBidder)
	}
	return attrs
}

// NewListingCreatedEvent carries the full listing record.
func NewListingCreatedEvent(l *Listing) *types.Event {
	attrs := listingAttributes(l)
	attrs["createdAt"] = strconv.FormatInt(l.CreatedAt, 10)
	return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
}

// NewPurchasedEvent describes a settled sale. amount is the price for fixed
// price sales and the winning bid for auctions.
func NewPurchasedEvent(l *Listing, auction bool, buyer [20]byte, amount, sellerCut, royaltyCut *big.Int, royaltyAccount [20]byte) *types.Event {
	attrs := listingAttributes(l)
	attrs["saleKind"] = SaleKindFixed
	if auction {
		attrs["saleKind"] = SaleKindAuction
	}
	attrs["buyer"] = crypto.FormatAccount(buyer)
	attrs["amount"] = amountString(amount)
	attrs["sellerProceeds"] = amountString(sellerCut)
	attrs["royaltyAmount"] = amountString(royaltyCut)
	if royaltyCut != nil && royaltyCut.Sign() > 0 {
		attrs["royaltyAccount"] = crypto.FormatAccount(royaltyAccount)
	}
	return &types.Event{Type: EventTypeListingPurchased, Attributes: attrs}
}

func NewPriceUpdatedEvent(l *Listing, oldPrice *big.Int) *types.Event {
	attrs := listingAttributes(l)
	attrs["previousPrice"] = amountString(oldPrice)
	return &types.Event{Type: EventTypeListingPriceUpdated, Attributes: attrs}
}

func NewListingRemovedEvent(l *Listing) *types.Event {
	return &types.Event{Type: EventTypeListingRemoved, Attributes: listingAttributes(l)}
}

// NewAuctionCancelledEvent records the cancellation and any refunded bid.
func NewAuctionCancelledEvent(l *Listing, refunded *big.Int) *types.Event {
	attrs := listingAttributes(l)
	attrs["refunded"] = amountString(refunded)
	return &types.Event{Type: EventTypeAuctionCancelled, Attributes: attrs}
}

func NewRoyaltySetEvent(r *Royalty) *types.Event {
	return &types.Event{
		Type: EventTypeRoyaltySet,
		Attributes: map[string]string{
			"collection":    crypto.FormatCollection(r.Collection),
			"name":          r.Name,
			"payoutAccount": crypto.FormatAccount(r.PayoutAccount),
			"bps":           strconv.FormatUint(uint64(r.Bps), 10),
			"setBy":         crypto.FormatAccount(r.SetBy),
		},
	}
}

func NewTokenRecoveredEvent(token string, to [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTokenRecovered,
		Attributes: map[string]string{
			"token":  token,
			"to":     crypto.FormatAccount(to),
			"amount": amountString(amount),
		},
	}
}
