package market

import (
	"fmt"
	"math/big"

	"nhbmarket/crypto"
)

// Buy settles a listing at its price. The attached payment moves from the
// buyer into the market account, then the asset moves from the seller to the
// buyer, and only then are the seller and royalty account paid. A rejected
// asset transfer therefore aborts the purchase before any payout.
//
// The listing record is left in place; a repeated purchase fails at the asset
// transfer because the seller no longer owns the asset. Any amount above the
// price stays with the market unless overpayment refunds are enabled.
func (e *Engine) Buy(caller [20]byte, id uint64, paid *big.Int) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	sent := cloneBigInt(paid)
	if sent.Sign() < 0 || sent.Cmp(listing.Price) < 0 {
		return ErrInsufficientPayment
	}
	if err := e.currency.Pay(caller, e.marketAddr, sent); err != nil {
		return fmt.Errorf("market: collect payment: %w", err)
	}
	if err := e.transferAsset(listing, caller); err != nil {
		return err
	}
	royalty, err := e.Royalty(listing.AssetContract)
	if err != nil {
		return err
	}
	sellerCut, royaltyCut := royalty.Split(listing.Price)
	if err := e.pay(listing.Seller, sellerCut); err != nil {
		return err
	}
	if err := e.pay(royalty.PayoutAccount, royaltyCut); err != nil {
		return err
	}
	if e.refundOverpayment {
		if err := e.refundIfOver(caller, sent, listing.Price); err != nil {
			return err
		}
	}
	e.emit(NewPurchasedEvent(listing, false, caller, listing.Price, sellerCut, royaltyCut, royalty.PayoutAccount))
	return nil
}

// Withdraw settles an auction whose bidding window has closed. Anyone may
// trigger it. The asset moves to the highest bidder and the escrowed bid is
// paid out once, split between the seller and the royalty account.
func (e *Engine) Withdraw(caller [20]byte, id uint64) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if !listing.IsAuction {
		return ErrNotAuction
	}
	if e.now() < listing.EndTime {
		return ErrAuctionStillActive
	}
	if !listing.HasBidder() {
		return ErrNoWinningBid
	}

	winner := listing.HighestBidder
	bid := cloneBigInt(listing.CurrentBid)
	listing.IsAuction = false
	if err := e.state.MarketListingPut(listing); err != nil {
		return err
	}
	if err := e.transferAsset(listing, winner); err != nil {
		return err
	}
	royalty, err := e.Royalty(listing.AssetContract)
	if err != nil {
		return err
	}
	sellerCut, royaltyCut := royalty.Split(bid)
	if err := e.pay(listing.Seller, sellerCut); err != nil {
		return err
	}
	if err := e.pay(royalty.PayoutAccount, royaltyCut); err != nil {
		return err
	}
	evt := NewPurchasedEvent(listing, true, winner, bid, sellerCut, royaltyCut, royalty.PayoutAccount)
	evt.Attributes["settledBy"] = crypto.FormatAccount(caller)
	e.emit(evt)
	return nil
}

// AuctionCancel withdraws an auction before its end time. Only the current
// owner of the asset may cancel; an escrowed bid is returned to its bidder.
func (e *Engine) AuctionCancel(caller [20]byte, id uint64) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if err := e.ensureOwner(caller, listing.AssetContract, listing.AssetID); err != nil {
		return err
	}
	// Settled auctions and expired fixed-price listings are past their end.
	if e.now() >= listing.EndTime {
		return ErrAuctionAlreadyEnded
	}
	if !listing.IsAuction {
		return ErrNotAuction
	}
	if err := e.state.MarketListingDelete(id); err != nil {
		return err
	}
	refunded := big.NewInt(0)
	if listing.HasBidder() {
		refunded = cloneBigInt(listing.CurrentBid)
		if err := e.pay(listing.HighestBidder, refunded); err != nil {
			return err
		}
	}
	e.emit(NewAuctionCancelledEvent(listing, refunded))
	return nil
}

// refundIfOver returns whatever was sent above price to the caller.
func (e *Engine) refundIfOver(caller [20]byte, sent, price *big.Int) error {
	if sent == nil || price == nil || sent.Cmp(price) < 0 {
		return ErrInsufficientPayment
	}
	excess := new(big.Int).Sub(sent, price)
	return e.pay(caller, excess)
}
