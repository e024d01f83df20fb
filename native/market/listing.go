package market

import (
	"math"
	"math/big"
)

// CreateListing records a fixed-price or auction listing for an asset the
// caller currently owns. No funds or assets move; the seller grants the market
// account transfer authority separately.
func (e *Engine) CreateListing(caller, assetContract [20]byte, assetID, price *big.Int, isAuction bool, biddingDuration int64) (*Listing, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if assetID == nil || assetID.Sign() < 0 {
		return nil, ErrNotOwner
	}
	if err := e.ensureOwner(caller, assetContract, assetID); err != nil {
		return nil, err
	}
	now := e.now()
	if isAuction && biddingDuration <= 0 {
		return nil, ErrInvalidAuctionDuration
	}
	if biddingDuration < 0 {
		biddingDuration = 0
	}
	if biddingDuration > math.MaxInt64-now {
		return nil, ErrInvalidAuctionDuration
	}

	id, err := e.state.MarketNextListingID()
	if err != nil {
		return nil, err
	}
	listing := &Listing{
		ID:            id,
		AssetContract: assetContract,
		AssetID:       new(big.Int).Set(assetID),
		Seller:        caller,
		Price:         new(big.Int).Set(price),
		CurrentBid:    big.NewInt(0),
		IsAuction:     isAuction,
		EndTime:       now + biddingDuration,
		CreatedAt:     now,
	}
	if isAuction {
		listing.CurrentBid = new(big.Int).Set(price)
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	if err := e.state.MarketSetNextListingID(id + 1); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return listing.Clone(), nil
}

// UpdatePrice changes the price of a live listing. Only the current owner of
// the asset may do so. Zero is accepted; negative amounts are not
// representable and rejected.
func (e *Engine) UpdatePrice(caller [20]byte, id uint64, newPrice *big.Int) error {
	if err := e.mutate(); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if err := e.ensureOwner(caller, listing.AssetContract, listing.AssetID); err != nil {
		return err
	}
	if newPrice == nil || newPrice.Sign() < 0 {
		return ErrInvalidPrice
	}
	previous := listing.Price
	listing.Price = new(big.Int).Set(newPrice)
	if err := e.state.MarketListingPut(listing); err != nil {
		return err
	}
	e.emit(NewPriceUpdatedEvent(listing, previous))
	return nil
}

// RemoveListing deletes a fixed-price listing. The caller must be the seller
// and still own the asset.
func (e *Engine) RemoveListing(caller [20]byte, id uint64) error {
	if err := e.mutate(); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	if err := e.ensureOwner(caller, listing.AssetContract, listing.AssetID); err != nil {
		return err
	}
	if listing.IsAuction {
		return ErrAuctionStillActive
	}
	if err := e.state.MarketListingDelete(id); err != nil {
		return err
	}
	e.emit(NewListingRemovedEvent(listing))
	return nil
}

// Listing returns the stored record. Unknown or deleted ids yield an all-zero
// record; callers check Exists.
func (e *Engine) Listing(id uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok, err := e.state.MarketListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Listing{AssetID: big.NewInt(0), Price: big.NewInt(0), CurrentBid: big.NewInt(0)}, nil
	}
	return listing, nil
}

// Price returns the listing price, or zero for unknown ids.
func (e *Engine) Price(id uint64) (*big.Int, error) {
	listing, err := e.Listing(id)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(listing.Price), nil
}

// CurrentBid returns the running bid, or zero for unknown ids.
func (e *Engine) CurrentBid(id uint64) (*big.Int, error) {
	listing, err := e.Listing(id)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(listing.CurrentBid), nil
}

// NextListingID returns the id the next listing will receive.
func (e *Engine) NextListingID() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.MarketNextListingID()
}

// ActiveListings returns every live listing in id order.
func (e *Engine) ActiveListings() ([]*Listing, error) {
	next, err := e.NextListingID()
	if err != nil {
		return nil, err
	}
	var out []*Listing
	for id := uint64(1); id < next; id++ {
		listing, ok, err := e.state.MarketListingGet(id)
		if err != nil {
			return nil, err
		}
		if ok && listing.Exists() {
			out = append(out, listing)
		}
	}
	return out, nil
}
