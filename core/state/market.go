package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"nhbmarket/native/market"
)

// storedListing mirrors market.Listing with unsigned timestamps, which is all
// RLP can encode.
type storedListing struct {
	ID            uint64
	AssetContract [20]byte
	AssetID       *big.Int
	Seller        [20]byte
	Price         *big.Int
	CurrentBid    *big.Int
	IsAuction     bool
	EndTime       uint64
	HighestBidder [20]byte
	CreatedAt     uint64
}

type storedRoyalty struct {
	Collection    [20]byte
	Name          string
	PayoutAccount [20]byte
	Bps           uint32
	Exists        bool
	SetBy         [20]byte
	SetAt         uint64
}

func listingKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return prefixedKey(marketListingPrefix, buf[:])
}

func royaltyKey(collection [20]byte) []byte {
	return prefixedKey(marketRoyaltyPrefix, collection[:])
}

func toUnix(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// MarketListingGet loads the listing stored under id. The boolean result is
// false when no live listing exists.
func (m *Manager) MarketListingGet(id uint64) (*market.Listing, bool, error) {
	var stored storedListing
	ok, err := m.getRLP(listingKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	listing := &market.Listing{
		ID:            stored.ID,
		AssetContract: stored.AssetContract,
		AssetID:       stored.AssetID,
		Seller:        stored.Seller,
		Price:         stored.Price,
		CurrentBid:    stored.CurrentBid,
		IsAuction:     stored.IsAuction,
		EndTime:       int64(stored.EndTime),
		HighestBidder: stored.HighestBidder,
		CreatedAt:     int64(stored.CreatedAt),
	}
	sanitized, err := market.SanitizeListing(listing)
	if err != nil {
		return nil, false, err
	}
	return sanitized, true, nil
}

// MarketListingPut persists the listing under its identifier.
func (m *Manager) MarketListingPut(listing *market.Listing) error {
	sanitized, err := market.SanitizeListing(listing)
	if err != nil {
		return err
	}
	if sanitized.ID == 0 {
		return fmt.Errorf("market: listing id must be set")
	}
	record := storedListing{
		ID:            sanitized.ID,
		AssetContract: sanitized.AssetContract,
		AssetID:       sanitized.AssetID,
		Seller:        sanitized.Seller,
		Price:         sanitized.Price,
		CurrentBid:    sanitized.CurrentBid,
		IsAuction:     sanitized.IsAuction,
		EndTime:       toUnix(sanitized.EndTime),
		HighestBidder: sanitized.HighestBidder,
		CreatedAt:     toUnix(sanitized.CreatedAt),
	}
	return m.putRLP(listingKey(sanitized.ID), &record)
}

// MarketListingDelete removes the listing stored under id.
func (m *Manager) MarketListingDelete(id uint64) error {
	m.del(listingKey(id))
	return nil
}

// MarketNextListingID returns the identifier the next listing will receive.
// Identifiers start at 1 and are never reused.
func (m *Manager) MarketNextListingID() (uint64, error) {
	var next uint64
	ok, err := m.getRLP(prefixedKey(marketNextListingKey), &next)
	if err != nil {
		return 0, err
	}
	if !ok || next == 0 {
		return 1, nil
	}
	return next, nil
}

// MarketSetNextListingID records the identifier the next listing will receive.
func (m *Manager) MarketSetNextListingID(next uint64) error {
	if next == 0 {
		return fmt.Errorf("market: next listing id must be positive")
	}
	return m.putRLP(prefixedKey(marketNextListingKey), next)
}

// MarketRoyaltyGet loads the royalty configured for the collection.
func (m *Manager) MarketRoyaltyGet(collection [20]byte) (*market.Royalty, bool, error) {
	var stored storedRoyalty
	ok, err := m.getRLP(royaltyKey(collection), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &market.Royalty{
		Collection:    stored.Collection,
		Name:          stored.Name,
		PayoutAccount: stored.PayoutAccount,
		Bps:           stored.Bps,
		Exists:        stored.Exists,
		SetBy:         stored.SetBy,
		SetAt:         int64(stored.SetAt),
	}, true, nil
}

// MarketRoyaltyPut persists the royalty record for its collection.
func (m *Manager) MarketRoyaltyPut(royalty *market.Royalty) error {
	if royalty == nil {
		return fmt.Errorf("market: nil royalty")
	}
	return m.putRLP(royaltyKey(royalty.Collection), &storedRoyalty{
		Collection:    royalty.Collection,
		Name:          royalty.Name,
		PayoutAccount: royalty.PayoutAccount,
		Bps:           royalty.Bps,
		Exists:        royalty.Exists,
		SetBy:         royalty.SetBy,
		SetAt:         toUnix(royalty.SetAt),
	})
}
