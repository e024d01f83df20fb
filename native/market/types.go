package market

import (
	"fmt"
	"math/big"
)

const (
	// BpsDenominator expresses 100% in basis points.
	BpsDenominator = 10_000
	// MaxRoyaltyBps caps collection royalties at 50%.
	MaxRoyaltyBps uint32 = 5_000
)

// Listing is a recorded offer to sell one uniquely identified asset, either at a
// fixed price or by auction. A listing whose AssetContract is the zero address
// does not exist.
type Listing struct {
	ID            uint64   `json:"id"`
	AssetContract [20]byte `json:"assetContract"`
	AssetID       *big.Int `json:"assetId"`
	Seller        [20]byte `json:"seller"`
	Price         *big.Int `json:"price"`
	CurrentBid    *big.Int `json:"currentBid"`
	IsAuction     bool     `json:"isAuction"`
	EndTime       int64    `json:"endTime"`
	HighestBidder [20]byte `json:"highestBidder"`
	CreatedAt     int64    `json:"createdAt"`
}

// Exists reports whether the record is live. Deleted and never-created ids
// decode to an all-zero record.
func (l *Listing) Exists() bool {
	return l != nil && l.AssetContract != ([20]byte{})
}

// HasBidder reports whether a leading bidder has been recorded.
func (l *Listing) HasBidder() bool {
	return l != nil && l.HighestBidder != ([20]byte{})
}

// Clone returns a deep copy of the listing so callers can mutate it without
// affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.AssetID = cloneBigInt(l.AssetID)
	clone.Price = cloneBigInt(l.Price)
	clone.CurrentBid = cloneBigInt(l.CurrentBid)
	return &clone
}

// SanitizeListing validates the numeric fields of a listing and returns a
// clone with nil amounts replaced by zero.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.AssetID.Sign() < 0 {
		return nil, fmt.Errorf("listing %d: negative asset id", clone.ID)
	}
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("listing %d: negative price", clone.ID)
	}
	if clone.CurrentBid.Sign() < 0 {
		return nil, fmt.Errorf("listing %d: negative current bid", clone.ID)
	}
	if clone.EndTime < 0 || clone.CreatedAt < 0 {
		return nil, fmt.Errorf("listing %d: negative timestamp", clone.ID)
	}
	return clone, nil
}

// Royalty is the write-once royalty configuration of an asset collection.
type Royalty struct {
	Collection    [20]byte `json:"collection"`
	Name          string   `json:"name"`
	PayoutAccount [20]byte `json:"payoutAccount"`
	Bps           uint32   `json:"bps"`
	Exists        bool     `json:"exists"`
	SetBy         [20]byte `json:"setBy"`
	SetAt         int64    `json:"setAt"`
}

// Clone returns a copy of the royalty record.
func (r *Royalty) Clone() *Royalty {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Split divides amount into the seller proceeds and the royalty cut. The cut
// is floor(amount * bps / 10000); a nil or absent record yields no royalty.
func (r *Royalty) Split(amount *big.Int) (sellerCut, royaltyCut *big.Int) {
	total := cloneBigInt(amount)
	if r == nil || !r.Exists || r.Bps == 0 || total.Sign() <= 0 {
		return total, big.NewInt(0)
	}
	royaltyCut = new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(r.Bps)))
	royaltyCut.Div(royaltyCut, big.NewInt(BpsDenominator))
	sellerCut = new(big.Int).Sub(total, royaltyCut)
	return sellerCut, royaltyCut
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
