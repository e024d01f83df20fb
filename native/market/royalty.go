package market

import "math/big"

// SetCollectionRoyalty records the royalty terms of a collection. Terms are
// write-once: any later call for the same collection fails, whatever its
// arguments.
func (e *Engine) SetCollectionRoyalty(caller, collection [20]byte, name string, payout [20]byte, bps uint32) (*Royalty, error) {
	if err := e.mutate(); err != nil {
		return nil, err
	}
	existing, ok, err := e.state.MarketRoyaltyGet(collection)
	if err != nil {
		return nil, err
	}
	if ok && existing.Exists {
		return nil, ErrRoyaltyAlreadySet
	}
	if bps == 0 || bps > MaxRoyaltyBps {
		return nil, ErrRoyaltyOutOfRange
	}
	if payout == ([20]byte{}) {
		return nil, ErrZeroPayoutAccount
	}
	royalty := &Royalty{
		Collection:    collection,
		Name:          name,
		PayoutAccount: payout,
		Bps:           bps,
		Exists:        true,
		SetBy:         caller,
		SetAt:         e.now(),
	}
	if err := e.state.MarketRoyaltyPut(royalty); err != nil {
		return nil, err
	}
	e.emit(NewRoyaltySetEvent(royalty))
	return royalty.Clone(), nil
}

// Royalty returns the royalty terms of a collection. Collections without terms
// yield a record with Exists false.
func (e *Engine) Royalty(collection [20]byte) (*Royalty, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	royalty, ok, err := e.state.MarketRoyaltyGet(collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Royalty{Collection: collection}, nil
	}
	return royalty, nil
}

// RoyaltySplit divides amount for a sale in collection.
func (e *Engine) RoyaltySplit(collection [20]byte, amount *big.Int) (sellerCut, royaltyCut *big.Int, payout [20]byte, err error) {
	royalty, err := e.Royalty(collection)
	if err != nil {
		return nil, nil, [20]byte{}, err
	}
	sellerCut, royaltyCut = royalty.Split(amount)
	return sellerCut, royaltyCut, royalty.PayoutAccount, nil
}
