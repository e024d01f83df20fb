package market

import "errors"

var (
	ErrInvalidPrice           = errors.New("market: price must be positive")
	ErrNotOwner               = errors.New("market: caller does not own the asset")
	ErrNotSeller              = errors.New("market: caller is not the listing seller")
	ErrInvalidAuctionDuration = errors.New("market: auction duration must be positive")
	ErrListingNotFound        = errors.New("market: listing not found")
	ErrInsufficientPayment    = errors.New("market: insufficient payment")
	ErrAuctionAlreadyEnded    = errors.New("market: auction already ended")
	ErrAuctionStillActive     = errors.New("market: auction still active")
	ErrRoyaltyAlreadySet      = errors.New("market: royalty already set")
	ErrRoyaltyOutOfRange      = errors.New("market: royalty bps out of range")
	ErrZeroPayoutAccount      = errors.New("market: royalty payout account is the zero address")

	ErrNotAuction       = errors.New("market: listing is not an open auction")
	ErrNoWinningBid     = errors.New("market: auction has no winning bid")
	ErrNotContractOwner = errors.New("market: caller is not the contract owner")
	ErrZeroRecipient    = errors.New("market: recipient is the zero address")
	ErrSettlementToken  = errors.New("market: settlement currency cannot be recovered")

	errNilState      = errors.New("market engine: state not configured")
	errNilAssets     = errors.New("market engine: asset registry not configured")
	errNilCurrency   = errors.New("market engine: currency not configured")
	errNilMarketAddr = errors.New("market engine: market account not configured")
)
