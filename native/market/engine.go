package market

import (
	"fmt"
	"math/big"
	"time"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/native/common"
)

// ModuleName identifies the marketplace in pause configuration.
const ModuleName = "market"

// SettlementToken is the currency listings are priced and settled in.
const SettlementToken = "NHB"

type engineState interface {
	MarketListingGet(id uint64) (*Listing, bool, error)
	MarketListingPut(listing *Listing) error
	MarketListingDelete(id uint64) error
	MarketNextListingID() (uint64, error)
	MarketSetNextListingID(next uint64) error
	MarketRoyaltyGet(collection [20]byte) (*Royalty, bool, error)
	MarketRoyaltyPut(royalty *Royalty) error
}

// AssetRegistry is the ownership registry of the traded assets.
type AssetRegistry interface {
	OwnerOf(collection [20]byte, id *big.Int) ([20]byte, error)
	TransferFrom(operator, from, to, collection [20]byte, id *big.Int) error
}

// Currency executes value transfers between accounts.
type Currency interface {
	Pay(from, to [20]byte, amount *big.Int) error
	Transfer(token string, from, to [20]byte, amount *big.Int) error
	Balance(token string, addr [20]byte) (*big.Int, error)
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine implements the listing registry, the royalty registry and the escrow
// settlement flows. Funds in flight (attached payments and auction bids) are
// held by the market account until paid out.
type Engine struct {
	state    engineState
	assets   AssetRegistry
	currency Currency
	emitter  events.Emitter
	nowFn    func() int64
	pauses   common.PauseView
	guard    common.ReentrancyGuard

	marketAddr        [20]byte
	owner             [20]byte
	refundOverpayment bool
}

// NewEngine creates a market engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAssets configures the asset ownership registry.
func (e *Engine) SetAssets(registry AssetRegistry) { e.assets = registry }

// SetCurrency configures the value transfer primitive.
func (e *Engine) SetCurrency(currency Currency) { e.currency = currency }

// SetMarketAddress configures the account that escrows payments and bids and
// acts as transfer operator for listed assets.
func (e *Engine) SetMarketAddress(addr [20]byte) { e.marketAddr = addr }

// MarketAddress returns the configured market account.
func (e *Engine) MarketAddress() [20]byte { return e.marketAddr }

// SetOwner configures the administrator allowed to recover stranded tokens.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetPauses wires the module pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetRefundOverpayment toggles returning any amount paid above the listing
// price to the buyer.
func (e *Engine) SetRefundOverpayment(enabled bool) { e.refundOverpayment = enabled }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.assets == nil {
		return errNilAssets
	}
	if e.currency == nil {
		return errNilCurrency
	}
	if e.marketAddr == ([20]byte{}) {
		return errNilMarketAddr
	}
	return nil
}

// mutate runs the shared preconditions of every state-changing entry point.
func (e *Engine) mutate() error {
	if err := e.ready(); err != nil {
		return err
	}
	return common.Guard(e.pauses, ModuleName)
}

// enter additionally acquires the reentrancy guard. The returned release must
// be deferred by the caller.
func (e *Engine) enter() (func(), error) {
	if err := e.mutate(); err != nil {
		return nil, err
	}
	return e.guard.Enter()
}

func (e *Engine) loadListing(id uint64) (*Listing, error) {
	listing, ok, err := e.state.MarketListingGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || !listing.Exists() {
		return nil, ErrListingNotFound
	}
	return listing, nil
}

func (e *Engine) ensureOwner(caller [20]byte, contract [20]byte, assetID *big.Int) error {
	owner, err := e.assets.OwnerOf(contract, assetID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotOwner, err)
	}
	if owner != caller {
		return ErrNotOwner
	}
	return nil
}

func (e *Engine) pay(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := e.currency.Pay(e.marketAddr, to, amount); err != nil {
		return fmt.Errorf("market: payout: %w", err)
	}
	return nil
}

func (e *Engine) transferAsset(l *Listing, to [20]byte) error {
	if err := e.assets.TransferFrom(e.marketAddr, l.Seller, to, l.AssetContract, l.AssetID); err != nil {
		return fmt.Errorf("market: asset transfer: %w", err)
	}
	return nil
}
