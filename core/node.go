package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel/attribute"

	"nhbmarket/core/events"
	"nhbmarket/core/genesis"
	"nhbmarket/core/ledger"
	nhbstate "nhbmarket/core/state"
	"nhbmarket/native/assets"
	"nhbmarket/native/bank"
	"nhbmarket/native/common"
	"nhbmarket/native/market"
	"nhbmarket/observability"
	telemetry "nhbmarket/observability/otel"
	"nhbmarket/storage"
)

// AssetsModule is the pause key guarding asset registry mutations.
const AssetsModule = "assets"

// DefaultMarketAddress is the escrow account used when none is configured.
var DefaultMarketAddress = func() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("nhbmarket/escrow"))[12:])
	return addr
}()

// Options configures a Node.
type Options struct {
	MarketAddress     [20]byte
	Owner             [20]byte
	RefundOverpayment bool
	Pauses            common.PauseView
	Genesis           *genesis.GenesisSpec
	Clock             func() time.Time
	Logger            *slog.Logger
	Sinks             []events.Emitter
}

// Node is the central controller, wiring storage, the ledger and the native
// modules together. Every mutating call runs as one ledger transaction.
type Node struct {
	db      storage.Database
	ledger  *ledger.Ledger
	bank    *bank.Bank
	assets  *assets.Registry
	market  *market.Engine
	pauses  common.PauseView
	fanout  *fanout
	metrics *observability.MarketMetrics
	log     *slog.Logger
}

// NewNode opens the marketplace over db. When opts.Genesis is set and the
// database has not been seeded yet, genesis is applied in its own
// transaction before module pauses take effect.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	marketAddr := opts.MarketAddress
	if marketAddr == ([20]byte{}) {
		marketAddr = DefaultMarketAddress
	}

	metrics := observability.Market()
	out := &fanout{sinks: append([]events.Emitter{metrics}, opts.Sinks...)}
	manager := nhbstate.NewManager(db)
	l := ledger.New(manager, out)
	if opts.Clock != nil {
		l.SetClock(opts.Clock)
	}

	b := bank.New()
	b.SetState(manager)
	b.SetEmitter(l.Emitter())

	registry := assets.NewRegistry()
	registry.SetState(manager)
	registry.SetEmitter(l.Emitter())
	registry.SetNowFunc(l.Now)

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetAssets(registry)
	engine.SetCurrency(b)
	engine.SetMarketAddress(marketAddr)
	engine.SetOwner(opts.Owner)
	engine.SetRefundOverpayment(opts.RefundOverpayment)
	engine.SetNowFunc(l.Now)
	engine.SetEmitter(l.Emitter())

	n := &Node{
		db:      db,
		ledger:  l,
		bank:    b,
		assets:  registry,
		market:  engine,
		fanout:  out,
		metrics: metrics,
		log:     logger,
	}
	if opts.Genesis != nil {
		if err := n.applyGenesis(opts.Genesis); err != nil {
			return nil, err
		}
	}
	pauses := opts.Pauses
	if pauses == nil {
		pauses = common.StaticPauses{}
	}
	n.pauses = pauses
	engine.SetPauses(pauses)
	logger.Info("marketplace node ready", "marketAddress", formatAccount(marketAddr))
	return n, nil
}

func (n *Node) applyGenesis(spec *genesis.GenesisSpec) error {
	var applied bool
	if err := n.ledger.View(func() error {
		var err error
		applied, err = n.ledger.State().GenesisApplied()
		return err
	}); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if applied {
		return nil
	}
	err := n.apply(context.Background(), "genesis", func() error {
		if err := genesis.Apply(spec, n.bank, n.assets, n.market); err != nil {
			return err
		}
		return n.ledger.State().MarkGenesisApplied(n.ledger.Now(), spec.GenesisTimestamp().Unix())
	})
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	n.log.Info("genesis applied", "collections", len(spec.Collections), "accounts", len(spec.Alloc))
	return nil
}

// Subscribe adds a sink that receives every committed event.
func (n *Node) Subscribe(sink events.Emitter) { n.fanout.add(sink) }

// MarketAddress returns the escrow account of the marketplace.
func (n *Node) MarketAddress() [20]byte { return n.market.MarketAddress() }

// Market exposes the engine to receiver hooks. Hooks run inside the active
// transaction and must call the engine directly, never the Node.
func (n *Node) Market() *market.Engine { return n.market }

// Assets exposes the asset registry to receiver hooks.
func (n *Node) Assets() *assets.Registry { return n.assets }

// Bank exposes the currency module to receiver hooks.
func (n *Node) Bank() *bank.Bank { return n.bank }

// RegisterPaymentReceiver installs a contract hook invoked on incoming payments.
func (n *Node) RegisterPaymentReceiver(addr [20]byte, r bank.Receiver) {
	n.bank.RegisterReceiver(addr, r)
}

// RegisterAssetReceiver installs a contract hook invoked on incoming assets.
func (n *Node) RegisterAssetReceiver(addr [20]byte, r assets.Receiver) {
	n.assets.RegisterReceiver(addr, r)
}

// Close rejects further transactions and closes the database.
func (n *Node) Close() {
	n.ledger.Close()
	n.db.Close()
}

func (n *Node) apply(ctx context.Context, op string, fn func() error, attrs ...attribute.KeyValue) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := telemetry.StartSpan(ctx, "market."+op, attrs...)
	start := time.Now()
	err := n.ledger.Apply(ctx, fn)
	n.metrics.ObserveTransaction(op, time.Since(start), err)
	telemetry.EndSpan(span, err)
	if err != nil && !isUserError(err) {
		n.log.Error("transaction failed", "operation", op, "error", err)
	}
	return err
}

func (n *Node) view(fn func() error) error {
	return n.ledger.View(fn)
}

var userErrors = []error{
	market.ErrInvalidPrice,
	market.ErrNotOwner,
	market.ErrNotSeller,
	market.ErrInvalidAuctionDuration,
	market.ErrListingNotFound,
	market.ErrInsufficientPayment,
	market.ErrAuctionAlreadyEnded,
	market.ErrAuctionStillActive,
	market.ErrRoyaltyAlreadySet,
	market.ErrRoyaltyOutOfRange,
	market.ErrZeroPayoutAccount,
	market.ErrNotAuction,
	market.ErrNoWinningBid,
	market.ErrNotContractOwner,
	market.ErrZeroRecipient,
	market.ErrSettlementToken,
	common.ErrModulePaused,
	common.ErrReentrantCall,
	bank.ErrInsufficientBalance,
	bank.ErrInvalidAmount,
	bank.ErrUnsupportedToken,
	assets.ErrCollectionExists,
	assets.ErrCollectionNotFound,
	assets.ErrInvalidCollection,
	assets.ErrNotMinter,
	assets.ErrTokenExists,
	assets.ErrTokenNotFound,
	assets.ErrInvalidTokenID,
	assets.ErrNotTokenOwner,
	assets.ErrNotAuthorized,
	assets.ErrZeroRecipient,
	assets.ErrApproveToOwner,
	assets.ErrOperatorIsCaller,
	context.Canceled,
	context.DeadlineExceeded,
}

func isUserError(err error) bool {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// fanout delivers committed events to a growing set of sinks.
type fanout struct {
	mu    sync.RWMutex
	sinks []events.Emitter
}

func (f *fanout) add(sink events.Emitter) {
	if sink == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink)
}

func (f *fanout) Emit(evt events.Event) {
	f.mu.RLock()
	sinks := events.MultiEmitter(f.sinks)
	f.mu.RUnlock()
	sinks.Emit(evt)
}
