package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nhbmarket/core/events"
	"nhbmarket/core/genesis"
	"nhbmarket/crypto"
	"nhbmarket/native/assets"
	"nhbmarket/native/bank"
	"nhbmarket/native/common"
	"nhbmarket/native/market"
	"nhbmarket/storage"
)

var (
	ownerAddr   = [20]byte{0xAD}
	sellerAddr  = [20]byte{0x01}
	buyerAddr   = [20]byte{0x02}
	payoutAddr  = [20]byte{0x04}
	collection  = assets.CollectionAddress(sellerAddr, "ART")
	firstToken  = big.NewInt(1)
	secondToken = big.NewInt(2)
)

func testGenesis(t *testing.T) *genesis.GenesisSpec {
	t.Helper()
	doc := fmt.Sprintf(`{
  "alloc": {"%[1]s": {"NHB": "1000"}, "%[2]s": {"NHB": "50"}},
  "collections": [{
    "creator": "%[2]s", "name": "Art", "symbol": "ART",
    "tokens": [{"id": "1", "owner": "%[2]s"}, {"id": "2", "owner": "%[2]s"}],
    "royalty": {"name": "studio", "payout": "%[3]s", "bps": 1000}
  }]
}`, crypto.FormatAccount(buyerAddr), crypto.FormatAccount(sellerAddr), crypto.FormatAccount(payoutAddr))
	spec, err := genesis.ParseGenesisSpec([]byte(doc))
	require.NoError(t, err)
	return spec
}

type testClock struct{ now int64 }

func (c *testClock) Now() time.Time { return time.Unix(c.now, 0) }

func newTestNode(t *testing.T, db storage.Database, pauses common.PauseView) (*Node, *events.Recorder, *testClock) {
	t.Helper()
	if db == nil {
		db = storage.NewMemDB()
	}
	rec := &events.Recorder{}
	clock := &testClock{now: 1_000}
	n, err := NewNode(db, Options{
		Owner:   ownerAddr,
		Pauses:  pauses,
		Genesis: testGenesis(t),
		Clock:   clock.Now,
		Sinks:   []events.Emitter{rec},
	})
	require.NoError(t, err)
	return n, rec, clock
}

func listForSale(t *testing.T, n *Node, token *big.Int, price int64) uint64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, n.SetApprovalForAll(ctx, sellerAddr, collection, n.MarketAddress(), true))
	listing, err := n.CreateListing(ctx, sellerAddr, collection, token, big.NewInt(price), false, 0)
	require.NoError(t, err)
	return listing.ID
}

func requireNHB(t *testing.T, n *Node, addr [20]byte, want int64) {
	t.Helper()
	balances, err := n.Balances(addr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(want), balances.NHB, "balance of %x", addr[:1])
}

func TestNodeFixedPriceSaleWithRoyalty(t *testing.T) {
	n, rec, _ := newTestNode(t, nil, nil)
	id := listForSale(t, n, firstToken, 100)
	require.Equal(t, uint64(1), id)

	require.NoError(t, n.Buy(context.Background(), buyerAddr, id, big.NewInt(100)))

	requireNHB(t, n, buyerAddr, 900)
	requireNHB(t, n, sellerAddr, 140)
	requireNHB(t, n, payoutAddr, 10)
	requireNHB(t, n, n.MarketAddress(), 0)
	token, err := n.Token(collection, firstToken)
	require.NoError(t, err)
	require.Equal(t, buyerAddr, token.Owner)

	purchased := rec.Payloads(market.EventTypeListingPurchased)
	require.Len(t, purchased, 1)
	require.Equal(t, "90", purchased[0].Attributes["sellerProceeds"])
	require.Equal(t, "10", purchased[0].Attributes["royaltyAmount"])

	listings, err := n.ActiveListings()
	require.NoError(t, err)
	require.Len(t, listings, 1)
}

func TestNodeRollsBackRejectedPayout(t *testing.T) {
	n, rec, _ := newTestNode(t, nil, nil)
	id := listForSale(t, n, firstToken, 100)
	n.RegisterPaymentReceiver(sellerAddr, bank.ReceiverFunc(func(string, [20]byte, *big.Int) error {
		return errors.New("contract reverted")
	}))
	before := len(rec.Events)

	err := n.Buy(context.Background(), buyerAddr, id, big.NewInt(100))
	require.Error(t, err)
	require.Contains(t, err.Error(), "contract reverted")

	requireNHB(t, n, buyerAddr, 1000)
	requireNHB(t, n, sellerAddr, 50)
	requireNHB(t, n, n.MarketAddress(), 0)
	token, err := n.Token(collection, firstToken)
	require.NoError(t, err)
	require.Equal(t, sellerAddr, token.Owner)
	require.Len(t, rec.Events, before, "rolled back transactions must not notify")
}

func TestNodeAssetReceiverCanRefuseDelivery(t *testing.T) {
	n, _, _ := newTestNode(t, nil, nil)
	id := listForSale(t, n, firstToken, 100)
	var seen [20]byte
	n.RegisterAssetReceiver(buyerAddr, assets.ReceiverFunc(func(operator, from, coll [20]byte, tokenID *big.Int) error {
		seen = operator
		return errors.New("receiver rejected asset")
	}))

	err := n.Buy(context.Background(), buyerAddr, id, big.NewInt(100))
	require.Error(t, err)
	require.Contains(t, err.Error(), "receiver rejected asset")
	require.Equal(t, n.MarketAddress(), seen)

	requireNHB(t, n, buyerAddr, 1000)
	requireNHB(t, n, sellerAddr, 50)
	token, err := n.Token(collection, firstToken)
	require.NoError(t, err)
	require.Equal(t, sellerAddr, token.Owner)
}

func TestNodeRejectsReentrantSettlementFromHook(t *testing.T) {
	n, _, _ := newTestNode(t, nil, nil)
	first := listForSale(t, n, firstToken, 100)
	second, err := n.CreateListing(context.Background(), sellerAddr, collection, secondToken, big.NewInt(5), false, 0)
	require.NoError(t, err)

	var nested error
	n.RegisterPaymentReceiver(sellerAddr, bank.ReceiverFunc(func(string, [20]byte, *big.Int) error {
		nested = n.Market().Buy(sellerAddr, second.ID, big.NewInt(5))
		return nil
	}))

	require.NoError(t, n.Buy(context.Background(), buyerAddr, first, big.NewInt(100)))
	require.ErrorIs(t, nested, common.ErrReentrantCall)
	token, err := n.Token(collection, secondToken)
	require.NoError(t, err)
	require.Equal(t, sellerAddr, token.Owner)
	requireNHB(t, n, sellerAddr, 140)
}

func TestNodeAppliesGenesisOnce(t *testing.T) {
	db := storage.NewMemDB()
	first, _, _ := newTestNode(t, db, nil)
	requireNHB(t, first, buyerAddr, 1000)

	second, _, _ := newTestNode(t, db, nil)
	requireNHB(t, second, buyerAddr, 1000)
	collections, err := second.Collections()
	require.NoError(t, err)
	require.Len(t, collections, 1)
}

func TestNodePausesModules(t *testing.T) {
	n, _, _ := newTestNode(t, nil, common.StaticPauses{market.ModuleName: true, AssetsModule: true})
	ctx := context.Background()

	royalty, err := n.Royalty(collection)
	require.NoError(t, err)
	require.True(t, royalty.Exists, "genesis runs before pauses apply")

	_, err = n.CreateListing(ctx, sellerAddr, collection, firstToken, big.NewInt(1), false, 0)
	require.ErrorIs(t, err, common.ErrModulePaused)
	_, err = n.CreateCollection(ctx, sellerAddr, "Other", "OTH")
	require.ErrorIs(t, err, common.ErrModulePaused)
	require.NoError(t, n.Transfer(ctx, bank.TokenNHB, buyerAddr, sellerAddr, big.NewInt(1)))
}

func TestNodeAuctionLifecycleUsesLedgerClock(t *testing.T) {
	n, rec, clock := newTestNode(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, n.SetApprovalForAll(ctx, sellerAddr, collection, n.MarketAddress(), true))
	listing, err := n.CreateListing(ctx, sellerAddr, collection, firstToken, big.NewInt(10), true, 60)
	require.NoError(t, err)
	require.Equal(t, int64(1_060), listing.EndTime)

	require.ErrorIs(t, n.Withdraw(ctx, buyerAddr, listing.ID), market.ErrAuctionStillActive)
	require.ErrorIs(t, n.RemoveListing(ctx, sellerAddr, listing.ID), market.ErrAuctionStillActive)

	clock.now = 1_060
	require.ErrorIs(t, n.AuctionCancel(ctx, sellerAddr, listing.ID), market.ErrAuctionAlreadyEnded)
	require.ErrorIs(t, n.Withdraw(ctx, buyerAddr, listing.ID), market.ErrNoWinningBid)
	require.Empty(t, rec.Payloads(market.EventTypeAuctionCancelled))
}

func TestNodeRecoverToken(t *testing.T) {
	n, _, _ := newTestNode(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, n.ledger.Apply(ctx, func() error {
		return n.Bank().Credit(bank.TokenZNHB, n.MarketAddress(), big.NewInt(7))
	}))

	require.ErrorIs(t, n.RecoverToken(ctx, buyerAddr, bank.TokenZNHB, buyerAddr), market.ErrNotContractOwner)
	require.NoError(t, n.RecoverToken(ctx, ownerAddr, bank.TokenZNHB, payoutAddr))
	balances, err := n.Balances(payoutAddr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(7), balances.ZNHB)
}
