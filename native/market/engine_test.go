package market

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"nhbmarket/core/events"
	"nhbmarket/native/common"
)

type mockState struct {
	listings  map[uint64]*Listing
	royalties map[[20]byte]*Royalty
	nextID    uint64
}

func newMockState() *mockState {
	return &mockState{
		listings:  make(map[uint64]*Listing),
		royalties: make(map[[20]byte]*Royalty),
	}
}

func (m *mockState) MarketListingGet(id uint64) (*Listing, bool, error) {
	l, ok := m.listings[id]
	if !ok {
		return nil, false, nil
	}
	return l.Clone(), true, nil
}

func (m *mockState) MarketListingPut(l *Listing) error {
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return err
	}
	m.listings[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) MarketListingDelete(id uint64) error {
	delete(m.listings, id)
	return nil
}

func (m *mockState) MarketNextListingID() (uint64, error) {
	if m.nextID == 0 {
		return 1, nil
	}
	return m.nextID, nil
}

func (m *mockState) MarketSetNextListingID(next uint64) error {
	m.nextID = next
	return nil
}

func (m *mockState) MarketRoyaltyGet(collection [20]byte) (*Royalty, bool, error) {
	r, ok := m.royalties[collection]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (m *mockState) MarketRoyaltyPut(r *Royalty) error {
	m.royalties[r.Collection] = r.Clone()
	return nil
}

var errMockNotOwner = errors.New("mock assets: from is not owner")

type mockAssets struct {
	owners    map[string][20]byte
	operators map[[20]byte]map[[20]byte]bool
	hooks     map[[20]byte]func()
	transfers int
}

func newMockAssets() *mockAssets {
	return &mockAssets{
		owners:    make(map[string][20]byte),
		operators: make(map[[20]byte]map[[20]byte]bool),
		hooks:     make(map[[20]byte]func()),
	}
}

func assetKey(collection [20]byte, id *big.Int) string {
	return fmt.Sprintf("%x/%s", collection, id)
}

func (m *mockAssets) mint(collection [20]byte, id int64, owner [20]byte) {
	m.owners[assetKey(collection, big.NewInt(id))] = owner
}

func (m *mockAssets) approveOperator(owner, operator [20]byte) {
	if m.operators[owner] == nil {
		m.operators[owner] = make(map[[20]byte]bool)
	}
	m.operators[owner][operator] = true
}

func (m *mockAssets) OwnerOf(collection [20]byte, id *big.Int) ([20]byte, error) {
	owner, ok := m.owners[assetKey(collection, id)]
	if !ok {
		return [20]byte{}, errors.New("mock assets: token not found")
	}
	return owner, nil
}

func (m *mockAssets) TransferFrom(operator, from, to, collection [20]byte, id *big.Int) error {
	key := assetKey(collection, id)
	if m.owners[key] != from {
		return errMockNotOwner
	}
	if operator != from && !m.operators[from][operator] {
		return errors.New("mock assets: operator not approved")
	}
	m.owners[key] = to
	m.transfers++
	if hook, ok := m.hooks[to]; ok {
		hook()
	}
	return nil
}

type mockCurrency struct {
	balances map[string]map[[20]byte]*big.Int
	hooks    map[[20]byte]func()
}

func newMockCurrency() *mockCurrency {
	return &mockCurrency{
		balances: map[string]map[[20]byte]*big.Int{"NHB": {}, "ZNHB": {}},
		hooks:    make(map[[20]byte]func()),
	}
}

func (m *mockCurrency) credit(token string, addr [20]byte, amount *big.Int) {
	current := m.balance(token, addr)
	m.balances[token][addr] = new(big.Int).Add(current, amount)
}

func (m *mockCurrency) balance(token string, addr [20]byte) *big.Int {
	if v, ok := m.balances[token][addr]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (m *mockCurrency) Pay(from, to [20]byte, amount *big.Int) error {
	return m.Transfer("NHB", from, to, amount)
}

func (m *mockCurrency) Transfer(token string, from, to [20]byte, amount *big.Int) error {
	if _, ok := m.balances[token]; !ok {
		return fmt.Errorf("mock currency: unknown token %s", token)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if m.balance(token, from).Cmp(amount) < 0 {
		return errors.New("mock currency: insufficient balance")
	}
	m.balances[token][from] = new(big.Int).Sub(m.balance(token, from), amount)
	m.credit(token, to, amount)
	if hook, ok := m.hooks[to]; ok {
		hook()
	}
	return nil
}

func (m *mockCurrency) Balance(token string, addr [20]byte) (*big.Int, error) {
	if _, ok := m.balances[token]; !ok {
		return nil, fmt.Errorf("mock currency: unknown token %s", token)
	}
	return m.balance(token, addr), nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	marketAddr  = newTestAddress(0xEE)
	ownerAddr   = newTestAddress(0xAD)
	sellerAddr  = newTestAddress(0x01)
	buyerAddr   = newTestAddress(0x02)
	bidderAddr  = newTestAddress(0x03)
	royaltyAddr = newTestAddress(0x04)
	collection  = newTestAddress(0xC1)
)

// oneNHB is 1.0 in the smallest unit.
var oneNHB = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func nhb(tenths int64) *big.Int {
	v := new(big.Int).Mul(oneNHB, big.NewInt(tenths))
	return v.Div(v, big.NewInt(10))
}

type testEnv struct {
	engine   *Engine
	state    *mockState
	assets   *mockAssets
	currency *mockCurrency
	events   *events.Recorder
	now      int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		engine:   NewEngine(),
		state:    newMockState(),
		assets:   newMockAssets(),
		currency: newMockCurrency(),
		events:   &events.Recorder{},
		now:      1_700_000_000,
	}
	env.engine.SetState(env.state)
	env.engine.SetAssets(env.assets)
	env.engine.SetCurrency(env.currency)
	env.engine.SetMarketAddress(marketAddr)
	env.engine.SetOwner(ownerAddr)
	env.engine.SetEmitter(env.events)
	env.engine.SetNowFunc(func() int64 { return env.now })

	env.assets.mint(collection, 1, sellerAddr)
	env.assets.approveOperator(sellerAddr, marketAddr)
	return env
}

func (env *testEnv) list(t *testing.T, price *big.Int, auction bool, duration int64) *Listing {
	t.Helper()
	listing, err := env.engine.CreateListing(sellerAddr, collection, big.NewInt(1), price, auction, duration)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return listing
}

// seedBid records a leading bid and escrows its funds in the market account.
func (env *testEnv) seedBid(t *testing.T, id uint64, bidder [20]byte, amount *big.Int) {
	t.Helper()
	listing := env.state.listings[id]
	if listing == nil {
		t.Fatalf("listing %d not found", id)
	}
	listing.HighestBidder = bidder
	listing.CurrentBid = new(big.Int).Set(amount)
	env.currency.credit("NHB", marketAddr, amount)
}

func requireBalance(t *testing.T, env *testEnv, addr [20]byte, want *big.Int) {
	t.Helper()
	if got := env.currency.balance("NHB", addr); got.Cmp(want) != 0 {
		t.Fatalf("balance of %x: got %s want %s", addr[:2], got, want)
	}
}

func TestCreateListingFixedPrice(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, nhb(10), false, 0)

	if listing.ID != 1 {
		t.Fatalf("expected first id 1, got %d", listing.ID)
	}
	if listing.CurrentBid.Sign() != 0 || listing.IsAuction {
		t.Fatalf("fixed price listing must not carry a bid: %+v", listing)
	}
	if listing.Price.Cmp(nhb(10)) != 0 || listing.Seller != sellerAddr {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	next, _ := env.engine.NextListingID()
	if next != 2 {
		t.Fatalf("expected next id 2, got %d", next)
	}
	created := env.events.Payloads(EventTypeListingCreated)
	if len(created) != 1 {
		t.Fatalf("expected one created event, got %d", len(created))
	}
	if created[0].Attributes["listingId"] != "1" || created[0].Attributes["price"] != nhb(10).String() {
		t.Fatalf("unexpected created attributes: %+v", created[0].Attributes)
	}
	if env.assets.transfers != 0 || env.currency.balance("NHB", marketAddr).Sign() != 0 {
		t.Fatalf("listing creation must not move assets or funds")
	}
}

func TestCreateListingAuction(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(500), true, 3600)
	if !listing.IsAuction || listing.CurrentBid.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("auction must start with current bid at price: %+v", listing)
	}
	if listing.EndTime != env.now+3600 {
		t.Fatalf("unexpected end time %d", listing.EndTime)
	}
	if listing.HasBidder() {
		t.Fatalf("new auction must not have a bidder")
	}
}

func TestCreateListingValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.CreateListing(sellerAddr, collection, big.NewInt(1), big.NewInt(0), false, 0); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := env.engine.CreateListing(sellerAddr, collection, big.NewInt(1), big.NewInt(-5), false, 0); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative price, got %v", err)
	}
	if _, err := env.engine.CreateListing(buyerAddr, collection, big.NewInt(1), big.NewInt(10), false, 0); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := env.engine.CreateListing(sellerAddr, collection, big.NewInt(42), big.NewInt(10), false, 0); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for unknown asset, got %v", err)
	}
	if _, err := env.engine.CreateListing(sellerAddr, collection, big.NewInt(1), big.NewInt(10), true, 0); !errors.Is(err, ErrInvalidAuctionDuration) {
		t.Fatalf("expected ErrInvalidAuctionDuration, got %v", err)
	}
	if len(env.state.listings) != 0 {
		t.Fatalf("failed creations must not store listings")
	}
	if next, _ := env.engine.NextListingID(); next != 1 {
		t.Fatalf("failed creations must not consume ids, next=%d", next)
	}
	if len(env.events.Events) != 0 {
		t.Fatalf("failed creations must not emit events")
	}
}

func TestListingIDsAreNeverReused(t *testing.T) {
	env := newTestEnv(t)
	first := env.list(t, big.NewInt(10), false, 0)
	if err := env.engine.RemoveListing(sellerAddr, first.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	second := env.list(t, big.NewInt(10), false, 0)
	if second.ID != first.ID+1 {
		t.Fatalf("expected id %d, got %d", first.ID+1, second.ID)
	}
}

func TestReadsDefaultToZeroForUnknownListings(t *testing.T) {
	env := newTestEnv(t)
	price, err := env.engine.Price(99)
	if err != nil || price.Sign() != 0 {
		t.Fatalf("price: %v %v", price, err)
	}
	bid, err := env.engine.CurrentBid(99)
	if err != nil || bid.Sign() != 0 {
		t.Fatalf("current bid: %v %v", bid, err)
	}
	listing, err := env.engine.Listing(99)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if listing.Exists() {
		t.Fatalf("unknown listing must read as the zero record")
	}
}

func TestUpdatePrice(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), false, 0)

	if err := env.engine.UpdatePrice(sellerAddr, 42, big.NewInt(1)); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	if err := env.engine.UpdatePrice(buyerAddr, listing.ID, big.NewInt(1)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := env.engine.UpdatePrice(sellerAddr, listing.ID, big.NewInt(-1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative price, got %v", err)
	}
	if err := env.engine.UpdatePrice(sellerAddr, listing.ID, big.NewInt(250)); err != nil {
		t.Fatalf("update price: %v", err)
	}
	price, _ := env.engine.Price(listing.ID)
	if price.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected price 250, got %s", price)
	}
	updates := env.events.Payloads(EventTypeListingPriceUpdated)
	if len(updates) != 1 || updates[0].Attributes["previousPrice"] != "100" || updates[0].Attributes["price"] != "250" {
		t.Fatalf("unexpected price update events: %+v", updates)
	}

	// Zero is accepted.
	if err := env.engine.UpdatePrice(sellerAddr, listing.ID, big.NewInt(0)); err != nil {
		t.Fatalf("zero price update: %v", err)
	}

	// Ownership is re-checked at update time, not cached from creation.
	env.assets.mint(collection, 1, buyerAddr)
	if err := env.engine.UpdatePrice(sellerAddr, listing.ID, big.NewInt(5)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner after ownership change, got %v", err)
	}
	if err := env.engine.UpdatePrice(buyerAddr, listing.ID, big.NewInt(5)); err != nil {
		t.Fatalf("new owner update: %v", err)
	}
}

func TestRemoveListing(t *testing.T) {
	env := newTestEnv(t)
	env.assets.mint(collection, 2, sellerAddr)
	fixed := env.list(t, big.NewInt(100), false, 0)
	auction, err := env.engine.CreateListing(sellerAddr, collection, big.NewInt(2), big.NewInt(100), true, 60)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}

	if err := env.engine.RemoveListing(sellerAddr, auction.ID); !errors.Is(err, ErrAuctionStillActive) {
		t.Fatalf("expected ErrAuctionStillActive, got %v", err)
	}
	if err := env.engine.RemoveListing(buyerAddr, fixed.ID); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("expected ErrNotSeller, got %v", err)
	}
	if err := env.engine.RemoveListing(sellerAddr, 77); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}

	env.assets.mint(collection, 1, buyerAddr)
	if err := env.engine.RemoveListing(sellerAddr, fixed.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	env.assets.mint(collection, 1, sellerAddr)

	if err := env.engine.RemoveListing(sellerAddr, fixed.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	listing, _ := env.engine.Listing(fixed.ID)
	if listing.Exists() {
		t.Fatalf("removed listing must be deleted")
	}
	if len(env.events.Payloads(EventTypeListingRemoved)) != 1 {
		t.Fatalf("expected removed event")
	}
}

func TestSetCollectionRoyalty(t *testing.T) {
	env := newTestEnv(t)
	for _, bps := range []uint32{0, MaxRoyaltyBps + 1} {
		if _, err := env.engine.SetCollectionRoyalty(sellerAddr, collection, "Genesis", royaltyAddr, bps); !errors.Is(err, ErrRoyaltyOutOfRange) {
			t.Fatalf("bps %d: expected ErrRoyaltyOutOfRange, got %v", bps, err)
		}
	}
	if _, err := env.engine.SetCollectionRoyalty(sellerAddr, collection, "Genesis", [20]byte{}, 100); !errors.Is(err, ErrZeroPayoutAccount) {
		t.Fatalf("expected ErrZeroPayoutAccount, got %v", err)
	}
	royalty, err := env.engine.SetCollectionRoyalty(sellerAddr, collection, "Genesis", royaltyAddr, MaxRoyaltyBps)
	if err != nil {
		t.Fatalf("set royalty: %v", err)
	}
	if !royalty.Exists || royalty.Bps != MaxRoyaltyBps || royalty.SetAt != env.now {
		t.Fatalf("unexpected royalty: %+v", royalty)
	}

	// Write-once: any second call fails regardless of its arguments.
	attempts := []struct {
		payout [20]byte
		bps    uint32
	}{
		{royaltyAddr, 100},
		{royaltyAddr, 0},
		{[20]byte{}, 100},
		{buyerAddr, 9_999},
	}
	for _, attempt := range attempts {
		if _, err := env.engine.SetCollectionRoyalty(buyerAddr, collection, "Other", attempt.payout, attempt.bps); !errors.Is(err, ErrRoyaltyAlreadySet) {
			t.Fatalf("expected ErrRoyaltyAlreadySet for %+v, got %v", attempt, err)
		}
	}
	stored, _ := env.engine.Royalty(collection)
	if stored.Bps != MaxRoyaltyBps || stored.PayoutAccount != royaltyAddr || stored.Name != "Genesis" {
		t.Fatalf("royalty must be immutable: %+v", stored)
	}
	if len(env.events.Payloads(EventTypeRoyaltySet)) != 1 {
		t.Fatalf("expected one royalty event")
	}
}

func TestBuyWithoutRoyaltyPaysSellerInFull(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, nhb(10), false, 0)
	env.currency.credit("NHB", buyerAddr, nhb(10))

	if err := env.engine.Buy(buyerAddr, listing.ID, nhb(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	requireBalance(t, env, sellerAddr, nhb(10))
	requireBalance(t, env, buyerAddr, big.NewInt(0))
	requireBalance(t, env, marketAddr, big.NewInt(0))
	if owner, _ := env.assets.OwnerOf(collection, big.NewInt(1)); owner != buyerAddr {
		t.Fatalf("asset must move to buyer")
	}
	purchases := env.events.Payloads(EventTypeListingPurchased)
	if len(purchases) != 1 {
		t.Fatalf("expected one purchase event, got %d", len(purchases))
	}
	if purchases[0].Attributes["price"] != nhb(10).String() || purchases[0].Attributes["royaltyAmount"] != "0" {
		t.Fatalf("unexpected purchase attributes: %+v", purchases[0].Attributes)
	}
	if stored, _ := env.engine.Listing(listing.ID); !stored.Exists() {
		t.Fatalf("purchased listing record persists")
	}
}

func TestBuyWithRoyaltySplitsProceeds(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.SetCollectionRoyalty(sellerAddr, collection, "Genesis", royaltyAddr, 1_000); err != nil {
		t.Fatalf("set royalty: %v", err)
	}
	listing := env.list(t, nhb(20), false, 0)
	env.currency.credit("NHB", buyerAddr, nhb(20))

	if err := env.engine.Buy(buyerAddr, listing.ID, nhb(20)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	requireBalance(t, env, sellerAddr, nhb(18))
	requireBalance(t, env, royaltyAddr, nhb(2))
	requireBalance(t, env, marketAddr, big.NewInt(0))
}

func TestRoyaltySplitRoundsDown(t *testing.T) {
	cases := []struct {
		price int64
		bps   uint32
	}{
		{999, 333},
		{1, 5_000},
		{10_001, 1},
		{123_456_789, 4_999},
	}
	for _, tc := range cases {
		r := &Royalty{Exists: true, Bps: tc.bps}
		price := big.NewInt(tc.price)
		sellerCut, royaltyCut := r.Split(price)
		want := tc.price * int64(tc.bps) / BpsDenominator
		if royaltyCut.Int64() != want {
			t.Fatalf("price %d bps %d: royalty %s want %d", tc.price, tc.bps, royaltyCut, want)
		}
		if new(big.Int).Add(sellerCut, royaltyCut).Cmp(price) != 0 {
			t.Fatalf("price %d bps %d: seller %s + royalty %s != price", tc.price, tc.bps, sellerCut, royaltyCut)
		}
	}
}

func TestBuyPreconditions(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), false, 0)
	env.currency.credit("NHB", buyerAddr, big.NewInt(1_000))

	if err := env.engine.Buy(buyerAddr, 5, big.NewInt(100)); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	if err := env.engine.Buy(buyerAddr, listing.ID, big.NewInt(99)); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if err := env.engine.Buy(buyerAddr, listing.ID, nil); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment for missing value, got %v", err)
	}
	requireBalance(t, env, buyerAddr, big.NewInt(1_000))
	if env.assets.transfers != 0 {
		t.Fatalf("no asset may move on failed preconditions")
	}
}

func TestBuyKeepsOverpaymentByDefault(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), false, 0)
	env.currency.credit("NHB", buyerAddr, big.NewInt(150))

	if err := env.engine.Buy(buyerAddr, listing.ID, big.NewInt(150)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	requireBalance(t, env, sellerAddr, big.NewInt(100))
	requireBalance(t, env, marketAddr, big.NewInt(50))
	requireBalance(t, env, buyerAddr, big.NewInt(0))
}

func TestBuyRefundsOverpaymentWhenEnabled(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetRefundOverpayment(true)
	listing := env.list(t, big.NewInt(100), false, 0)
	env.currency.credit("NHB", buyerAddr, big.NewInt(150))

	if err := env.engine.Buy(buyerAddr, listing.ID, big.NewInt(150)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	requireBalance(t, env, sellerAddr, big.NewInt(100))
	requireBalance(t, env, marketAddr, big.NewInt(0))
	requireBalance(t, env, buyerAddr, big.NewInt(50))
}

func TestRefundIfOver(t *testing.T) {
	env := newTestEnv(t)
	env.currency.credit("NHB", marketAddr, big.NewInt(30))
	if err := env.engine.refundIfOver(buyerAddr, big.NewInt(9), big.NewInt(10)); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if err := env.engine.refundIfOver(buyerAddr, big.NewInt(40), big.NewInt(10)); err != nil {
		t.Fatalf("refund: %v", err)
	}
	requireBalance(t, env, buyerAddr, big.NewInt(30))
}

func TestSecondBuyFailsAtAssetTransfer(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), false, 0)
	other := newTestAddress(0x05)
	env.currency.credit("NHB", buyerAddr, big.NewInt(100))
	env.currency.credit("NHB", other, big.NewInt(100))

	if err := env.engine.Buy(buyerAddr, listing.ID, big.NewInt(100)); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	err := env.engine.Buy(other, listing.ID, big.NewInt(100))
	if !errors.Is(err, errMockNotOwner) {
		t.Fatalf("expected asset transfer failure, got %v", err)
	}
	// Seller was paid exactly once.
	requireBalance(t, env, sellerAddr, big.NewInt(100))
	if owner, _ := env.assets.OwnerOf(collection, big.NewInt(1)); owner != buyerAddr {
		t.Fatalf("first buyer must keep the asset")
	}
}

func TestBuyPaysNothingWhenAssetTransferIsRejected(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), false, 0)
	env.currency.credit("NHB", buyerAddr, big.NewInt(100))
	// Seller revokes the market's transfer authority after listing.
	env.assets.operators[sellerAddr][marketAddr] = false

	if err := env.engine.Buy(buyerAddr, listing.ID, big.NewInt(100)); err == nil {
		t.Fatalf("expected buy to fail")
	}
	requireBalance(t, env, sellerAddr, big.NewInt(0))
	if len(env.events.Payloads(EventTypeListingPurchased)) != 0 {
		t.Fatalf("no purchase event on failure")
	}
}

func TestBuyRejectsReentrantCalls(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.SetCollectionRoyalty(sellerAddr, collection, "Genesis", royaltyAddr, 1_000); err != nil {
		t.Fatalf("set royalty: %v", err)
	}
	listing := env.list(t, big.NewInt(1_000), false, 0)
	env.currency.credit("NHB", buyerAddr, big.NewInt(2_000))

	var nested []error
	reenter := func() {
		nested = append(nested,
			env.engine.Buy(buyerAddr, listing.ID, big.NewInt(1_000)),
			env.engine.Withdraw(buyerAddr, listing.ID),
			env.engine.AuctionCancel(buyerAddr, listing.ID),
		)
		_, err := env.engine.CreateListing(buyerAddr, collection, big.NewInt(1), big.NewInt(1), false, 0)
		nested = append(nested, err)
	}
	// Both the payout recipient and the asset recipient try to re-enter.
	env.currency.hooks[sellerAddr] = reenter
	env.currency.hooks[royaltyAddr] = reenter
	env.assets.hooks[buyerAddr] = reenter

	if err := env.engine.Buy(buyerAddr, listing.ID, big.NewInt(1_000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if len(nested) != 12 {
		t.Fatalf("expected 12 nested attempts, got %d", len(nested))
	}
	for i, err := range nested {
		if !errors.Is(err, common.ErrReentrantCall) {
			t.Fatalf("nested call %d: expected ErrReentrantCall, got %v", i, err)
		}
	}
	// Outer effects match a purchase without reentry.
	requireBalance(t, env, sellerAddr, big.NewInt(900))
	requireBalance(t, env, royaltyAddr, big.NewInt(100))
	requireBalance(t, env, buyerAddr, big.NewInt(1_000))
	requireBalance(t, env, marketAddr, big.NewInt(0))
	if env.assets.transfers != 1 {
		t.Fatalf("expected exactly one asset transfer, got %d", env.assets.transfers)
	}
	if len(env.events.Payloads(EventTypeListingPurchased)) != 1 {
		t.Fatalf("expected exactly one purchase event")
	}
	if len(env.state.listings) != 1 {
		t.Fatalf("nested create must not store a listing")
	}
	if env.engine.guard.Active() {
		t.Fatalf("guard must be released after the call")
	}
}

func TestGuardReleasedAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Buy(buyerAddr, 1, big.NewInt(1)); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	if env.engine.guard.Active() {
		t.Fatalf("guard must be released on failure paths")
	}
	env.list(t, big.NewInt(1), false, 0)
}

func TestWithdrawSettlesEndedAuctionOnce(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.SetCollectionRoyalty(sellerAddr, collection, "Genesis", royaltyAddr, 1_000); err != nil {
		t.Fatalf("set royalty: %v", err)
	}
	listing := env.list(t, big.NewInt(1_000), true, 600)

	if err := env.engine.Withdraw(buyerAddr, listing.ID); !errors.Is(err, ErrAuctionStillActive) {
		t.Fatalf("expected ErrAuctionStillActive, got %v", err)
	}
	env.now += 600
	if err := env.engine.Withdraw(buyerAddr, listing.ID); !errors.Is(err, ErrNoWinningBid) {
		t.Fatalf("expected ErrNoWinningBid, got %v", err)
	}

	env.seedBid(t, listing.ID, bidderAddr, big.NewInt(1_500))
	// Any caller may trigger settlement.
	if err := env.engine.Withdraw(buyerAddr, listing.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireBalance(t, env, sellerAddr, big.NewInt(1_350))
	requireBalance(t, env, royaltyAddr, big.NewInt(150))
	requireBalance(t, env, marketAddr, big.NewInt(0))
	if owner, _ := env.assets.OwnerOf(collection, big.NewInt(1)); owner != bidderAddr {
		t.Fatalf("asset must move to the highest bidder")
	}
	stored, _ := env.engine.Listing(listing.ID)
	if !stored.Exists() || stored.IsAuction {
		t.Fatalf("settled auction persists as closed: %+v", stored)
	}
	purchases := env.events.Payloads(EventTypeListingPurchased)
	if len(purchases) != 1 || purchases[0].Attributes["amount"] != "1500" {
		t.Fatalf("unexpected purchase events: %+v", purchases)
	}
	if purchases[0].Attributes["buyer"] != purchases[0].Attributes["highestBidder"] {
		t.Fatalf("settlement must be attributed to the winning bidder: %+v", purchases[0].Attributes)
	}

	if err := env.engine.Withdraw(buyerAddr, listing.ID); !errors.Is(err, ErrNotAuction) {
		t.Fatalf("expected ErrNotAuction on repeat settlement, got %v", err)
	}
}

func TestWithdrawRejectsFixedPriceAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(10), false, 0)
	if err := env.engine.Withdraw(buyerAddr, listing.ID); !errors.Is(err, ErrNotAuction) {
		t.Fatalf("expected ErrNotAuction, got %v", err)
	}
	if err := env.engine.Withdraw(buyerAddr, 99); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestWithdrawRejectsReentrantCalls(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), true, 10)
	env.now += 10
	env.seedBid(t, listing.ID, bidderAddr, big.NewInt(100))

	var nested []error
	env.assets.hooks[bidderAddr] = func() {
		nested = append(nested, env.engine.Withdraw(bidderAddr, listing.ID))
	}
	env.currency.hooks[sellerAddr] = func() {
		nested = append(nested, env.engine.Withdraw(sellerAddr, listing.ID))
	}
	if err := env.engine.Withdraw(bidderAddr, listing.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(nested) != 2 {
		t.Fatalf("expected two nested attempts, got %d", len(nested))
	}
	for _, err := range nested {
		if !errors.Is(err, common.ErrReentrantCall) {
			t.Fatalf("expected ErrReentrantCall, got %v", err)
		}
	}
	requireBalance(t, env, sellerAddr, big.NewInt(100))
	requireBalance(t, env, marketAddr, big.NewInt(0))
}

func TestAuctionCancelRefundsBidder(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), true, 600)
	env.seedBid(t, listing.ID, bidderAddr, big.NewInt(175))

	if err := env.engine.AuctionCancel(buyerAddr, listing.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := env.engine.AuctionCancel(sellerAddr, listing.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireBalance(t, env, bidderAddr, big.NewInt(175))
	requireBalance(t, env, marketAddr, big.NewInt(0))
	if stored, _ := env.engine.Listing(listing.ID); stored.Exists() {
		t.Fatalf("cancelled auction must be deleted")
	}
	cancelled := env.events.Payloads(EventTypeAuctionCancelled)
	if len(cancelled) != 1 || cancelled[0].Attributes["refunded"] != "175" {
		t.Fatalf("unexpected cancel events: %+v", cancelled)
	}
	if env.assets.transfers != 0 {
		t.Fatalf("cancellation must not move the asset")
	}
}

func TestAuctionCancelWithoutBidder(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), true, 600)
	if err := env.engine.AuctionCancel(sellerAddr, listing.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireBalance(t, env, marketAddr, big.NewInt(0))
}

func TestAuctionCancelAfterEnd(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), true, 600)
	env.seedBid(t, listing.ID, bidderAddr, big.NewInt(100))
	env.now = listing.EndTime

	if err := env.engine.AuctionCancel(sellerAddr, listing.ID); !errors.Is(err, ErrAuctionAlreadyEnded) {
		t.Fatalf("expected ErrAuctionAlreadyEnded, got %v", err)
	}
	requireBalance(t, env, bidderAddr, big.NewInt(0))
	if stored, _ := env.engine.Listing(listing.ID); !stored.Exists() {
		t.Fatalf("failed cancel must keep the listing")
	}
	fixed, err := env.engine.CreateListing(sellerAddr, collection, big.NewInt(1), big.NewInt(5), false, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.now += 5
	if err := env.engine.AuctionCancel(sellerAddr, fixed.ID); !errors.Is(err, ErrAuctionAlreadyEnded) {
		t.Fatalf("expected ErrAuctionAlreadyEnded for fixed-price listing, got %v", err)
	}
}

func TestAuctionCancelRejectsLiveFixedPriceListing(t *testing.T) {
	env := newTestEnv(t)
	fixed := env.list(t, big.NewInt(5), false, 300)

	if err := env.engine.AuctionCancel(sellerAddr, fixed.ID); !errors.Is(err, ErrNotAuction) {
		t.Fatalf("expected ErrNotAuction, got %v", err)
	}
	if stored, _ := env.engine.Listing(fixed.ID); !stored.Exists() {
		t.Fatalf("rejected cancel must keep the listing")
	}
}

func TestAuctionCancelAfterSettlement(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), true, 600)
	env.seedBid(t, listing.ID, bidderAddr, big.NewInt(100))
	env.now = listing.EndTime
	if err := env.engine.Withdraw(buyerAddr, listing.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	// The winner now owns the asset but the auction is over.
	if err := env.engine.AuctionCancel(bidderAddr, listing.ID); !errors.Is(err, ErrAuctionAlreadyEnded) {
		t.Fatalf("expected ErrAuctionAlreadyEnded, got %v", err)
	}
	requireBalance(t, env, bidderAddr, big.NewInt(0))
	if len(env.events.Payloads(EventTypeAuctionCancelled)) != 0 {
		t.Fatalf("no cancellation may be emitted after settlement")
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), false, 0)
	env.engine.SetPauses(common.StaticPauses{ModuleName: true})

	if _, err := env.engine.CreateListing(sellerAddr, collection, big.NewInt(1), big.NewInt(1), false, 0); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("create: expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.Buy(buyerAddr, listing.ID, big.NewInt(100)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("buy: expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.UpdatePrice(sellerAddr, listing.ID, big.NewInt(1)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("update: expected ErrModulePaused, got %v", err)
	}
	if _, err := env.engine.SetCollectionRoyalty(sellerAddr, collection, "x", royaltyAddr, 1); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("royalty: expected ErrModulePaused, got %v", err)
	}
	// Reads stay available.
	if price, err := env.engine.Price(listing.ID); err != nil || price.Int64() != 100 {
		t.Fatalf("price read while paused: %v %v", price, err)
	}
}

func TestRecoverToken(t *testing.T) {
	env := newTestEnv(t)
	env.currency.credit("ZNHB", marketAddr, big.NewInt(77))
	dest := newTestAddress(0x09)

	if err := env.engine.RecoverToken(sellerAddr, "ZNHB", dest); !errors.Is(err, ErrNotContractOwner) {
		t.Fatalf("expected ErrNotContractOwner, got %v", err)
	}
	if err := env.engine.RecoverToken(ownerAddr, "ZNHB", [20]byte{}); !errors.Is(err, ErrZeroRecipient) {
		t.Fatalf("expected ErrZeroRecipient, got %v", err)
	}
	if err := env.engine.RecoverToken(ownerAddr, "nhb", dest); !errors.Is(err, ErrSettlementToken) {
		t.Fatalf("expected ErrSettlementToken, got %v", err)
	}
	if err := env.engine.RecoverToken(ownerAddr, "znhb", dest); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := env.currency.balance("ZNHB", dest); got.Int64() != 77 {
		t.Fatalf("expected 77 ZNHB recovered, got %s", got)
	}
	recovered := env.events.Payloads(EventTypeTokenRecovered)
	if len(recovered) != 1 || recovered[0].Attributes["amount"] != "77" {
		t.Fatalf("unexpected recovery events: %+v", recovered)
	}
}

func TestBidPlacedIsNeverEmitted(t *testing.T) {
	env := newTestEnv(t)
	listing := env.list(t, big.NewInt(100), true, 10)
	env.now += 10
	env.seedBid(t, listing.ID, bidderAddr, big.NewInt(100))
	if err := env.engine.Withdraw(bidderAddr, listing.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(env.events.Payloads(EventTypeBidPlaced)) != 0 {
		t.Fatalf("bid placed notifications are not emitted")
	}
}

func TestUnconfiguredEngine(t *testing.T) {
	e := NewEngine()
	if _, err := e.CreateListing(sellerAddr, collection, big.NewInt(1), big.NewInt(1), false, 0); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
	e.SetState(newMockState())
	e.SetAssets(newMockAssets())
	e.SetCurrency(newMockCurrency())
	if err := e.Buy(buyerAddr, 1, big.NewInt(1)); !errors.Is(err, errNilMarketAddr) {
		t.Fatalf("expected errNilMarketAddr, got %v", err)
	}
}
