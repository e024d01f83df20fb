package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"nhbmarket/crypto"
	"nhbmarket/gateway/middleware"
	"nhbmarket/integrations/exports"
	"nhbmarket/integrations/indexer"
	"nhbmarket/native/assets"
	"nhbmarket/native/market"
)

const (
	marketRequestLimit  = 64 << 10
	defaultHistoryLimit = 200
)

type marketRoutes struct {
	node         Market
	history      EventHistory
	historyLimit int
}

func newMarketRoutes(cfg Config) *marketRoutes {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &marketRoutes{node: cfg.Market, history: cfg.History, historyLimit: limit}
}

func (mr *marketRoutes) mountReads(r chi.Router) {
	r.Get("/listings", mr.listActive)
	r.Get("/listings/{id}", mr.getListing)
	r.Get("/listings/{id}/events", mr.listingEvents)
	r.Get("/events", mr.recentEvents)
	r.Get("/royalties/{collection}", mr.getRoyalty)
	r.Get("/royalties/{collection}/quote", mr.quoteRoyalty)
	r.Get("/collections", mr.listCollections)
	r.Get("/collections/{collection}", mr.getCollection)
	r.Get("/collections/{collection}/tokens/{tokenID}", mr.getToken)
	r.Get("/accounts/{address}/balances", mr.getBalances)
}

func (mr *marketRoutes) mountWrites(r chi.Router) {
	r.Post("/listings", mr.createListing)
	r.Put("/listings/{id}/price", mr.updatePrice)
	r.Delete("/listings/{id}", mr.removeListing)
	r.Post("/listings/{id}/buy", mr.buy)
	r.Post("/listings/{id}/withdraw", mr.withdraw)
	r.Post("/listings/{id}/cancel", mr.cancelAuction)
	r.Post("/royalties", mr.setRoyalty)
	r.Post("/collections", mr.createCollection)
	r.Post("/collections/{collection}/mint", mr.mint)
	r.Post("/collections/{collection}/approve", mr.approve)
	r.Post("/collections/{collection}/operators", mr.setOperator)
	r.Post("/collections/{collection}/transfer", mr.transferAsset)
	r.Post("/transfers", mr.transfer)
}

// mountAdmin registers routes that additionally require the admin scope.
// The engine still checks that the caller is the contract owner.
func (mr *marketRoutes) mountAdmin(r chi.Router) {
	r.Post("/admin/recover", mr.recoverToken)
}

type listingView struct {
	ID            uint64 `json:"id"`
	AssetContract string `json:"assetContract"`
	AssetID       string `json:"assetId"`
	Seller        string `json:"seller"`
	Price         string `json:"price"`
	CurrentBid    string `json:"currentBid"`
	IsAuction     bool   `json:"isAuction"`
	EndTime       int64  `json:"endTime,omitempty"`
	HighestBidder string `json:"highestBidder,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
}

func newListingView(l *market.Listing) listingView {
	view := listingView{
		ID:            l.ID,
		AssetContract: crypto.FormatCollection(l.AssetContract),
		AssetID:       amountString(l.AssetID),
		Seller:        crypto.FormatAccount(l.Seller),
		Price:         amountString(l.Price),
		CurrentBid:    amountString(l.CurrentBid),
		IsAuction:     l.IsAuction,
		EndTime:       l.EndTime,
		CreatedAt:     l.CreatedAt,
	}
	if l.HasBidder() {
		view.HighestBidder = crypto.FormatAccount(l.HighestBidder)
	}
	return view
}

type royaltyView struct {
	Collection    string `json:"collection"`
	Name          string `json:"name"`
	PayoutAccount string `json:"payoutAccount"`
	Bps           uint32 `json:"bps"`
	SetBy         string `json:"setBy"`
	SetAt         int64  `json:"setAt"`
}

func newRoyaltyView(r *market.Royalty) royaltyView {
	return royaltyView{
		Collection:    crypto.FormatCollection(r.Collection),
		Name:          r.Name,
		PayoutAccount: crypto.FormatAccount(r.PayoutAccount),
		Bps:           r.Bps,
		SetBy:         crypto.FormatAccount(r.SetBy),
		SetAt:         r.SetAt,
	}
}

type collectionView struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	Minter    string `json:"minter"`
	CreatedAt int64  `json:"createdAt"`
}

func newCollectionView(c *assets.Collection) collectionView {
	return collectionView{
		Address:   crypto.FormatCollection(c.Address),
		Name:      c.Name,
		Symbol:    c.Symbol,
		Minter:    crypto.FormatAccount(c.Minter),
		CreatedAt: c.CreatedAt,
	}
}

type tokenView struct {
	Collection     string `json:"collection"`
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Approved       string `json:"approved,omitempty"`
	MarketApproved bool   `json:"marketApproved"`
}

func newTokenView(t *assets.Token) tokenView {
	view := tokenView{
		Collection: crypto.FormatCollection(t.Collection),
		ID:         amountString(t.ID),
		Owner:      crypto.FormatAccount(t.Owner),
	}
	if t.Approved != ([20]byte{}) {
		view.Approved = crypto.FormatAccount(t.Approved)
	}
	return view
}

type eventView struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	ListingID  uint64            `json:"listingId,omitempty"`
	Collection string            `json:"collection,omitempty"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

func newEventViews(records []indexer.EventRecord) []eventView {
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		out = append(out, eventView{
			Sequence:   rec.Sequence,
			Type:       rec.Type,
			ListingID:  rec.ListingID,
			Collection: rec.Collection,
			Attributes: rec.AttributeMap(),
			EmittedAt:  rec.EmittedAt.UTC(),
		})
	}
	return out
}

func (mr *marketRoutes) listActive(w http.ResponseWriter, r *http.Request) {
	listings, err := mr.node.ActiveListings()
	if err != nil {
		writeError(w, err)
		return
	}
	next, err := mr.node.NextListingID()
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]listingView, 0, len(listings))
	for _, l := range listings {
		views = append(views, newListingView(l))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listings":      views,
		"nextListingId": next,
		"market":        crypto.FormatAccount(mr.node.MarketAddress()),
	})
}

func (mr *marketRoutes) getListing(w http.ResponseWriter, r *http.Request) {
	id, err := listingIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	listing, err := mr.node.Listing(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !listing.Exists() {
		writeError(w, market.ErrListingNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newListingView(listing))
}

func (mr *marketRoutes) listingEvents(w http.ResponseWriter, r *http.Request) {
	if mr.history == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("event history not configured"))
		return
	}
	id, err := listingIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	records, err := mr.history.ListingEvents(r.Context(), id, mr.historyLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	switch format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))); format {
	case "", "json":
		writeJSON(w, http.StatusOK, map[string]interface{}{"listingId": id, "events": newEventViews(records)})
	case "csv", "jsonl", "parquet":
		var (
			data        []byte
			checksum    string
			contentType string
		)
		switch format {
		case "csv":
			contentType = "text/csv"
			data, checksum, err = exports.EventsCSV(records)
		case "jsonl":
			contentType = "application/x-ndjson"
			data, checksum, err = exports.EventsJSONL(records)
		default:
			contentType = "application/vnd.apache.parquet"
			data, checksum, err = exports.EventsParquet(records)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Checksum-SHA256", checksum)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=listing-%d.%s", id, format))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		writeBadRequest(w, fmt.Errorf("unsupported format %q", format))
	}
}

func (mr *marketRoutes) recentEvents(w http.ResponseWriter, r *http.Request) {
	if mr.history == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("event history not configured"))
		return
	}
	query := r.URL.Query()
	limit := mr.historyLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	collection := strings.TrimSpace(query.Get("collection"))
	if collection != "" {
		addr, err := crypto.ParseAccount(collection)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("collection: %w", err))
			return
		}
		collection = crypto.FormatCollection(addr)
	}
	records, err := mr.history.Recent(r.Context(), strings.TrimSpace(query.Get("type")), collection, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": newEventViews(records)})
}

func (mr *marketRoutes) getRoyalty(w http.ResponseWriter, r *http.Request) {
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	royalty, err := mr.node.Royalty(collection)
	if err != nil {
		writeError(w, err)
		return
	}
	if royalty == nil || !royalty.Exists {
		writeJSONError(w, http.StatusNotFound, errors.New("royalty not configured"))
		return
	}
	writeJSON(w, http.StatusOK, newRoyaltyView(royalty))
}

func (mr *marketRoutes) quoteRoyalty(w http.ResponseWriter, r *http.Request) {
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	sellerCut, royaltyCut, payout, err := mr.node.RoyaltyQuote(collection, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]string{
		"collection": crypto.FormatCollection(collection),
		"amount":     amountString(amount),
		"sellerCut":  amountString(sellerCut),
		"royaltyCut": amountString(royaltyCut),
	}
	if payout != ([20]byte{}) {
		resp["payoutAccount"] = crypto.FormatAccount(payout)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (mr *marketRoutes) listCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := mr.node.Collections()
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]collectionView, 0, len(collections))
	for _, c := range collections {
		views = append(views, newCollectionView(c))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": views})
}

func (mr *marketRoutes) getCollection(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "collection")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	collection, err := mr.node.Collection(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollectionView(collection))
}

func (mr *marketRoutes) getToken(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "collection")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := parseAmount("tokenId", chi.URLParam(r, "tokenID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	token, err := mr.node.Token(addr, id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := newTokenView(token)
	if view.MarketApproved, err = mr.node.MarketApproved(addr, token.Owner); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (mr *marketRoutes) getBalances(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balances, err := mr.node.Balances(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": crypto.FormatAccount(addr),
		"nhb":     amountString(balances.NHB),
		"znhb":    amountString(balances.ZNHB),
	})
}

type createListingRequest struct {
	AssetContract   string `json:"assetContract"`
	AssetID         string `json:"assetId"`
	Price           string `json:"price"`
	IsAuction       bool   `json:"isAuction"`
	BiddingDuration int64  `json:"biddingDuration"`
}

func (mr *marketRoutes) createListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createListingRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	contract, err := parseAddress("assetContract", req.AssetContract)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	assetID, err := parseAmount("assetId", req.AssetID)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	listing, err := mr.node.CreateListing(r.Context(), caller, contract, assetID, price, req.IsAuction, req.BiddingDuration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newListingView(listing))
}

type priceRequest struct {
	Price string `json:"price"`
}

func (mr *marketRoutes) updatePrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := listingIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req priceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(req.Price), 10)
	if !ok {
		writeBadRequest(w, fmt.Errorf("price: invalid integer %q", req.Price))
		return
	}
	if err := mr.node.UpdatePrice(r.Context(), caller, id, price); err != nil {
		writeError(w, err)
		return
	}
	mr.respondListing(w, id)
}

func (mr *marketRoutes) removeListing(w http.ResponseWriter, r *http.Request) {
	mr.listingAction(w, r, mr.node.RemoveListing, false)
}

type buyRequest struct {
	Amount string `json:"amount"`
}

func (mr *marketRoutes) buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := listingIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req buyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := mr.node.Buy(r.Context(), caller, id, amount); err != nil {
		writeError(w, err)
		return
	}
	mr.respondListing(w, id)
}

func (mr *marketRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	mr.listingAction(w, r, mr.node.Withdraw, true)
}

func (mr *marketRoutes) cancelAuction(w http.ResponseWriter, r *http.Request) {
	mr.listingAction(w, r, mr.node.AuctionCancel, true)
}

// listingAction runs a caller-scoped operation that takes only a listing id.
// When respond is set the updated listing is returned; otherwise 204.
func (mr *marketRoutes) listingAction(w http.ResponseWriter, r *http.Request, op func(context.Context, [20]byte, uint64) error, respond bool) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := listingIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := op(r.Context(), caller, id); err != nil {
		writeError(w, err)
		return
	}
	if !respond {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	mr.respondListing(w, id)
}

func (mr *marketRoutes) respondListing(w http.ResponseWriter, id uint64) {
	listing, err := mr.node.Listing(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListingView(listing))
}

type royaltyRequest struct {
	Collection string `json:"collection"`
	Name       string `json:"name"`
	Payout     string `json:"payout"`
	Bps        uint32 `json:"bps"`
}

func (mr *marketRoutes) setRoyalty(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req royaltyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	collection, err := parseAddress("collection", req.Collection)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var payout [20]byte
	if strings.TrimSpace(req.Payout) != "" {
		if payout, err = parseAddress("payout", req.Payout); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	royalty, err := mr.node.SetCollectionRoyalty(r.Context(), caller, collection, req.Name, payout, req.Bps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRoyaltyView(royalty))
}

type collectionRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

func (mr *marketRoutes) createCollection(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req collectionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	collection, err := mr.node.CreateCollection(r.Context(), caller, req.Name, req.Symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCollectionView(collection))
}

type mintRequest struct {
	ID string `json:"id"`
	To string `json:"to"`
}

func (mr *marketRoutes) mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req mintRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := parseAmount("id", req.ID)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	to := caller
	if strings.TrimSpace(req.To) != "" {
		if to, err = parseAddress("to", req.To); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	token, err := mr.node.Mint(r.Context(), caller, collection, id, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTokenView(token))
}

type approveRequest struct {
	ID      string `json:"id"`
	Spender string `json:"spender"`
}

func (mr *marketRoutes) approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req approveRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := parseAmount("id", req.ID)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var spender [20]byte
	if strings.TrimSpace(req.Spender) != "" {
		if spender, err = parseAddress("spender", req.Spender); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	if err := mr.node.Approve(r.Context(), caller, collection, id, spender); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type operatorRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

func (mr *marketRoutes) setOperator(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req operatorRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	operator, err := parseAddress("operator", req.Operator)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := mr.node.SetApprovalForAll(r.Context(), caller, collection, operator, req.Approved); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assetTransferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	ID   string `json:"id"`
}

func (mr *marketRoutes) transferAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req assetTransferRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	from := caller
	if strings.TrimSpace(req.From) != "" {
		if from, err = parseAddress("from", req.From); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := parseAmount("id", req.ID)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := mr.node.TransferAsset(r.Context(), caller, from, to, collection, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (mr *marketRoutes) transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := mr.node.Transfer(r.Context(), req.Token, caller, to, amount); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recoverRequest struct {
	Token string `json:"token"`
	To    string `json:"to"`
}

func (mr *marketRoutes) recoverToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req recoverRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	var to [20]byte
	if strings.TrimSpace(req.To) != "" {
		var err error
		if to, err = parseAddress("to", req.To); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	if err := mr.node.RecoverToken(r.Context(), caller, req.Token, to); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireCaller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, errCallerRequired)
		return [20]byte{}, false
	}
	return caller, true
}

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, marketRequestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func listingIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid listing id %q", raw)
	}
	return id, nil
}

func addressParam(r *http.Request, name string) ([20]byte, error) {
	return parseAddress(name, chi.URLParam(r, name))
}

func parseAddress(field, raw string) ([20]byte, error) {
	addr, err := crypto.ParseAccount(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// parseAmount accepts a non-negative base-10 integer.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return value, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
