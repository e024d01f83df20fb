package routes

import (
	"context"
	"log"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nhbmarket/core"
	"nhbmarket/gateway/auth"
	"nhbmarket/gateway/middleware"
	"nhbmarket/integrations/indexer"
	"nhbmarket/native/assets"
	"nhbmarket/native/market"
)

// Market is the slice of the node the gateway drives.
type Market interface {
	CreateListing(ctx context.Context, caller, assetContract [20]byte, assetID, price *big.Int, isAuction bool, biddingDuration int64) (*market.Listing, error)
	UpdatePrice(ctx context.Context, caller [20]byte, id uint64, newPrice *big.Int) error
	RemoveListing(ctx context.Context, caller [20]byte, id uint64) error
	Buy(ctx context.Context, caller [20]byte, id uint64, paid *big.Int) error
	Withdraw(ctx context.Context, caller [20]byte, id uint64) error
	AuctionCancel(ctx context.Context, caller [20]byte, id uint64) error
	SetCollectionRoyalty(ctx context.Context, caller, collection [20]byte, name string, payout [20]byte, bps uint32) (*market.Royalty, error)
	RecoverToken(ctx context.Context, caller [20]byte, token string, to [20]byte) error

	CreateCollection(ctx context.Context, creator [20]byte, name, symbol string) (*assets.Collection, error)
	Mint(ctx context.Context, caller, collection [20]byte, id *big.Int, to [20]byte) (*assets.Token, error)
	Approve(ctx context.Context, caller, collection [20]byte, id *big.Int, spender [20]byte) error
	SetApprovalForAll(ctx context.Context, caller, collection, operator [20]byte, approved bool) error
	TransferAsset(ctx context.Context, operator, from, to, collection [20]byte, id *big.Int) error
	Transfer(ctx context.Context, token string, from, to [20]byte, amount *big.Int) error

	Listing(id uint64) (*market.Listing, error)
	ActiveListings() ([]*market.Listing, error)
	NextListingID() (uint64, error)
	Royalty(collection [20]byte) (*market.Royalty, error)
	RoyaltyQuote(collection [20]byte, amount *big.Int) (sellerCut, royaltyCut *big.Int, payout [20]byte, err error)
	MarketApproved(collection, owner [20]byte) (bool, error)
	Collections() ([]*assets.Collection, error)
	Collection(addr [20]byte) (*assets.Collection, error)
	Token(collection [20]byte, id *big.Int) (*assets.Token, error)
	Balances(addr [20]byte) (*core.Balances, error)
	MarketAddress() [20]byte
}

// EventHistory serves indexed marketplace events.
type EventHistory interface {
	ListingEvents(ctx context.Context, listingID uint64, limit int) ([]indexer.EventRecord, error)
	Recent(ctx context.Context, eventType, collection string, limit int) ([]indexer.EventRecord, error)
}

// LoginService exchanges signed wallet challenges for bearer tokens.
type LoginService interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResponse, error)
}

type Config struct {
	Market        Market
	History       EventHistory
	Stream        *Hub
	Login         LoginService
	HistoryLimit  int
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *log.Logger
}

const (
	rateLimitMarket = "market"
	rateLimitLogin  = "login"
)

func New(cfg Config) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	// Each mounted group records its own requests.
	obs := cfg.Observability

	if cfg.HealthHandler != nil {
		r.Handle("/healthz", cfg.HealthHandler)
	} else {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}

	if cfg.Login != nil {
		lr := &loginRoutes{svc: cfg.Login}
		r.Route("/v1/auth", func(sr chi.Router) {
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware(rateLimitLogin))
			}
			if obs != nil {
				sr.Use(obs.Middleware("auth"))
			}
			sr.Post("/login", lr.login)
		})
	}

	if cfg.Market != nil {
		mr := newMarketRoutes(cfg)
		r.Route("/v1/market", func(sr chi.Router) {
			if obs != nil {
				sr.Use(obs.Middleware("market"))
			}
			sr.Group(func(pub chi.Router) {
				if cfg.RateLimiter != nil {
					pub.Use(cfg.RateLimiter.Middleware(rateLimitMarket))
				}
				mr.mountReads(pub)
			})
			sr.Group(func(priv chi.Router) {
				if cfg.Authenticator != nil {
					priv.Use(cfg.Authenticator.Middleware())
				}
				// Limits apply after authentication so the bucket is keyed
				// by wallet.
				if cfg.RateLimiter != nil {
					priv.Use(cfg.RateLimiter.Middleware(rateLimitMarket))
				}
				mr.mountWrites(priv)
			})
			sr.Group(func(admin chi.Router) {
				if cfg.Authenticator != nil {
					admin.Use(cfg.Authenticator.Middleware(middleware.ScopeAdmin))
				}
				if cfg.RateLimiter != nil {
					admin.Use(cfg.RateLimiter.Middleware(rateLimitMarket))
				}
				mr.mountAdmin(admin)
			})
			if cfg.Stream != nil {
				sr.Handle("/stream", cfg.Stream)
			}
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
