package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	jwt "github.com/golang-jwt/jwt/v5"

	"nhbmarket/crypto"
)

const (
	// LoginDomain prefixes every signed login challenge.
	LoginDomain = "nhbmarket-login"

	maxAllowedTimestampSkew  = 2 * time.Minute
	defaultTimestampSkew     = maxAllowedTimestampSkew
	maxNonceWindow           = 10 * time.Minute
	defaultNonceWindow       = maxNonceWindow
	defaultNonceCapacity     = 4096
	maxNonceCapacity         = 65536
	persistencePruneInterval = time.Minute
	defaultTokenTTL          = time.Hour
)

var (
	ErrInvalidSignature = errors.New("auth: signature does not match address")
	ErrNonceReplayed    = errors.New("auth: nonce already used")
	ErrTimestampSkew    = errors.New("auth: timestamp outside allowed skew")
	ErrSecretMissing    = errors.New("auth: token secret not configured")
	ErrNonceStore       = errors.New("auth: nonce store unavailable")
)

// NonceRecord captures persisted nonce usage metadata.
type NonceRecord struct {
	Account    string
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NoncePersistence provides durable storage for login nonce usage.
type NoncePersistence interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// TokenConfig describes the bearer tokens issued after a successful login.
type TokenConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	TTL        time.Duration
	Scopes     []string
}

// LoginRequest is a signed wallet challenge.
type LoginRequest struct {
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// WalletAuthenticator exchanges signed wallet challenges for bearer tokens
// whose subject is the caller's account address.
type WalletAuthenticator struct {
	token                TokenConfig
	allowedTimestampSkew time.Duration
	nonceTTL             time.Duration
	nonceCapacity        int
	nowFn                func() time.Time

	nonceMu sync.Mutex
	nonces  map[string]*nonceStore

	persistence NoncePersistence
	pruneMu     sync.Mutex
	lastPruned  time.Time
}

// NewWalletAuthenticator builds an authenticator issuing tokens per cfg.
func NewWalletAuthenticator(cfg TokenConfig, skew time.Duration, nonceTTL time.Duration, nonceCapacity int, nowFn func() time.Time, persistence NoncePersistence) (*WalletAuthenticator, error) {
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	if cfg.HMACSecret == "" {
		return nil, ErrSecretMissing
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTokenTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if skew > maxAllowedTimestampSkew {
		skew = maxAllowedTimestampSkew
	}
	if nonceTTL <= 0 {
		nonceTTL = defaultNonceWindow
	}
	if nonceTTL > maxNonceWindow {
		nonceTTL = maxNonceWindow
	}
	// A nonce must outlive every timestamp that can still pass the skew check.
	if nonceTTL < 2*skew {
		nonceTTL = 2 * skew
	}
	if nonceCapacity <= 0 {
		nonceCapacity = defaultNonceCapacity
	}
	if nonceCapacity > maxNonceCapacity {
		nonceCapacity = maxNonceCapacity
	}
	return &WalletAuthenticator{
		token:                cfg,
		allowedTimestampSkew: skew,
		nonceTTL:             nonceTTL,
		nonceCapacity:        nonceCapacity,
		nowFn:                nowFn,
		nonces:               make(map[string]*nonceStore),
		persistence:          persistence,
	}, nil
}

// LoginMessage returns the exact bytes a wallet signs to log in.
func LoginMessage(address string, timestamp int64, nonce string) []byte {
	return []byte(strings.Join([]string{LoginDomain, address, strconv.FormatInt(timestamp, 10), nonce}, "\n"))
}

// SignLogin signs the login challenge with key and returns the hex signature.
func SignLogin(key *crypto.PrivateKey, address string, timestamp int64, nonce string) (string, error) {
	if key == nil {
		return "", errors.New("auth: nil private key")
	}
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256(LoginMessage(address, timestamp, nonce)), key.PrivateKey)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// Login validates the signed challenge and issues a bearer token.
func (a *WalletAuthenticator) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	addr, err := crypto.ParseAccount(req.Address)
	if err != nil {
		return nil, err
	}
	address := crypto.FormatAccount(addr)
	now := a.nowFn().UTC()
	ts := time.Unix(req.Timestamp, 0).UTC()
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.allowedTimestampSkew {
		return nil, ErrTimestampSkew
	}
	nonce := strings.TrimSpace(req.Nonce)
	if nonce == "" {
		return nil, errors.New("auth: nonce required")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Signature), "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid signature encoding: %w", err)
	}
	if len(sig) != 65 {
		return nil, ErrInvalidSignature
	}
	pub, err := ethcrypto.SigToPub(ethcrypto.Keccak256(LoginMessage(req.Address, req.Timestamp, req.Nonce)), sig)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if [20]byte(ethcrypto.PubkeyToAddress(*pub)) != addr {
		return nil, ErrInvalidSignature
	}
	duplicate, err := a.registerNonce(ctx, address, strconv.FormatInt(req.Timestamp, 10), nonce, now)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, ErrNonceReplayed
	}
	token, expires, err := IssueToken(a.token, address, now)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, Address: address, ExpiresAt: expires}, nil
}

// IssueToken signs an HS256 bearer token for subject.
func IssueToken(cfg TokenConfig, subject string, now time.Time) (string, time.Time, error) {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return "", time.Time{}, ErrSecretMissing
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	expires := now.Add(ttl).UTC()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": expires.Unix(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims["aud"] = cfg.Audience
	}
	if len(cfg.Scopes) > 0 {
		claims["scope"] = strings.Join(cfg.Scopes, " ")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// HydrateNonces warms the in-memory cache with persisted nonce usage records.
func (a *WalletAuthenticator) HydrateNonces(ctx context.Context, cutoff time.Time) error {
	if a == nil || a.persistence == nil {
		return nil
	}
	records, err := a.persistence.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent nonces: %w", err)
	}
	for _, rec := range records {
		if strings.TrimSpace(rec.Account) == "" || strings.TrimSpace(rec.Timestamp) == "" || strings.TrimSpace(rec.Nonce) == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		store := a.nonceStore(rec.Account)
		store.Add(rec.Timestamp+"|"+rec.Nonce, observed)
	}
	return nil
}

func (a *WalletAuthenticator) registerNonce(ctx context.Context, account, timestamp, nonce string, now time.Time) (bool, error) {
	cache := a.nonceStore(account)
	composite := timestamp + "|" + nonce
	if cache.Contains(composite, now) {
		return true, nil
	}
	if a.persistence != nil {
		if err := a.prunePersistent(ctx, now); err != nil {
			return false, err
		}
		existed, err := a.persistence.EnsureNonce(ctx, NonceRecord{
			Account:    account,
			Timestamp:  timestamp,
			Nonce:      nonce,
			ObservedAt: now,
		})
		if err != nil {
			return false, fmt.Errorf("%w: persist nonce: %w", ErrNonceStore, err)
		}
		if existed {
			cache.Add(composite, now)
			return true, nil
		}
	}
	cache.Add(composite, now)
	return false, nil
}

func (a *WalletAuthenticator) prunePersistent(ctx context.Context, now time.Time) error {
	if a.persistence == nil || a.nonceTTL <= 0 {
		return nil
	}
	a.pruneMu.Lock()
	defer a.pruneMu.Unlock()
	cutoff := now.Add(-a.nonceTTL)
	if a.lastPruned.IsZero() || now.Sub(a.lastPruned) >= persistencePruneInterval {
		if err := a.persistence.PruneNonces(ctx, cutoff); err != nil {
			return fmt.Errorf("%w: prune persistent nonces: %w", ErrNonceStore, err)
		}
		a.lastPruned = now
	}
	return nil
}

func (a *WalletAuthenticator) nonceStore(account string) *nonceStore {
	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	cache, ok := a.nonces[account]
	if ok {
		return cache
	}
	cache = newNonceStore(a.nonceTTL, a.nonceCapacity)
	a.nonces[account] = cache
	return cache
}
