package assets

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/crypto"
)

var (
	ErrNilState           = errors.New("assets: state not configured")
	ErrCollectionExists   = errors.New("assets: collection already exists")
	ErrCollectionNotFound = errors.New("assets: collection not found")
	ErrInvalidCollection  = errors.New("assets: collection name and symbol required")
	ErrNotMinter          = errors.New("assets: caller is not the collection minter")
	ErrTokenExists        = errors.New("assets: token already minted")
	ErrTokenNotFound      = errors.New("assets: token not found")
	ErrInvalidTokenID     = errors.New("assets: token id must not be negative")
	ErrNotTokenOwner      = errors.New("assets: from is not the token owner")
	ErrNotAuthorized      = errors.New("assets: caller is neither owner nor approved")
	ErrZeroRecipient      = errors.New("assets: transfer to the zero address")
	ErrApproveToOwner     = errors.New("assets: approval to current owner")
	ErrOperatorIsCaller   = errors.New("assets: cannot approve self as operator")
	ErrReceiverRejected   = errors.New("assets: receiver rejected token")
)

type registryState interface {
	AssetCollectionGet(addr [20]byte) (*Collection, bool, error)
	AssetCollectionPut(collection *Collection) error
	AssetCollections() ([][20]byte, error)
	AssetTokenGet(collection [20]byte, id *big.Int) (*Token, bool, error)
	AssetTokenPut(token *Token) error
	AssetOperatorApproved(collection, owner, operator [20]byte) (bool, error)
	AssetSetOperator(collection, owner, operator [20]byte, approved bool) error
}

// Receiver is implemented by contract accounts that run code when a token is
// transferred to them.
type Receiver interface {
	OnAssetReceived(operator, from [20]byte, collection [20]byte, id *big.Int) error
}

// ReceiverFunc adapts a plain function to the Receiver interface.
type ReceiverFunc func(operator, from [20]byte, collection [20]byte, id *big.Int) error

func (f ReceiverFunc) OnAssetReceived(operator, from [20]byte, collection [20]byte, id *big.Int) error {
	return f(operator, from, collection, id)
}

type assetEvent struct {
	evt *types.Event
}

func (e assetEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e assetEvent) Event() *types.Event { return e.evt }

// Registry tracks collections of unique assets, their owners and transfer
// approvals.
type Registry struct {
	state     registryState
	emitter   events.Emitter
	nowFn     func() int64
	receivers map[[20]byte]Receiver
}

func NewRegistry() *Registry {
	return &Registry{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		receivers: make(map[[20]byte]Receiver),
	}
}

func (r *Registry) SetState(state registryState) { r.state = state }

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// RegisterReceiver installs a token receipt hook for addr. Passing nil
// removes it.
func (r *Registry) RegisterReceiver(addr [20]byte, recv Receiver) {
	if recv == nil {
		delete(r.receivers, addr)
		return
	}
	r.receivers[addr] = recv
}

func (r *Registry) emit(evt *types.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(assetEvent{evt: evt})
}

// CollectionAddress derives the deterministic address of a collection created
// by creator with the given symbol.
func CollectionAddress(creator [20]byte, symbol string) [20]byte {
	hash := ethcrypto.Keccak256([]byte("nhb-collection"), creator[:], []byte(strings.ToUpper(symbol)))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// CreateCollection registers a new collection minted by creator.
func (r *Registry) CreateCollection(creator [20]byte, name, symbol string) (*Collection, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if name == "" || symbol == "" {
		return nil, ErrInvalidCollection
	}
	addr := CollectionAddress(creator, symbol)
	if _, ok, err := r.state.AssetCollectionGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrCollectionExists
	}
	collection := &Collection{
		Address:   addr,
		Name:      name,
		Symbol:    strings.ToUpper(symbol),
		Minter:    creator,
		CreatedAt: r.nowFn(),
	}
	if err := r.state.AssetCollectionPut(collection); err != nil {
		return nil, err
	}
	r.emit(newCollectionCreatedEvent(collection))
	return collection, nil
}

// Collection returns the collection registered at addr.
func (r *Registry) Collection(addr [20]byte) (*Collection, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	collection, ok, err := r.state.AssetCollectionGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return collection, nil
}

// Collections lists every registered collection in creation order.
func (r *Registry) Collections() ([]*Collection, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	addrs, err := r.state.AssetCollections()
	if err != nil {
		return nil, err
	}
	out := make([]*Collection, 0, len(addrs))
	for _, addr := range addrs {
		collection, err := r.Collection(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, collection)
	}
	return out, nil
}

// Mint issues token id of collection to the recipient. Only the collection
// minter may mint.
func (r *Registry) Mint(caller, collectionAddr [20]byte, id *big.Int, to [20]byte) (*Token, error) {
	collection, err := r.Collection(collectionAddr)
	if err != nil {
		return nil, err
	}
	if caller != collection.Minter {
		return nil, ErrNotMinter
	}
	if id == nil || id.Sign() < 0 {
		return nil, ErrInvalidTokenID
	}
	if to == ([20]byte{}) {
		return nil, ErrZeroRecipient
	}
	if _, ok, err := r.state.AssetTokenGet(collectionAddr, id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrTokenExists
	}
	token := &Token{Collection: collectionAddr, ID: new(big.Int).Set(id), Owner: to}
	if err := r.state.AssetTokenPut(token); err != nil {
		return nil, err
	}
	r.emit(newTokenEvent(EventTypeTokenMinted, token, nil))
	return token.Clone(), nil
}

// Token returns the stored record of a minted token.
func (r *Registry) Token(collection [20]byte, id *big.Int) (*Token, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	if id == nil || id.Sign() < 0 {
		return nil, ErrInvalidTokenID
	}
	token, ok, err := r.state.AssetTokenGet(collection, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTokenNotFound
	}
	return token, nil
}

// OwnerOf returns the current owner of a token.
func (r *Registry) OwnerOf(collection [20]byte, id *big.Int) ([20]byte, error) {
	token, err := r.Token(collection, id)
	if err != nil {
		return [20]byte{}, err
	}
	return token.Owner, nil
}

// IsApprovedForAll reports whether operator may move every token owner holds
// in collection.
func (r *Registry) IsApprovedForAll(collection, owner, operator [20]byte) (bool, error) {
	if r == nil || r.state == nil {
		return false, ErrNilState
	}
	return r.state.AssetOperatorApproved(collection, owner, operator)
}

// Approve grants spender the right to transfer a single token. The caller must
// own the token or be an approved operator of the owner.
func (r *Registry) Approve(caller, collection [20]byte, id *big.Int, spender [20]byte) error {
	token, err := r.Token(collection, id)
	if err != nil {
		return err
	}
	if spender == token.Owner {
		return ErrApproveToOwner
	}
	if caller != token.Owner {
		operator, err := r.state.AssetOperatorApproved(collection, token.Owner, caller)
		if err != nil {
			return err
		}
		if !operator {
			return ErrNotAuthorized
		}
	}
	token.Approved = spender
	if err := r.state.AssetTokenPut(token); err != nil {
		return err
	}
	r.emit(newTokenEvent(EventTypeTokenApproved, token, map[string]string{"approved": crypto.FormatAccount(spender)}))
	return nil
}

// SetApprovalForAll grants or revokes operator rights over every token the
// caller holds in collection.
func (r *Registry) SetApprovalForAll(caller, collection, operator [20]byte, approved bool) error {
	if _, err := r.Collection(collection); err != nil {
		return err
	}
	if caller == operator {
		return ErrOperatorIsCaller
	}
	if err := r.state.AssetSetOperator(collection, caller, operator, approved); err != nil {
		return err
	}
	r.emit(newOperatorSetEvent(collection, caller, operator, approved))
	return nil
}

// TransferFrom moves a token from its owner to a new owner. The operator must
// be the owner, the token's approved address or an approved operator. Any
// single-token approval is cleared. When the recipient has a receiver hook it
// runs after the ownership change and may reject the transfer.
func (r *Registry) TransferFrom(operator, from, to, collection [20]byte, id *big.Int) error {
	token, err := r.Token(collection, id)
	if err != nil {
		return err
	}
	if token.Owner != from {
		return ErrNotTokenOwner
	}
	if to == ([20]byte{}) {
		return ErrZeroRecipient
	}
	singleApproval := token.Approved != ([20]byte{}) && operator == token.Approved
	if operator != from && !singleApproval {
		approved, err := r.state.AssetOperatorApproved(collection, from, operator)
		if err != nil {
			return err
		}
		if !approved {
			return ErrNotAuthorized
		}
	}
	token.Owner = to
	token.Approved = [20]byte{}
	if err := r.state.AssetTokenPut(token); err != nil {
		return err
	}
	r.emit(newTokenEvent(EventTypeTokenTransferred, token, map[string]string{
		"from":     crypto.FormatAccount(from),
		"operator": crypto.FormatAccount(operator),
	}))
	if hook, ok := r.receivers[to]; ok {
		if err := hook.OnAssetReceived(operator, from, collection, new(big.Int).Set(id)); err != nil {
			return fmt.Errorf("%w: %w", ErrReceiverRejected, err)
		}
	}
	return nil
}
