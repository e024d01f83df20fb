package state

import (
	"fmt"
	"math/big"

	"nhbmarket/native/assets"
)

type storedCollection struct {
	Address   [20]byte
	Name      string
	Symbol    string
	Minter    [20]byte
	CreatedAt uint64
}

type storedToken struct {
	Collection [20]byte
	ID         *big.Int
	Owner      [20]byte
	Approved   [20]byte
}

func collectionKey(addr [20]byte) []byte {
	return prefixedKey(assetCollectionPrefix, addr[:])
}

func tokenKey(collection [20]byte, id *big.Int) []byte {
	return prefixedKey(assetTokenPrefix, collection[:], id.Bytes())
}

func operatorKey(collection, owner, operator [20]byte) []byte {
	return prefixedKey(assetOperatorPrefix, collection[:], owner[:], operator[:])
}

// AssetCollectionGet loads the collection registered at addr.
func (m *Manager) AssetCollectionGet(addr [20]byte) (*assets.Collection, bool, error) {
	var stored storedCollection
	ok, err := m.getRLP(collectionKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &assets.Collection{
		Address:   stored.Address,
		Name:      stored.Name,
		Symbol:    stored.Symbol,
		Minter:    stored.Minter,
		CreatedAt: int64(stored.CreatedAt),
	}, true, nil
}

// AssetCollectionPut persists the collection and records it in the collection
// index when first seen.
func (m *Manager) AssetCollectionPut(collection *assets.Collection) error {
	if collection == nil {
		return fmt.Errorf("assets: nil collection")
	}
	_, exists, err := m.AssetCollectionGet(collection.Address)
	if err != nil {
		return err
	}
	if err := m.putRLP(collectionKey(collection.Address), &storedCollection{
		Address:   collection.Address,
		Name:      collection.Name,
		Symbol:    collection.Symbol,
		Minter:    collection.Minter,
		CreatedAt: toUnix(collection.CreatedAt),
	}); err != nil {
		return err
	}
	if exists {
		return nil
	}
	list, err := m.AssetCollections()
	if err != nil {
		return err
	}
	list = append(list, collection.Address)
	return m.putRLP(prefixedKey(assetCollectionListKey), list)
}

// AssetCollections returns the registered collection addresses in creation
// order.
func (m *Manager) AssetCollections() ([][20]byte, error) {
	var list [][20]byte
	if _, err := m.getRLP(prefixedKey(assetCollectionListKey), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AssetTokenGet loads a minted token.
func (m *Manager) AssetTokenGet(collection [20]byte, id *big.Int) (*assets.Token, bool, error) {
	if id == nil || id.Sign() < 0 {
		return nil, false, fmt.Errorf("assets: invalid token id")
	}
	var stored storedToken
	ok, err := m.getRLP(tokenKey(collection, id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	token := &assets.Token{
		Collection: stored.Collection,
		ID:         stored.ID,
		Owner:      stored.Owner,
		Approved:   stored.Approved,
	}
	return token.Clone(), true, nil
}

// AssetTokenPut persists a token record.
func (m *Manager) AssetTokenPut(token *assets.Token) error {
	if token == nil || token.ID == nil || token.ID.Sign() < 0 {
		return fmt.Errorf("assets: invalid token")
	}
	return m.putRLP(tokenKey(token.Collection, token.ID), &storedToken{
		Collection: token.Collection,
		ID:         new(big.Int).Set(token.ID),
		Owner:      token.Owner,
		Approved:   token.Approved,
	})
}

// AssetOperatorApproved reports whether operator may move every token owner
// holds in collection.
func (m *Manager) AssetOperatorApproved(collection, owner, operator [20]byte) (bool, error) {
	var approved bool
	ok, err := m.getRLP(operatorKey(collection, owner, operator), &approved)
	if err != nil || !ok {
		return false, err
	}
	return approved, nil
}

// AssetSetOperator records or revokes an operator approval.
func (m *Manager) AssetSetOperator(collection, owner, operator [20]byte, approved bool) error {
	key := operatorKey(collection, owner, operator)
	if !approved {
		m.del(key)
		return nil
	}
	return m.putRLP(key, true)
}
