package core

import (
	"context"
	"math/big"

	"go.opentelemetry.io/otel/attribute"

	"nhbmarket/native/assets"
	"nhbmarket/native/common"
)

func (n *Node) applyAssets(ctx context.Context, op string, fn func() error) error {
	return n.apply(ctx, op, func() error {
		if err := common.Guard(n.pauses, AssetsModule); err != nil {
			return err
		}
		return fn()
	}, attribute.String("module", AssetsModule))
}

// CreateCollection registers a collection whose minter is creator.
func (n *Node) CreateCollection(ctx context.Context, creator [20]byte, name, symbol string) (*assets.Collection, error) {
	var collection *assets.Collection
	err := n.applyAssets(ctx, "create_collection", func() error {
		var err error
		collection, err = n.assets.CreateCollection(creator, name, symbol)
		return err
	})
	if err != nil {
		return nil, err
	}
	return collection, nil
}

// Mint issues a token of collection to the recipient.
func (n *Node) Mint(ctx context.Context, caller, collection [20]byte, id *big.Int, to [20]byte) (*assets.Token, error) {
	var token *assets.Token
	err := n.applyAssets(ctx, "mint", func() error {
		var err error
		token, err = n.assets.Mint(caller, collection, id, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Approve grants spender the right to transfer a single token.
func (n *Node) Approve(ctx context.Context, caller, collection [20]byte, id *big.Int, spender [20]byte) error {
	return n.applyAssets(ctx, "approve", func() error {
		return n.assets.Approve(caller, collection, id, spender)
	})
}

// SetApprovalForAll toggles operator authority over every token of caller in
// the collection. Sellers grant it to the market account before listing.
func (n *Node) SetApprovalForAll(ctx context.Context, caller, collection, operator [20]byte, approved bool) error {
	return n.applyAssets(ctx, "set_operator", func() error {
		return n.assets.SetApprovalForAll(caller, collection, operator, approved)
	})
}

// TransferAsset moves a token on behalf of an authorised operator.
func (n *Node) TransferAsset(ctx context.Context, operator, from, to, collection [20]byte, id *big.Int) error {
	return n.applyAssets(ctx, "transfer_asset", func() error {
		return n.assets.TransferFrom(operator, from, to, collection, id)
	})
}

// Transfer moves a fungible balance between accounts.
func (n *Node) Transfer(ctx context.Context, token string, from, to [20]byte, amount *big.Int) error {
	return n.apply(ctx, "transfer", func() error {
		return n.bank.Transfer(token, from, to, amount)
	}, attribute.String("bank.token", token))
}
