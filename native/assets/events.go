package assets

import (
	"nhbmarket/core/types"
	"nhbmarket/crypto"
)

const (
	EventTypeCollectionCreated = "assets.collection.created"
	EventTypeTokenMinted       = "assets.token.minted"
	EventTypeTokenTransferred  = "assets.token.transferred"
	EventTypeTokenApproved     = "assets.token.approved"
	EventTypeOperatorSet       = "assets.operator.set"
)

func newCollectionCreatedEvent(c *Collection) *types.Event {
	return &types.Event{
		Type: EventTypeCollectionCreated,
		Attributes: map[string]string{
			"collection": crypto.FormatCollection(c.Address),
			"name":       c.Name,
			"symbol":     c.Symbol,
			"minter":     crypto.FormatAccount(c.Minter),
		},
	}
}

func newTokenEvent(eventType string, t *Token, extra map[string]string) *types.Event {
	attrs := map[string]string{
		"collection": crypto.FormatCollection(t.Collection),
		"tokenId":    t.ID.String(),
		"owner":      crypto.FormatAccount(t.Owner),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newOperatorSetEvent(collection, owner, operator [20]byte, approved bool) *types.Event {
	value := "false"
	if approved {
		value = "true"
	}
	return &types.Event{
		Type: EventTypeOperatorSet,
		Attributes: map[string]string{
			"collection": crypto.FormatCollection(collection),
			"owner":      crypto.FormatAccount(owner),
			"operator":   crypto.FormatAccount(operator),
			"approved":   value,
		},
	}
}
