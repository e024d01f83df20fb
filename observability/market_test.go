package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
)

func TestMarketMetricsCountsCommittedEvents(t *testing.T) {
	m := Market()
	purchasedBefore := testutil.ToFloat64(m.events.WithLabelValues("market.listing.purchased"))
	fixedBefore := testutil.ToFloat64(m.volume.WithLabelValues("fixed"))
	royaltiesBefore := testutil.ToFloat64(m.royalties)

	m.Emit(events.Envelope{Evt: &types.Event{
		Type: "market.listing.purchased",
		Attributes: map[string]string{
			"amount":        "2000000000000000000",
			"royaltyAmount": "200000000000000000",
		},
	}})

	require.Equal(t, purchasedBefore+1, testutil.ToFloat64(m.events.WithLabelValues("market.listing.purchased")))
	require.InDelta(t, fixedBefore+2, testutil.ToFloat64(m.volume.WithLabelValues("fixed")), 1e-9)
	require.InDelta(t, royaltiesBefore+0.2, testutil.ToFloat64(m.royalties), 1e-9)
}

func TestMarketMetricsCountsTransfers(t *testing.T) {
	m := Market()
	before := testutil.ToFloat64(m.transfers.WithLabelValues("ZNHB"))
	m.Emit(events.Transfer{Asset: "znhb", From: [20]byte{1}, To: [20]byte{2}})
	require.Equal(t, before+1, testutil.ToFloat64(m.transfers.WithLabelValues("ZNHB")))
}

func TestObserveTransaction(t *testing.T) {
	m := Market()
	committed := testutil.ToFloat64(m.txTotal.WithLabelValues("buy", "committed"))
	rolledBack := testutil.ToFloat64(m.txTotal.WithLabelValues("buy", "rolled_back"))

	m.ObserveTransaction("buy", time.Millisecond, nil)
	m.ObserveTransaction("buy", time.Millisecond, errors.New("boom"))

	require.Equal(t, committed+1, testutil.ToFloat64(m.txTotal.WithLabelValues("buy", "committed")))
	require.Equal(t, rolledBack+1, testutil.ToFloat64(m.txTotal.WithLabelValues("buy", "rolled_back")))
}

func TestToNHB(t *testing.T) {
	require.Zero(t, toNHB(""))
	require.Zero(t, toNHB("not-a-number"))
	require.InDelta(t, 1.5, toNHB("1500000000000000000"), 1e-12)
}
