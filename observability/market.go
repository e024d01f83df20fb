package observability

import (
	"math/big"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nhbmarket/core/events"
	"nhbmarket/native/market"
)

// MarketMetrics tracks marketplace activity. It consumes committed events, so
// rolled back transactions are never counted.
type MarketMetrics struct {
	events     *prometheus.CounterVec
	volume     *prometheus.CounterVec
	royalties  prometheus.Counter
	transfers  *prometheus.CounterVec
	txTotal    *prometheus.CounterVec
	txDuration *prometheus.HistogramVec
}

var weiPerNHB = new(big.Float).SetFloat64(1e18)

// Market returns the singleton marketplace metrics registry.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbmarket",
				Subsystem: "market",
				Name:      "events_total",
				Help:      "Committed marketplace notifications segmented by type.",
			}, []string{"type"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbmarket",
				Subsystem: "market",
				Name:      "settled_volume_nhb",
				Help:      "Settled sale volume in NHB segmented by listing kind.",
			}, []string{"kind"}),
			royalties: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nhbmarket",
				Subsystem: "market",
				Name:      "royalties_paid_nhb",
				Help:      "Royalties routed to collection payout accounts in NHB.",
			}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbmarket",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of native transfers segmented by asset.",
			}, []string{"asset"}),
			txTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhbmarket",
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Ledger transactions segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhbmarket",
				Subsystem: "ledger",
				Name:      "transaction_duration_seconds",
				Help:      "Latency distribution of ledger transactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			marketRegistry.events,
			marketRegistry.volume,
			marketRegistry.royalties,
			marketRegistry.transfers,
			marketRegistry.txTotal,
			marketRegistry.txDuration,
		)
	})
	return marketRegistry
}

// Emit implements events.Emitter.
func (m *MarketMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := evt.EventType()
	if eventType == "" {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
	payload, ok := evt.(events.Payload)
	if !ok || payload.Event() == nil {
		return
	}
	attrs := payload.Event().Attributes
	switch eventType {
	case market.EventTypeListingPurchased:
		kind := attrs["saleKind"]
		if kind == "" {
			kind = market.SaleKindFixed
		}
		m.volume.WithLabelValues(kind).Add(toNHB(attrs["amount"]))
		m.royalties.Add(toNHB(attrs["royaltyAmount"]))
	case events.TypeTransfer:
		asset := strings.TrimSpace(strings.ToUpper(attrs["asset"]))
		if asset == "" {
			asset = "UNKNOWN"
		}
		m.transfers.WithLabelValues(asset).Inc()
	}
}

// ObserveTransaction records the outcome and latency of a ledger transaction.
func (m *MarketMetrics) ObserveTransaction(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "rolled_back"
	}
	m.txTotal.WithLabelValues(operation, outcome).Inc()
	m.txDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func toNHB(raw string) float64 {
	amount, ok := new(big.Float).SetString(strings.TrimSpace(raw))
	if !ok || amount.Sign() <= 0 {
		return 0
	}
	value, _ := new(big.Float).Quo(amount, weiPerNHB).Float64()
	return value
}
