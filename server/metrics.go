package server

import (
	"math/big"
	"time"

	"github.com/flashbots/mev-bidder/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricNamespace = "mev_bidder"

	labelRelay   = "relay"
	labelGroup   = "group"
	labelOutcome = "outcome"

	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
)

var weiPerEth = big.NewFloat(1e18)

// BidderMetrics stores the pointers to the bidder metrics. A nil *BidderMetrics records nothing.
type BidderMetrics struct {
	slotsReady         prometheus.Counter
	slotsNoRelays      prometheus.Counter
	readyRelays        prometheus.Gauge
	readinessErrors    *prometheus.CounterVec
	submissions        *prometheus.CounterVec
	submissionsPerSlot prometheus.Histogram
	bidValue           prometheus.Gauge
	postDuration       *prometheus.HistogramVec
}

// NewBidderMetrics takes in a prometheus registry and initializes
// and registers the bidder metrics. It returns those registered metrics.
func NewBidderMetrics(r prometheus.Registerer) *BidderMetrics {
	return &BidderMetrics{
		slotsReady: promauto.With(r).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "slots_ready_total",
				Help:      "the total slots with at least one ready relay",
			}),
		slotsNoRelays: promauto.With(r).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "slots_without_relays_total",
				Help:      "the total slots without any ready relay",
			}),
		readyRelays: promauto.With(r).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "ready_relays",
				Help:      "the relays ready for the current slot",
			}),
		readinessErrors: promauto.With(r).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "readiness_errors_total",
				Help:      "the total failed validator fetches",
			}, []string{labelRelay}),
		submissions: promauto.With(r).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "submissions_total",
				Help:      "the total block submissions by relay and outcome",
			}, []string{labelRelay, labelGroup, labelOutcome}),
		submissionsPerSlot: promauto.With(r).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "submissions_per_slot",
				Help:      "the block submissions sent per relay and slot",
				Buckets:   prometheus.LinearBuckets(0, 1, 10),
			}),
		bidValue: promauto.With(r).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "bid_value_eth",
				Help:      "the value of the last dispatched bid",
			}),
		postDuration: promauto.With(r).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "relay_post_duration_milliseconds",
				Help:      "the total milliseconds taken for a relay to answer a block submission",
				Buckets:   prometheus.ExponentialBuckets(50, 3, 6),
			}, []string{labelRelay}),
	}
}

// ObserveReadiness records the ready relays of a new slot
func (m *BidderMetrics) ObserveReadiness(ready int) {
	if m == nil {
		return
	}
	m.readyRelays.Set(float64(ready))
	if ready > 0 {
		m.slotsReady.Inc()
	} else {
		m.slotsNoRelays.Inc()
	}
}

// ObserveReadinessError records a failed validator fetch
func (m *BidderMetrics) ObserveReadinessError(relayName string) {
	if m == nil {
		return
	}
	m.readinessErrors.WithLabelValues(relayName).Inc()
}

// ObserveBid records the value of a dispatched bid
func (m *BidderMetrics) ObserveBid(value *uint256.Int) {
	if m == nil || value == nil {
		return
	}
	eth, _ := new(big.Float).Quo(new(big.Float).SetInt(value.ToBig()), weiPerEth).Float64()
	m.bidValue.Set(eth)
}

// ObserveResult records the outcome of one relay submission
func (m *BidderMetrics) ObserveResult(result *types.RelayResult) {
	if m == nil {
		return
	}
	outcome := string(result.Kind)
	switch {
	case result.Accepted():
		outcome = outcomeAccepted
	case result.Rejected():
		outcome = outcomeRejected
	}
	m.submissions.WithLabelValues(result.Relay, result.Group, outcome).Inc()
	if result.Duration > 0 {
		m.postDuration.WithLabelValues(result.Relay).Observe(float64(result.Duration) / float64(time.Millisecond))
	}
}

// ObserveSlotSubmissions records how many submissions a relay received in a finished slot
func (m *BidderMetrics) ObserveSlotSubmissions(count int) {
	if m == nil {
		return
	}
	m.submissionsPerSlot.Observe(float64(count))
}
