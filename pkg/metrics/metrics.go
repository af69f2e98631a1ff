// Package metrics exposes terminal activity to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "goldperp"

type Metrics struct {
	registry *prometheus.Registry

	priceFetches  *prometheus.CounterVec
	markPrice     prometheus.Gauge
	positionReads *prometheus.CounterVec
	positionPnL   prometheus.Gauge
	positionLev   prometheus.Gauge
	trades        *prometheus.CounterVec
	tradeLatency  *prometheus.HistogramVec
	wsClients     prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,

		priceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_fetches_total",
			Help:      "Price feed requests by result",
		}, []string{"result"}),

		markPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mark_price_usd",
			Help:      "Last fetched XAUT price in USD",
		}),

		positionReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_reads_total",
			Help:      "Contract position reads by result",
		}, []string{"result"}),

		positionPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_pnl_usd",
			Help:      "Unrealized PnL of the connected account",
		}),

		positionLev: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_leverage",
			Help:      "Effective leverage of the connected account",
		}),

		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trade submissions by kind and outcome",
		}, []string{"kind", "outcome"}),

		tradeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_confirmation_seconds",
			Help:      "Time from submission to receipt",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"kind"}),

		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients",
		}),
	}

	registry.MustRegister(
		m.priceFetches, m.markPrice,
		m.positionReads, m.positionPnL, m.positionLev,
		m.trades, m.tradeLatency,
		m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) PriceFetched(price float64, err error) {
	if m == nil {
		return
	}
	m.priceFetches.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.markPrice.Set(price)
	}
}

func (m *Metrics) PositionRead(err error) {
	if m == nil {
		return
	}
	m.positionReads.WithLabelValues(result(err)).Inc()
}

// PositionDecoded records the decoded figures. open=false zeroes them.
func (m *Metrics) PositionDecoded(open bool, pnl, lev float64) {
	if m == nil {
		return
	}
	if !open {
		pnl, lev = 0, 0
	}
	m.positionPnL.Set(pnl)
	m.positionLev.Set(lev)
}

// TradeFinished counts a submission. outcome is "confirmed" or a failure kind.
func (m *Metrics) TradeFinished(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(kind, outcome).Inc()
	if outcome == "confirmed" {
		m.tradeLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) WSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}
