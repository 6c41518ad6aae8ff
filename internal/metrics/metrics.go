package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inso_gateway"

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	submissions    *prometheus.CounterVec
	queries        *prometheus.CounterVec
	adapterLatency *prometheus.HistogramVec
	rpcRequests    *prometheus.CounterVec
	rpcOverloaded  *prometheus.CounterVec
	inFlight       *prometheus.GaugeVec
	ledgerVersion  prometheus.Gauge
	committedTxs   prometheus.Counter
	minGasPrice    prometheus.Gauge

	logger log.Logger
	server *http.Server
}

// New creates and registers the gateway collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Transaction submissions by admission status and validation outcome.",
		}, []string{"status", "outcome"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Ledger queries by result.",
		}, []string{"result"}),
		adapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_call_seconds",
			Help:      "Latency of validator, mempool and storage calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"adapter"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests by method.",
		}, []string{"method"}),
		rpcOverloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_overloaded_total",
			Help:      "Requests rejected because the in-flight limit was reached.",
		}, []string{"kind"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_requests",
			Help:      "Requests currently being served.",
		}, []string{"kind"}),
		ledgerVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_version",
			Help:      "Latest committed ledger version.",
		}),
		committedTxs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_transactions_total",
			Help:      "Transactions committed by the devnet producer.",
		}),
		minGasPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "min_gas_unit_price",
			Help:      "Minimum gas unit price in the current chain config snapshot.",
		}),
		logger: log.New("module", "metrics"),
	}
	m.Registry.MustRegister(
		m.submissions, m.queries, m.adapterLatency,
		m.rpcRequests, m.rpcOverloaded, m.inFlight,
		m.ledgerVersion, m.committedTxs, m.minGasPrice,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterMempoolSize exports the pool depth, read on every scrape.
func (m *Metrics) RegisterMempoolSize(size func() int) {
	if m == nil {
		return
	}
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mempool_size",
		Help:      "Transactions pending in the pool.",
	}, func() float64 { return float64(size()) }))
}

// ObserveSubmission counts one terminal submission result.
func (m *Metrics) ObserveSubmission(status, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(status, outcome).Inc()
}

// ObserveQuery counts one terminal query result.
func (m *Metrics) ObserveQuery(result string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(result).Inc()
}

// ObserveAdapter records the latency of an adapter call.
func (m *Metrics) ObserveAdapter(adapter string, d time.Duration) {
	if m == nil {
		return
	}
	m.adapterLatency.WithLabelValues(adapter).Observe(d.Seconds())
}

// ObserveRPC counts a JSON-RPC request.
func (m *Metrics) ObserveRPC(method string) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method).Inc()
}

// ObserveOverload counts a request turned away at the in-flight limit.
func (m *Metrics) ObserveOverload(kind string) {
	if m == nil {
		return
	}
	m.rpcOverloaded.WithLabelValues(kind).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its release.
func (m *Metrics) TrackInFlight(kind string) func() {
	if m == nil {
		return func() {}
	}
	g := m.inFlight.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}

// SetLedgerVersion records the latest committed version.
func (m *Metrics) SetLedgerVersion(v uint64) {
	if m == nil {
		return
	}
	m.ledgerVersion.Set(float64(v))
}

// AddCommitted counts committed transactions.
func (m *Metrics) AddCommitted(n int) {
	if m == nil {
		return
	}
	m.committedTxs.Add(float64(n))
}

// SetMinGasUnitPrice records the current gas price floor.
func (m *Metrics) SetMinGasUnitPrice(p uint64) {
	if m == nil {
		return
	}
	m.minGasPrice.Set(float64(p))
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve starts the Prometheus metrics HTTP endpoint.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"inso-gateway","timestamp":%d}`, time.Now().Unix())
	})

	m.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Metrics server starting", "addr", addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server error", "err", err)
		}
	}()
}

// Shutdown stops the metrics endpoint started by Serve.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
