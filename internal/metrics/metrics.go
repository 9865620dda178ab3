// Package metrics provides Prometheus instrumentation for the fund engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/fund-engine/internal/model"
)

var (
	// OperationsTotal counts fund operations by name and result (ok/rejected).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_operations_total",
		Help: "Total number of fund operations",
	}, []string{"operation", "result"})

	// OperationLatency tracks how long a fund operation holds the fund lock.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fund_operation_latency_seconds",
		Help:    "Fund operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// NetAssetValue is the NAV after pending fees.
	NetAssetValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_net_asset_value",
		Help: "Net asset value after pending fees",
	})

	// NetAssetValuePerShare is NAV divided by total supply.
	NetAssetValuePerShare = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_net_asset_value_per_share",
		Help: "Net asset value per share",
	})

	// Leverage is the signed position leverage.
	Leverage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_leverage",
		Help: "Signed leverage of the fund position",
	})

	// Drawdown is the fall of NAV per share below its high-water mark.
	Drawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_drawdown",
		Help: "Drawdown from the NAV per share high-water mark",
	})

	// TotalSupply is the number of shares outstanding.
	TotalSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_total_supply",
		Help: "Total shares outstanding",
	})

	// TotalFeeClaimed is the fee committed but not yet withdrawn.
	TotalFeeClaimed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_total_fee_claimed",
		Help: "Fee claimed and not yet withdrawn",
	})

	// LifecycleState is 0 normal, 1 emergency, 2 shutdown.
	LifecycleState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_lifecycle_state",
		Help: "Fund lifecycle state (0 normal, 1 emergency, 2 shutdown)",
	})

	// AuctionFills counts redemption auction fills by kind (redeeming/settled).
	AuctionFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_auction_fills_total",
		Help: "Redemption auction fills",
	}, []string{"kind"})

	// AuctionPriceLoss accumulates the price loss conceded to bidders.
	AuctionPriceLoss = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_auction_price_loss_total",
		Help: "Price loss conceded to auction bidders",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fund_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveOperation records one fund operation's outcome and latency.
func ObserveOperation(operation string, err error, start time.Time) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
	OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveNAV refreshes the valuation gauges from a snapshot.
func ObserveNAV(s model.NAVSnapshot) {
	NetAssetValue.Set(s.NetAssetValue.InexactFloat64())
	NetAssetValuePerShare.Set(s.NetAssetValuePerShare.InexactFloat64())
	Leverage.Set(s.Leverage.InexactFloat64())
	Drawdown.Set(s.Drawdown.InexactFloat64())
	TotalSupply.Set(s.TotalSupply.InexactFloat64())
}

// ObserveFee refreshes the fee and lifecycle gauges.
func ObserveFee(fee model.FeeState, status model.LifecycleStatus) {
	TotalFeeClaimed.Set(fee.TotalFeeClaimed.InexactFloat64())
	LifecycleState.Set(float64(status))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
