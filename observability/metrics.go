package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type facilityMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// VaultGauges mirrors the headline pool accounting into prometheus so
// dashboards can track NAV drift without polling the RPC surface.
type VaultGauges struct {
	nav                prometheus.Gauge
	sharePrice         prometheus.Gauge
	totalShares        prometheus.Gauge
	availableLiquidity prometheus.Gauge
	loansOutstanding   prometheus.Gauge
	accruedFees        prometheus.Gauge
	protocolFees       prometheus.Gauge
	totalStaked        prometheus.Gauge
	queueDepth         prometheus.Gauge
	queueOldestAge     prometheus.Gauge
	utilizationBps     prometheus.Gauge
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	facilityMetricsOnce sync.Once
	facilityRegistry    *facilityMetrics

	vaultGaugesOnce sync.Once
	vaultRegistry   *VaultGauges
)

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "apx",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "apx",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "apx",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "apx",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC call. A non-zero code marks the call
// as failed and feeds the error counter.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "payload_too_large" so dashboards and
// alerts remain consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// FacilityMetrics returns the registry tracking ledger operations regardless
// of the transport that triggered them.
func FacilityMetrics() *facilityMetrics {
	facilityMetricsOnce.Do(func() {
		facilityRegistry = &facilityMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "apx",
				Subsystem: "facility",
				Name:      "operations_total",
				Help:      "Count of facility operations segmented by module, operation and outcome.",
			}, []string{"module", "operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "apx",
				Subsystem: "facility",
				Name:      "errors_total",
				Help:      "Count of failed facility operations segmented by module, operation and reason.",
			}, []string{"module", "operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "apx",
				Subsystem: "facility",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for facility operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "operation"}),
		}
		prometheus.MustRegister(
			facilityRegistry.operations,
			facilityRegistry.errors,
			facilityRegistry.latency,
		)
	})
	return facilityRegistry
}

// Observe records one facility operation. The reason should be a stable
// category string rather than a raw error message so cardinality stays low.
func (m *facilityMetrics) Observe(module, operation string, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if strings.TrimSpace(reason) != "" {
		outcome = "error"
		m.errors.WithLabelValues(module, operation, labelReason(reason)).Inc()
	}
	m.operations.WithLabelValues(module, operation, outcome).Inc()
	m.latency.WithLabelValues(module, operation).Observe(duration.Seconds())
}

// Vault exposes the pool accounting gauges.
func Vault() *VaultGauges {
	vaultGaugesOnce.Do(func() {
		vaultRegistry = &VaultGauges{
			nav: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "nav_usdc",
				Help:      "Net asset value of the pool in USDC micro-units.",
			}),
			sharePrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "share_price_ray",
				Help:      "Share price scaled by 1e18.",
			}),
			totalShares: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "total_shares",
				Help:      "Outstanding LP shares in micro-units.",
			}),
			availableLiquidity: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "available_liquidity_usdc",
				Help:      "USDC available for loans and redemptions after the liquidity buffer.",
			}),
			loansOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "loans_outstanding_usdc",
				Help:      "Principal currently lent out in USDC micro-units.",
			}),
			accruedFees: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "accrued_fees_usdc",
				Help:      "LP fees recognised but not yet collected.",
			}),
			protocolFees: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "protocol_fees_usdc",
				Help:      "Protocol fees held for withdrawal.",
			}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "staked_appex_wei",
				Help:      "APPEX escrowed by stakers in wei.",
			}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "redemption_queue_depth",
				Help:      "Number of redemption requests waiting for settlement.",
			}),
			queueOldestAge: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "redemption_queue_oldest_age_seconds",
				Help:      "Age of the oldest queued redemption request.",
			}),
			utilizationBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "apx",
				Subsystem: "vault",
				Name:      "utilization_bps",
				Help:      "Loan principal as basis points of NAV.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.nav,
			vaultRegistry.sharePrice,
			vaultRegistry.totalShares,
			vaultRegistry.availableLiquidity,
			vaultRegistry.loansOutstanding,
			vaultRegistry.accruedFees,
			vaultRegistry.protocolFees,
			vaultRegistry.totalStaked,
			vaultRegistry.queueDepth,
			vaultRegistry.queueOldestAge,
			vaultRegistry.utilizationBps,
		)
	})
	return vaultRegistry
}

// RecordAccounting pushes one accounting snapshot into the gauges. Nil values
// record zero.
func (g *VaultGauges) RecordAccounting(nav, sharePrice, totalShares, availableLiquidity, loansOutstanding, accruedFees, protocolFees, totalStaked *big.Int) {
	if g == nil {
		return
	}
	g.nav.Set(bigToFloat(nav))
	g.sharePrice.Set(bigToFloat(sharePrice))
	g.totalShares.Set(bigToFloat(totalShares))
	g.availableLiquidity.Set(bigToFloat(availableLiquidity))
	g.loansOutstanding.Set(bigToFloat(loansOutstanding))
	g.accruedFees.Set(bigToFloat(accruedFees))
	g.protocolFees.Set(bigToFloat(protocolFees))
	g.totalStaked.Set(bigToFloat(totalStaked))
	if nav != nil && nav.Sign() > 0 && loansOutstanding != nil {
		util := new(big.Int).Mul(loansOutstanding, big.NewInt(10_000))
		util.Quo(util, nav)
		g.utilizationBps.Set(bigToFloat(util))
	} else {
		g.utilizationBps.Set(0)
	}
}

// RecordQueue updates the redemption queue gauges.
func (g *VaultGauges) RecordQueue(depth uint64, oldestAge time.Duration) {
	if g == nil {
		return
	}
	g.queueDepth.Set(float64(depth))
	seconds := oldestAge.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	g.queueOldestAge.Set(seconds)
}

func labelReason(reason string) string {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return "unspecified"
	}
	return trimmed
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
