// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	sessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "sessions_created_total",
			Help:      "Verification sessions created.",
		},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "transfers_total",
			Help:      "Transfer attempts by result (ok, rejected, error).",
		},
		[]string{"result"},
	)
	itemWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "item_writes_total",
			Help:      "Item writes by operation (value, verified).",
		},
		[]string{"op"},
	)
	outboxDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts by kind and result (delivered, retry, dead).",
		},
		[]string{"kind", "result"},
	)
	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "rpc_requests_total",
			Help:      "gRPC requests by method and status code.",
		},
		[]string{"method", "code"},
	)
)

// Register adds the collectors to the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sessionsCreated, transfers, itemWrites, outboxDeliveries, rpcRequests)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

func SessionCreated() {
	sessionsCreated.Inc()
}

func Transfer(result string) {
	transfers.WithLabelValues(result).Inc()
}

func ItemWrite(op string) {
	itemWrites.WithLabelValues(op).Inc()
}

func OutboxDelivery(kind, result string) {
	outboxDeliveries.WithLabelValues(kind, result).Inc()
}

func RPC(method, code string) {
	rpcRequests.WithLabelValues(method, code).Inc()
}
