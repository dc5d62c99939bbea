package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch results.
const (
	DispatchSent      = "dispatched"
	DispatchDuplicate = "duplicate"
	DispatchFailed    = "failed"
)

type Registry struct {
	reg              *prometheus.Registry
	Webhooks         *prometheus.CounterVec
	Dispatch         *prometheus.CounterVec
	Invoices         *prometheus.CounterVec
	UpstreamFailures *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhooks_total",
		Help: "Provider notifications by outcome.",
	}, []string{"result"})
	dispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_dispatch_total",
		Help: "Device command dispatch attempts by outcome.",
	}, []string{"result"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_invoices_total",
		Help: "Invoices issued, real or simulated.",
	}, []string{"kind"})
	upstream := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_failures_total",
		Help: "Failed calls to the store or the payment provider.",
	}, []string{"op"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_handler_duration_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	r.MustRegister(webhooks, dispatch, invoices, upstream, duration)
	return &Registry{
		reg:              r,
		Webhooks:         webhooks,
		Dispatch:         dispatch,
		Invoices:         invoices,
		UpstreamFailures: upstream,
		HandlerDuration:  duration,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
