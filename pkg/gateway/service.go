// Package gateway reconciles provider payment events with stored orders and
// dispatches at most one fill command per paid order.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"waterstation-gateway/pkg/config"
	"waterstation-gateway/pkg/metrics"
	"waterstation-gateway/pkg/provider"
	"waterstation-gateway/pkg/store"
)

// Notifier publishes best-effort events. *nats.Conn satisfies it.
type Notifier interface {
	PublishJSON(subject string, v interface{}) error
}

type Service struct {
	cfg      *config.Config
	store    store.Store
	provider provider.InvoiceCreator
	notifier Notifier
	metrics  *metrics.Registry
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(cfg *config.Config, st store.Store, invoices provider.InvoiceCreator, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    st,
		provider: invoices,
		metrics:  metrics.NewRegistry(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Metrics() *metrics.Registry { return s.metrics }

func (s *Service) nowMillis() int64 { return s.now().UnixMilli() }

type policy int

const (
	// required failures abort the operation with an UpstreamError.
	required policy = iota
	// bestEffort failures are logged and the caller continues with a default.
	bestEffort
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeSoftFail
	outcomeHardFail
)

type callResult struct {
	outcome outcome
	err     error
}

func (r callResult) ok() bool { return r.outcome == outcomeOK }

// call runs one outbound dependency call under the upstream timeout and
// classifies its failure according to p.
func (s *Service) call(ctx context.Context, logPrefix, op string, p policy, fn func(ctx context.Context) error) callResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return callResult{outcome: outcomeOK}
	}

	s.metrics.UpstreamFailures.WithLabelValues(op).Inc()
	if p == bestEffort {
		s.logger.Warn(logPrefix+"Non-fatal upstream failure", "op", op, "error", err)
		return callResult{outcome: outcomeSoftFail, err: err}
	}
	s.logger.Error(logPrefix+"Upstream failure", "op", op, "error", err)
	return callResult{outcome: outcomeHardFail, err: &UpstreamError{Op: op, Err: err}}
}
