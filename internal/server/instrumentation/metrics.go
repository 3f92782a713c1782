package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	MetricTokenIssued       = "sessionkeeper.token.issued"
	MetricTokenRotated      = "sessionkeeper.token.rotated"
	MetricTokenRevoked      = "sessionkeeper.token.revoked"
	MetricTokenRejected     = "sessionkeeper.token.rejected"
	MetricReplayDetected    = "sessionkeeper.token.replay_detected"
	MetricRateLimitExceeded = "sessionkeeper.ratelimit.exceeded"
)

// Metrics holds the counters recorded by the server.
type Metrics struct {
	TokenIssued       metric.Int64Counter
	TokenRotated      metric.Int64Counter
	TokenRevoked      metric.Int64Counter
	TokenRejected     metric.Int64Counter
	ReplayDetected    metric.Int64Counter
	RateLimitExceeded metric.Int64Counter
}

func newMetrics(tokens, security metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst   *metric.Int64Counter
		meter metric.Meter
		name  string
		desc  string
		unit  string
	}{
		{&m.TokenIssued, tokens, MetricTokenIssued, "Refresh tokens issued at login", "{token}"},
		{&m.TokenRotated, tokens, MetricTokenRotated, "Refresh tokens rotated", "{token}"},
		{&m.TokenRevoked, tokens, MetricTokenRevoked, "Refresh tokens revoked", "{token}"},
		{&m.TokenRejected, tokens, MetricTokenRejected, "Rotation attempts rejected, by reason", "{attempt}"},
		{&m.ReplayDetected, security, MetricReplayDetected, "Presentations of already rotated refresh tokens", "{attempt}"},
		{&m.RateLimitExceeded, security, MetricRateLimitExceeded, "Requests rejected by rate limiting, by scope", "{request}"},
	}

	for _, c := range counters {
		*c.dst, err = c.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}
	return m, nil
}

func (m *Metrics) RecordTokenIssued(ctx context.Context) {
	m.TokenIssued.Add(ctx, 1)
}

func (m *Metrics) RecordTokenRotated(ctx context.Context) {
	m.TokenRotated.Add(ctx, 1)
}

func (m *Metrics) RecordTokenRevoked(ctx context.Context) {
	m.TokenRevoked.Add(ctx, 1)
}

// RecordTokenRejected counts a failed rotation. reason is one of the
// tokens.Rejection values and is never shown to callers.
func (m *Metrics) RecordTokenRejected(ctx context.Context, reason string) {
	m.TokenRejected.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

func (m *Metrics) RecordReplayDetected(ctx context.Context) {
	m.ReplayDetected.Add(ctx, 1)
}

func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, scope string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrScope, scope)))
}
