package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the authorization and identity counters to the global
// OpenTelemetry meter provider, for deployments that collect over OTLP
// instead of scraping /metrics.
type OTelMetrics struct {
	authzDecisions       metric.Int64Counter
	decentralizeCalls    metric.Int64Counter
	decentralizeDuration metric.Float64Histogram
	assignmentEdges      metric.Int64Counter
	loginAttempts        metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(TracerName)

	m := &OTelMetrics{}
	var err error

	m.authzDecisions, err = meter.Int64Counter(
		"roomdesk.authz.decisions",
		metric.WithDescription("Authorization gate decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz decisions counter: %w", err)
	}

	m.decentralizeCalls, err = meter.Int64Counter(
		"roomdesk.decentralize.calls",
		metric.WithDescription("Decentralize calls by kind and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decentralize counter: %w", err)
	}

	m.decentralizeDuration, err = meter.Float64Histogram(
		"roomdesk.decentralize.duration",
		metric.WithDescription("Decentralize duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decentralize histogram: %w", err)
	}

	m.assignmentEdges, err = meter.Int64Counter(
		"roomdesk.assignment.edges",
		metric.WithDescription("Assignment edges added or removed"),
		metric.WithUnit("{edge}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create assignment edges counter: %w", err)
	}

	m.loginAttempts, err = meter.Int64Counter(
		"roomdesk.login.attempts",
		metric.WithDescription("Login attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login attempts counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) recordAuthz(ctx context.Context, resource, decision string) {
	if m == nil {
		return
	}
	m.authzDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource", resource),
		attribute.String("decision", decision),
	))
}

func (m *OTelMetrics) recordDecentralize(ctx context.Context, kind, outcome string, added, removed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decentralizeCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
	m.decentralizeDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
	if added > 0 {
		m.assignmentEdges.Add(ctx, int64(added), metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("change", "add"),
		))
	}
	if removed > 0 {
		m.assignmentEdges.Add(ctx, int64(removed), metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("change", "remove"),
		))
	}
}

func (m *OTelMetrics) recordLogin(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
