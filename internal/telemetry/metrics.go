package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayMetrics holds metric instruments for per-request access decisions.
// Initialize once at server startup and reuse throughout the application lifecycle.
type GatewayMetrics struct {
	Decisions        metric.Int64Counter     // Verdicts by route class
	DecisionDuration metric.Float64Histogram // Time spent classifying, decoding and deciding
	DecodeFailures   metric.Int64Counter     // Tokens that could not be decoded or verified
}

// NewGatewayMetrics creates the gateway instruments on the global meter provider.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	meter := otel.Meter("gatewayd/gateway")

	decisions, err := meter.Int64Counter(
		"gateway.decision.count",
		metric.WithDescription("Total number of access decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 0.1ms .. 250ms; decisions without a cache miss stay well under 1ms
	duration, err := meter.Float64Histogram(
		"gateway.decision.duration",
		metric.WithDescription("Access decision latency"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250),
	)
	if err != nil {
		return nil, err
	}

	decodeFailures, err := meter.Int64Counter(
		"gateway.token.decode_failure.count",
		metric.WithDescription("Total number of session tokens that failed to decode or verify"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{
		Decisions:        decisions,
		DecisionDuration: duration,
		DecodeFailures:   decodeFailures,
	}, nil
}

// RecordDecision records one verdict. A nil receiver is a no-op.
func (m *GatewayMetrics) RecordDecision(ctx context.Context, route, verdict string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrRouteClass, route),
		attribute.String(AttrVerdict, verdict),
	)
	m.Decisions.Add(ctx, 1, attrs)
	m.DecisionDuration.Record(ctx, durationMs, attrs)
}

// RecordDecodeFailure counts a token rejected for reason (malformed, unverified, expired).
func (m *GatewayMetrics) RecordDecodeFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.DecodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTokenFailure, reason)))
}

// SessionMetrics holds metric instruments for sign-in, sign-up, sign-out and account deletion.
type SessionMetrics struct {
	Operations        metric.Int64Counter
	OperationDuration metric.Float64Histogram
	Throttled         metric.Int64Counter
}

// NewSessionMetrics creates the session lifecycle instruments on the global meter provider.
func NewSessionMetrics() (*SessionMetrics, error) {
	meter := otel.Meter("gatewayd/session")

	operations, err := meter.Int64Counter(
		"session.operation.count",
		metric.WithDescription("Total number of session lifecycle operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"session.operation.duration",
		metric.WithDescription("Session lifecycle operation duration, dominated by the IdP round trip"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	throttled, err := meter.Int64Counter(
		"session.sign_in.throttled.count",
		metric.WithDescription("Sign-in attempts rejected by the attempt limiter"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{
		Operations:        operations,
		OperationDuration: duration,
		Throttled:         throttled,
	}, nil
}

// RecordOperation records a lifecycle operation with its outcome. A nil receiver is a no-op.
func (m *SessionMetrics) RecordOperation(ctx context.Context, operation, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrSessionOperation, operation),
		attribute.String(AttrSessionOutcome, outcome),
	)
	m.Operations.Add(ctx, 1, attrs)
	m.OperationDuration.Record(ctx, durationMs, attrs)
}

// RecordThrottled counts a sign-in rejected before reaching the IdP.
func (m *SessionMetrics) RecordThrottled(ctx context.Context) {
	if m == nil {
		return
	}
	m.Throttled.Add(ctx, 1)
}

// Common attribute keys for gateway telemetry
const (
	AttrRouteClass   = "gateway.route_class"
	AttrVerdict      = "gateway.verdict"
	AttrTokenFailure = "gateway.token_failure"

	AttrSessionOperation = "session.operation"
	AttrSessionOutcome   = "session.outcome"
	AttrCustomerID       = "customer.id"
)
