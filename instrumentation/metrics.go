package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the studybot library.
type Metrics struct {
	// Token lifecycle metrics
	TokenRefreshTotal metric.Int64Counter
	CodeExchanged     metric.Int64Counter

	// Provider metrics
	ProviderCallsTotal   metric.Int64Counter
	ProviderCallDuration metric.Float64Histogram

	// Storage metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageAccounts          metric.Int64ObservableGauge

	meter metric.Meter
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	meter := inst.Meter("metrics")
	m := &Metrics{meter: meter}

	var err error

	m.TokenRefreshTotal, err = meter.Int64Counter("studybot.token.refresh.total",
		metric.WithDescription("Token refresh attempts by provider and outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh counter: %w", err)
	}

	m.CodeExchanged, err = meter.Int64Counter("studybot.code.exchanged.total",
		metric.WithDescription("Authorization code exchanges by provider and outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange counter: %w", err)
	}

	m.ProviderCallsTotal, err = meter.Int64Counter("studybot.provider.calls.total",
		metric.WithDescription("Outbound provider API calls"))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider call counter: %w", err)
	}

	m.ProviderCallDuration, err = meter.Float64Histogram("studybot.provider.call.duration",
		metric.WithDescription("Outbound provider API call duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider call histogram: %w", err)
	}

	m.StorageOperationTotal, err = meter.Int64Counter("studybot.storage.operation.total",
		metric.WithDescription("Storage operations by name and outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage counter: %w", err)
	}

	m.StorageOperationDuration, err = meter.Float64Histogram("studybot.storage.operation.duration",
		metric.WithDescription("Storage operation duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage histogram: %w", err)
	}

	m.StorageAccounts, err = meter.Int64ObservableGauge("studybot.storage.accounts",
		metric.WithDescription("Number of user accounts currently stored"))
	if err != nil {
		return nil, fmt.Errorf("failed to create accounts gauge: %w", err)
	}

	return m, nil
}

// RegisterAccountsCallback registers a callback reporting the current number
// of stored accounts. The callback must be cheap and lock-free.
func (m *Metrics) RegisterAccountsCallback(count func() int64) error {
	_, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.StorageAccounts, count())
		return nil
	}, m.StorageAccounts)
	if err != nil {
		return fmt.Errorf("failed to register accounts callback: %w", err)
	}
	return nil
}

// outcomeAttr converts an error into the standard outcome attribute.
func outcomeAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", "error")
	}
	return attribute.String("outcome", "success")
}

// RecordTokenRefresh records a token refresh attempt for a provider.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, provider string, err error) {
	m.TokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		outcomeAttr(err),
	))
}

// RecordCodeExchange records an authorization code exchange for a provider.
func (m *Metrics) RecordCodeExchange(ctx context.Context, provider string, err error) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		outcomeAttr(err),
	))
}

// RecordProviderCall records one outbound provider API call.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, operation string, err error, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		outcomeAttr(err),
	)
	m.ProviderCallsTotal.Add(ctx, 1, attrs)
	m.ProviderCallDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// RecordStorageOperation records one storage operation.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation string, err error, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		outcomeAttr(err),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}
