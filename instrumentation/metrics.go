package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds pre-configured metric instruments for the front end.
type Metrics struct {
	// StoreOperations counts artifact store operations by kind, operation
	// and outcome (success, miss, error).
	StoreOperations metric.Int64Counter

	// StoreOperationDuration records artifact store operation latency in
	// seconds.
	StoreOperationDuration metric.Float64Histogram

	// StoreMisses counts not-found outcomes. Misses are routine (expired
	// codes, wrong uid) but their rate is worth watching.
	StoreMisses metric.Int64Counter

	// StoreRevocations counts grant-wide revocations.
	StoreRevocations metric.Int64Counter

	// HTTPRequests counts requests handled by the front end.
	HTTPRequests metric.Int64Counter

	// HTTPRequestDuration records front-end request latency in seconds.
	HTTPRequestDuration metric.Float64Histogram
}

func newMetrics(i *Instrumentation) (*Metrics, error) {
	storeMeter := i.Meter("store")
	httpMeter := i.Meter("http")

	m := &Metrics{}
	var err error

	m.StoreOperations, err = storeMeter.Int64Counter(
		"idpkit.store.operations",
		metric.WithDescription("Artifact store operations by kind, operation and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store operations counter: %w", err)
	}

	m.StoreOperationDuration, err = storeMeter.Float64Histogram(
		"idpkit.store.operation.duration",
		metric.WithDescription("Artifact store operation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	m.StoreMisses, err = storeMeter.Int64Counter(
		"idpkit.store.misses",
		metric.WithDescription("Artifact store lookups that returned not-found"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store misses counter: %w", err)
	}

	m.StoreRevocations, err = storeMeter.Int64Counter(
		"idpkit.store.revocations",
		metric.WithDescription("Grant-wide artifact revocations"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create revocations counter: %w", err)
	}

	m.HTTPRequests, err = httpMeter.Int64Counter(
		"idpkit.http.requests",
		metric.WithDescription("HTTP requests handled by the front end"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"idpkit.http.request.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}
