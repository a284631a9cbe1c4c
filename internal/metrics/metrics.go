// Package metrics counts relay events with OpenTelemetry instruments and
// reads them back as a Summary for the status API and the shutdown log.
package metrics

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/nerrad567/gray-logic-relay/internal/observe"
)

const (
	instrumentationName = "github.com/nerrad567/gray-logic-relay"
	metricKeyPrefix     = "relay."

	eventsMetric   = metricKeyPrefix + "events"
	attemptsMetric = metricKeyPrefix + "delivery.attempts"
)

// Recorder is an observe.Recorder backed by an OpenTelemetry meter.
type Recorder struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader

	events   metric.Int64Counter
	attempts metric.Int64Histogram
}

// New creates a recorder with its own meter provider. Readings are pulled
// on demand by Summary; nothing is exported in the background.
func New(serviceName, version string) (*Recorder, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	)
	meter := provider.Meter(instrumentationName)

	events, err := meter.Int64Counter(eventsMetric,
		metric.WithDescription("Relay events by kind, reason and connection"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", eventsMetric, err)
	}

	attempts, err := meter.Int64Histogram(attemptsMetric,
		metric.WithDescription("Send attempts per delivered message"),
		metric.WithUnit("{attempts}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", attemptsMetric, err)
	}

	return &Recorder{
		provider: provider,
		reader:   reader,
		events:   events,
		attempts: attempts,
	}, nil
}

// Record implements observe.Recorder.
func (r *Recorder) Record(ctx context.Context, e observe.Event) {
	attrs := []attribute.KeyValue{attribute.String("kind", string(e.Kind))}
	if e.Reason != "" {
		attrs = append(attrs, attribute.String("reason", string(e.Reason)))
	}
	if e.Connection != "" {
		attrs = append(attrs, attribute.String("connection", e.Connection))
	}
	r.events.Add(ctx, 1, metric.WithAttributes(attrs...))

	if e.Kind == observe.KindDelivered {
		r.attempts.Record(ctx, int64(e.Attempts))
	}
}

// Shutdown releases the meter provider. Summary fails afterwards.
func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}

// Summary is a point-in-time read of the counters.
type Summary struct {
	Translated  int64            `json:"translated"`
	Delivered   int64            `json:"delivered"`
	Dropped     map[string]int64 `json:"dropped"`
	Connects    map[string]int64 `json:"connects"`
	Disconnects map[string]int64 `json:"disconnects"`
	Backoffs    map[string]int64 `json:"backoffs"`

	// MaxAttempts is the largest attempt count seen on a delivered message.
	MaxAttempts int64 `json:"max_attempts"`
}

// DroppedTotal sums drops over every reason.
func (s Summary) DroppedTotal() int64 {
	var total int64
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

// LogAttrs flattens the summary for a single slog line, with reasons in
// a stable order.
func (s Summary) LogAttrs() []any {
	attrs := []any{
		"translated", s.Translated,
		"delivered", s.Delivered,
		"dropped", s.DroppedTotal(),
	}
	reasons := make([]string, 0, len(s.Dropped))
	for reason := range s.Dropped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		attrs = append(attrs, "dropped_"+reason, s.Dropped[reason])
	}
	return attrs
}

// Summary collects the current readings.
func (r *Recorder) Summary(ctx context.Context) (Summary, error) {
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(ctx, &rm); err != nil {
		return Summary{}, fmt.Errorf("collecting metrics: %w", err)
	}

	s := Summary{
		Dropped:     map[string]int64{},
		Connects:    map[string]int64{},
		Disconnects: map[string]int64{},
		Backoffs:    map[string]int64{},
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == eventsMetric {
					s.addEvents(data.DataPoints)
				}
			case metricdata.Histogram[int64]:
				if m.Name == attemptsMetric {
					for _, dp := range data.DataPoints {
						if v, ok := dp.Max.Value(); ok && v > s.MaxAttempts {
							s.MaxAttempts = v
						}
					}
				}
			}
		}
	}
	return s, nil
}

func (s *Summary) addEvents(points []metricdata.DataPoint[int64]) {
	for _, dp := range points {
		kind := attrString(dp.Attributes, "kind")
		switch observe.Kind(kind) {
		case observe.KindTranslated:
			s.Translated += dp.Value
		case observe.KindDelivered:
			s.Delivered += dp.Value
		case observe.KindDropped:
			s.Dropped[attrString(dp.Attributes, "reason")] += dp.Value
		case observe.KindConnect:
			s.Connects[attrString(dp.Attributes, "connection")] += dp.Value
		case observe.KindDisconnect:
			s.Disconnects[attrString(dp.Attributes, "connection")] += dp.Value
		case observe.KindBackoff:
			s.Backoffs[attrString(dp.Attributes, "connection")] += dp.Value
		}
	}
}

func attrString(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.AsString()
}
