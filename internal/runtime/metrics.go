package runtime

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
	OutcomeAborted  = "aborted"
)

// Metrics holds the service instruments. A nil *Metrics records nothing.
type Metrics struct {
	exchanges        otelmetric.Int64Counter
	exchangeDuration otelmetric.Float64Histogram
	ingestURLs       otelmetric.Int64Counter
	searches         otelmetric.Int64Counter
}

// NewMetrics registers instruments on meter. Instruments that fail to register are
// logged and left as no-ops.
func NewMetrics(meter otelmetric.Meter) *Metrics {
	m := &Metrics{}
	var err error
	m.exchanges, err = meter.Int64Counter(
		"exchanges_total",
		otelmetric.WithDescription("Client exchanges handled, by outcome"),
	)
	if err != nil {
		log.Printf("metrics init: exchanges counter: %v", err)
	}
	m.exchangeDuration, err = meter.Float64Histogram(
		"exchange_duration_seconds",
		otelmetric.WithDescription("Wall time from request to final stream close"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("metrics init: exchange histogram: %v", err)
	}
	m.ingestURLs, err = meter.Int64Counter(
		"ingest_urls_total",
		otelmetric.WithDescription("Pages fetched into the similarity store, by outcome"),
	)
	if err != nil {
		log.Printf("metrics init: ingest counter: %v", err)
	}
	m.searches, err = meter.Int64Counter(
		"search_requests_total",
		otelmetric.WithDescription("Search engine requests, by outcome"),
	)
	if err != nil {
		log.Printf("metrics init: search counter: %v", err)
	}
	return m
}

func outcome(o string) otelmetric.MeasurementOption {
	return otelmetric.WithAttributes(attribute.String("outcome", o))
}

func (m *Metrics) Exchange(ctx context.Context, o string, took time.Duration) {
	if m == nil {
		return
	}
	if m.exchanges != nil {
		m.exchanges.Add(ctx, 1, outcome(o))
	}
	if m.exchangeDuration != nil {
		m.exchangeDuration.Record(ctx, took.Seconds(), outcome(o))
	}
}

func (m *Metrics) IngestURL(ctx context.Context, o string) {
	if m == nil || m.ingestURLs == nil {
		return
	}
	m.ingestURLs.Add(ctx, 1, outcome(o))
}

func (m *Metrics) Search(ctx context.Context, o string) {
	if m == nil || m.searches == nil {
		return
	}
	m.searches.Add(ctx, 1, outcome(o))
}
