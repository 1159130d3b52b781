package metrics

// Pipeline holds the metrics for the event integrity pipeline.
type Pipeline struct {
	registry *Registry

	// Counters
	EventsIngested *Counter
	EventsRejected *Counter
	BatchesFlushed *Counter
	AnchorAttempts *Counter
	AnchorFailures *Counter

	// Gauges
	PendingEvents *Gauge
	FailedBatches *Gauge

	// Histograms
	AnchorLatency *Histogram
}

// NewPipeline creates and registers the pipeline metrics.
func NewPipeline(registry *Registry) *Pipeline {
	return &Pipeline{
		registry: registry,

		EventsIngested: registry.RegisterCounter(
			"events_ingested_total",
			"Total number of events accepted into the pipeline",
		),
		EventsRejected: registry.RegisterCounter(
			"events_rejected_total",
			"Total number of events rejected at ingestion",
		),
		BatchesFlushed: registry.RegisterCounter(
			"batches_flushed_total",
			"Total number of batches created",
		),
		AnchorAttempts: registry.RegisterCounter(
			"anchor_attempts_total",
			"Total number of ledger anchoring attempts",
		),
		AnchorFailures: registry.RegisterCounter(
			"anchor_failures_total",
			"Total number of failed ledger anchoring attempts",
		),

		PendingEvents: registry.RegisterGauge(
			"pending_events",
			"Number of buffered, not-yet-batched events",
		),
		FailedBatches: registry.RegisterGauge(
			"failed_batches",
			"Number of batches currently in FAILED state",
		),

		AnchorLatency: registry.RegisterHistogram(
			"anchor_duration_seconds",
			"Duration of ledger anchoring calls",
			DurationBuckets,
		),
	}
}

// Registry returns the underlying registry.
func (p *Pipeline) Registry() *Registry { return p.registry }
