package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ConsumerMetrics records per-queue message processing outcomes plus the
// size of receipt batches as they flush.
type ConsumerMetrics struct {
	processed *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	batchSize prometheus.Histogram
}

// NewConsumerMetrics registers the consumer metrics on the provided
// registerer. A nil registerer yields a no-op instance.
func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_processed",
		Help: "Messages acknowledged after successful processing.",
	}, []string{"queue"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_dropped",
		Help: "Messages negatively acknowledged and discarded as poison.",
	}, []string{"queue"})
	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "receipt_batch_size",
		Help:    "Number of receipts applied per bulk flush.",
		Buckets: []float64{1, 5, 10, 15, 20},
	})
	reg.MustRegister(processed, dropped, batchSize)
	return &ConsumerMetrics{
		processed: processed,
		dropped:   dropped,
		batchSize: batchSize,
	}
}

// IncProcessed counts one acknowledged message for the named queue.
func (c *ConsumerMetrics) IncProcessed(queue string) {
	if c == nil || c.processed == nil {
		return
	}
	c.processed.WithLabelValues(normalizeLabel(queue)).Inc()
}

// IncDropped counts one discarded message for the named queue.
func (c *ConsumerMetrics) IncDropped(queue string) {
	if c == nil || c.dropped == nil {
		return
	}
	c.dropped.WithLabelValues(normalizeLabel(queue)).Inc()
}

// ObserveBatchSize records the size of one receipt flush.
func (c *ConsumerMetrics) ObserveBatchSize(size int) {
	if c == nil || c.batchSize == nil {
		return
	}
	c.batchSize.Observe(float64(size))
}

func normalizeLabel(queue string) string {
	if queue == "" {
		return "unknown"
	}
	return queue
}
