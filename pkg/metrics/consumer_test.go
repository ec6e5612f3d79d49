package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestConsumerMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewConsumerMetrics(reg)
	queue := "echo_data_ingestion_queue"

	metrics.IncProcessed(queue)
	metrics.IncProcessed(queue)
	metrics.IncDropped(queue)
	metrics.ObserveBatchSize(20)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "consumer_messages_processed", "queue", queue); err != nil {
		t.Fatalf("fetch processed: %v", err)
	} else if got != 2 {
		t.Fatalf("expected processed=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "consumer_messages_dropped", "queue", queue); err != nil {
		t.Fatalf("fetch dropped: %v", err)
	} else if got != 1 {
		t.Fatalf("expected dropped=1, got %f", got)
	}

	mf := findMetricFamily(mfs, "receipt_batch_size")
	if mf == nil {
		t.Fatal("receipt_batch_size not exported")
	}
	if sum := mf.GetMetric()[0].GetHistogram().GetSampleSum(); sum != 20 {
		t.Fatalf("expected batch size sum 20, got %f", sum)
	}
}

func TestNilRegistererIsNoOp(t *testing.T) {
	metrics := NewConsumerMetrics(nil)
	metrics.IncProcessed("q")
	metrics.IncDropped("q")
	metrics.ObserveBatchSize(5)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		for _, pair := range metric.GetLabel() {
			if pair.GetName() == label && pair.GetValue() == value {
				return metric.GetCounter().GetValue(), nil
			}
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}
