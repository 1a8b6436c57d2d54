// internal/metrics/collector.go
package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatch accepts at most this many datums per call.
const maxMetricsPerCall = 1000

// Collector emits operational counters (records ingested, sink successes,
// bytes scanned) as custom CloudWatch metrics.
type Collector struct {
	client    *cloudwatch.Client
	namespace string
	dims      []types.Dimension
}

// NewCollector builds a collector in the given namespace, tagged with the
// component name and environment.
func NewCollector(cfg aws.Config, namespace, component string) *Collector {
	dims := []types.Dimension{
		{
			Name:  aws.String("Environment"),
			Value: aws.String(environment()),
		},
		{
			Name:  aws.String("Component"),
			Value: aws.String(component),
		},
	}

	return &Collector{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
		dims:      dims,
	}
}

// MetricValue holds a metric value and its unit.
type MetricValue struct {
	Value float64
	Unit  types.StandardUnit
}

// Count builds a count metric value.
func Count(v float64) MetricValue {
	return MetricValue{Value: v, Unit: types.StandardUnitCount}
}

// LatencyMs builds a millisecond latency metric value.
func LatencyMs(v float64) MetricValue {
	return MetricValue{Value: v, Unit: types.StandardUnitMilliseconds}
}

// Bytes builds a bytes metric value.
func Bytes(v float64) MetricValue {
	return MetricValue{Value: v, Unit: types.StandardUnitBytes}
}

// EmitBatch sends multiple metrics in as few calls as possible.
func (c *Collector) EmitBatch(ctx context.Context, values map[string]MetricValue) error {
	if len(values) == 0 {
		return nil
	}

	data := make([]types.MetricDatum, 0, len(values))
	timestamp := aws.Time(time.Now())
	for name, mv := range values {
		data = append(data, types.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(mv.Value),
			Unit:       mv.Unit,
			Timestamp:  timestamp,
			Dimensions: c.dims,
		})
	}

	for start := 0; start < len(data); start += maxMetricsPerCall {
		end := min(start+maxMetricsPerCall, len(data))
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			return fmt.Errorf("failed to emit metrics: %w", err)
		}
	}
	return nil
}

func environment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
