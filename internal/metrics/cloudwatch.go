// Package metrics publishes operational counters for the pipeline: alerts
// processed, triggers committed, cadence pass outcomes, and photometry
// submission volumes. Publishing failures are logged and never block the
// pipeline.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const namespace = "BBHBot"

// CloudWatchAPI is the subset of the CloudWatch client used here.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher emits metrics to CloudWatch.
type Publisher struct {
	client CloudWatchAPI
	env    string
	logger *slog.Logger
}

// NewPublisher creates a Publisher tagging all metrics with the environment.
func NewPublisher(client CloudWatchAPI, env string, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, env: env, logger: logger}
}

// Count emits a unit-count metric.
func (p *Publisher) Count(ctx context.Context, name string, value float64) {
	p.put(ctx, name, value, cwtypes.StandardUnitCount)
}

// DurationSeconds emits a duration metric in seconds.
func (p *Publisher) DurationSeconds(ctx context.Context, name string, d time.Duration) {
	p.put(ctx, name, d.Seconds(), cwtypes.StandardUnitSeconds)
}

func (p *Publisher) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit) {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Timestamp:  aws.Time(time.Now().UTC()),
			Dimensions: []cwtypes.Dimension{{
				Name:  aws.String("Environment"),
				Value: aws.String(p.env),
			}},
		}},
	})
	if err != nil {
		p.logger.Warn("failed to publish metric",
			slog.String("metric", name),
			slog.String("error", err.Error()),
		)
	}
}

// Recorder is the metric surface the pipeline components depend on.
type Recorder interface {
	Count(ctx context.Context, name string, value float64)
	DurationSeconds(ctx context.Context, name string, d time.Duration)
}

// NopRecorder discards all metrics. Used in local runs and tests.
type NopRecorder struct{}

// Count implements Recorder.
func (NopRecorder) Count(context.Context, string, float64) {}

// DurationSeconds implements Recorder.
func (NopRecorder) DurationSeconds(context.Context, string, time.Duration) {}
