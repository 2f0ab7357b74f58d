// Package alert consumes candidate alerts from the SQS stream and feeds
// them through the decision engine one at a time. Ordering matters: a
// retraction must not overtake the alert it retracts, so the consumer never
// pulls more than one message at once.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/metrics"
	"github.com/knolan10/BBHBot/internal/types"
)

// longPollSeconds is the SQS receive wait. Twenty seconds is the SQS
// maximum and keeps empty-queue polling cheap.
const longPollSeconds = 20

// SQSReceiver abstracts the SQS receive and delete operations for
// testability. Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// decider runs one event through the trigger pipeline.
type decider interface {
	Decide(ctx context.Context, event types.Event) (types.DecisionOutcome, error)
}

// Consumer is the sequential alert-stream worker.
type Consumer struct {
	client   SQSReceiver
	engine   decider
	metrics  metrics.Recorder
	clock    types.Clock
	queueURL string
	cooldown time.Duration
	logger   *slog.Logger
}

// NewConsumer creates a Consumer for the alert queue.
func NewConsumer(client SQSReceiver, engine decider, rec metrics.Recorder, clock types.Clock, cfg *config.Config, logger *slog.Logger) *Consumer {
	return &Consumer{
		client:   client,
		engine:   engine,
		metrics:  rec,
		clock:    clock,
		queueURL: cfg.AWS.AlertQueueURL,
		cooldown: cfg.Admission.Cooldown,
		logger:   logger,
	}
}

// Run polls the alert queue until the context is canceled. Each message is
// fully processed and deleted before the next receive; failures on one
// message never stop the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "alert consumer started", slog.String("queue_url", c.queueURL))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.pollOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.ErrorContext(ctx, "alert receive failed", slog.String("error", err.Error()))
			c.metrics.Count(ctx, "AlertReceiveFailures", 1)
			// Back off before hammering a broken queue.
			if err := c.clock.Sleep(ctx, longPollSeconds*time.Second); err != nil {
				return err
			}
		}
	}
}

// pollOnce receives at most one message and processes it.
func (c *Consumer) pollOnce(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     longPollSeconds,
	})
	if err != nil {
		return err
	}
	if len(out.Messages) == 0 {
		return nil
	}

	msg := out.Messages[0]
	c.handle(ctx, aws.ToString(msg.Body))

	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		// The message will redeliver; the decision path is idempotent.
		c.logger.ErrorContext(ctx, "alert delete failed", slog.String("error", err.Error()))
		c.metrics.Count(ctx, "AlertDeleteFailures", 1)
	}
	return nil
}

// handle decodes and decides one alert. All failures are scoped to the
// message; malformed payloads are logged and dropped rather than poisoning
// the queue.
func (c *Consumer) handle(ctx context.Context, body string) {
	var event types.Event
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		c.logger.ErrorContext(ctx, "malformed alert payload", slog.String("error", err.Error()))
		c.metrics.Count(ctx, "AlertDecodeFailures", 1)
		return
	}

	outcome, err := c.engine.Decide(ctx, event)
	if err != nil {
		c.logger.ErrorContext(ctx, "decision failed",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		c.metrics.Count(ctx, "DecisionFailures", 1)
		return
	}

	c.logger.InfoContext(ctx, "alert decided",
		slog.String("event_id", event.ID),
		slog.String("outcome", string(outcome.Kind)),
		slog.String("reason", outcome.Reason),
	)
	c.metrics.Count(ctx, "Decision_"+string(outcome.Kind), 1)

	if outcome.Kind == types.DecisionTriggered {
		// Absorb the burst of near-duplicate alerts that follows a trigger.
		if err := c.clock.Sleep(ctx, c.cooldown); err != nil {
			return
		}
	}
}
