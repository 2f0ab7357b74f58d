package alert

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/knolan10/BBHBot/internal/config"
	"github.com/knolan10/BBHBot/internal/metrics"
	"github.com/knolan10/BBHBot/internal/types"
)

type fakeSQS struct {
	messages []sqsTypes.Message
	deleted  []string
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if len(f.messages) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return &sqs.ReceiveMessageOutput{Messages: []sqsTypes.Message{msg}}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeDecider struct {
	outcome types.DecisionOutcome
	err     error
	events  []types.Event
}

func (f *fakeDecider) Decide(_ context.Context, event types.Event) (types.DecisionOutcome, error) {
	f.events = append(f.events, event)
	return f.outcome, f.err
}

type sleepClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *sleepClock) Now() time.Time { return c.now }

func (c *sleepClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return ctx.Err()
}

func newTestConsumer(sqsClient *fakeSQS, engine *fakeDecider, clock *sleepClock) *Consumer {
	cfg := &config.Config{}
	cfg.AWS.AlertQueueURL = "https://sqs.test/alerts"
	cfg.Admission.Cooldown = 120 * time.Second
	return NewConsumer(sqsClient, engine, metrics.NopRecorder{}, clock,
		cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func alertMessage(body, handle string) sqsTypes.Message {
	return sqsTypes.Message{Body: aws.String(body), ReceiptHandle: aws.String(handle)}
}

func TestPollOnce_DecidesAndDeletes(t *testing.T) {
	sqsClient := &fakeSQS{messages: []sqsTypes.Message{
		alertMessage(`{"id":"S250101abc","alert_stage":"initial","significant":true}`, "h1"),
	}}
	engine := &fakeDecider{outcome: types.DecisionOutcome{Kind: types.DecisionSkip, Reason: "gate_group"}}
	clock := &sleepClock{now: time.Now()}
	c := newTestConsumer(sqsClient, engine, clock)

	if err := c.pollOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(engine.events) != 1 || engine.events[0].ID != "S250101abc" {
		t.Fatalf("expected one decoded event, got %v", engine.events)
	}
	if engine.events[0].Stage != types.StageInitial {
		t.Errorf("expected stage decoded, got %q", engine.events[0].Stage)
	}
	if len(sqsClient.deleted) != 1 || sqsClient.deleted[0] != "h1" {
		t.Errorf("expected message deleted, got %v", sqsClient.deleted)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("expected no cooldown on skip, got %v", clock.sleeps)
	}
}

func TestPollOnce_TriggerCoolsDown(t *testing.T) {
	sqsClient := &fakeSQS{messages: []sqsTypes.Message{
		alertMessage(`{"id":"S250101abc"}`, "h1"),
	}}
	engine := &fakeDecider{outcome: types.DecisionOutcome{Kind: types.DecisionTriggered}}
	clock := &sleepClock{now: time.Now()}
	c := newTestConsumer(sqsClient, engine, clock)

	if err := c.pollOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 120*time.Second {
		t.Errorf("expected 120s cooldown after trigger, got %v", clock.sleeps)
	}
}

func TestPollOnce_MalformedPayloadDropped(t *testing.T) {
	sqsClient := &fakeSQS{messages: []sqsTypes.Message{
		alertMessage(`{not json`, "h1"),
	}}
	engine := &fakeDecider{}
	c := newTestConsumer(sqsClient, engine, &sleepClock{now: time.Now()})

	if err := c.pollOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.events) != 0 {
		t.Error("expected no decision on malformed payload")
	}
	// Deleted anyway so the payload cannot poison the queue.
	if len(sqsClient.deleted) != 1 {
		t.Errorf("expected malformed message deleted, got %v", sqsClient.deleted)
	}
}

func TestPollOnce_DecisionFailureDoesNotStopLoop(t *testing.T) {
	sqsClient := &fakeSQS{messages: []sqsTypes.Message{
		alertMessage(`{"id":"S250101abc"}`, "h1"),
	}}
	engine := &fakeDecider{err: types.NewAppError(types.ErrCodeTransientPlanning, "planning down", nil)}
	c := newTestConsumer(sqsClient, engine, &sleepClock{now: time.Now()})

	if err := c.pollOnce(context.Background()); err != nil {
		t.Fatalf("decision failures are scoped to the message, got %v", err)
	}
	if len(sqsClient.deleted) != 1 {
		t.Errorf("expected message deleted, got %v", sqsClient.deleted)
	}
}

func TestPollOnce_EmptyReceiveIsQuiet(t *testing.T) {
	sqsClient := &fakeSQS{}
	engine := &fakeDecider{}
	c := newTestConsumer(sqsClient, engine, &sleepClock{now: time.Now()})

	if err := c.pollOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.events) != 0 || len(sqsClient.deleted) != 0 {
		t.Error("expected nothing processed on empty receive")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestConsumer(&fakeSQS{}, &fakeDecider{}, &sleepClock{now: time.Now()})

	if err := c.Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
