// Package pubsub bridges review triggers over Google Cloud Pub/Sub.
// Delivery is at-least-once; the workflow engine's idempotent handlers absorb
// duplicates.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Config identifies the trigger topic and subscription.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
}

// Queue publishes and receives triggers on a Pub/Sub topic. It authenticates
// using Application Default Credentials.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger
}

// New creates a queue and verifies the topic exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	q := &Queue{
		client: client,
		topic:  topic,
		logger: logger.Named("pubsub"),
	}
	if cfg.SubscriptionID != "" {
		q.sub = client.Subscription(cfg.SubscriptionID)
	}
	return q, nil
}

// Enqueue publishes a trigger and waits for the server acknowledgement.
// Triggers drive state transitions, so fire-and-forget is not good enough
// here.
func (q *Queue) Enqueue(ctx context.Context, trigger review.Trigger) error {
	data, err := encodeTrigger(trigger)
	if err != nil {
		return err
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":       string(trigger.Kind),
			"session_id": trigger.SessionID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish trigger: %w", err)
	}
	return nil
}

// Receive pulls triggers and hands them to the handler until the context
// ends. Handler failures nack the message for redelivery; undecodable
// messages are acked and dropped, redelivery cannot fix them.
func (q *Queue) Receive(ctx context.Context, handle func(context.Context, review.Trigger) error) error {
	if q.sub == nil {
		return fmt.Errorf("no subscription configured")
	}
	return q.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		trigger, err := decodeTrigger(msg.Data)
		if err != nil {
			q.logger.Error("drop undecodable trigger message", zap.Error(err))
			msg.Ack()
			return
		}
		trigger.Attempt++
		if err := handle(msgCtx, trigger); err != nil {
			q.logger.Warn("trigger handling failed, nacking",
				zap.String("kind", string(trigger.Kind)),
				zap.String("session_id", trigger.SessionID),
				zap.Error(err),
			)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close stops the publisher and closes the client connection.
func (q *Queue) Close() error {
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func encodeTrigger(trigger review.Trigger) ([]byte, error) {
	data, err := json.Marshal(trigger)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger: %w", err)
	}
	return data, nil
}

func decodeTrigger(data []byte) (review.Trigger, error) {
	var trigger review.Trigger
	if err := json.Unmarshal(data, &trigger); err != nil {
		return review.Trigger{}, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if trigger.Kind == "" {
		return review.Trigger{}, fmt.Errorf("trigger has no kind")
	}
	return trigger, nil
}
