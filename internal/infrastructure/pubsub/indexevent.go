package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"courseledger/internal/application/reconcile"
	"courseledger/internal/shared/goroutine"
	"courseledger/internal/shared/logger"
)

// IndexEventChannel carries indexer ingestion events and engine settle
// events.
const IndexEventChannel = "courseledger:index:events"

// IndexEventHandler is called for each received event.
type IndexEventHandler func(ctx context.Context, event reconcile.IndexEvent)

// IndexEventBus distributes index events across instances over Redis
// Pub/Sub. It implements reconcile.Publisher.
type IndexEventBus struct {
	client *redis.Client
	logger logger.Interface
}

var _ reconcile.Publisher = (*IndexEventBus)(nil)

func NewIndexEventBus(client *redis.Client, logger logger.Interface) *IndexEventBus {
	return &IndexEventBus{
		client: client,
		logger: logger,
	}
}

// PublishSettled announces that this instance saw an operation converge.
func (b *IndexEventBus) PublishSettled(ctx context.Context, event reconcile.IndexEvent) error {
	event.Type = reconcile.EventSettled
	return b.publish(ctx, event)
}

// PublishIndexed is the indexer side of the channel. The engine only uses
// it from tooling and tests.
func (b *IndexEventBus) PublishIndexed(ctx context.Context, event reconcile.IndexEvent) error {
	event.Type = reconcile.EventIndexed
	return b.publish(ctx, event)
}

func (b *IndexEventBus) publish(ctx context.Context, event reconcile.IndexEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, IndexEventChannel, data).Err(); err != nil {
		b.logger.Errorw("failed to publish index event",
			"type", event.Type,
			"subject_id", event.SubjectID,
			"resource_id", event.ResourceID,
			"error", err,
		)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debugw("index event published",
		"type", event.Type,
		"subject_id", event.SubjectID,
		"resource_id", event.ResourceID,
		"version_marker", event.VersionMarker,
	)
	return nil
}

// Subscribe blocks delivering events to handler until ctx is cancelled.
func (b *IndexEventBus) Subscribe(ctx context.Context, handler IndexEventHandler) error {
	sub := b.client.Subscribe(ctx, IndexEventChannel)
	defer sub.Close()

	// Wait for subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}

	b.logger.Infow("subscribed to index events",
		"channel", IndexEventChannel,
	)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Infow("index event subscriber stopped",
				"reason", ctx.Err(),
			)
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				b.logger.Warnw("index event channel closed")
				return nil
			}

			var event reconcile.IndexEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warnw("failed to unmarshal index event",
					"payload", msg.Payload,
					"error", err,
				)
				continue
			}
			if event.SubjectID == "" {
				b.logger.Warnw("index event without subject dropped",
					"payload", msg.Payload,
				)
				continue
			}

			// Handlers outlive the subscriber loop iteration.
			goroutine.SafeGo(b.logger, "index-event-handler", func() {
				handler(context.Background(), event)
			})
		}
	}
}
