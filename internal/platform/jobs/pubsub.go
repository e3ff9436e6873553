// Package jobs publishes background work to Pub/Sub topics.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/commerce/internal/delivery"
	"github.com/hanko-field/commerce/internal/services"
)

// PubSubWorkQueue publishes work queue jobs such as order confirmation messages.
type PubSubWorkQueue struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.WorkQueue = (*PubSubWorkQueue)(nil)

// NewPubSubWorkQueue constructs a Pub/Sub backed work queue.
func NewPubSubWorkQueue(topic *pubsub.Topic) (*PubSubWorkQueue, error) {
	if topic == nil {
		return nil, errors.New("pubsub work queue: topic is required")
	}
	return &PubSubWorkQueue{topic: topic, marshal: json.Marshal}, nil
}

// Enqueue publishes the job and returns the Pub/Sub message id.
func (q *PubSubWorkQueue) Enqueue(ctx context.Context, job services.WorkQueueJob) (string, error) {
	if q == nil || q.topic == nil {
		return "", errors.New("pubsub work queue: not initialised")
	}
	if strings.TrimSpace(job.Type) == "" {
		return "", errors.New("pubsub work queue: job type is required")
	}

	data, err := q.marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal work queue job: %w", err)
	}

	attrs := map[string]string{
		"jobType": job.Type,
		"retries": strconv.Itoa(job.Retries),
	}
	setAttr(attrs, "originalOrderId", job.OriginalOrderID)
	if job.ScheduleAt != nil {
		attrs["scheduleAt"] = job.ScheduleAt.UTC().Format(time.RFC3339)
	}

	return publish(ctx, q.topic, data, attrs, "work queue job")
}

// PubSubDispatcher hands shipping dispatch messages to the warehouse topic.
type PubSubDispatcher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ delivery.Dispatcher = (*PubSubDispatcher)(nil)

// NewPubSubDispatcher constructs a Pub/Sub backed dispatcher.
func NewPubSubDispatcher(topic *pubsub.Topic) (*PubSubDispatcher, error) {
	if topic == nil {
		return nil, errors.New("pubsub dispatcher: topic is required")
	}
	return &PubSubDispatcher{topic: topic, marshal: json.Marshal}, nil
}

// Dispatch publishes the message; the returned message id doubles as the tracking reference.
func (d *PubSubDispatcher) Dispatch(ctx context.Context, message delivery.DispatchMessage) (string, error) {
	if d == nil || d.topic == nil {
		return "", errors.New("pubsub dispatcher: not initialised")
	}
	data, err := d.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal dispatch message: %w", err)
	}
	attrs := make(map[string]string)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "deliveryId", message.DeliveryID)
	setAttr(attrs, "provider", message.Provider)
	// Ordering is not enabled on the topic; deliveryId lets the consumer deduplicate.
	return publish(ctx, d.topic, data, attrs, "dispatch message")
}

func publish(ctx context.Context, topic *pubsub.Topic, data []byte, attrs map[string]string, what string) (string, error) {
	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", what, err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
