package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/commerce/internal/delivery"
	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubWorkQueuePublishesJob(t *testing.T) {
	srv, topic := newTestTopic(t, "work-queue")
	queue, err := NewPubSubWorkQueue(topic)
	if err != nil {
		t.Fatalf("NewPubSubWorkQueue: %v", err)
	}

	scheduleAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	job := services.WorkQueueJob{
		Type:            "MESSAGE",
		Input:           map[string]any{"template": "ORDER_CONFIRMATION", "orderId": "ord_1"},
		Retries:         5,
		ScheduleAt:      &scheduleAt,
		OriginalOrderID: "ord_1",
	}
	id, err := queue.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatalf("expected message id")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.WorkQueueJob
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != "MESSAGE" || payload.Input["template"] != "ORDER_CONFIRMATION" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["jobType"] != "MESSAGE" || attrs["retries"] != "5" || attrs["originalOrderId"] != "ord_1" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if attrs["scheduleAt"] != "2025-05-06T09:00:00Z" {
		t.Fatalf("unexpected scheduleAt %q", attrs["scheduleAt"])
	}
}

func TestPubSubWorkQueueRequiresJobType(t *testing.T) {
	_, topic := newTestTopic(t, "work-queue")
	queue, err := NewPubSubWorkQueue(topic)
	if err != nil {
		t.Fatalf("NewPubSubWorkQueue: %v", err)
	}
	if _, err := queue.Enqueue(context.Background(), services.WorkQueueJob{}); err == nil {
		t.Fatalf("expected error for missing job type")
	}
}

func TestPubSubDispatcherPublishesMessage(t *testing.T) {
	srv, topic := newTestTopic(t, "dispatch")
	dispatcher, err := NewPubSubDispatcher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDispatcher: %v", err)
	}

	msg := delivery.DispatchMessage{
		OrderID:     "ord_1",
		OrderNumber: "HC-2025-000001",
		DeliveryID:  "dlv_1",
		Provider:    delivery.ShippingKey,
		Address:     &domain.Address{Recipient: "Hanako", Line1: "1-2-3", City: "Tokyo", PostalCode: "100-0001", Country: "JP"},
		Items:       []delivery.DispatchItem{{PositionID: "pos_1", ProductID: "stamp", Quantity: 2}},
		RequestedAt: time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	tracking, err := dispatcher.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if tracking == "" {
		t.Fatalf("expected tracking reference")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload delivery.DispatchMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderNumber != "HC-2025-000001" || len(payload.Items) != 1 || payload.Items[0].Quantity != 2 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attrs := messages[0].Attributes; attrs["deliveryId"] != "dlv_1" || attrs["provider"] != delivery.ShippingKey {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestConstructorsRequireTopic(t *testing.T) {
	if _, err := NewPubSubWorkQueue(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
	if _, err := NewPubSubDispatcher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
