package app

import (
	"context"
	"time"

	"github.com/citypulse/earnings-service/internal/domain"
	"github.com/citypulse/earnings-service/pkg/rabbitmq"
)

// Notifier hands a user-facing message to the delivery pipeline.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// QueueNotifier publishes notifications on a work queue. Delivery (push,
// SMS) is owned by whatever consumes that queue.
type QueueNotifier struct {
	publisher rabbitmq.Publisher
	queue     string
	now       func() time.Time
}

func NewQueueNotifier(publisher rabbitmq.Publisher, queue string) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, queue: queue, now: time.Now}
}

func (n *QueueNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = n.now()
	}
	return n.publisher.Enqueue(ctx, n.queue, msg)
}
