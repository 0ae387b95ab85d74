// Package queue is the work-queue broker boundary. The broker carries
// only transient job pointers; the persisted tracking_jobs rows stay
// authoritative, so a lost message is recoverable by the reaper.
package queue

import (
	"context"
	"time"

	"github.com/citewatch/citewatch/internal/models"
)

// Message is one unit of tracking work: invoke one provider for one
// keyword.
type Message struct {
	JobID     string          `json:"jobId"`
	ProjectID string          `json:"projectId"`
	KeywordID string          `json:"keywordId"`
	Platform  models.Platform `json:"platform"`
}

// Delivery is one received message awaiting acknowledgment. An unacked
// delivery stays on the in-flight list and is redelivered after a
// restart.
type Delivery struct {
	Message Message

	ack func(ctx context.Context) error
}

// Ack removes the delivery from the in-flight list.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Broker is the queue contract: at-least-once delivery of tracking
// messages with support for delayed redelivery (retry backoff).
type Broker interface {
	// Enqueue makes a message deliverable immediately.
	Enqueue(ctx context.Context, msg Message) error

	// EnqueueDelayed makes a message deliverable after the delay.
	EnqueueDelayed(ctx context.Context, msg Message, delay time.Duration) error

	// Dequeue blocks until a message is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)

	// PromoteDue moves delayed messages whose time has come onto the
	// main queue. Called periodically by the worker's mover loop.
	PromoteDue(ctx context.Context) (int, error)

	// Depth reports how many messages are waiting for delivery.
	Depth(ctx context.Context) (int64, error)

	// Ping verifies the broker answers.
	Ping(ctx context.Context) error

	// Close releases broker resources.
	Close() error
}
