// Package events publishes job lifecycle events to Kafka. The notification
// service consumes them; this service only produces.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/artmorph/photo-transformer/internal/model"
)

// Event types carried on the topic.
const (
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
	TypeJobCancelled = "job.cancelled"
)

// JobEvent is the payload published for a terminal job transition.
type JobEvent struct {
	Type        string       `json:"type"`
	JobID       string       `json:"job_id"`
	UserID      string       `json:"user_id"`
	Status      model.Status `json:"status"`
	FailureCode string       `json:"failure_code,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// Publisher represents a Kafka producer for job lifecycle events.
type Publisher struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
}

// NewPublisher creates a Publisher producing on the given topic.
func NewPublisher(brokers []string, topic string, s retry.Strategy) *Publisher {
	return &Publisher{
		Client:   wbfkafka.NewProducer(brokers, topic),
		strategy: s,
	}
}

// Publish serializes the event to JSON and sends it to Kafka. The job ID is
// used as the message key for partitioning and ordering.
func (p *Publisher) Publish(ctx context.Context, ev JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}

	key := []byte(ev.JobID)

	if err = p.Client.SendWithRetry(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send event: %v", err)
	}

	return nil
}
