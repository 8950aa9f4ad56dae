// Package queue moves task payloads from the chat gateway to the
// worker pool over a streaming consumer group on the shared store, and
// hosts the periodic repository-invitation sweep that keeps dog
// accounts able to push.
package queue

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	"goa.design/pulse/streaming/options"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

const (
	// DefaultStream is the task stream name in the shared store.
	DefaultStream = "walker:tasks"
	// DefaultSink is the worker consumer group. Every worker process
	// joins the same group, so each task is delivered to exactly one.
	DefaultSink = "walker-workers"
	// EventTaskRequested tags queued payloads on the stream.
	EventTaskRequested = "task.requested"

	// streamMaxLen bounds the backlog retained in the store. Tasks past
	// it are long done or long lost.
	streamMaxLen = 10000
)

// Producer enqueues task payloads for the worker pool.
type Producer struct {
	stream *streaming.Stream
	logger *logging.Logger
}

// NewProducer opens the task stream on rdb. An empty name uses
// DefaultStream.
func NewProducer(rdb *redis.Client, name string, logger *logging.Logger) (*Producer, error) {
	if name == "" {
		name = DefaultStream
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	stream, err := streaming.NewStream(name, rdb, options.WithStreamMaxLen(streamMaxLen))
	if err != nil {
		return nil, core.Wrap(err, core.ErrCatNetwork, "QUEUE_UNAVAILABLE", "opening task stream")
	}
	return &Producer{stream: stream, logger: logger}, nil
}

// Enqueue publishes one payload. Workers pick tasks up in arrival
// order.
func (p *Producer) Enqueue(ctx context.Context, payload core.TaskPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return core.ErrInternal("encoding task payload")
	}
	id, err := p.stream.Add(ctx, EventTaskRequested, data)
	if err != nil {
		return core.Wrap(err, core.ErrCatNetwork, "QUEUE_UNAVAILABLE", "enqueueing task")
	}
	p.logger.Info("task enqueued", "task_id", payload.TaskID, "event_id", id)
	return nil
}

var _ core.JobProducer = (*Producer)(nil)
