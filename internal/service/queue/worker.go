package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	"goa.design/pulse/streaming/options"
	"golang.org/x/sync/errgroup"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

const (
	// maxAttempts bounds wholesale retries of one payload. Only
	// transient failures that happened before any user-visible side
	// effect are retried.
	maxAttempts = 3
	// postTimeout bounds the worker's own failure post.
	postTimeout = 30 * time.Second
	// archiveTimeout bounds the history write.
	archiveTimeout = 10 * time.Second
)

// Runner executes one payload through the full pipeline.
type Runner interface {
	Run(ctx context.Context, payload core.TaskPayload) (core.TaskResult, error)
}

// RunnerBuilder assembles a single-use Runner and its cleanup for one
// payload. Task-scoped state (working tree, cost ledger, thread
// pointer) is created here, so a requeued payload starts clean and
// re-absorbs prior thread feedback.
type RunnerBuilder func(ctx context.Context, payload core.TaskPayload) (Runner, func(), error)

// ResultArchive records terminal task results.
type ResultArchive interface {
	RecordResult(ctx context.Context, dog string, res core.TaskResult) error
}

// WorkerDeps wires one worker pool.
type WorkerDeps struct {
	Redis *redis.Client
	// Stream and Sink name the task stream and the shared consumer
	// group. Empty values use the package defaults.
	Stream string
	Sink   string
	// Concurrency is how many tasks this process runs at once.
	// Defaults to 1; a dog walks one dog at a time unless told
	// otherwise.
	Concurrency int

	Build   RunnerBuilder
	Chat    core.ChatClient
	Archive ResultArchive

	Clock  core.Clock
	Logger *logging.Logger
}

// Worker consumes the task stream and runs one pipeline per event.
type Worker struct {
	deps WorkerDeps
}

// NewWorker validates the wiring and returns a worker pool.
func NewWorker(deps WorkerDeps) (*Worker, error) {
	if deps.Redis == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "worker requires a store connection")
	}
	if deps.Build == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "worker requires a runner builder")
	}
	if deps.Chat == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "worker requires a chat client")
	}
	if deps.Stream == "" {
		deps.Stream = DefaultStream
	}
	if deps.Sink == "" {
		deps.Sink = DefaultSink
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 1
	}
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Worker{deps: deps}, nil
}

// Run joins the consumer group and processes tasks until ctx ends.
// Events are acked only after the pipeline returns; a worker lost
// mid-task never acks, so the store redelivers the event.
func (w *Worker) Run(ctx context.Context) error {
	stream, err := streaming.NewStream(w.deps.Stream, w.deps.Redis,
		options.WithStreamMaxLen(streamMaxLen))
	if err != nil {
		return core.Wrap(err, core.ErrCatNetwork, "QUEUE_UNAVAILABLE", "opening task stream")
	}
	sink, err := stream.NewSink(ctx, w.deps.Sink, options.WithSinkStartAtOldest())
	if err != nil {
		return core.Wrap(err, core.ErrCatNetwork, "QUEUE_UNAVAILABLE", "joining worker group")
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sink.Close(cctx)
	}()

	w.deps.Logger.Info("worker pool starting",
		"stream", w.deps.Stream, "sink", w.deps.Sink, "concurrency", w.deps.Concurrency)

	ch := sink.Subscribe()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.deps.Concurrency; i++ {
		name := "worker-" + uuid.NewString()[:8]
		g.Go(func() error {
			return w.consume(gctx, name, sink, ch)
		})
	}
	return g.Wait()
}

// consume is one worker goroutine: pull, decode, run, ack.
func (w *Worker) consume(ctx context.Context, name string, sink *streaming.Sink, ch <-chan *streaming.Event) error {
	log := w.deps.Logger.With("worker", name)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			var payload core.TaskPayload
			if err := json.Unmarshal(evt.Payload, &payload); err != nil {
				// A payload that cannot decode never will; drop it.
				log.Error("dropping undecodable task event", "event_id", evt.ID, "error", err)
				if ackErr := sink.Ack(ctx, evt); ackErr != nil {
					log.Warn("ack failed", "event_id", evt.ID, "error", ackErr)
				}
				continue
			}

			w.process(ctx, log, payload)

			if err := sink.Ack(ctx, evt); err != nil {
				log.Warn("ack failed", "event_id", evt.ID, "task_id", payload.TaskID, "error", err)
			}
		}
	}
}

// process runs one payload to a terminal result, retrying wholesale
// when the pipeline failed transiently before any user-visible side
// effect, and archives whatever it ends with.
func (w *Worker) process(ctx context.Context, log *logging.Logger, payload core.TaskPayload) {
	log = log.WithTask(payload.TaskID)
	log.Info("task picked up", "dog", payload.DogName)

	var (
		res core.TaskResult
		err error
	)
	for attempt := 1; ; attempt++ {
		res, err = w.runOnce(ctx, payload)
		if err == nil || res.Status != "" {
			// Terminal: the pipeline posted and annotated already.
			break
		}
		if !core.IsRetryable(err) || attempt >= maxAttempts || ctx.Err() != nil {
			// The pipeline never reached a user-visible state, so the
			// thread still needs its terminal post.
			log.Error("task failed before reaching a reviewable state",
				"attempt", attempt, "error", err)
			w.postFailure(ctx, payload, err)
			res = w.syntheticFailure(payload, err)
			break
		}
		delay := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("transient failure, requeueing task",
			"attempt", attempt, "delay", delay, "error", err)
		if w.deps.Clock.Sleep(ctx, delay) != nil {
			w.postFailure(ctx, payload, err)
			res = w.syntheticFailure(payload, err)
			break
		}
	}

	w.archive(ctx, payload, res)
	log.Info("task finished", "status", res.Status, "pr", res.PRURL, "cost_usd", res.CostTotal)
}

// runOnce builds a fresh task-scoped pipeline and runs it. The cleanup
// always runs, pass or fail, so worker disks do not fill with clones.
func (w *Worker) runOnce(ctx context.Context, payload core.TaskPayload) (core.TaskResult, error) {
	runner, cleanup, err := w.deps.Build(ctx, payload)
	if err != nil {
		return core.TaskResult{TaskID: payload.TaskID}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	return runner.Run(ctx, payload)
}

// postFailure is the worker's own terminal post, used only when the
// pipeline died before producing one.
func (w *Worker) postFailure(ctx context.Context, payload core.TaskPayload, cause error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postTimeout)
	defer cancel()
	msg := core.FormatTaskFailed(cause.Error())
	if _, err := w.deps.Chat.PostMessage(pctx, payload.ChannelID, payload.ThreadTS, msg); err != nil {
		w.deps.Logger.Warn("failure post failed", "task_id", payload.TaskID, "error", err)
	}
}

func (w *Worker) syntheticFailure(payload core.TaskPayload, cause error) core.TaskResult {
	now := w.deps.Clock.Now()
	started := payload.StartTime
	if started.IsZero() {
		started = now
	}
	return core.TaskResult{
		TaskID:     payload.TaskID,
		Status:     core.StatusFailed,
		BranchName: payload.BranchName,
		Error:      cause.Error(),
		StartedAt:  started,
		FinishedAt: now,
	}
}

func (w *Worker) archive(ctx context.Context, payload core.TaskPayload, res core.TaskResult) {
	if w.deps.Archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := w.deps.Archive.RecordResult(actx, payload.DogName, res); err != nil {
		w.deps.Logger.Warn("archive write failed", "task_id", res.TaskID, "error", err)
	}
}
