// Package thread gives a running pipeline its voice in the task's chat
// thread and a read cursor over the human replies collected there.
package thread

import (
	"context"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// Wait defaults. A task blocks on feedback at most ten minutes and
// checks the inbox every ten seconds.
const (
	DefaultWaitTimeout = 10 * time.Minute
	DefaultWaitPoll    = 10 * time.Second
	DefaultWaitMin     = 1
)

// Channel is one task's view of its chat thread: posts go out stamped
// with the dog identity, and reads consume the thread inbox past a
// per-task pointer so the same feedback is never applied twice.
//
// The pointer is task-local state. Channels are not safe for concurrent
// use; a pipeline owns exactly one.
type Channel struct {
	chat      core.ChatClient
	store     core.CoordinationStore
	clock     core.Clock
	logger    *logging.Logger
	channelID string
	threadTS  string
	dogName   string
	pointer   int64
}

// NewChannel creates the channel for one task.
func NewChannel(chat core.ChatClient, store core.CoordinationStore, clock core.Clock, logger *logging.Logger, channelID, threadTS, dogName string) *Channel {
	return &Channel{
		chat:      chat,
		store:     store,
		clock:     clock,
		logger:    logger,
		channelID: channelID,
		threadTS:  threadTS,
		dogName:   dogName,
	}
}

// Post writes a dog-stamped message into the thread. Chat failures are
// logged, never returned: progress notes must not fail a pipeline.
func (c *Channel) Post(ctx context.Context, text string) {
	if _, err := c.chat.PostMessage(ctx, c.channelID, c.threadTS, core.FormatDogMessage(c.dogName, text)); err != nil {
		c.logger.Warn("thread post failed", "thread_ts", c.threadTS, "error", err)
	}
}

// Ask posts a question in the fixed question format.
func (c *Channel) Ask(ctx context.Context, question string) {
	if _, err := c.chat.PostMessage(ctx, c.channelID, c.threadTS, core.FormatQuestion(question)); err != nil {
		c.logger.Warn("thread question failed", "thread_ts", c.threadTS, "error", err)
	}
}

// Announce posts a milestone message verbatim. The draft-PR and
// terminal posts carry their own speaker line, so they skip the dog
// stamp Post adds.
func (c *Channel) Announce(ctx context.Context, text string) {
	if _, err := c.chat.PostMessage(ctx, c.channelID, c.threadTS, text); err != nil {
		c.logger.Warn("thread announce failed", "thread_ts", c.threadTS, "error", err)
	}
}

// DrainNew consumes every inbox message past the pointer and returns
// them combined into one feedback block. The bool reports whether
// anything new was found. Store failures read as "no new feedback".
func (c *Channel) DrainNew(ctx context.Context) (string, bool) {
	msgs, err := c.store.ThreadMessages(ctx, c.threadTS, c.pointer)
	if err != nil {
		c.logger.Warn("thread inbox read failed", "thread_ts", c.threadTS, "error", err)
		return "", false
	}
	if len(msgs) == 0 {
		return "", false
	}
	c.pointer += int64(len(msgs))
	return core.CombineFeedback(msgs), true
}

// Wait blocks until at least min new messages arrive or timeout
// elapses, polling every poll. Zero arguments take the defaults. The
// returned messages are consumed (the pointer advances past them);
// on timeout whatever arrived is returned, possibly nothing.
func (c *Channel) Wait(ctx context.Context, timeout, poll time.Duration, min int) []core.ThreadMessage {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if poll <= 0 {
		poll = DefaultWaitPoll
	}
	if min < DefaultWaitMin {
		min = DefaultWaitMin
	}

	deadline := c.clock.Now().Add(timeout)
	for {
		msgs, err := c.store.ThreadMessages(ctx, c.threadTS, c.pointer)
		if err != nil {
			c.logger.Warn("thread inbox read failed", "thread_ts", c.threadTS, "error", err)
			msgs = nil
		}
		if len(msgs) >= min {
			c.pointer += int64(len(msgs))
			return msgs
		}
		if c.clock.Now().Add(poll).After(deadline) {
			// The next poll would land past the deadline; take what we have.
			c.pointer += int64(len(msgs))
			return msgs
		}
		if err := c.clock.Sleep(ctx, poll); err != nil {
			c.pointer += int64(len(msgs))
			return msgs
		}
	}
}

// AllMessages returns the full inbox from the beginning, for the PR
// body's thread-feedback section. The pointer does not move.
func (c *Channel) AllMessages(ctx context.Context) []core.ThreadMessage {
	msgs, err := c.store.ThreadMessages(ctx, c.threadTS, 0)
	if err != nil {
		c.logger.Warn("thread inbox read failed", "thread_ts", c.threadTS, "error", err)
		return nil
	}
	return msgs
}

// DogName returns the posting identity.
func (c *Channel) DogName() string { return c.dogName }

// ThreadTS returns the thread timestamp the channel is bound to.
func (c *Channel) ThreadTS() string { return c.threadTS }

// ChannelID returns the chat channel id.
func (c *Channel) ChannelID() string { return c.channelID }
