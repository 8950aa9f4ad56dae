// Package coord implements the shared coordination layer: typed
// accessors over Redis for dog load, cancellation flags, thread
// binding and the thread inbox, plus the dog selector built on them.
package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// Key layout. Everything shared between intake and workers lives under
// the walker: prefix; keys are task- or dog-scoped so writes never
// collide across tasks.
const (
	keyActiveTasks    = "walker:active_tasks:%s"    // SET of task ids
	keyCancel         = "walker:cancel:%s"          // HASH cancelled_by, cancelled_by_id, timestamp
	keyThreadTask     = "walker:thread_task:%s"     // STRING task id, lifetime = task lifetime
	keyThreadMessages = "walker:thread_messages:%s" // LIST of JSON thread messages
)

const (
	cancelTTL        = time.Hour
	threadMessageTTL = 24 * time.Hour
)

// commands is the slice of the redis client the store uses. Narrow so
// tests can fake it without a live server.
type commands interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Time(ctx context.Context) *redis.TimeCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Store implements core.CoordinationStore over Redis.
//
// Status queries (load counts, cancellation reads) degrade to zero
// values with a logged warning when the store is unreachable; signal
// writes and thread binds propagate errors to the caller.
type Store struct {
	rdb    commands
	logger *logging.Logger
}

// Open connects to the store at url (redis:// or rediss://) and
// verifies connectivity.
func Open(ctx context.Context, url string, logger *logging.Logger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("store URL: %v", err))
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"pinging coordination store")
	}
	return &Store{rdb: rdb, logger: logger}, nil
}

// NewStore wraps an existing client. Used when several components share
// one connection pool.
func NewStore(rdb redis.UniversalClient, logger *logging.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

// Close releases the underlying connection pool when the store owns it.
func (s *Store) Close() error {
	if c, ok := s.rdb.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// AddActiveTask records taskID in the dog's live set.
func (s *Store) AddActiveTask(ctx context.Context, dog, taskID string) error {
	key := fmt.Sprintf(keyActiveTasks, dog)
	if err := s.rdb.SAdd(ctx, key, taskID).Err(); err != nil {
		return core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			fmt.Sprintf("adding active task for %s", dog))
	}
	return nil
}

// RemoveActiveTask removes taskID from the dog's live set. The bool
// reports whether the member was actually present, so callers can warn
// on double-free without failing.
func (s *Store) RemoveActiveTask(ctx context.Context, dog, taskID string) (bool, error) {
	key := fmt.Sprintf(keyActiveTasks, dog)
	n, err := s.rdb.SRem(ctx, key, taskID).Result()
	if err != nil {
		return false, core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			fmt.Sprintf("removing active task for %s", dog))
	}
	return n > 0, nil
}

// ActiveTaskCount returns the dog's live load. Degrades to zero on
// store failure: the selector must keep working through an outage.
func (s *Store) ActiveTaskCount(ctx context.Context, dog string) (int64, error) {
	key := fmt.Sprintf(keyActiveTasks, dog)
	n, err := s.rdb.SCard(ctx, key).Result()
	if err != nil {
		s.logger.Warn("active task count unavailable, assuming zero",
			"dog", dog, "error", err)
		return 0, nil
	}
	return n, nil
}

// SetCancellation writes the cancel flag for taskID. This is a signal
// write: failure propagates so intake can tell the user the click did
// not land.
func (s *Store) SetCancellation(ctx context.Context, taskID string, c core.Cancellation) error {
	key := fmt.Sprintf(keyCancel, taskID)
	fields := map[string]interface{}{
		"cancelled_by":    c.CancelledBy,
		"cancelled_by_id": c.CancelledByID,
		"timestamp":       strconv.FormatInt(c.Timestamp, 10),
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"writing cancellation flag")
	}
	if err := s.rdb.Expire(ctx, key, cancelTTL).Err(); err != nil {
		return core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"setting cancellation TTL")
	}
	return nil
}

// Cancellation reads the cancel flag. Missing flag returns (nil, nil).
// Store failure degrades to "not cancelled" with a warning: the task
// keeps running and the user can click again.
func (s *Store) Cancellation(ctx context.Context, taskID string) (*core.Cancellation, error) {
	key := fmt.Sprintf(keyCancel, taskID)
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		s.logger.Warn("cancellation read unavailable, assuming not cancelled",
			"task_id", taskID, "error", err)
		return nil, nil
	}
	if len(fields) == 0 {
		return nil, nil
	}
	c := &core.Cancellation{
		CancelledBy:   fields["cancelled_by"],
		CancelledByID: fields["cancelled_by_id"],
	}
	if raw, ok := fields["timestamp"]; ok {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.Timestamp = ts
		}
	}
	return c, nil
}

// ClearCancellation removes the cancel flag. Idempotent.
func (s *Store) ClearCancellation(ctx context.Context, taskID string) error {
	key := fmt.Sprintf(keyCancel, taskID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"clearing cancellation flag")
	}
	return nil
}

// BindThread marks the thread as owned by taskID. Presence of the key
// is what makes the intake listener forward thread replies.
func (s *Store) BindThread(ctx context.Context, threadTS, taskID string) error {
	key := fmt.Sprintf(keyThreadTask, threadTS)
	if err := s.rdb.Set(ctx, key, taskID, 0).Err(); err != nil {
		return core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"binding thread to task")
	}
	return nil
}

// ThreadTask returns the task bound to threadTS, or "" when the thread
// is not bound.
func (s *Store) ThreadTask(ctx context.Context, threadTS string) (string, error) {
	key := fmt.Sprintf(keyThreadTask, threadTS)
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"reading thread binding")
	}
	return val, nil
}

// UnbindThread removes the thread binding. Idempotent.
func (s *Store) UnbindThread(ctx context.Context, threadTS string) error {
	key := fmt.Sprintf(keyThreadTask, threadTS)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"unbinding thread")
	}
	return nil
}

// AppendThreadMessage pushes one human reply onto the thread inbox and
// refreshes the inbox TTL.
func (s *Store) AppendThreadMessage(ctx context.Context, threadTS string, msg core.ThreadMessage) error {
	key := fmt.Sprintf(keyThreadMessages, threadTS)
	data, err := json.Marshal(msg)
	if err != nil {
		return core.Wrap(err, core.ErrCatInternal, core.CodeParseFailed,
			"encoding thread message")
	}
	if err := s.rdb.RPush(ctx, key, data).Err(); err != nil {
		return core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"appending thread message")
	}
	if err := s.rdb.Expire(ctx, key, threadMessageTTL).Err(); err != nil {
		return core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"setting thread inbox TTL")
	}
	return nil
}

// ThreadMessages returns inbox entries from index from onward.
// Malformed entries are skipped with a warning; one corrupt message
// must not wedge feedback polling.
func (s *Store) ThreadMessages(ctx context.Context, threadTS string, from int64) ([]core.ThreadMessage, error) {
	key := fmt.Sprintf(keyThreadMessages, threadTS)
	entries, err := s.rdb.LRange(ctx, key, from, -1).Result()
	if err != nil {
		return nil, core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"reading thread messages")
	}
	msgs := make([]core.ThreadMessage, 0, len(entries))
	for _, entry := range entries {
		var msg core.ThreadMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			s.logger.Warn("skipping malformed thread message",
				"thread_ts", threadTS, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ServerTime returns the store's clock. Cancellation stamps use it so
// ordering does not depend on worker clock skew.
func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	t, err := s.rdb.Time(ctx).Result()
	if err != nil {
		return time.Time{}, core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"reading server time")
	}
	return t, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return core.Wrap(err, core.ErrCatNetwork, core.CodeStoreUnavailable,
			"pinging coordination store")
	}
	return nil
}

var _ core.CoordinationStore = (*Store)(nil)
