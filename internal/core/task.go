package core

import (
	"fmt"
	"strings"
	"time"
)

// TaskPayload is the queued job: everything a worker needs to run one
// task end to end. It travels as JSON through the broker.
type TaskPayload struct {
	TaskID        string            `json:"task_id"`
	Description   string            `json:"description"`
	BranchName    string            `json:"branch_name"`
	DogName       string            `json:"dog_name"`
	ThreadTS      string            `json:"thread_ts"`
	ChannelID     string            `json:"channel_id"`
	RequesterName string            `json:"requester_name,omitempty"`
	RequesterURL  string            `json:"requester_url,omitempty"`
	StartTime     time.Time         `json:"start_time"`
	Images        []ImageAttachment `json:"images,omitempty"`
}

// ImageAttachment is an input image staged into the working tree.
type ImageAttachment struct {
	Filename string `json:"filename"`
	Mime     string `json:"mime"`
	Data     []byte `json:"data"`
}

// NewTaskID builds the coordination key binding a channel and thread to
// one task.
func NewTaskID(channelID, threadTS string) string {
	return channelID + "_" + threadTS
}

// SplitTaskID recovers the channel and thread from a task id. The thread
// timestamp may itself contain underscores only in pathological inputs;
// the first separator wins, matching NewTaskID.
func SplitTaskID(taskID string) (channelID, threadTS string, err error) {
	idx := strings.Index(taskID, "_")
	if idx <= 0 || idx == len(taskID)-1 {
		return "", "", fmt.Errorf("malformed task id: %q", taskID)
	}
	return taskID[:idx], taskID[idx+1:], nil
}

// Validate checks the payload has everything a worker needs.
func (p *TaskPayload) Validate() error {
	if p.TaskID == "" {
		return ErrValidation(CodeTaskNotFound, "task_id is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return ErrValidation(CodeEmptyDescription, "task description is required")
	}
	if len(p.Description) > MaxDescriptionLength {
		return ErrValidation("DESCRIPTION_TOO_LONG",
			fmt.Sprintf("description exceeds %d characters", MaxDescriptionLength))
	}
	if p.DogName == "" {
		return ErrValidation(CodeNoDogs, "dog_name is required")
	}
	if p.ThreadTS == "" || p.ChannelID == "" {
		return ErrValidation("MISSING_THREAD", "thread_ts and channel_id are required")
	}
	return nil
}

// TaskResult is the terminal record of one pipeline run.
type TaskResult struct {
	TaskID         string
	Status         TaskStatus
	PRURL          string
	BranchName     string
	CompletedPhase Phase
	Error          string
	CancelledBy    string
	CostTotal      float64
	CostBreakdown  map[string]float64
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Duration returns the wall-clock time the task ran for.
func (r *TaskResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Cancellation records who asked for a task to stop, read back from the
// coordination store at each checkpoint.
type Cancellation struct {
	CancelledBy   string `json:"cancelled_by"`
	CancelledByID string `json:"cancelled_by_id"`
	Timestamp     int64  `json:"timestamp"`
}

// ThreadMessage is one human message captured from the task's chat
// thread. The wire format matches what the intake listener appends.
type ThreadMessage struct {
	UserID    string  `json:"user_id"`
	UserName  string  `json:"user_name"`
	Text      string  `json:"text"`
	MessageTS string  `json:"message_ts"`
	Timestamp float64 `json:"ts"`
}

// Time converts the float unix timestamp to a time.Time.
func (m ThreadMessage) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// EditOutcome is the structured result of one editing-agent pass over
// the working tree.
type EditOutcome struct {
	Commits      int
	ChangedFiles []string
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	Repaired     bool
}

// Changed reports whether the pass produced any edits.
func (o EditOutcome) Changed() bool {
	return o.Commits > 0 || len(o.ChangedFiles) > 0
}
