// Package intake turns chat events into queued tasks. Handlers do no
// pipeline work themselves: they validate, acknowledge within the
// socket's three-second budget and enqueue, leaving everything slow to
// the workers.
package intake

import (
	"context"
	"strings"
	"sync"

	"github.com/bryanowens-dev/walker/internal/adapters/chat"
	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// cancelActionID is the action id armed on the acknowledgement button.
const cancelActionID = "cancel_task"

// DogPicker selects the dog for a new task.
type DogPicker interface {
	Select(ctx context.Context) (core.Dog, error)
}

// CancelSignaller records a cancellation request for a running task.
type CancelSignaller interface {
	Signal(ctx context.Context, taskID, by, byID string) error
}

// Inbox is the coordination-store slice the thread listener needs:
// the thread→task binding probe and the feedback buffer append.
type Inbox interface {
	ThreadTask(ctx context.Context, threadTS string) (string, error)
	AppendThreadMessage(ctx context.Context, threadTS string, msg core.ThreadMessage) error
}

// FileFetcher downloads private chat attachments. Optional: without it
// mention attachments are dropped.
type FileFetcher interface {
	DownloadFile(ctx context.Context, url string) ([]byte, error)
}

// Deps wires the intake handler.
type Deps struct {
	Chat     core.ChatClient
	Files    FileFetcher
	Picker   DogPicker
	Producer core.JobProducer
	Inbox    Inbox
	Cancels  CancelSignaller
	Clock    core.Clock
	Logger   *logging.Logger

	// Channel restricts intake to one channel when set. Mentions from
	// other channels are ignored without a reply.
	Channel string
}

// Handler implements the socket event interface.
type Handler struct {
	deps Deps

	mu    sync.Mutex
	botID string
}

// NewHandler validates the wiring and returns the intake handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Chat == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "intake requires a chat client")
	}
	if deps.Picker == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "intake requires a dog selector")
	}
	if deps.Producer == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "intake requires a job producer")
	}
	if deps.Inbox == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "intake requires the coordination store")
	}
	if deps.Cancels == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "intake requires the cancel manager")
	}
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Handler{deps: deps}, nil
}

// HandleMention starts a task: select a dog, acknowledge with the
// cancel button, enqueue the payload. The acknowledgement goes out
// before the queue round-trip so the user sees a response even when
// the store is slow.
func (h *Handler) HandleMention(ctx context.Context, ev chat.MentionEvent) {
	if h.deps.Channel != "" && ev.Channel != h.deps.Channel {
		h.deps.Logger.Debug("mention outside home channel ignored", "channel", ev.Channel)
		return
	}

	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}
	log := h.deps.Logger.With("channel", ev.Channel, "thread_ts", threadTS)

	desc := h.stripMention(ctx, ev.Text)
	if desc == "" {
		if _, err := h.deps.Chat.PostMessage(ctx, ev.Channel, threadTS, core.FormatUsageHint()); err != nil {
			log.Warn("usage hint post failed", "error", err)
		}
		return
	}

	dog, err := h.deps.Picker.Select(ctx)
	if err != nil {
		log.Error("dog selection failed", "error", err)
		if _, perr := h.deps.Chat.PostMessage(ctx, ev.Channel, threadTS, core.FormatIntakeError(err)); perr != nil {
			log.Warn("error post failed", "error", perr)
		}
		return
	}

	taskID := core.NewTaskID(ev.Channel, threadTS)
	_, blocks := core.FormatTaskStarted(dog.Name, desc, taskID)
	if _, err := h.deps.Chat.PostBlocks(ctx, ev.Channel, threadTS, blocks); err != nil {
		// No acknowledgement means the user has no cancel button and no
		// sign the mention landed. Do not run a task they cannot see.
		log.Error("acknowledgement post failed, dropping task", "task_id", taskID, "error", err)
		return
	}

	now := h.deps.Clock.Now()
	payload := core.TaskPayload{
		TaskID:        taskID,
		Description:   desc,
		BranchName:    core.BranchName(dog.Name, now, desc),
		DogName:       dog.Name,
		ThreadTS:      threadTS,
		ChannelID:     ev.Channel,
		RequesterName: h.deps.Chat.UserDisplayName(ctx, ev.User),
		StartTime:     now,
		Images:        h.fetchImages(ctx, log, ev.Files),
	}

	if err := h.deps.Producer.Enqueue(ctx, payload); err != nil {
		log.Error("enqueue failed", "task_id", taskID, "error", err)
		if _, perr := h.deps.Chat.PostMessage(ctx, ev.Channel, threadTS, core.FormatIntakeError(err)); perr != nil {
			log.Warn("error post failed", "error", perr)
		}
		return
	}
	log.Info("task queued", "task_id", taskID, "dog", dog.Name, "images", len(payload.Images))
}

// HandleThreadMessage buffers a human reply posted in a bound thread so
// the working dog absorbs it at the next phase boundary.
func (h *Handler) HandleThreadMessage(ctx context.Context, ev chat.ThreadMessageEvent) {
	if ev.ThreadTS == "" {
		return
	}
	if ev.BotID != "" || ev.Subtype == "bot_message" {
		return
	}
	// Edits and deletions never reach the inbox; the dog already read
	// the original.
	if ev.Subtype == "message_changed" || ev.Subtype == "message_deleted" {
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		return
	}

	log := h.deps.Logger.With("thread_ts", ev.ThreadTS)
	taskID, err := h.deps.Inbox.ThreadTask(ctx, ev.ThreadTS)
	if err != nil {
		log.Warn("thread binding lookup failed", "error", err)
		return
	}
	if taskID == "" {
		return
	}

	now := h.deps.Clock.Now()
	msg := core.ThreadMessage{
		UserID:    ev.User,
		UserName:  h.deps.Chat.UserDisplayName(ctx, ev.User),
		Text:      ev.Text,
		MessageTS: ev.TS,
		Timestamp: float64(now.UnixNano()) / 1e9,
	}
	if err := h.deps.Inbox.AppendThreadMessage(ctx, ev.ThreadTS, msg); err != nil {
		log.Error("thread message append failed", "task_id", taskID, "error", err)
		return
	}
	if err := h.deps.Chat.AddReaction(ctx, ev.Channel, ev.TS, "eyes"); err != nil {
		log.Debug("reaction failed", "error", err)
	}
	log.Info("thread feedback captured", "task_id", taskID, "from", msg.UserName)
}

// HandleCancelAction records a cancel click. The pipeline observes the
// flag at its next checkpoint; this handler only sets it and swaps the
// acknowledgement message.
func (h *Handler) HandleCancelAction(ctx context.Context, ev chat.CancelActionEvent) {
	if ev.ActionID != cancelActionID {
		return
	}
	log := h.deps.Logger.With("channel", ev.ChannelID)
	taskID := ev.Value
	if taskID == "" {
		log.Error("cancel action carried no task id")
		return
	}
	log = log.WithTask(taskID)

	by := h.deps.Chat.UserDisplayName(ctx, ev.UserID)
	if err := h.deps.Cancels.Signal(ctx, taskID, by, ev.UserID); err != nil {
		log.Error("cancellation signal failed", "error", err)
		h.postCancelFailure(ctx, ev.ChannelID, taskID, err)
		return
	}

	if err := h.deps.Chat.UpdateMessage(ctx, ev.ChannelID, ev.MessageTS, core.FormatCancelRequested(by)); err != nil {
		// The flag is set, so the task will still stop; only the button
		// swap failed.
		log.Warn("cancel message swap failed", "error", err)
	}
	log.Info("cancellation signalled", "by", by)
}

// postCancelFailure tells the thread the cancel click did not stick.
func (h *Handler) postCancelFailure(ctx context.Context, channelID, taskID string, cause error) {
	_, threadTS, err := core.SplitTaskID(taskID)
	if err != nil {
		threadTS = ""
	}
	if _, err := h.deps.Chat.PostMessage(ctx, channelID, threadTS, core.FormatCancelFailed(cause)); err != nil {
		h.deps.Logger.Warn("cancel failure post failed", "task_id", taskID, "error", err)
	}
}

// bot returns the cached bot user id, resolving it on first use. A
// failed lookup is retried on the next mention.
func (h *Handler) bot(ctx context.Context) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.botID != "" {
		return h.botID
	}
	id, err := h.deps.Chat.AuthIdentity(ctx)
	if err != nil {
		h.deps.Logger.Warn("bot identity lookup failed", "error", err)
		return ""
	}
	h.botID = id
	return id
}

// stripMention removes the bot's mention token. When the bot id is
// unknown the leading mention token is dropped instead; the mention
// grammar guarantees the text starts with one.
func (h *Handler) stripMention(ctx context.Context, text string) string {
	if id := h.bot(ctx); id != "" {
		return strings.TrimSpace(strings.ReplaceAll(text, "<@"+id+">", ""))
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<@") {
		if end := strings.Index(text, ">"); end > 0 {
			text = text[end+1:]
		}
	}
	return strings.TrimSpace(text)
}

// fetchImages downloads image attachments for the payload. Non-image
// files and failed downloads are skipped, never fatal.
func (h *Handler) fetchImages(ctx context.Context, log *logging.Logger, files []chat.FileRef) []core.ImageAttachment {
	if h.deps.Files == nil || len(files) == 0 {
		return nil
	}
	var images []core.ImageAttachment
	for _, f := range files {
		if !strings.HasPrefix(f.Mime, "image/") {
			continue
		}
		data, err := h.deps.Files.DownloadFile(ctx, f.DownloadURL)
		if err != nil {
			log.Warn("attachment download failed", "file", f.Name, "error", err)
			continue
		}
		images = append(images, core.ImageAttachment{
			Filename: f.Name,
			Mime:     f.Mime,
			Data:     data,
		})
	}
	return images
}

var _ chat.Handler = (*Handler)(nil)
