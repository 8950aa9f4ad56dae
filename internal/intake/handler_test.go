package intake

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanowens-dev/walker/internal/adapters/chat"
	"github.com/bryanowens-dev/walker/internal/coord"
	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
	"github.com/bryanowens-dev/walker/internal/testutil"
)

type fakeProducer struct {
	payloads []core.TaskPayload
	err      error
}

func (p *fakeProducer) Enqueue(_ context.Context, payload core.TaskPayload) error {
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

type fakeFiles struct {
	data map[string][]byte
}

func (f *fakeFiles) DownloadFile(_ context.Context, url string) ([]byte, error) {
	d, ok := f.data[url]
	if !ok {
		return nil, core.ErrNotFound("file", url)
	}
	return d, nil
}

type intakeFixture struct {
	chat     *testutil.MockChat
	store    *testutil.MockStore
	clock    *testutil.FakeClock
	producer *fakeProducer
	files    *fakeFiles
	handler  *Handler
}

func newIntakeFixture(t *testing.T) *intakeFixture {
	t.Helper()
	fx := &intakeFixture{
		chat:     testutil.NewMockChat(),
		store:    testutil.NewMockStore(),
		clock:    testutil.NewFakeClock(),
		producer: &fakeProducer{},
		files:    &fakeFiles{data: make(map[string][]byte)},
	}
	log := logging.NewNop()
	roster := core.Roster{
		{Name: "Rex", Email: "rex@walker.dev", Credential: "ghp_rex"},
		{Name: "Luna", Email: "luna@walker.dev", Credential: "ghp_luna"},
	}
	h, err := NewHandler(Deps{
		Chat:     fx.chat,
		Files:    fx.files,
		Picker:   coord.NewSelector(roster, fx.store, log),
		Producer: fx.producer,
		Inbox:    fx.store,
		Cancels:  coord.NewCancelManager(fx.store, log),
		Clock:    fx.clock,
		Logger:   log,
	})
	require.NoError(t, err)
	fx.handler = h
	return fx
}

func mention(text string) chat.MentionEvent {
	return chat.MentionEvent{
		Channel: "C7",
		User:    "U_ALICE",
		Text:    text,
		TS:      "1712000000.100",
	}
}

func TestNewHandlerValidatesDeps(t *testing.T) {
	log := logging.NewNop()
	store := testutil.NewMockStore()
	roster := core.Roster{{Name: "Rex", Email: "rex@walker.dev", Credential: "ghp_rex"}}
	valid := func() Deps {
		return Deps{
			Chat:     testutil.NewMockChat(),
			Picker:   coord.NewSelector(roster, store, log),
			Producer: &fakeProducer{},
			Inbox:    store,
			Cancels:  coord.NewCancelManager(store, log),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing chat", func(d *Deps) { d.Chat = nil }},
		{"missing picker", func(d *Deps) { d.Picker = nil }},
		{"missing producer", func(d *Deps) { d.Producer = nil }},
		{"missing inbox", func(d *Deps) { d.Inbox = nil }},
		{"missing cancels", func(d *Deps) { d.Cancels = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			deps := valid()
			tc.mutate(&deps)
			_, err := NewHandler(deps)
			require.Error(t, err)
			assert.True(t, core.IsCategory(err, core.ErrCatValidation))
		})
	}
}

func TestHandleMentionQueuesTask(t *testing.T) {
	fx := newIntakeFixture(t)
	fx.chat.WithDisplayName("U_ALICE", "alice")

	fx.handler.HandleMention(context.Background(),
		mention("<@UBOT> Fix the dashboard data refresh logic"))

	require.Len(t, fx.producer.payloads, 1)
	payload := fx.producer.payloads[0]
	assert.Equal(t, "C7_1712000000.100", payload.TaskID)
	assert.Equal(t, "Fix the dashboard data refresh logic", payload.Description)
	assert.Equal(t, "Rex", payload.DogName)
	assert.True(t, strings.HasPrefix(payload.BranchName, "rex/2025-06-03-fix-the-dashboard"),
		"branch %q", payload.BranchName)
	assert.Equal(t, "1712000000.100", payload.ThreadTS)
	assert.Equal(t, "C7", payload.ChannelID)
	assert.Equal(t, "alice", payload.RequesterName)
	assert.Equal(t, fx.clock.Now(), payload.StartTime)
	assert.NoError(t, payload.Validate())

	posts := fx.chat.Posts()
	require.Len(t, posts, 1)
	ack := posts[0]
	assert.Equal(t, "C7", ack.ChannelID)
	assert.Equal(t, "1712000000.100", ack.ThreadTS)
	assert.Contains(t, ack.Text, "Rex")
	assert.Contains(t, ack.Text, "is taking this task")
	require.NotNil(t, ack.Blocks)
	require.Len(t, ack.Blocks.Buttons, 1)
	button := ack.Blocks.Buttons[0]
	assert.Equal(t, "cancel_task", button.ActionID)
	assert.Equal(t, payload.TaskID, button.Value)
	assert.Equal(t, "danger", button.Style)
}

func TestHandleMentionWithoutDescriptionPostsUsageHint(t *testing.T) {
	fx := newIntakeFixture(t)

	fx.handler.HandleMention(context.Background(), mention("<@UBOT>   "))

	assert.Empty(t, fx.producer.payloads)
	posts := fx.chat.Posts()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].Text, "Please provide a task description")
}

func TestHandleMentionInsideExistingThread(t *testing.T) {
	fx := newIntakeFixture(t)
	ev := mention("<@UBOT> Rename the billing module")
	ev.ThreadTS = "1711990000.500"
	ev.TS = "1712000000.200"

	fx.handler.HandleMention(context.Background(), ev)

	require.Len(t, fx.producer.payloads, 1)
	payload := fx.producer.payloads[0]
	assert.Equal(t, "C7_1711990000.500", payload.TaskID)
	assert.Equal(t, "1711990000.500", payload.ThreadTS)
	assert.Equal(t, "1711990000.500", fx.chat.Posts()[0].ThreadTS)
}

func TestHandleMentionOutsideHomeChannelIgnored(t *testing.T) {
	fx := newIntakeFixture(t)
	log := logging.NewNop()
	roster := core.Roster{{Name: "Rex", Email: "rex@walker.dev", Credential: "ghp_rex"}}
	h, err := NewHandler(Deps{
		Chat:     fx.chat,
		Picker:   coord.NewSelector(roster, fx.store, log),
		Producer: fx.producer,
		Inbox:    fx.store,
		Cancels:  coord.NewCancelManager(fx.store, log),
		Clock:    fx.clock,
		Logger:   log,
		Channel:  "C_HOME",
	})
	require.NoError(t, err)

	ev := mention("<@UBOT> Fix the flaky login test")
	h.HandleMention(context.Background(), ev)

	assert.Empty(t, fx.producer.payloads)
	assert.Empty(t, fx.chat.Posts(), "foreign-channel mentions get no reply")

	ev.Channel = "C_HOME"
	h.HandleMention(context.Background(), ev)

	require.Len(t, fx.producer.payloads, 1)
	assert.Equal(t, "C_HOME_1712000000.100", fx.producer.payloads[0].TaskID)
}

func TestHandleMentionAckFailureDropsTask(t *testing.T) {
	fx := newIntakeFixture(t)
	fx.chat.WithPostError(core.ErrNetwork("CHAT_UNAVAILABLE", "chat down"))

	fx.handler.HandleMention(context.Background(), mention("<@UBOT> Fix the flaky login test"))

	assert.Empty(t, fx.producer.payloads, "unacknowledged tasks must not run")
}

func TestHandleMentionEnqueueFailurePostsError(t *testing.T) {
	fx := newIntakeFixture(t)
	fx.producer.err = core.ErrNetwork("QUEUE_UNAVAILABLE", "stream unreachable")

	fx.handler.HandleMention(context.Background(), mention("<@UBOT> Fix the flaky login test"))

	posts := fx.chat.Posts()
	require.Len(t, posts, 2, "acknowledgement then error report")
	assert.Contains(t, posts[1].Text, "Something went wrong")
}

func TestHandleMentionDownloadsImageAttachments(t *testing.T) {
	fx := newIntakeFixture(t)
	fx.files.data["https://files.example/mock.png"] = []byte("png-bytes")

	ev := mention("<@UBOT> Match the header to the new mock")
	ev.Files = []chat.FileRef{
		{Name: "mock.png", Mime: "image/png", DownloadURL: "https://files.example/mock.png"},
		{Name: "notes.pdf", Mime: "application/pdf", DownloadURL: "https://files.example/notes.pdf"},
		{Name: "gone.png", Mime: "image/png", DownloadURL: "https://files.example/gone.png"},
	}
	fx.handler.HandleMention(context.Background(), ev)

	require.Len(t, fx.producer.payloads, 1)
	images := fx.producer.payloads[0].Images
	require.Len(t, images, 1, "non-images and failed downloads are skipped")
	assert.Equal(t, "mock.png", images[0].Filename)
	assert.Equal(t, "image/png", images[0].Mime)
	assert.Equal(t, []byte("png-bytes"), images[0].Data)
}

func TestHandleThreadMessageAppendsToInbox(t *testing.T) {
	fx := newIntakeFixture(t)
	fx.chat.WithDisplayName("U_BOB", "bob")
	ctx := context.Background()
	require.NoError(t, fx.store.BindThread(ctx, "1712000000.100", "C7_1712000000.100"))

	fx.handler.HandleThreadMessage(ctx, chat.ThreadMessageEvent{
		Channel:  "C7",
		User:     "U_BOB",
		Text:     "Also add rate limiting",
		TS:       "1712000001.000",
		ThreadTS: "1712000000.100",
	})

	msgs, err := fx.store.ThreadMessages(ctx, "1712000000.100", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "U_BOB", msgs[0].UserID)
	assert.Equal(t, "bob", msgs[0].UserName)
	assert.Equal(t, "Also add rate limiting", msgs[0].Text)
	assert.Equal(t, "1712000001.000", msgs[0].MessageTS)
	assert.Equal(t, []string{"eyes"}, fx.chat.Reactions())
}

func TestHandleThreadMessageFilters(t *testing.T) {
	base := chat.ThreadMessageEvent{
		Channel:  "C7",
		User:     "U_BOB",
		Text:     "Looks good so far",
		TS:       "1712000002.000",
		ThreadTS: "1712000000.100",
	}
	tests := []struct {
		name   string
		bind   bool
		mutate func(*chat.ThreadMessageEvent)
	}{
		{"not in a thread", true, func(ev *chat.ThreadMessageEvent) { ev.ThreadTS = "" }},
		{"bot echo", true, func(ev *chat.ThreadMessageEvent) { ev.BotID = "B99" }},
		{"bot message subtype", true, func(ev *chat.ThreadMessageEvent) { ev.Subtype = "bot_message" }},
		{"edited message", true, func(ev *chat.ThreadMessageEvent) { ev.Subtype = "message_changed" }},
		{"deleted message", true, func(ev *chat.ThreadMessageEvent) { ev.Subtype = "message_deleted" }},
		{"blank text", true, func(ev *chat.ThreadMessageEvent) { ev.Text = "   " }},
		{"unbound thread", false, func(ev *chat.ThreadMessageEvent) {}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newIntakeFixture(t)
			ctx := context.Background()
			if tc.bind {
				require.NoError(t, fx.store.BindThread(ctx, base.ThreadTS, "C7_1712000000.100"))
			}
			ev := base
			tc.mutate(&ev)

			fx.handler.HandleThreadMessage(ctx, ev)

			msgs, err := fx.store.ThreadMessages(ctx, base.ThreadTS, 0)
			require.NoError(t, err)
			assert.Empty(t, msgs)
			assert.Empty(t, fx.chat.Reactions())
		})
	}
}

func TestHandleCancelActionSignalsAndSwapsMessage(t *testing.T) {
	fx := newIntakeFixture(t)
	fx.chat.WithDisplayName("U_CAROL", "carol")
	ctx := context.Background()

	fx.handler.HandleCancelAction(ctx, chat.CancelActionEvent{
		UserID:    "U_CAROL",
		ActionID:  "cancel_task",
		Value:     "C7_1712000000.100",
		ChannelID: "C7",
		MessageTS: "1700000000.000001",
	})

	c, err := fx.store.Cancellation(ctx, "C7_1712000000.100")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "carol", c.CancelledBy)
	assert.Equal(t, "U_CAROL", c.CancelledByID)

	updates := fx.chat.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "1700000000.000001", updates[0].MessageTS)
	assert.Contains(t, updates[0].Text, "Cancellation requested by carol")
	require.NotNil(t, updates[0].Blocks)
	assert.Empty(t, updates[0].Blocks.Buttons, "swap removes the cancel button")
	assert.Empty(t, fx.chat.Posts())
}

func TestHandleCancelActionIgnoresOtherActions(t *testing.T) {
	fx := newIntakeFixture(t)
	ctx := context.Background()

	fx.handler.HandleCancelAction(ctx, chat.CancelActionEvent{
		UserID:   "U_CAROL",
		ActionID: "approve_plan",
		Value:    "C7_1712000000.100",
	})

	c, err := fx.store.Cancellation(ctx, "C7_1712000000.100")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, fx.chat.Updates())
}

func TestHandleCancelActionStoreOutagePostsError(t *testing.T) {
	fx := newIntakeFixture(t)
	fx.store.WithWriteError(core.ErrNetwork("STORE_UNAVAILABLE", "connection refused"))

	fx.handler.HandleCancelAction(context.Background(), chat.CancelActionEvent{
		UserID:    "U_CAROL",
		ActionID:  "cancel_task",
		Value:     "C7_1712000000.100",
		ChannelID: "C7",
		MessageTS: "1700000000.000001",
	})

	assert.Empty(t, fx.chat.Updates(), "no swap when the flag was not recorded")
	posts := fx.chat.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "C7", posts[0].ChannelID)
	assert.Equal(t, "1712000000.100", posts[0].ThreadTS)
	assert.Contains(t, posts[0].Text, "Could not cancel task")
}
