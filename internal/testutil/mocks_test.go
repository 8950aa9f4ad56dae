package testutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/testutil"
)

func TestMockStore_ActiveTaskRoundTrip(t *testing.T) {
	store := testutil.NewMockStore()
	ctx := context.Background()

	testutil.AssertNoError(t, store.AddActiveTask(ctx, "Rex", "C1_100.1"))
	testutil.AssertNoError(t, store.AddActiveTask(ctx, "Rex", "C1_100.2"))

	n, err := store.ActiveTaskCount(ctx, "Rex")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, int64(2))

	removed, err := store.RemoveActiveTask(ctx, "Rex", "C1_100.1")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, removed, "member should be removed")

	removed, err = store.RemoveActiveTask(ctx, "Rex", "C1_100.1")
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, removed, "second remove is a no-op")
}

func TestMockStore_WithLoad(t *testing.T) {
	store := testutil.NewMockStore().WithLoad("Rex", 3)

	n, err := store.ActiveTaskCount(context.Background(), "Rex")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, int64(3))
}

func TestMockStore_ThreadInbox(t *testing.T) {
	store := testutil.NewMockStore()
	ctx := context.Background()

	msg1 := core.ThreadMessage{UserID: "U1", UserName: "ana", Text: "first"}
	msg2 := core.ThreadMessage{UserID: "U2", UserName: "bo", Text: "second"}
	testutil.AssertNoError(t, store.AppendThreadMessage(ctx, "100.1", msg1))
	testutil.AssertNoError(t, store.AppendThreadMessage(ctx, "100.1", msg2))

	msgs, err := store.ThreadMessages(ctx, "100.1", 0)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, msgs, 2)

	msgs, err = store.ThreadMessages(ctx, "100.1", 1)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, msgs, 1)
	testutil.AssertEqual(t, msgs[0].Text, "second")

	msgs, err = store.ThreadMessages(ctx, "100.1", 5)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, msgs, 0)
}

func TestMockChat_RecordsPosts(t *testing.T) {
	chat := testutil.NewMockChat()
	ctx := context.Background()

	ts, err := chat.PostMessage(ctx, "C1", "100.1", "hello")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, ts != "", "post should return a timestamp")

	posts := chat.Posts()
	testutil.AssertLen(t, posts, 1)
	testutil.AssertEqual(t, posts[0].Text, "hello")
	testutil.AssertEqual(t, chat.CallCount("PostMessage"), 1)
}

func TestMockChat_PostError(t *testing.T) {
	chat := testutil.NewMockChat().WithPostError(testutil.ErrTest)
	_, err := chat.PostMessage(context.Background(), "C1", "100.1", "hello")
	testutil.AssertError(t, err)
}

func TestMockForge_CreateAndReady(t *testing.T) {
	forge := testutil.NewMockForge()
	ctx := context.Background()

	pr, err := forge.CreatePR(ctx, core.CreatePROptions{
		Title: "[Walker] Add endpoint",
		Head:  "rex/2025-06-03-add-endpoint",
		Base:  "main",
		Draft: true,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, pr.Draft, "created PR should be a draft")
	testutil.AssertTrue(t, pr.URL != "", "created PR should carry a URL")

	exists, err := forge.BranchExists(ctx, pr.HeadRef)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, exists, "head branch should exist after create")

	testutil.AssertNoError(t, forge.MarkReady(ctx, pr.Number))
	testutil.AssertTrue(t, forge.IsReady(pr.Number), "PR should be ready")
	testutil.AssertFalse(t, forge.PR(pr.Number).Draft, "ready PR is no longer a draft")
}

func TestMockForge_Invitations(t *testing.T) {
	forge := testutil.NewMockForge().WithInvitations("ghp_rex",
		core.Invitation{ID: 7, Repo: "acme/widgets", Inviter: "ana"},
	)
	ctx := context.Background()

	invs, err := forge.PendingInvitations(ctx, "ghp_rex")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, invs, 1)

	testutil.AssertNoError(t, forge.AcceptInvitation(ctx, "ghp_rex", 7))

	invs, err = forge.PendingInvitations(ctx, "ghp_rex")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, invs, 0)
	testutil.AssertLen(t, forge.Accepted("ghp_rex"), 1)
}

func TestMockTextGen_QueuedResponses(t *testing.T) {
	gen := testutil.NewMockTextGen().WithResponses("first", "second")
	ctx := context.Background()

	r1, err := gen.Generate(ctx, core.TextRequest{Prompt: "a"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, r1.Text, "first")

	r2, err := gen.Generate(ctx, core.TextRequest{Prompt: "b"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, r2.Text, "second")

	// Last response repeats.
	r3, err := gen.Generate(ctx, core.TextRequest{Prompt: "c"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, r3.Text, "second")
}

func TestFakeClock_SleepAdvances(t *testing.T) {
	clock := testutil.NewFakeClock()
	start := clock.Now()

	testutil.AssertNoError(t, clock.Sleep(context.Background(), 10*time.Second))
	testutil.AssertEqual(t, clock.Now().Sub(start), 10*time.Second)
	testutil.AssertLen(t, clock.Sleeps(), 1)
}

func TestFakeClock_SleepHonorsContext(t *testing.T) {
	clock := testutil.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	testutil.AssertError(t, clock.Sleep(ctx, time.Second))
}
