package feedback

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/deskbot-io/deskbot/internal/settings"
	"github.com/deskbot-io/deskbot/internal/store"
	"github.com/deskbot-io/deskbot/pkg/protocol"
)

type fakeSettings struct {
	rating settings.Rating
}

func (f fakeSettings) RatingFor(string) (settings.Rating, error) {
	return f.rating, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	set := fakeSettings{rating: settings.Rating{
		Scale:     5,
		Prompt:    settings.DefaultRatingPrompt,
		Responses: map[string]string{"5": "Glad to hear it!"},
	}}
	return New(s, set, 24*time.Hour, nil), s
}

func TestEnsureCreatesAndRefreshes(t *testing.T) {
	sched, _ := newTestScheduler(t)
	base := time.Now().UTC().Truncate(time.Second)
	sched.now = func() time.Time { return base }

	req, err := sched.Ensure("tkt-1", "telegram:1", "telegram", protocol.SourceOperatorClose)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !req.ExpiresAt.Equal(base.Add(24 * time.Hour)) {
		t.Fatalf("expiry = %v", req.ExpiresAt)
	}
	if req.SentAt != nil {
		t.Fatal("operator-close request is delivered by the send job, not pre-stamped")
	}

	// A later close refreshes the same request instead of stacking a
	// second one.
	sched.now = func() time.Time { return base.Add(time.Hour) }
	again, err := sched.Ensure("tkt-1", "telegram:1", "telegram", protocol.SourceAutoClose)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if again.ID != req.ID {
		t.Fatalf("expected the same request, got %s and %s", req.ID, again.ID)
	}
	if !again.ExpiresAt.Equal(base.Add(25 * time.Hour)) {
		t.Fatalf("expiry not refreshed: %v", again.ExpiresAt)
	}
	if again.Source != protocol.SourceAutoClose {
		t.Fatalf("source not updated: %s", again.Source)
	}
}

func TestEnsureUserPromptIsPreStampedSent(t *testing.T) {
	sched, _ := newTestScheduler(t)

	req, err := sched.Ensure("tkt-1", "telegram:1", "telegram", protocol.SourceUserPrompt)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if req.SentAt == nil {
		t.Fatal("user-prompt request was already shown to the user")
	}
}

func TestMatchReplyRecordsAtMostOnce(t *testing.T) {
	sched, _ := newTestScheduler(t)

	if _, err := sched.Ensure("tkt-1", "telegram:1", "telegram", protocol.SourceUserPrompt); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	reply, handled, err := sched.MatchReply("telegram:1", "telegram", "5")
	if err != nil || !handled {
		t.Fatalf("match: handled=%v err=%v", handled, err)
	}
	if reply != "Glad to hear it!" {
		t.Fatalf("reply = %q", reply)
	}

	// The second numeric message is ordinary text again.
	_, handled, err = sched.MatchReply("telegram:1", "telegram", "4")
	if err != nil {
		t.Fatalf("second match: %v", err)
	}
	if handled {
		t.Fatal("a recorded request must never match twice")
	}
}

func TestMatchReplyIgnoresOutOfScaleAndNonNumeric(t *testing.T) {
	sched, _ := newTestScheduler(t)

	if _, err := sched.Ensure("tkt-1", "telegram:1", "telegram", protocol.SourceUserPrompt); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	for _, text := range []string{"6", "0", "great service"} {
		_, handled, err := sched.MatchReply("telegram:1", "telegram", text)
		if err != nil {
			t.Fatalf("match %q: %v", text, err)
		}
		if handled {
			t.Fatalf("%q should not be treated as a rating", text)
		}
	}

	// The request is still answerable afterwards.
	_, handled, err := sched.MatchReply("telegram:1", "telegram", "3")
	if err != nil || !handled {
		t.Fatalf("valid rating after noise: handled=%v err=%v", handled, err)
	}
}

func TestMatchReplyExpiredRequest(t *testing.T) {
	sched, _ := newTestScheduler(t)
	base := time.Now().UTC().Truncate(time.Second)
	sched.now = func() time.Time { return base }

	if _, err := sched.Ensure("tkt-1", "telegram:1", "telegram", protocol.SourceUserPrompt); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	sched.now = func() time.Time { return base.Add(25 * time.Hour) }
	_, handled, err := sched.MatchReply("telegram:1", "telegram", "5")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if handled {
		t.Fatal("expired request must not match")
	}
}

func TestMatchReplyFallsBackAcrossChannels(t *testing.T) {
	sched, _ := newTestScheduler(t)

	if _, err := sched.Ensure("tkt-1", "telegram:1", "telegram", protocol.SourceUserPrompt); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// Reply arrives without a channel-scoped match; the user-scoped
	// lookup still finds the request.
	_, handled, err := sched.MatchReply("telegram:1", "webform", "4")
	if err != nil || !handled {
		t.Fatalf("cross-channel match: handled=%v err=%v", handled, err)
	}
}

func TestSendPendingMarksOnlyDelivered(t *testing.T) {
	sched, st := newTestScheduler(t)

	if _, err := sched.Ensure("tkt-1", "telegram:1", "telegram", protocol.SourceOperatorClose); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := sched.Ensure("tkt-2", "telegram:2", "telegram", protocol.SourceOperatorClose); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	sent, err := sched.SendPending(
		func(req *protocol.FeedbackRequest) string { return "rate please" },
		func(userKey, text string) bool { return userKey == "telegram:1" },
	)
	if err != nil {
		t.Fatalf("send pending: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}

	pending, err := st.UnsentRequests(time.Now())
	if err != nil {
		t.Fatalf("unsent: %v", err)
	}
	if len(pending) != 1 || pending[0].UserKey != "telegram:2" {
		t.Fatalf("undelivered request should stay pending: %+v", pending)
	}
}

func TestBuildDigest(t *testing.T) {
	sched, _ := newTestScheduler(t)

	for ticket, rating := range map[string]int{"tkt-1": 5, "tkt-2": 3} {
		req, err := sched.Ensure(ticket, "telegram:1", "telegram", protocol.SourceUserPrompt)
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if _, err := sched.Record(req, rating); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	d, err := sched.BuildDigest(time.Hour)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if d.Count != 2 || d.Average != 4 {
		t.Fatalf("digest wrong: %+v", d)
	}
	if d.ByValue[5] != 1 || d.ByValue[3] != 1 {
		t.Fatalf("by-value wrong: %+v", d.ByValue)
	}
}
