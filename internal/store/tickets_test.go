package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTicket(userKey string, createdAt time.Time) *protocol.Ticket {
	return &protocol.Ticket{
		ID:        "tkt-" + userKey + "-" + createdAt.Format("150405.000000000"),
		UserKey:   userKey,
		Username:  "alice",
		ChannelID: "telegram",
		Status:    protocol.TicketOpen,
		Answers:   map[string]string{"preset:office.city": "Riga", "problem": "printer on fire"},
		Summary:   "printer on fire",
		CreatedAt: createdAt,
	}
}

func TestCreateTicketAssignsRefAndFirstSpan(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	t1 := newTicket("telegram:1", now)
	if err := s.CreateTicket(t1); err != nil {
		t.Fatalf("create: %v", err)
	}
	t2 := newTicket("telegram:2", now.Add(time.Second))
	if err := s.CreateTicket(t2); err != nil {
		t.Fatalf("create: %v", err)
	}

	if t1.Ref == 0 || t2.Ref != t1.Ref+1 {
		t.Fatalf("expected consecutive refs, got %d and %d", t1.Ref, t2.Ref)
	}

	got, found, err := s.GetTicket(t1.ID)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if len(got.Spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(got.Spans))
	}
	if got.Spans[0].SpanNo != 1 || got.Spans[0].EndedAt != nil {
		t.Fatalf("expected live span #1, got %+v", got.Spans[0])
	}
	if got.Answers["problem"] != "printer on fire" {
		t.Fatalf("answers not persisted: %v", got.Answers)
	}

	active, found, err := s.FindActiveByUser("telegram:1")
	if err != nil || !found {
		t.Fatalf("active row missing: found=%v err=%v", found, err)
	}
	if active.TicketID != t1.ID {
		t.Fatalf("active points at %s, want %s", active.TicketID, t1.ID)
	}
}

func TestCloseTicketAccountsWorkTime(t *testing.T) {
	s := newTestStore(t)
	start := time.Now().UTC().Truncate(time.Second)

	tk := newTicket("telegram:1", start)
	if err := s.CreateTicket(tk); err != nil {
		t.Fatalf("create: %v", err)
	}

	closed, found, err := s.CloseTicket(tk.ID, "op", protocol.SourceOperatorClose, start.Add(90*time.Second))
	if err != nil || !found {
		t.Fatalf("close: found=%v err=%v", found, err)
	}
	if closed.Status != protocol.TicketClosed {
		t.Fatalf("status = %s, want closed", closed.Status)
	}
	if closed.WorkTimeTotalSec != 90 {
		t.Fatalf("work time = %d, want 90", closed.WorkTimeTotalSec)
	}
	if closed.ClosedCount != 1 || closed.ResolvedBy != "op" || closed.CloseSource != protocol.SourceOperatorClose {
		t.Fatalf("resolution stamps wrong: %+v", closed)
	}
	if closed.Spans[0].EndedAt == nil || closed.Spans[0].DurationSec != 90 {
		t.Fatalf("span not closed: %+v", closed.Spans[0])
	}

	if _, found, _ := s.FindActiveByUser("telegram:1"); found {
		t.Fatal("active row should be gone after close")
	}

	// Closing again is a no-op.
	_, found, err = s.CloseTicket(tk.ID, "op", protocol.SourceOperatorClose, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if found {
		t.Fatal("second close should report found=false")
	}
}

func TestReopenAddsSpanAndWorkTimeAccumulates(t *testing.T) {
	s := newTestStore(t)
	start := time.Now().UTC().Truncate(time.Second)

	tk := newTicket("telegram:1", start)
	if err := s.CreateTicket(tk); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, _, err := s.CloseTicket(tk.ID, "op", protocol.SourceOperatorClose, start.Add(time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, found, err := s.ReopenTicket(tk.ID, start.Add(2*time.Minute))
	if err != nil || !found {
		t.Fatalf("reopen: found=%v err=%v", found, err)
	}
	if reopened.Status != protocol.TicketOpen || reopened.ReopenCount != 1 {
		t.Fatalf("reopen stamps wrong: %+v", reopened)
	}
	if len(reopened.Spans) != 2 || reopened.Spans[1].SpanNo != 2 || reopened.Spans[1].EndedAt != nil {
		t.Fatalf("expected live span #2, got %+v", reopened.Spans)
	}

	// Reopening an open ticket is a no-op.
	if _, found, _ := s.ReopenTicket(tk.ID, start.Add(3*time.Minute)); found {
		t.Fatal("reopen of open ticket should report found=false")
	}

	// Second closed span adds to the total.
	closed, _, err := s.CloseTicket(tk.ID, "op", protocol.SourceOperatorClose, start.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if closed.WorkTimeTotalSec != 60+180 {
		t.Fatalf("work time = %d, want 240", closed.WorkTimeTotalSec)
	}
	if closed.ClosedCount != 2 {
		t.Fatalf("closed count = %d, want 2", closed.ClosedCount)
	}
}

func TestLastAnswersComesFromNewestTicket(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if _, _, err := s.LastAnswers("telegram:9"); err != nil {
		t.Fatalf("last answers on empty store: %v", err)
	}

	old := newTicket("telegram:1", now)
	old.Answers = map[string]string{"preset:office.city": "Riga"}
	if err := s.CreateTicket(old); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.CloseTicket(old.ID, "op", protocol.SourceOperatorClose, now.Add(time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}

	fresh := newTicket("telegram:1", now.Add(time.Hour))
	fresh.Answers = map[string]string{"preset:office.city": "Tallinn"}
	if err := s.CreateTicket(fresh); err != nil {
		t.Fatalf("create: %v", err)
	}

	answers, found, err := s.LastAnswers("telegram:1")
	if err != nil || !found {
		t.Fatalf("last answers: found=%v err=%v", found, err)
	}
	if answers["preset:office.city"] != "Tallinn" {
		t.Fatalf("expected newest answers, got %v", answers)
	}
}

func TestTouchActiveAndIdleListing(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	tk := newTicket("telegram:1", now)
	if err := s.CreateTicket(tk); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := s.TouchActive(tk.ID, "alice", now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("touch: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.TouchActive("missing", "alice", now); ok {
		t.Fatal("touch of missing active row should report false")
	}

	stale, err := s.ListActiveOlderThan(now.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].TicketID != tk.ID {
		t.Fatalf("expected one stale row, got %+v", stale)
	}

	stale, err = s.ListActiveOlderThan(now.Add(30 * time.Second))
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("recently touched row should not be stale, got %+v", stale)
	}
}

func TestListTicketsFilters(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	a := newTicket("telegram:1", now)
	b := newTicket("vk:2", now.Add(time.Second))
	b.ChannelID = "vk"
	for _, tk := range []*protocol.Ticket{a, b} {
		if err := s.CreateTicket(tk); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, _, err := s.CloseTicket(a.ID, "op", protocol.SourceOperatorClose, now.Add(time.Minute)); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := s.ListTickets(TicketFilter{Status: protocol.TicketOpen})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("status filter wrong: %+v", got)
	}

	got, err = s.ListTickets(TicketFilter{UserKey: "telegram:1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("user filter wrong: %+v", got)
	}

	got, err = s.ListTickets(TicketFilter{Channel: "vk", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("channel filter wrong: %+v", got)
	}
}
