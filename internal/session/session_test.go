package session

import (
	"errors"
	"testing"
	"time"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

func testFlow() []protocol.QuestionItem {
	return []protocol.QuestionItem{
		{Key: "preset:office.city", Order: 1, Prompt: "Which office?", Kind: protocol.QuestionPreset},
		{Key: "custom:room", Order: 2, Prompt: "Which room?", Kind: protocol.QuestionCustom},
		{Key: "problem", Order: 3, Prompt: "Describe your problem.", Kind: protocol.QuestionCustom},
	}
}

func TestRecordAdvancesUntilComplete(t *testing.T) {
	s := &Session{Flow: testFlow(), Answers: make(map[string]string)}

	for i, answer := range []string{"Riga", "101", "no coffee"} {
		if s.Complete() {
			t.Fatalf("complete too early at step %d", i)
		}
		s.Record(answer)
	}

	if !s.Complete() {
		t.Fatal("session should be complete after all answers")
	}
	if s.Answers["problem"] != "no coffee" {
		t.Fatalf("answers wrong: %v", s.Answers)
	}

	// Recording past the end is a no-op.
	s.Record("extra")
	if len(s.Answers) != 3 || s.Cursor != 3 {
		t.Fatalf("record past end mutated session: cursor=%d answers=%v", s.Cursor, s.Answers)
	}
}

func TestAcceptReuseAdvancesPastCoveredPrefix(t *testing.T) {
	s := &Session{
		Flow:    testFlow(),
		Answers: make(map[string]string),
		ReuseOffer: map[string]string{
			"preset:office.city": "Riga",
			"custom:room":        "101",
			// problem intentionally absent: always re-asked
		},
		AwaitingReuse: true,
	}

	s.AcceptReuse()

	if s.AwaitingReuse || s.ReuseOffer != nil {
		t.Fatal("reuse state not cleared")
	}
	if s.Cursor != 2 {
		t.Fatalf("cursor = %d, want 2", s.Cursor)
	}
	q, ok := s.Current()
	if !ok || q.Key != "problem" {
		t.Fatalf("expected problem question next, got %+v", q)
	}
	if s.Answers["preset:office.city"] != "Riga" || s.Answers["custom:room"] != "101" {
		t.Fatalf("cached answers not rehydrated: %v", s.Answers)
	}
}

func TestAcceptReuseStopsAtFirstGap(t *testing.T) {
	s := &Session{
		Flow:    testFlow(),
		Answers: make(map[string]string),
		ReuseOffer: map[string]string{
			// first question missing, second present: nothing advances
			"custom:room": "101",
		},
		AwaitingReuse: true,
	}

	s.AcceptReuse()

	if s.Cursor != 0 {
		t.Fatalf("cursor = %d, want 0 (gap at first question)", s.Cursor)
	}
	if len(s.Answers) != 0 {
		t.Fatalf("answers past the gap must not rehydrate: %v", s.Answers)
	}
}

func TestDeclineReuseKeepsCursor(t *testing.T) {
	s := &Session{
		Flow:          testFlow(),
		Answers:       make(map[string]string),
		ReuseOffer:    map[string]string{"preset:office.city": "Riga"},
		AwaitingReuse: true,
	}

	s.DeclineReuse()

	if s.AwaitingReuse || s.Cursor != 0 || len(s.Answers) != 0 {
		t.Fatalf("decline should leave a fresh session: %+v", s)
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry()
	calls := 0

	create := func() (*Session, error) {
		calls++
		return &Session{Flow: testFlow(), Answers: make(map[string]string)}, nil
	}

	s1, created, err := r.GetOrCreate("telegram", "1", create)
	if err != nil || !created {
		t.Fatalf("first: created=%v err=%v", created, err)
	}
	s2, created, err := r.GetOrCreate("telegram", "1", create)
	if err != nil || created {
		t.Fatalf("second: created=%v err=%v", created, err)
	}
	if s1 != s2 || calls != 1 {
		t.Fatalf("expected one shared session, calls=%d", calls)
	}

	if _, ok := r.Get("telegram", "2"); ok {
		t.Fatal("unknown key should miss")
	}

	r.Remove("telegram", "1")
	if _, ok := r.Get("telegram", "1"); ok {
		t.Fatal("removed session still present")
	}
}

func TestRegistryCreateErrorDoesNotStore(t *testing.T) {
	r := NewRegistry()
	wantErr := errors.New("flow unavailable")

	_, _, err := r.GetOrCreate("telegram", "1", func() (*Session, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if r.Len() != 0 {
		t.Fatalf("failed create must not be stored, len=%d", r.Len())
	}
}

func TestPruneIdle(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	fresh := &Session{LastSeen: now.Add(-5 * time.Minute)}
	stale := &Session{LastSeen: now.Add(-2 * time.Hour)}
	r.GetOrCreate("telegram", "fresh", func() (*Session, error) { return fresh, nil })
	r.GetOrCreate("telegram", "stale", func() (*Session, error) { return stale, nil })

	pruned := r.PruneIdle(time.Hour, now)
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if _, ok := r.Get("telegram", "fresh"); !ok {
		t.Fatal("fresh session should survive")
	}
	if _, ok := r.Get("telegram", "stale"); ok {
		t.Fatal("stale session should be gone")
	}
}
