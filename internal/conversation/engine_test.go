package conversation

import (
	"strings"
	"testing"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

func testFlow() []protocol.QuestionItem {
	return []protocol.QuestionItem{
		{Key: "preset:office.city", Order: 1, Prompt: "Which office?", Kind: protocol.QuestionPreset},
		{Key: "problem", Order: 2, Prompt: "Describe your problem.", Kind: protocol.QuestionCustom},
	}
}

func TestStartAsksFirstQuestionWithoutPriorAnswers(t *testing.T) {
	e := New(nil)

	s, prompt := e.Start("telegram", "1", "alice", testFlow(), nil)
	if s.AwaitingReuse {
		t.Fatal("no prior answers, no reuse offer")
	}
	if prompt != "Which office?" {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestFullFlowProducesResult(t *testing.T) {
	e := New(nil)
	s, _ := e.Start("telegram", "1", "alice", testFlow(), nil)

	out := e.Advance(s, "Riga")
	if out.Completed != nil || out.Reply != "Describe your problem." {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	out = e.Advance(s, "printer jam")
	if out.Completed == nil {
		t.Fatal("expected completion")
	}
	res := out.Completed
	if res.Answers["preset:office.city"] != "Riga" || res.Answers["problem"] != "printer jam" {
		t.Fatalf("answers wrong: %v", res.Answers)
	}
	if !strings.Contains(res.Summary, "Which office? Riga") || !strings.Contains(res.Summary, "printer jam") {
		t.Fatalf("summary missing answers:\n%s", res.Summary)
	}
}

func TestBlankReplyRepeatsPrompt(t *testing.T) {
	e := New(nil)
	s, _ := e.Start("telegram", "1", "alice", testFlow(), nil)

	out := e.Advance(s, "   ")
	if out.Completed != nil || out.Reply != "Which office?" {
		t.Fatalf("blank reply should re-prompt, got %+v", out)
	}
	if s.Cursor != 0 {
		t.Fatalf("cursor moved on blank reply: %d", s.Cursor)
	}
}

func TestReuseOfferAccepted(t *testing.T) {
	e := New(nil)
	prior := map[string]string{"preset:office.city": "Riga"}

	s, prompt := e.Start("telegram", "1", "alice", testFlow(), prior)
	if !s.AwaitingReuse {
		t.Fatal("expected reuse decision state")
	}
	if !strings.Contains(prompt, "Riga") || !strings.Contains(prompt, "(yes/no)") {
		t.Fatalf("reuse prompt wrong: %q", prompt)
	}

	out := e.Advance(s, "yes")
	if out.Reply != "Describe your problem." {
		t.Fatalf("expected jump past covered prefix, got %+v", out)
	}

	out = e.Advance(s, "it broke")
	if out.Completed == nil || out.Completed.Answers["preset:office.city"] != "Riga" {
		t.Fatalf("reused answer missing: %+v", out)
	}
}

func TestReuseOfferDeclined(t *testing.T) {
	e := New(nil)
	prior := map[string]string{"preset:office.city": "Riga"}

	s, _ := e.Start("telegram", "1", "alice", testFlow(), prior)
	out := e.Advance(s, "no")
	if out.Reply != "Which office?" {
		t.Fatalf("decline should restart from the top, got %+v", out)
	}

	out = e.Advance(s, "Tallinn")
	if out.Reply != "Describe your problem." {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if s.Answers["preset:office.city"] != "Tallinn" {
		t.Fatalf("fresh answer not recorded: %v", s.Answers)
	}
}

func TestReuseDecisionRejectsOtherInput(t *testing.T) {
	e := New(nil)
	prior := map[string]string{"preset:office.city": "Riga"}

	s, _ := e.Start("telegram", "1", "alice", testFlow(), prior)
	out := e.Advance(s, "maybe")
	if !s.AwaitingReuse {
		t.Fatal("undecidable reply must keep the decision state")
	}
	if !strings.Contains(out.Reply, "yes or no") {
		t.Fatalf("unexpected reply: %q", out.Reply)
	}
}

func TestClassifyYesNo(t *testing.T) {
	cases := []struct {
		in      string
		yes, ok bool
	}{
		{"yes", true, true},
		{"Y", true, true},
		{"да", true, true},
		{"Да, давайте", true, true},
		{"no", false, true},
		{"N", false, true},
		{"нет", false, true},
		{"maybe", false, false},
		{"", false, false},
		{"  ", false, false},
	}
	for _, c := range cases {
		yes, ok := classifyYesNo(c.in)
		if yes != c.yes || ok != c.ok {
			t.Errorf("classifyYesNo(%q) = (%v, %v), want (%v, %v)", c.in, yes, ok, c.yes, c.ok)
		}
	}
}

func TestAttachDoesNotAdvance(t *testing.T) {
	e := New(nil)
	s, _ := e.Start("telegram", "1", "alice", testFlow(), nil)

	out := e.Attach(s, protocol.Attachment{Kind: protocol.AttachmentPhoto, Path: "/tmp/x.jpg"})
	if s.Cursor != 0 {
		t.Fatalf("attachment advanced cursor: %d", s.Cursor)
	}
	if !strings.Contains(out.Reply, "Attachment saved") {
		t.Fatalf("unexpected reply: %q", out.Reply)
	}

	e.Advance(s, "Riga")
	out = e.Advance(s, "screen cracked")
	if out.Completed == nil || len(out.Completed.Attachments) != 1 {
		t.Fatalf("attachment missing from result: %+v", out.Completed)
	}
}
