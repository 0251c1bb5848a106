package settings

import (
	"encoding/json"
	"testing"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

type fakeChannelStore struct {
	channels map[string]*protocol.Channel
	reads    int
}

func (f *fakeChannelStore) GetChannel(id string) (*protocol.Channel, bool, error) {
	f.reads++
	ch, ok := f.channels[id]
	return ch, ok, nil
}

func storeWith(id, settings string) *fakeChannelStore {
	return &fakeChannelStore{channels: map[string]*protocol.Channel{
		id: {ID: id, Platform: "telegram", Settings: json.RawMessage(settings)},
	}}
}

func TestFlowOrderingAndKeys(t *testing.T) {
	st := storeWith("telegram", `{
		"questions": [
			{"order": 2, "text": "Which room?"},
			{"order": 1, "text": "Which office?", "preset": {"group": "office", "field": "city", "excluded": ["Closed HQ"]}}
		]
	}`)
	r := NewResolver(st)

	flow, err := r.FlowFor("telegram")
	if err != nil {
		t.Fatalf("flow: %v", err)
	}
	if len(flow) != 3 {
		t.Fatalf("expected 2 configured + implicit problem, got %d", len(flow))
	}

	if flow[0].Key != "preset:office.city" || flow[0].Kind != protocol.QuestionPreset {
		t.Fatalf("first question wrong: %+v", flow[0])
	}
	if len(flow[0].ExcludedOptions) != 1 || flow[0].ExcludedOptions[0] != "Closed HQ" {
		t.Fatalf("excluded options lost: %+v", flow[0])
	}
	if flow[1].Key != "custom:which-room?" || flow[1].Kind != protocol.QuestionCustom {
		t.Fatalf("second question wrong: %+v", flow[1])
	}
	if flow[2].Key != ProblemKey {
		t.Fatalf("implicit problem question missing: %+v", flow[2])
	}
}

func TestUnknownChannelGetsDefaults(t *testing.T) {
	r := NewResolver(&fakeChannelStore{channels: map[string]*protocol.Channel{}})

	flow, err := r.FlowFor("nope")
	if err != nil {
		t.Fatalf("flow: %v", err)
	}
	if len(flow) != 1 || flow[0].Key != ProblemKey {
		t.Fatalf("expected only the problem question, got %+v", flow)
	}

	rating, err := r.RatingFor("nope")
	if err != nil {
		t.Fatalf("rating: %v", err)
	}
	if rating.Scale != DefaultScale || rating.Prompt != DefaultRatingPrompt {
		t.Fatalf("expected default rating, got %+v", rating)
	}
}

func TestResolveCachesUntilInvalidate(t *testing.T) {
	st := storeWith("telegram", `{}`)
	r := NewResolver(st)

	r.Resolve("telegram")
	r.Resolve("telegram")
	if st.reads != 1 {
		t.Fatalf("expected 1 store read, got %d", st.reads)
	}

	r.Invalidate("telegram")
	r.Resolve("telegram")
	if st.reads != 2 {
		t.Fatalf("expected re-read after invalidate, got %d", st.reads)
	}
}

func TestRatingConfigDecoded(t *testing.T) {
	st := storeWith("vk", `{
		"rating": {"scale": 10, "prompt": "Rate ticket {ticket_id} out of {scale}", "responses": {"10": "Perfect!"}}
	}`)
	r := NewResolver(st)

	rating, err := r.RatingFor("vk")
	if err != nil {
		t.Fatalf("rating: %v", err)
	}
	if rating.Scale != 10 {
		t.Fatalf("scale = %d", rating.Scale)
	}
	if got := rating.PromptFor(42); got != "Rate ticket 42 out of 10" {
		t.Fatalf("prompt = %q", got)
	}
	if text, ok := rating.ResponseFor(10); !ok || text != "Perfect!" {
		t.Fatalf("response = %q ok=%v", text, ok)
	}
}

func TestRatingParseValue(t *testing.T) {
	r := Rating{Scale: 5}

	cases := []struct {
		in    string
		value int
		ok    bool
	}{
		{"1", 1, true},
		{" 5 ", 5, true},
		{"0", 0, false},
		{"6", 0, false},
		{"-3", 0, false},
		{"five", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		v, ok := r.ParseValue(c.in)
		if v != c.value || ok != c.ok {
			t.Errorf("ParseValue(%q) = (%d, %v), want (%d, %v)", c.in, v, ok, c.value, c.ok)
		}
	}

	if len(r.AllowedValues()) != 5 {
		t.Fatalf("allowed values = %v", r.AllowedValues())
	}
}

func TestBrokenSettingsJSONIsAnError(t *testing.T) {
	st := storeWith("telegram", `{not json`)
	r := NewResolver(st)

	if _, err := r.Resolve("telegram"); err == nil {
		t.Fatal("expected decode error")
	}
}
