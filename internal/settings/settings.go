// Package settings resolves a channel's stored configuration into typed
// question flows and rating scales. The stored JSON is decoded once per
// channel and cached; the conversation hot path never re-parses it.
package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/deskbot-io/deskbot/pkg/protocol"
)

const (
	// DefaultScale is the rating scale used when a channel configures none.
	DefaultScale = 5

	// DefaultRatingPrompt supports {ticket_id} and {scale} placeholders.
	DefaultRatingPrompt = "Your ticket #{ticket_id} has been processed. Please rate our support from 1 to {scale}."

	// ProblemKey identifies the implicit trailing free-text question.
	ProblemKey = "problem"

	defaultProblemPrompt = "Describe your problem."
)

// ChannelStore is the slice of the persistence layer the resolver needs.
type ChannelStore interface {
	GetChannel(id string) (*protocol.Channel, bool, error)
}

// Rating is a channel's decoded rating configuration.
type Rating struct {
	Scale     int
	Prompt    string
	Responses map[string]string
}

// Resolved is the decoded, immutable form of one channel's settings.
type Resolved struct {
	Flow   []protocol.QuestionItem
	Rating Rating
}

// Resolver decodes and caches channel settings.
type Resolver struct {
	store ChannelStore

	mu    sync.RWMutex
	cache map[string]*Resolved
}

// NewResolver creates a resolver over the given channel store.
func NewResolver(store ChannelStore) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]*Resolved),
	}
}

// rawSettings mirrors the stored JSON shape.
type rawSettings struct {
	Questions []rawQuestion `json:"questions"`
	Rating    *rawRating    `json:"rating,omitempty"`
}

type rawQuestion struct {
	Order  int        `json:"order"`
	Text   string     `json:"text"`
	Preset *rawPreset `json:"preset,omitempty"`
}

type rawPreset struct {
	Group    string   `json:"group"`
	Field    string   `json:"field"`
	Excluded []string `json:"excluded,omitempty"`
}

type rawRating struct {
	Scale     int               `json:"scale,omitempty"`
	Prompt    string            `json:"prompt,omitempty"`
	Responses map[string]string `json:"responses,omitempty"`
}

// Resolve returns the decoded settings for a channel. Unknown channels
// resolve to the defaults: no configured questions (the implicit problem
// question only) and the default rating scale.
func (r *Resolver) Resolve(channelID string) (*Resolved, error) {
	r.mu.RLock()
	cached, ok := r.cache[channelID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var raw rawSettings
	ch, found, err := r.store.GetChannel(channelID)
	if err != nil {
		return nil, err
	}
	if found && len(ch.Settings) > 0 {
		if err := json.Unmarshal(ch.Settings, &raw); err != nil {
			return nil, fmt.Errorf("settings: channel %q: %w", channelID, err)
		}
	}

	resolved := decode(raw)

	r.mu.Lock()
	r.cache[channelID] = resolved
	r.mu.Unlock()
	return resolved, nil
}

// Invalidate drops a channel's cached settings so the next Resolve
// re-reads the store.
func (r *Resolver) Invalidate(channelID string) {
	r.mu.Lock()
	delete(r.cache, channelID)
	r.mu.Unlock()
}

// FlowFor returns the channel's ordered question flow: configured items
// sorted by their explicit order, then the implicit free-text problem
// question.
func (r *Resolver) FlowFor(channelID string) ([]protocol.QuestionItem, error) {
	resolved, err := r.Resolve(channelID)
	if err != nil {
		return nil, err
	}
	return resolved.Flow, nil
}

// RatingFor returns the channel's rating configuration.
func (r *Resolver) RatingFor(channelID string) (Rating, error) {
	resolved, err := r.Resolve(channelID)
	if err != nil {
		return Rating{}, err
	}
	return resolved.Rating, nil
}

func decode(raw rawSettings) *Resolved {
	questions := make([]rawQuestion, len(raw.Questions))
	copy(questions, raw.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Order < questions[j].Order
	})

	flow := make([]protocol.QuestionItem, 0, len(questions)+1)
	for _, q := range questions {
		item := protocol.QuestionItem{
			Order:  q.Order,
			Prompt: q.Text,
			Kind:   protocol.QuestionCustom,
			Key:    customKey(q.Text),
		}
		if q.Preset != nil {
			item.Kind = protocol.QuestionPreset
			item.Group = q.Preset.Group
			item.Field = q.Preset.Field
			item.ExcludedOptions = q.Preset.Excluded
			item.Key = "preset:" + q.Preset.Group + "." + q.Preset.Field
		}
		flow = append(flow, item)
	}
	flow = append(flow, protocol.QuestionItem{
		Key:    ProblemKey,
		Order:  len(flow) + 1,
		Prompt: defaultProblemPrompt,
		Kind:   protocol.QuestionCustom,
	})

	rating := Rating{Scale: DefaultScale, Prompt: DefaultRatingPrompt}
	if raw.Rating != nil {
		if raw.Rating.Scale > 0 {
			rating.Scale = raw.Rating.Scale
		}
		if raw.Rating.Prompt != "" {
			rating.Prompt = raw.Rating.Prompt
		}
		rating.Responses = raw.Rating.Responses
	}

	return &Resolved{Flow: flow, Rating: rating}
}

func customKey(text string) string {
	key := strings.ToLower(strings.TrimSpace(text))
	key = strings.Join(strings.Fields(key), "-")
	return "custom:" + key
}

// AllowedValues returns the set of reply strings accepted as ratings.
func (r Rating) AllowedValues() map[string]bool {
	allowed := make(map[string]bool, r.Scale)
	for i := 1; i <= r.Scale; i++ {
		allowed[strconv.Itoa(i)] = true
	}
	return allowed
}

// ParseValue parses a reply as a rating, reporting whether it lies in
// [1, Scale].
func (r Rating) ParseValue(reply string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil || n < 1 || n > r.Scale {
		return 0, false
	}
	return n, true
}

// ResponseFor returns the configured thank-you text for a rating value,
// if any.
func (r Rating) ResponseFor(value int) (string, bool) {
	text, ok := r.Responses[strconv.Itoa(value)]
	return text, ok
}

// PromptFor renders the rating prompt for a ticket reference.
func (r Rating) PromptFor(ticketRef int64) string {
	out := strings.ReplaceAll(r.Prompt, "{ticket_id}", strconv.FormatInt(ticketRef, 10))
	return strings.ReplaceAll(out, "{scale}", strconv.Itoa(r.Scale))
}
