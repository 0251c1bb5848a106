package protocol

// QuestionKind distinguishes preset-backed questions from free-text ones.
type QuestionKind string

const (
	QuestionPreset QuestionKind = "preset"
	QuestionCustom QuestionKind = "custom"
)

// QuestionItem is one step of a channel's configured question flow,
// decoded once at session start. Key is stable across sessions so that
// cached answers from a prior ticket can be matched to the same question.
type QuestionItem struct {
	Key             string       `json:"key"`
	Order           int          `json:"order"`
	Prompt          string       `json:"prompt"`
	Kind            QuestionKind `json:"kind"`
	Group           string       `json:"group,omitempty"`
	Field           string       `json:"field,omitempty"`
	ExcludedOptions []string     `json:"excluded_options,omitempty"`
}

// AttachmentKind tags the media type of a stored attachment.
type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentVideo    AttachmentKind = "video"
)

// Attachment is a stored-file reference captured during a conversation.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	Path string         `json:"path"`
}
