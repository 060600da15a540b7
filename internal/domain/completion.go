package domain

import "context"

// Role constants for completion messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content part types for multi-part completion messages.
const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
)

// ImageURL is an inline or remote image reference inside a content part.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ContentPart is one element of a multi-part completion message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// CompletionMessage is one role-tagged message sent to the completion API.
type CompletionMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) CompletionMessage {
	return CompletionMessage{
		Role:    role,
		Content: []ContentPart{{Type: ContentTypeText, Text: text}},
	}
}

// ChunkDelta is the incremental payload of one streamed choice.
type ChunkDelta struct {
	Content *string `json:"content,omitempty"`
	Role    *string `json:"role,omitempty"`
}

// ChunkChoice is one choice inside a streamed completion chunk.
type ChunkChoice struct {
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// CompletionChunk is one decoded "data:" line of a streamed completion.
type CompletionChunk struct {
	ID      string        `json:"id"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkBatch carries the chunks decoded from one network read of the streamed
// body, or the error that ended the read.
type ChunkBatch struct {
	Chunks []CompletionChunk
	Err    error
}

// CompletionStreamer issues a streaming completion request.
// The returned channel yields one ChunkBatch per body read and is closed when
// the body ends or ctx is cancelled.
type CompletionStreamer interface {
	StreamCompletion(ctx context.Context, messages []CompletionMessage) (<-chan ChunkBatch, error)
}
