package domain

import "context"

// PostedMessage identifies a message the bot has posted and can update in place.
type PostedMessage struct {
	Channel  string
	TS       string
	ThreadTS string // empty when posted at channel top level
}

// Attachment is a file shared alongside a chat message.
type Attachment struct {
	Name     string
	MIMEType string
	URL      string // authenticated download URL
}

// ThreadMessage is one prior message in a reply thread.
type ThreadMessage struct {
	TS          string
	ThreadTS    string
	Text        string
	UserID      string
	BotID       string // non-empty when authored by a bot
	Attachments []Attachment
}

// IsBot reports whether the message was authored by a bot.
func (m ThreadMessage) IsBot() bool { return m.BotID != "" }

// ChatSurface is the chat platform's outbound API used by the worker.
type ChatSurface interface {
	// Post creates a message, inside threadTS when non-empty.
	Post(ctx context.Context, channel, threadTS, text string) (PostedMessage, error)
	// Update overwrites the text of an existing message.
	Update(ctx context.Context, channel, ts, text string) error
	// Replies returns the messages of a thread in chronological order.
	Replies(ctx context.Context, channel, threadTS string) ([]ThreadMessage, error)
	// Download fetches an attachment's bytes.
	Download(ctx context.Context, url string) ([]byte, error)
}
