// Package slack implements the chat surface and request verification on the
// Slack Web API.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/slack-go/slack"

	"relaybot/internal/domain"
)

// DefaultMaxDownloadBytes caps a single attachment download.
const DefaultMaxDownloadBytes = 20 << 20

// repliesPageSize is the conversations.replies page limit.
const repliesPageSize = 200

// Option configures a Client.
type Option func(*Client)

// WithAPIURL points the client at a different Web API base URL.
func WithAPIURL(apiURL string) Option {
	return func(c *Client) { c.apiURL = apiURL }
}

// WithHTTPClient replaces the HTTP client used for API calls and downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxDownloadBytes caps attachment downloads. Non-positive keeps the default.
func WithMaxDownloadBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxDownload = n
		}
	}
}

// Client implements domain.ChatSurface on the Slack Web API.
type Client struct {
	token       string
	apiURL      string
	httpClient  *http.Client
	maxDownload int64
	trustedHost string
	api         *slack.Client
	logger      *slog.Logger
}

// NewClient creates a Client authenticated with the bot token.
func NewClient(token string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		token:       token,
		maxDownload: DefaultMaxDownloadBytes,
		logger:      logger,
	}
	for _, o := range opts {
		o(c)
	}

	var apiOpts []slack.Option
	if c.apiURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(strings.TrimRight(c.apiURL, "/")+"/"))
		if u, err := url.Parse(c.apiURL); err == nil {
			c.trustedHost = u.Host
		}
	}
	if c.httpClient != nil {
		apiOpts = append(apiOpts, slack.OptionHTTPClient(c.httpClient))
	}
	c.api = slack.New(token, apiOpts...)
	return c
}

// Post implements domain.ChatSurface.
func (c *Client) Post(ctx context.Context, channel, threadTS, text string) (domain.PostedMessage, error) {
	if err := c.ready("Client.Post"); err != nil {
		return domain.PostedMessage{}, err
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	respChannel, ts, err := c.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return domain.PostedMessage{}, apiError("Client.Post", "chat.postMessage", err)
	}
	if respChannel == "" {
		respChannel = channel
	}
	return domain.PostedMessage{Channel: respChannel, TS: ts, ThreadTS: threadTS}, nil
}

// Update implements domain.ChatSurface.
func (c *Client) Update(ctx context.Context, channel, ts, text string) error {
	if err := c.ready("Client.Update"); err != nil {
		return err
	}
	if _, _, _, err := c.api.UpdateMessageContext(ctx, channel, ts, slack.MsgOptionText(text, false)); err != nil {
		return apiError("Client.Update", "chat.update", err)
	}
	return nil
}

// Replies implements domain.ChatSurface. Every page is fetched.
func (c *Client) Replies(ctx context.Context, channel, threadTS string) ([]domain.ThreadMessage, error) {
	if err := c.ready("Client.Replies"); err != nil {
		return nil, err
	}

	var out []domain.ThreadMessage
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
		Limit:     repliesPageSize,
	}
	for page := 1; ; page++ {
		msgs, hasMore, cursor, err := c.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, apiError("Client.Replies", "conversations.replies", err)
		}
		for _, m := range msgs {
			out = append(out, toThreadMessage(m))
		}
		if !hasMore || cursor == "" {
			c.logger.Debug("thread fetched", "channel", channel, "thread_ts", threadTS, "messages", len(out), "pages", page)
			return out, nil
		}
		params.Cursor = cursor
	}
}

// Download implements domain.ChatSurface. Only Slack file hosts (or the
// configured API host) are fetched, and files larger than the cap are
// rejected.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	if err := c.ready("Client.Download"); err != nil {
		return nil, err
	}
	if err := checkDownloadURL(fileURL, c.trustedHost); err != nil {
		return nil, err
	}
	w := &cappedBuffer{limit: c.maxDownload}
	if err := c.api.GetFileContext(ctx, fileURL, w); err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, domain.NewDomainError("Client.Download", domain.ErrInvalidInput, fmt.Sprintf("file exceeds %d bytes", c.maxDownload))
		}
		return nil, apiError("Client.Download", "file download", err)
	}
	return w.buf.Bytes(), nil
}

func (c *Client) ready(op string) error {
	if c.token == "" {
		return domain.NewDomainError(op, domain.ErrMissingCredential, "slack bot token")
	}
	return nil
}

func toThreadMessage(m slack.Message) domain.ThreadMessage {
	tm := domain.ThreadMessage{
		TS:       m.Timestamp,
		ThreadTS: m.ThreadTimestamp,
		Text:     m.Text,
		UserID:   m.User,
		BotID:    m.BotID,
	}
	for _, f := range m.Files {
		tm.Attachments = append(tm.Attachments, domain.Attachment{
			Name:     f.Name,
			MIMEType: f.Mimetype,
			URL:      f.URLPrivate,
		})
	}
	return tm
}

// apiError classifies a slack-go error. Everything is an upstream failure;
// rate limits and auth errors carry the more specific sentinel too.
func apiError(op, method string, err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return domain.NewDomainError(op, fmt.Errorf("%w: %w: %w", domain.ErrUpstreamHTTP, domain.ErrRateLimit, err), method)
	}
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		switch se.Err {
		case "not_authed", "invalid_auth", "account_inactive", "token_revoked", "token_expired":
			return domain.NewDomainError(op, fmt.Errorf("%w: %w: %w", domain.ErrUpstreamHTTP, domain.ErrAuthInvalid, err), method)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapOp(op, err)
	}
	return domain.NewDomainError(op, fmt.Errorf("%w: %w", domain.ErrUpstreamHTTP, err), method)
}

var errTooLarge = errors.New("download exceeds size cap")

type cappedBuffer struct {
	buf   bytes.Buffer
	limit int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len()+len(p)) > b.limit {
		return 0, errTooLarge
	}
	return b.buf.Write(p)
}

var _ domain.ChatSurface = (*Client)(nil)
