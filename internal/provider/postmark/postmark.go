package postmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shineum/postmark-mailer/internal/email"
)

// DefaultEndpoint is the Postmark single-message send endpoint.
const DefaultEndpoint = "https://api.postmarkapp.com/email"

// MessageIDHeader is stamped on the message with the id Postmark assigned to
// its most recent send.
const MessageIDHeader = "X-PM-Message-Id"

// defaultTimeout applies to the HTTP client created when none is supplied.
const defaultTimeout = 30 * time.Second

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises a Provider.
type Option func(*Provider)

// WithHTTPClient sets the client used for requests. Timeouts belong on the client.
func WithHTTPClient(client Doer) Option {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithEndpoint overrides the send endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// WithBeforeSend registers a hook run before the payload is built. It may
// mutate the message.
func WithBeforeSend(fn func(ctx context.Context, msg *email.Message)) Option {
	return func(p *Provider) {
		p.beforeSend = fn
	}
}

// WithAfterSend registers a hook run after the message id has been stamped.
func WithAfterSend(fn func(ctx context.Context, msg *email.Message, messageID string)) Option {
	return func(p *Provider) {
		p.afterSend = fn
	}
}

// Provider sends emails through the Postmark API. It holds only immutable
// configuration and is safe for concurrent use when its HTTP client is.
type Provider struct {
	token      string
	endpoint   string
	httpClient Doer
	beforeSend func(ctx context.Context, msg *email.Message)
	afterSend  func(ctx context.Context, msg *email.Message, messageID string)
}

// New creates a Provider authenticating with the given server token.
func New(token string, opts ...Option) *Provider {
	p := &Provider{
		token:      token,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Send performs exactly one delivery attempt. On success the message carries
// the X-PM-Message-Id header and the number of To, Cc and Bcc recipients is
// returned. Network failures and non-2xx responses are returned unchanged in
// kind; there is no retry.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (int, error) {
	if p.beforeSend != nil {
		p.beforeSend(ctx, msg)
	}

	body, err := json.Marshal(buildPayload(msg))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = buildHeaders(p.token)

	slog.Debug("sending message via Postmark",
		"endpoint", p.endpoint,
		"recipients", msg.RecipientCount(),
	)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("Postmark request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read Postmark response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, parseError(resp.StatusCode, respBody)
	}

	messageID := parseMessageID(respBody)
	if msg.Header == nil {
		msg.Header = make(map[string][]string)
	}
	// Set rather than Add so a resent message carries only its latest id.
	msg.Header.Set(MessageIDHeader, messageID)

	slog.Debug("message accepted by Postmark", "message_id", messageID)

	if p.afterSend != nil {
		p.afterSend(ctx, msg, messageID)
	}

	return msg.RecipientCount(), nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "postmark"
}

// parseMessageID extracts MessageID from a success response. A malformed
// body yields "" so the send is still reported.
func parseMessageID(body []byte) string {
	var resp sendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Warn("failed to parse Postmark response", "error", err)
		return ""
	}
	if resp.MessageID == "" {
		slog.Warn("Postmark response missing MessageID")
	}
	return resp.MessageID
}

// parseError builds an APIError from a non-2xx response.
func parseError(statusCode int, body []byte) *APIError {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return &APIError{
			StatusCode: statusCode,
			ErrorCode:  errResp.ErrorCode,
			Message:    errResp.Message,
		}
	}
	return &APIError{StatusCode: statusCode, Message: string(body)}
}
