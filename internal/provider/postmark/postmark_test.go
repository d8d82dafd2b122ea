package postmark

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shineum/postmark-mailer/internal/email"
)

func newTestMessage() *email.Message {
	msg := email.NewMessage().SetBody("hello", "text/plain")
	msg.From.Add("alice@example.com", "")
	msg.To.Add("bob@example.com", "Bob, Jr.")
	msg.Subject = "Hi"
	return msg
}

func TestProvider_Name(t *testing.T) {
	t.Parallel()

	p := &Provider{}
	if p.Name() != "postmark" {
		t.Errorf("Name: got %q, want %q", p.Name(), "postmark")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p := New("token")
	if p.endpoint != DefaultEndpoint {
		t.Errorf("endpoint: got %q, want %q", p.endpoint, DefaultEndpoint)
	}
	if p.httpClient == nil {
		t.Error("httpClient should default to an http.Client")
	}
}

func TestProvider_SendSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Postmark-Server-Token") != "test-token" {
			t.Errorf("X-Postmark-Server-Token: got %q, want %q", r.Header.Get("X-Postmark-Server-Token"), "test-token")
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept: got %q, want %q", r.Header.Get("Accept"), "application/json")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type: got %q, want %q", r.Header.Get("Content-Type"), "application/json")
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if body["To"] != `"Bob, Jr." <bob@example.com>` {
			t.Errorf("To in body: got %v", body["To"])
		}
		if body["TextBody"] != "hello" {
			t.Errorf("TextBody in body: got %v", body["TextBody"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"To":"bob@example.com","SubmittedAt":"2024-01-01T00:00:00Z","MessageID":"abc-123","ErrorCode":0,"Message":"OK"}`))
	}))
	defer server.Close()

	p := New("test-token", WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	msg := newTestMessage()
	msg.Cc.Add("carol@example.com", "")
	msg.Bcc.Add("dave@example.com", "")
	msg.Bcc.Add("erin@example.com", "")

	count, err := p.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Errorf("recipient count: got %d, want 4", count)
	}
	if got := msg.Header.Get(MessageIDHeader); got != "abc-123" {
		t.Errorf("%s: got %q, want %q", MessageIDHeader, got, "abc-123")
	}
}

func TestProvider_SendTwiceKeepsLatestMessageID(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		json.NewEncoder(w).Encode(sendResponse{MessageID: "id-" + string(rune('0'+n))})
	}))
	defer server.Close()

	p := New("token", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	msg := newTestMessage()

	for i := 0; i < 2; i++ {
		if _, err := p.Send(context.Background(), msg); err != nil {
			t.Fatalf("send %d: unexpected error: %v", i+1, err)
		}
	}

	values := msg.Header.Values(MessageIDHeader)
	if len(values) != 1 || values[0] != "id-2" {
		t.Errorf("%s: got %v, want [id-2]", MessageIDHeader, values)
	}
}

func TestProvider_SendMissingMessageID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"missing field", `{"ErrorCode":0,"Message":"OK"}`},
		{"invalid json", `not json`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := New("token", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
			msg := newTestMessage()

			count, err := p.Send(context.Background(), msg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if count != 1 {
				t.Errorf("recipient count: got %d, want 1", count)
			}
			values := msg.Header.Values(MessageIDHeader)
			if len(values) != 1 || values[0] != "" {
				t.Errorf("%s: got %v, want one empty value", MessageIDHeader, values)
			}
		})
	}
}

func TestProvider_SendAPIError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(errorResponse{ErrorCode: 300, Message: "Invalid email request"})
	}))
	defer server.Close()

	p := New("token", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	msg := newTestMessage()

	count, err := p.Send(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error for 422 response, got nil")
	}
	if count != 0 {
		t.Errorf("recipient count: got %d, want 0", count)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode: got %d, want %d", apiErr.StatusCode, http.StatusUnprocessableEntity)
	}
	if apiErr.ErrorCode != 300 {
		t.Errorf("ErrorCode: got %d, want 300", apiErr.ErrorCode)
	}
	if apiErr.Message != "Invalid email request" {
		t.Errorf("Message: got %q", apiErr.Message)
	}
	if calls.Load() != 1 {
		t.Errorf("server call count: got %d, want 1 (no retry)", calls.Load())
	}
	if msg.Header.Get(MessageIDHeader) != "" {
		t.Error("message should not be stamped after a failed send")
	}
}

func TestProvider_SendServerErrorWithoutJSON(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	}))
	defer server.Close()

	p := New("token", WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	_, err := p.Send(context.Background(), newTestMessage())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "unavailable" {
		t.Errorf("Message: got %q, want %q", apiErr.Message, "unavailable")
	}
	if calls.Load() != 1 {
		t.Errorf("server call count: got %d, want 1 (no retry)", calls.Load())
	}
}

func TestProvider_SendUnauthorized(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ErrorCode":10,"Message":"Bad or missing Server API token"}`))
	}))
	defer server.Close()

	p := New("wrong", WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	_, err := p.Send(context.Background(), newTestMessage())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if !apiErr.Unauthorized() {
		t.Error("Unauthorized: got false, want true")
	}
}

type failingDoer struct {
	err error
}

func (d failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, d.err
}

func TestProvider_SendTransportError(t *testing.T) {
	t.Parallel()

	connErr := errors.New("connection refused")
	p := New("token", WithHTTPClient(failingDoer{err: connErr}))

	_, err := p.Send(context.Background(), newTestMessage())
	if !errors.Is(err, connErr) {
		t.Errorf("expected wrapped transport error, got %v", err)
	}
}

func TestProvider_SendContextCancelled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MessageID":"x"}`))
	}))
	defer server.Close()

	p := New("token", WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, newTestMessage())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestProvider_SendHooks(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["Tag"] != "from-hook" {
			t.Errorf("Tag in body: got %v, want %q", body["Tag"], "from-hook")
		}
		w.Write([]byte(`{"MessageID":"hooked"}`))
	}))
	defer server.Close()

	var order []string
	var afterID, stampedID string

	p := New("token",
		WithEndpoint(server.URL),
		WithHTTPClient(server.Client()),
		WithBeforeSend(func(_ context.Context, msg *email.Message) {
			order = append(order, "before")
			msg.Header.Add(email.TagHeader, "from-hook")
		}),
		WithAfterSend(func(_ context.Context, msg *email.Message, messageID string) {
			order = append(order, "after")
			afterID = messageID
			stampedID = msg.Header.Get(MessageIDHeader)
		}),
	)

	if _, err := p.Send(context.Background(), newTestMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 2 || order[0] != "before" || order[1] != "after" {
		t.Errorf("hook order: got %v, want [before after]", order)
	}
	if afterID != "hooked" {
		t.Errorf("after hook message id: got %q, want %q", afterID, "hooked")
	}
	if stampedID != "hooked" {
		t.Errorf("header visible to after hook: got %q, want %q", stampedID, "hooked")
	}
}

func TestProvider_SendAfterHookNotCalledOnFailure(t *testing.T) {
	t.Parallel()

	called := false
	p := New("token",
		WithHTTPClient(failingDoer{err: errors.New("boom")}),
		WithAfterSend(func(context.Context, *email.Message, string) { called = true }),
	)

	if _, err := p.Send(context.Background(), newTestMessage()); err == nil {
		t.Fatal("expected error, got nil")
	}
	if called {
		t.Error("after hook should not run when the send fails")
	}
}

func TestProvider_SendConcurrent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"MessageID":"concurrent"}`))
	}))
	defer server.Close()

	p := New("token", WithEndpoint(server.URL), WithHTTPClient(server.Client()))

	var wg sync.WaitGroup
	const goroutines = 10
	errs := make([]error, goroutines)
	msgs := make([]*email.Message, goroutines)

	for i := 0; i < goroutines; i++ {
		msgs[i] = newTestMessage()
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = p.Send(context.Background(), msgs[idx])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d error: %v", i, err)
		}
		if msgs[i].Header.Get(MessageIDHeader) != "concurrent" {
			t.Errorf("goroutine %d: message not stamped", i)
		}
	}
	if calls.Load() != goroutines {
		t.Errorf("server call count: got %d, want %d", calls.Load(), goroutines)
	}
}
