// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/postmark-mailer/internal/email"
)

// Provider is the interface that email delivery backends must implement.
type Provider interface {
	// Send makes a single delivery attempt and returns the number of
	// recipients the message was sent to.
	Send(ctx context.Context, msg *email.Message) (int, error)

	// Name returns the human-readable name of this provider.
	Name() string
}
