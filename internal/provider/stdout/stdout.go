// Package stdout implements a Provider that prints messages instead of
// delivering them, for dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/postmark-mailer/internal/email"
)

const separator = "========================================\n"

// Provider prints email messages in a human-readable format.
type Provider struct {
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the message and reports the recipients it would have reached.
func (p *Provider) Send(_ context.Context, msg *email.Message) (int, error) {
	var b strings.Builder

	b.WriteString(separator)
	writeAddresses(&b, "From", msg.From)
	writeAddresses(&b, "To", msg.To)
	writeAddresses(&b, "Cc", msg.Cc)
	writeAddresses(&b, "Bcc", msg.Bcc)
	writeAddresses(&b, "Reply-To", msg.ReplyTo)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if tag := msg.Tag(); tag != "" {
		fmt.Fprintf(&b, "%s: %s\n", email.TagHeader, tag)
	}
	fmt.Fprintf(&b, "Content-Type: %s\n", msg.ContentType)
	b.WriteString("Body:\n")
	b.WriteString(displayBody(msg) + "\n")

	var attachments []string
	msg.Walk(func(part email.Part) bool {
		att, ok := part.(*email.Attachment)
		if !ok {
			return true
		}
		entry := fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Body)))
		if att.Inline() {
			entry += " inline cid:" + att.ContentID
		}
		attachments = append(attachments, entry)
		return true
	})
	if len(attachments) > 0 {
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return 0, fmt.Errorf("failed to write message: %w", err)
	}
	return msg.RecipientCount(), nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func writeAddresses(b *strings.Builder, label string, list email.AddressList) {
	if list.Len() == 0 {
		return
	}
	formatted := make([]string, 0, list.Len())
	for _, a := range list {
		if a.Name == "" {
			formatted = append(formatted, a.Address)
		} else {
			formatted = append(formatted, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		}
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(formatted, ", "))
}

// displayBody prefers the first text/plain part, then the root body, then
// the first text/html part.
func displayBody(msg *email.Message) string {
	var plain, html string
	msg.Walk(func(part email.Part) bool {
		leaf, ok := part.(*email.Leaf)
		if !ok {
			return true
		}
		mediaType := email.MediaType(leaf.ContentType)
		switch {
		case plain == "" && mediaType == "text/plain":
			plain = string(leaf.Body)
		case html == "" && mediaType == "text/html":
			html = string(leaf.Body)
		}
		return true
	})
	switch {
	case plain != "":
		return plain
	case msg.Body != "":
		return msg.Body
	default:
		return html
	}
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
