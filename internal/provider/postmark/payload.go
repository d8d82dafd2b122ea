package postmark

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/shineum/postmark-mailer/internal/email"
)

// tokenHeader carries the server API token on every request.
const tokenHeader = "X-Postmark-Server-Token"

// buildHeaders returns the HTTP headers for a send request.
func buildHeaders(token string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	h.Set(tokenHeader, token)
	return h
}

// buildPayload converts an email.Message into a Postmark request body.
// Every message shape has a defined payload, so it cannot fail.
func buildPayload(msg *email.Message) *payload {
	p := &payload{
		From:        formatContacts(msg.From),
		To:          formatContacts(msg.To),
		Cc:          formatContacts(msg.Cc),
		Bcc:         formatContacts(msg.Bcc),
		ReplyTo:     formatContacts(msg.ReplyTo),
		Subject:     msg.Subject,
		Tag:         selectTag(msg),
		Attachments: collectAttachments(msg),
	}
	p.TextBody, p.HtmlBody = classifyBody(msg)
	return p
}

// formatContacts renders an address list as a comma separated header value.
// Names containing a comma are quoted so the list stays parseable.
func formatContacts(contacts email.AddressList) string {
	formatted := make([]string, 0, len(contacts))
	for _, c := range contacts {
		if c.Name == "" {
			formatted = append(formatted, c.Address)
			continue
		}
		name := c.Name
		if strings.Contains(name, ",") {
			name = `"` + name + `"`
		}
		formatted = append(formatted, name+" <"+c.Address+">")
	}
	return strings.Join(formatted, ",")
}

// selectTag returns the last value of the tag header, or "" if there is none.
func selectTag(msg *email.Message) string {
	return msg.Tag()
}

// classifyBody assigns the root body to HtmlBody for HTML and multipart
// roots and to TextBody otherwise, then overlays the first text/plain and
// text/html parts found in the tree.
func classifyBody(msg *email.Message) (text, html *string) {
	root := msg.Body
	mediaType := email.MediaType(msg.ContentType)
	if mediaType == "text/html" || strings.HasPrefix(mediaType, "multipart/") {
		html = &root
	} else {
		text = &root
	}

	if plain, ok := findLeaf(msg, "text/plain"); ok {
		text = &plain
	}
	if markup, ok := findLeaf(msg, "text/html"); ok {
		html = &markup
	}
	return text, html
}

// findLeaf returns the body of the first non-attachment leaf with the given
// media type. Content-Type parameters are ignored.
func findLeaf(msg *email.Message, mediaType string) (string, bool) {
	var body string
	var found bool
	msg.Walk(func(p email.Part) bool {
		leaf, ok := p.(*email.Leaf)
		if !ok || email.MediaType(leaf.ContentType) != mediaType {
			return true
		}
		body = string(leaf.Body)
		found = true
		return false
	})
	return body, found
}

// collectAttachments encodes every attachment in the tree in document order.
func collectAttachments(msg *email.Message) []attachment {
	var attachments []attachment
	msg.Walk(func(p email.Part) bool {
		att, ok := p.(*email.Attachment)
		if !ok {
			return true
		}
		a := attachment{
			Name:        att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Body),
			ContentType: att.ContentType,
		}
		if att.Inline() {
			a.ContentID = "cid:" + att.ContentID
		}
		attachments = append(attachments, a)
		return true
	})
	return attachments
}
