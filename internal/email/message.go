// Package email defines the core email data model handed to delivery providers.
package email

import (
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

// Message represents an outgoing email message with all its components.
//
// The root content (ContentType and Body) is the message's own body. Parts
// holds the child body parts and attachments in document order.
type Message struct {
	From    AddressList
	To      AddressList
	Cc      AddressList
	Bcc     AddressList
	ReplyTo AddressList
	Subject string

	// Header carries custom header fields such as the tag and, after a
	// successful send, the provider message id.
	Header textproto.MIMEHeader

	ContentType string
	Body        string
	Parts       []Part
}

// NewMessage creates an empty text/plain message with an initialized header set.
func NewMessage() *Message {
	return &Message{
		Header:      make(textproto.MIMEHeader),
		ContentType: "text/plain",
	}
}

// SetBody sets the root content of the message.
func (m *Message) SetBody(body, contentType string) *Message {
	m.Body = body
	m.ContentType = contentType
	return m
}

// AddPart appends a body part with the given content type. Adding a part to a
// message whose root is a single text part turns the root into a
// multipart/alternative container, keeping the root body as the primary part.
func (m *Message) AddPart(body, contentType string) *Message {
	m.Parts = append(m.Parts, &Leaf{ContentType: contentType, Body: []byte(body)})
	if !strings.HasPrefix(MediaType(m.ContentType), "multipart/") {
		m.ContentType = "multipart/alternative"
	}
	return m
}

// Attach appends an attachment to the message.
func (m *Message) Attach(att *Attachment) *Message {
	if att.Disposition == "" {
		att.Disposition = DispositionAttachment
	}
	m.Parts = append(m.Parts, att)
	if !strings.HasPrefix(MediaType(m.ContentType), "multipart/") {
		m.ContentType = "multipart/mixed"
	}
	return m
}

// Embed appends an inline attachment and returns the "cid:" reference to use
// in the HTML body. A content id is generated if the attachment has none.
func (m *Message) Embed(att *Attachment) string {
	att.Disposition = DispositionInline
	if att.ContentID == "" {
		att.ContentID = uuid.New().String() + "@postmark-mailer"
	}
	m.Attach(att)
	return "cid:" + att.ContentID
}

// RecipientCount returns the number of To, Cc and Bcc recipients.
func (m *Message) RecipientCount() int {
	return m.To.Len() + m.Cc.Len() + m.Bcc.Len()
}

// Walk visits every part of the message tree depth-first in document order.
// Containers are visited before their children. Walk stops early when fn
// returns false.
func (m *Message) Walk(fn func(Part) bool) {
	walkParts(m.Parts, fn)
}

func walkParts(parts []Part, fn func(Part) bool) bool {
	for _, p := range parts {
		if !fn(p) {
			return false
		}
		if c, ok := p.(*Container); ok {
			if !walkParts(c.Children, fn) {
				return false
			}
		}
	}
	return true
}
