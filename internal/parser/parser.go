// Package parser loads RFC 5322 messages into the email.Message tree.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/postmark-mailer/internal/email"
)

// addressHeaders are decoded into address lists rather than copied verbatim.
var addressHeaders = map[string]bool{
	"From":     true,
	"To":       true,
	"Cc":       true,
	"Bcc":      true,
	"Reply-To": true,
}

// Parse parses a raw RFC 5322 message into an email.Message. Single-part
// messages become the root body; multipart messages become a tree of
// containers, leaves and attachments. Unreadable parts are logged and skipped.
func Parse(raw []byte) (*email.Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err != nil {
		slog.Warn("message uses an unknown charset or encoding", "error", err)
	}

	header := mail.Header{Header: entity.Header}
	result := email.NewMessage()

	result.From = parseAddressList(header, "From")
	result.To = parseAddressList(header, "To")
	result.Cc = parseAddressList(header, "Cc")
	result.Bcc = parseAddressList(header, "Bcc")
	result.ReplyTo = parseAddressList(header, "Reply-To")

	if subject, err := header.Subject(); err == nil {
		result.Subject = subject
	} else {
		result.Subject = header.Get("Subject")
	}

	copyHeader(entity.Header, result.Header)

	mediaType := mediaTypeOf(entity)
	result.ContentType = mediaType

	if mr := entity.MultipartReader(); mr != nil {
		children, err := readChildren(mr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		result.Parts = children
		return result, nil
	}

	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	result.Body = string(body)
	return result, nil
}

// readChildren reads every part of a multipart body, recursing into nested
// multipart parts.
func readChildren(mr message.MultipartReader) ([]email.Part, error) {
	var parts []email.Part
	for {
		entity, err := mr.NextPart()
		if err == io.EOF {
			return parts, nil
		}
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		mediaType := mediaTypeOf(entity)

		if nested := entity.MultipartReader(); nested != nil {
			children, err := readChildren(nested)
			if err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
				continue
			}
			parts = append(parts, &email.Container{ContentType: mediaType, Children: children})
			continue
		}

		content, err := io.ReadAll(entity.Body)
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		if att, ok := asAttachment(entity, mediaType, content); ok {
			parts = append(parts, att)
			continue
		}
		parts = append(parts, &email.Leaf{ContentType: mediaType, Body: content})
	}
}

// asAttachment classifies a leaf entity as an attachment when it has an
// attachment disposition, carries a filename, or is a non-text part marked
// inline or given a Content-ID.
func asAttachment(entity *message.Entity, mediaType string, content []byte) (*email.Attachment, bool) {
	disposition, params, err := entity.Header.ContentDisposition()
	if err != nil {
		disposition = ""
		params = nil
	}
	disposition = strings.ToLower(disposition)

	filename := params["filename"]
	if filename == "" {
		_, ctParams, _ := entity.Header.ContentType()
		filename = ctParams["name"]
	}

	contentID := strings.Trim(entity.Header.Get("Content-Id"), "<> ")

	// A nameless part is still an attachment when it is explicitly one or
	// when it is a non-text resource referenced inline or by content id.
	referenced := contentID != "" || disposition == email.DispositionInline
	if disposition != email.DispositionAttachment && filename == "" &&
		!(referenced && !strings.HasPrefix(mediaType, "text/")) {
		return nil, false
	}
	if filename == "" {
		filename = fallbackFilename(mediaType)
	}
	if disposition == "" {
		disposition = email.DispositionInline
	}

	return &email.Attachment{
		Leaf:        email.Leaf{ContentType: mediaType, Body: content},
		Filename:    filename,
		Disposition: disposition,
		ContentID:   contentID,
	}, true
}

// fallbackFilename derives a name from the media type so that every
// attachment has a name.
func fallbackFilename(mediaType string) string {
	parts := strings.SplitN(mediaType, "/", 2)
	if len(parts) == 2 && parts[1] != "" {
		return "attachment." + parts[1]
	}
	return "attachment"
}

// mediaTypeOf returns the lowercased media type of an entity, defaulting to
// text/plain when the header is missing or unparseable.
func mediaTypeOf(entity *message.Entity) string {
	mediaType, _, err := entity.Header.ContentType()
	if err != nil || mediaType == "" {
		if raw := entity.Header.Get("Content-Type"); raw != "" {
			slog.Warn("failed to parse content type, treating as plain text",
				"content_type", raw,
			)
		}
		return "text/plain"
	}
	return strings.ToLower(mediaType)
}

// copyHeader copies non-address header fields in file order.
func copyHeader(src message.Header, dst textproto.MIMEHeader) {
	fields := src.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		if addressHeaders[key] {
			continue
		}
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		dst.Add(key, value)
	}
}

// parseAddressList decodes an address header, keeping display names.
func parseAddressList(header mail.Header, key string) email.AddressList {
	var list email.AddressList
	raw := header.Get(key)
	if raw == "" {
		return list
	}

	addresses, err := header.AddressList(key)
	if err != nil {
		// Fall back to a simple comma split if RFC 5322 parsing fails
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				list.Add(trimmed, "")
			}
		}
		return list
	}

	for _, addr := range addresses {
		list.Add(addr.Address, addr.Name)
	}
	return list
}
