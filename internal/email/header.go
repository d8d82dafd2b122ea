package email

import (
	"mime"
	"strings"
)

// TagHeader is the custom header whose last value tags the message.
const TagHeader = "Tag"

// Tag returns the last value of the tag header, or "" if there is none.
func (m *Message) Tag() string {
	if m.Header == nil {
		return ""
	}
	values := m.Header.Values(TagHeader)
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

// MediaType returns the lowercased media type of a Content-Type value
// without its parameters, e.g. "text/html" for "text/html; charset=utf-8".
func MediaType(contentType string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
