// Package postmark implements a Provider that sends emails via the Postmark
// transactional email API.
package postmark

import (
	"fmt"
	"net/http"
)

// payload is the request body for the Postmark /email endpoint. Empty
// optional fields are omitted rather than sent as "" or [].
type payload struct {
	From        string       `json:"From"`
	To          string       `json:"To"`
	Cc          string       `json:"Cc,omitempty"`
	Bcc         string       `json:"Bcc,omitempty"`
	ReplyTo     string       `json:"ReplyTo,omitempty"`
	Subject     string       `json:"Subject"`
	Tag         string       `json:"Tag,omitempty"`
	TextBody    *string      `json:"TextBody,omitempty"`
	HtmlBody    *string      `json:"HtmlBody,omitempty"`
	Attachments []attachment `json:"Attachments,omitempty"`
}

// attachment represents a file attachment in a Postmark request.
type attachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
	ContentID   string `json:"ContentID,omitempty"`
}

// sendResponse is the Postmark response to a successful send.
type sendResponse struct {
	To          string `json:"To"`
	SubmittedAt string `json:"SubmittedAt"`
	MessageID   string `json:"MessageID"`
	ErrorCode   int    `json:"ErrorCode"`
	Message     string `json:"Message"`
}

// errorResponse is the body Postmark returns alongside a non-2xx status.
type errorResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// APIError is returned when Postmark answers with a non-success status.
type APIError struct {
	StatusCode int
	ErrorCode  int
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != 0 {
		return fmt.Sprintf("Postmark API error (HTTP %d, code %d): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("Postmark API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Unauthorized reports whether the server token was rejected.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}
