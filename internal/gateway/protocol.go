package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/session"
)

// Frame types sent on the stream endpoint. Progress frames reuse the
// session event names.
const (
	FrameTypeDelta      = session.EventDelta
	FrameTypeState      = session.EventState
	FrameTypeToolStart  = session.EventToolStart
	FrameTypeToolResult = session.EventToolResult
	FrameTypeResult     = "result"
	FrameTypeError      = "error"
)

// Frame is one server-to-client message on the stream endpoint. The client
// sends a single domain.AdvanceRequest and receives progress frames followed
// by exactly one result or error frame.
type Frame struct {
	Type     string          `json:"type"`
	Seq      int64           `json:"seq"`
	Content  string          `json:"content,omitempty"`
	State    domain.State    `json:"state,omitempty"`
	Tool     string          `json:"tool,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Replayed bool            `json:"replayed,omitempty"`
	Error    *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape is the error body returned by every endpoint.
type ErrorShape struct {
	Code      string               `json:"code"`
	Message   string               `json:"message"`
	Field     string               `json:"field,omitempty"`
	Quota     *domain.QuotaVerdict `json:"quota,omitempty"`
	Retryable bool                 `json:"retryable"`
}

// eventFrame converts a session progress event into a frame.
func eventFrame(ev session.Event) Frame {
	return Frame{
		Type:    ev.Type,
		Content: ev.Content,
		State:   ev.State,
		Tool:    ev.Tool,
		IsError: ev.IsError,
	}
}

// resultFrame wraps the stored response bytes of a finished request.
func resultFrame(res *session.Result) Frame {
	return Frame{Type: FrameTypeResult, Result: json.RawMessage(res.Body), Replayed: res.Replayed}
}

// errorFrame wraps a failure.
func errorFrame(err error) Frame {
	shape := errorShape(err)
	return Frame{Type: FrameTypeError, Error: &shape}
}

// errorShape classifies err. Internal failures never expose their cause.
func errorShape(err error) ErrorShape {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		return ErrorShape{Code: string(domain.KindInternal), Message: "internal error"}
	}
	msg := de.Message
	if msg == "" {
		msg = de.Error()
	}
	return ErrorShape{
		Code:      string(de.Kind),
		Message:   msg,
		Field:     de.Field,
		Quota:     de.Quota,
		Retryable: de.Retryable(),
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case domain.KindModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
