// Package graph is a Microsoft Graph client for OneDrive uploads: retrying
// requests, folder creation, resumable upload sessions, and the OAuth2
// authorization-code token provider.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Status sentinels. A *GraphError unwraps to one of them.
var (
	ErrBadRequest    = errors.New("graph: bad request")
	ErrUnauthorized  = errors.New("graph: unauthorized")
	ErrForbidden     = errors.New("graph: forbidden")
	ErrNotFound      = errors.New("graph: not found")
	ErrConflict      = errors.New("graph: conflict")
	ErrGone          = errors.New("graph: resource gone")
	ErrRangeRejected = errors.New("graph: requested range not satisfiable")
	ErrThrottled     = errors.New("graph: throttled")
	ErrLocked        = errors.New("graph: resource locked")
	ErrQuotaExceeded = errors.New("graph: drive quota exceeded")
	ErrServerError   = errors.New("graph: server error")
)

var (
	// ErrAuthFailure is returned when the authorization exchange is rejected
	// or no usable access token can be produced. It ends an upload run.
	ErrAuthFailure = errors.New("graph: authorization failed")

	// ErrNoUploadURL is returned when createUploadSession answers without an
	// uploadUrl.
	ErrNoUploadURL = errors.New("graph: upload session response missing uploadUrl")
)

// GraphError is a non-2xx Graph response. Code and Message come from the
// {"error":{"code","message"}} body when there is one.
type GraphError struct {
	StatusCode int
	RequestID  string
	Code       string
	Message    string
	Err        error
}

func (e *GraphError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "graph: HTTP %d", e.StatusCode)

	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}

	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}

	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request-id %s)", e.RequestID)
	}

	return b.String()
}

func (e *GraphError) Unwrap() error { return e.Err }

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newGraphError builds a GraphError from a failed response and its body.
// A body that is not a Graph error envelope becomes the message verbatim.
func newGraphError(resp *http.Response, body []byte) *GraphError {
	gerr := &GraphError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("request-id"),
		Err:        classifyStatus(resp.StatusCode),
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		gerr.Code = env.Error.Code
		gerr.Message = env.Error.Message

		return gerr
	}

	gerr.Message = strings.TrimSpace(string(body))

	return gerr
}

// readGraphError consumes and closes a failed response's body.
func readGraphError(resp *http.Response) *GraphError {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if err != nil {
		body = nil
	}

	return newGraphError(resp, body)
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeRejected
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	case http.StatusInsufficientStorage:
		return ErrQuotaExceeded
	}

	if code >= http.StatusInternalServerError {
		return ErrServerError
	}

	return nil
}

// statusBandwidthExceeded is SharePoint's 509 Bandwidth Limit Exceeded.
const statusBandwidthExceeded = 509

// isRetryable reports whether a status is worth another attempt. 507 is a
// full drive and is final.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		statusBandwidthExceeded:
		return true
	default:
		return false
	}
}
