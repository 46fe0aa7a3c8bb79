// Package apperr is the transport-neutral error model. Errors carry a gRPC
// status code and are translated per protocol by fixed tables.
package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GenericMessage is what clients see for errors that are not safe to expose.
const GenericMessage = "Something went wrong"

// Error is a handler-level error with a status code and an optional
// application code.
type Error struct {
	Code        codes.Code
	Message     string
	ConduitCode string

	// Surfaced marks an error whose details payload was structured and may
	// be shown to clients even when Code is unknown.
	Surfaced bool
}

// New creates an error with a status code.
func New(code codes.Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code codes.Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithConduitCode sets the application error code.
func (e *Error) WithConduitCode(c string) *Error {
	e.ConduitCode = c
	return e
}

func (e *Error) Error() string {
	if e.ConduitCode != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.ConduitCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// details is the JSON payload carried in a status message.
type details struct {
	Message     string `json:"message"`
	ConduitCode string `json:"conduitCode,omitempty"`
}

// GRPCStatus encodes the error for the RPC channel. An application code
// travels as a JSON details payload in the status message.
func (e *Error) GRPCStatus() *status.Status {
	msg := e.Message
	if e.ConduitCode != "" {
		data, _ := json.Marshal(details{Message: e.Message, ConduitCode: e.ConduitCode})
		msg = string(data)
	}
	return status.New(e.Code, msg)
}

// From normalizes any error into an *Error.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return New(codes.Canceled, "request canceled")
	}

	if st, ok := status.FromError(err); ok {
		return FromStatus(st)
	}
	return &Error{Code: codes.Unknown, Message: err.Error()}
}

// FromStatus decodes a gRPC status, unpacking a JSON details payload.
func FromStatus(st *status.Status) *Error {
	e := &Error{Code: st.Code(), Message: st.Message()}
	msg := strings.TrimSpace(st.Message())
	if strings.HasPrefix(msg, "{") {
		var d details
		if err := json.Unmarshal([]byte(msg), &d); err == nil && d.Message != "" {
			e.Message = d.Message
			e.ConduitCode = d.ConduitCode
			e.Surfaced = true
		}
	}
	return e
}

// HTTPError is a row of the REST error table.
type HTTPError struct {
	Status int
	Name   string
}

var httpTable = map[codes.Code]HTTPError{
	codes.InvalidArgument:   {http.StatusBadRequest, "INVALID_ARGUMENTS"},
	codes.Unauthenticated:   {http.StatusUnauthorized, "UNAUTHORIZED"},
	codes.PermissionDenied:  {http.StatusForbidden, "FORBIDDEN"},
	codes.NotFound:          {http.StatusNotFound, "NOT_FOUND"},
	codes.AlreadyExists:     {http.StatusConflict, "CONFLICT"},
	codes.ResourceExhausted: {http.StatusTooManyRequests, "TOO_MANY_REQUESTS"},
	codes.Unimplemented:     {http.StatusNotImplemented, "NOT_IMPLEMENTED"},
	codes.Unavailable:       {http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	codes.DeadlineExceeded:  {http.StatusGatewayTimeout, "GATEWAY_TIMEOUT"},
}

var internalHTTP = HTTPError{http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"}

// HTTP maps a status code to its HTTP status and canonical name.
func HTTP(code codes.Code) (HTTPError, bool) {
	row, ok := httpTable[code]
	if !ok {
		return internalHTTP, false
	}
	return row, true
}

// Body is the REST error response.
type Body struct {
	Name        string `json:"name"`
	Status      int    `json:"status"`
	Message     string `json:"message"`
	ConduitCode string `json:"conduitCode,omitempty"`
}

// ToHTTP builds the REST response for err. The second result reports whether
// the error was unmapped and should be logged in full.
func ToHTTP(err error) (Body, bool) {
	e := From(err)
	row, known := HTTP(e.Code)
	if known {
		return Body{Name: row.Name, Status: row.Status, Message: e.Message, ConduitCode: e.ConduitCode}, false
	}
	body := Body{Name: row.Name, Status: row.Status, Message: GenericMessage}
	if e.Surfaced {
		body.Message = e.Message
		body.ConduitCode = e.ConduitCode
	}
	return body, true
}
