// Package detaerr defines the failure conditions surfaced by the Base and
// Drive clients. Every error raised from a server response is an *Error whose
// Err field holds one of the sentinels below, so callers can test the
// condition with errors.Is and still read the server supplied text.
package detaerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel conditions. Use errors.Is against these.
var (
	// ErrBadRequest reports a 400: the service rejected the query or payload.
	ErrBadRequest = errors.New("deta: bad request")

	// ErrNotFound reports a 404 for a key, file or upload session.
	ErrNotFound = errors.New("deta: not found")

	// ErrKeyConflict reports a 409 on insert: the key already exists.
	ErrKeyConflict = errors.New("deta: key already exists")

	// ErrInvalidArgument reports a client-side validation failure. No request was sent.
	ErrInvalidArgument = errors.New("deta: invalid argument")

	// ErrUploadFailed reports an unclassified non-success on a single-shot upload.
	ErrUploadFailed = errors.New("deta: upload failed")

	// ErrUnexpectedStatus reports a status the call site has no mapping for.
	ErrUnexpectedStatus = errors.New("deta: unexpected response status")

	// ErrUploadAborted reports a multi-part upload that was aborted after a part failed.
	ErrUploadAborted = errors.New("deta: upload aborted")

	// ErrClientClosed reports use of a session after Close.
	ErrClientClosed = errors.New("deta: client closed")
)

// Error carries the operation context and the server text of a failure.
type Error struct {
	// Op is the client operation, e.g. "query", "insert", "push".
	Op string

	// Collection is the Base or Drive name.
	Collection string

	// Key is the item key or file name, when the call targets one.
	Key string

	// StatusCode is the HTTP status observed, zero for client-side failures.
	StatusCode int

	// Messages is the server supplied error text.
	Messages []string

	// Err is the condition, usually a sentinel or a join of several errors.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("deta.")
	b.WriteString(e.Op)
	switch {
	case e.Collection != "" && e.Key != "":
		fmt.Fprintf(&b, " %s/%s", e.Collection, e.Key)
	case e.Collection != "":
		fmt.Fprintf(&b, " %s", e.Collection)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if msg := e.Message(); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

// Unwrap returns the underlying condition for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Message joins the server text with newlines.
func (e *Error) Message() string {
	return strings.Join(e.Messages, "\n")
}

// New builds an Error for op on collection.
func New(op, collection string, err error) *Error {
	return &Error{Op: op, Collection: collection, Err: err}
}

// WithKey adds the item key or file name.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithStatus records the observed HTTP status and server text.
func (e *Error) WithStatus(code int, messages []string) *Error {
	e.StatusCode = code
	e.Messages = messages
	return e
}

// WithMessage appends a message, used when the server sent none.
func (e *Error) WithMessage(msg string) *Error {
	e.Messages = append(e.Messages, msg)
	return e
}

// InvalidArgument builds a validation error for op.
func InvalidArgument(op, collection, format string, args ...any) *Error {
	return New(op, collection, ErrInvalidArgument).WithMessage(fmt.Sprintf(format, args...))
}

// IsBadRequest reports whether err carries ErrBadRequest.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsKeyConflict reports whether err carries ErrKeyConflict.
func IsKeyConflict(err error) bool {
	return errors.Is(err, ErrKeyConflict)
}

// IsInvalidArgument reports whether err carries ErrInvalidArgument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsUploadAborted reports whether a multi-part upload failed and was aborted.
func IsUploadAborted(err error) bool {
	return errors.Is(err, ErrUploadAborted)
}
