package detaapi

import (
	"errors"
	"net/http"

	"github.com/asyncdeta/deta_sdk_go/internal/httpx"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
)

// StatusMap associates HTTP statuses with the condition a call site raises.
type StatusMap map[int]error

var (
	// BadRequestOnly maps 400 and nothing else.
	BadRequestOnly = StatusMap{http.StatusBadRequest: detaerr.ErrBadRequest}

	// BadRequestOrNotFound maps 400 and 404.
	BadRequestOrNotFound = StatusMap{
		http.StatusBadRequest: detaerr.ErrBadRequest,
		http.StatusNotFound:   detaerr.ErrNotFound,
	}
)

// Classify converts an error returned by httpx.Client.Do into a *detaerr.Error.
// HTTP failures listed in known map to their condition, other statuses to
// fallback; the server text always travels with the error. Transport failures
// keep the original error as the condition.
func Classify(op, collection string, err error, known StatusMap, fallback error) *detaerr.Error {
	if errors.Is(err, httpx.ErrClosed) {
		return detaerr.New(op, collection, detaerr.ErrClientClosed)
	}
	var httpErr *httpx.HTTPError
	if !errors.As(err, &httpErr) {
		return detaerr.New(op, collection, err)
	}
	cond, ok := known[httpErr.StatusCode]
	if !ok {
		cond = fallback
	}
	return detaerr.New(op, collection, cond).WithStatus(httpErr.StatusCode, ErrorMessages(httpErr.Body))
}

// Unexpected reports a success-range status the call site does not accept.
func Unexpected(op, collection string, status int, body []byte) *detaerr.Error {
	return detaerr.New(op, collection, detaerr.ErrUnexpectedStatus).WithStatus(status, ErrorMessages(body))
}
