package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// ErrNotModified is returned when a conditional GET matched the caller's ETag.
var ErrNotModified = errors.New("not modified")

// HTTPError is a non-2xx API response. Code is the server's error code
// ("conflict", "not_found", ...) when the body carried the error envelope.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Body       string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	prefix := "fleet api: " + strconv.Itoa(e.StatusCode)
	if e.Code != "" {
		prefix += " " + e.Code
	}
	return prefix + ": " + msg
}

// Temporary reports whether the request may succeed if sent again unchanged.
func (e *HTTPError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsCode reports whether err is an HTTPError carrying the given server error code.
func IsCode(err error, code string) bool {
	var herr *HTTPError
	return errors.As(err, &herr) && herr.Code == code
}

// IsConflict reports a rejected precondition or a concurrent modification;
// re-read the rollout and try again.
func IsConflict(err error) bool { return IsCode(err, "conflict") }

func IsNotFound(err error) bool { return IsCode(err, "not_found") }

func parseHTTPError(status int, raw []byte) *HTTPError {
	herr := &HTTPError{StatusCode: status, Body: strings.TrimSpace(string(raw))}
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil {
		herr.Message = strings.TrimSpace(env.Error.Message)
		herr.Code = strings.TrimSpace(env.Error.Code)
	}
	return herr
}
