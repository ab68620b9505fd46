package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

var (
	// ErrTransport wraps failures where no HTTP response was received.
	ErrTransport = errors.New("api transport failure")
	// ErrDecode wraps malformed success bodies.
	ErrDecode = errors.New("api response decode failure")
	// ErrCSRFUnavailable is returned when no CSRF token could be obtained.
	ErrCSRFUnavailable = errors.New("csrf token unavailable")
)

// Error is a non-2xx API response.
type Error struct {
	Status   int
	Code     string
	Message  string
	Endpoint string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %s: status %d code %s", e.Endpoint, e.Status, e.Code)
	}
	return fmt.Sprintf("api %s: status %d", e.Endpoint, e.Status)
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// CodeOf returns the server error code carried by err, or "".
func CodeOf(err error) string {
	if apiErr, ok := AsError(err); ok {
		return apiErr.Code
	}
	return ""
}

// IsUnauthorized reports a 401 response.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.Status == http.StatusUnauthorized
}

// IsSessionInvalid reports a response rejecting the presented reset session:
// 401 Unauthorized or 410 Gone.
func IsSessionInvalid(err error) bool {
	apiErr, ok := AsError(err)
	if !ok {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusGone
}

// flexCode accepts "100005" and 100005.
type flexCode string

func (c *flexCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = flexCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("error code %q is not an integer", n)
	}
	*c = flexCode(n.String())
	return nil
}

type errorPayload struct {
	Code    flexCode `json:"code"`
	Message string   `json:"message"`
}

type errorBody struct {
	errorPayload
	Error *errorPayload `json:"error"`
}

func decodeError(status int, endpoint string, body []byte) *Error {
	out := &Error{Status: status, Endpoint: endpoint}
	if len(bytes.TrimSpace(body)) == 0 {
		return out
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return out
	}
	payload := parsed.errorPayload
	if parsed.Error != nil {
		payload = *parsed.Error
	}
	out.Code = string(payload.Code)
	out.Message = payload.Message
	return out
}
