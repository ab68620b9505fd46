package authflow

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/authflow/internal/errcode"
)

var (
	// ErrValidation is returned when local input checks fail. No request was sent.
	ErrValidation = errors.New("validation failed")
	// ErrBusy is returned while another operation of the same flow is in flight.
	ErrBusy = errors.New("operation already in progress")
	// ErrClosed is returned once the flow or app has been closed. Responses that
	// arrive after Close are discarded with this error.
	ErrClosed = errors.New("flow closed")
	// ErrCooldownActive is returned when a code is requested before the resend
	// cooldown elapsed.
	ErrCooldownActive = errors.New("resend cooldown active")
	// ErrAttemptsExhausted is returned once the wrong-code budget is spent. A new
	// code must be requested.
	ErrAttemptsExhausted = errors.New("code attempts exhausted")
	// ErrResetSessionExpired is returned when no valid reset session is held.
	ErrResetSessionExpired = errors.New("reset session expired")
	// ErrInvalidStage is returned when an operation does not apply to the
	// current stage of the flow.
	ErrInvalidStage = errors.New("operation not allowed in current stage")
	// ErrStoreUnavailable wraps persistence failures that block an operation.
	ErrStoreUnavailable = errors.New("flow store unavailable")
	// ErrAPINotConfigured is returned by Build without an API.
	ErrAPINotConfigured = errors.New("api client not configured")
)

// Field names a form input. The empty Field is the form-level slot.
type Field = errcode.Field

const (
	FieldForm            = errcode.FieldForm
	FieldEmail           = errcode.FieldEmail
	FieldPassword        = errcode.FieldPassword
	FieldConfirmPassword = errcode.FieldConfirmPassword
	FieldCode            = errcode.FieldCode
	FieldFullName        = errcode.FieldFullName
	FieldBaseCurrency    = errcode.FieldBaseCurrency
)

// RequestError is a failed API call, already translated to its render target.
type RequestError struct {
	Flow string
	Op   string
	// Status and Code are zero when no response was received.
	Status  int
	Code    string
	Field   Field
	Message string
	Err     error

	cleared []Field
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: request failed with code %s: %v", e.Flow, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: request failed: %v", e.Flow, e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the server throttled the request.
func (e *RequestError) RateLimited() bool {
	return e != nil && errcode.IsRateLimited(e.Code)
}

// InvalidCode reports whether the server rejected the one-time code.
func (e *RequestError) InvalidCode() bool {
	return e != nil && errcode.IsInvalidCode(e.Code)
}

// AsRequestError extracts a *RequestError from err.
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}
