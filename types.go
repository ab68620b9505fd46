package authflow

import (
	"fmt"
	"time"

	"github.com/MrEthical07/authflow/internal/countdown"
)

// Navigation tells the UI adapter where to go after a terminal transition.
type Navigation uint8

const (
	NavigateNone Navigation = iota
	NavigateDashboard
	NavigateLogin
)

func (n Navigation) String() string {
	switch n {
	case NavigateDashboard:
		return "dashboard"
	case NavigateLogin:
		return "login"
	default:
		return "none"
	}
}

// NavigationContext carries what the UI was opened with, such as a recovery
// deep link holding a code and an email.
type NavigationContext struct {
	Token string
	Email string
}

// FormErrors is the error state of one form. Server failures always fill
// exactly one slot; local validation may flag several fields at once.
type FormErrors struct {
	// Form is the form-level message, empty when none.
	Form   string
	Fields map[Field]string
	// Cleared lists inputs whose validity markers the UI must reset.
	Cleared []Field
}

// Empty reports whether no error is shown.
func (f FormErrors) Empty() bool {
	return f.Form == "" && len(f.Fields) == 0
}

// Count returns the number of rendered error targets.
func (f FormErrors) Count() int {
	n := len(f.Fields)
	if f.Form != "" {
		n++
	}
	return n
}

// Get returns the message for field. FieldForm returns the form-level message.
func (f FormErrors) Get(field Field) string {
	if field == FieldForm {
		return f.Form
	}
	return f.Fields[field]
}

func (f *FormErrors) set(field Field, message string) {
	if field == FieldForm {
		f.Form = message
		return
	}
	if f.Fields == nil {
		f.Fields = make(map[Field]string, 1)
	}
	f.Fields[field] = message
}

func (f FormErrors) clone() FormErrors {
	out := FormErrors{Form: f.Form}
	if len(f.Fields) > 0 {
		out.Fields = make(map[Field]string, len(f.Fields))
		for k, v := range f.Fields {
			out.Fields[k] = v
		}
	}
	if len(f.Cleared) > 0 {
		out.Cleared = append([]Field(nil), f.Cleared...)
	}
	return out
}

// singleError renders one request failure.
func singleError(reqErr *RequestError) FormErrors {
	var f FormErrors
	f.set(reqErr.Field, reqErr.Message)
	if len(reqErr.cleared) > 0 {
		f.Cleared = append([]Field(nil), reqErr.cleared...)
	}
	return f
}

// Cooldown is the resend wait of a code-sending flow.
type Cooldown struct {
	Until     time.Time
	Remaining time.Duration
}

func newCooldown(until, now time.Time) Cooldown {
	if until.IsZero() {
		return Cooldown{}
	}
	remaining := until.Sub(now)
	if remaining <= 0 {
		return Cooldown{}
	}
	return Cooldown{Until: until, Remaining: remaining}
}

// Active reports whether resending is still blocked.
func (c Cooldown) Active() bool {
	return c.Remaining > 0
}

// Seconds returns the remaining wait rounded up to whole seconds.
func (c Cooldown) Seconds() int {
	return countdown.Seconds(c.Remaining)
}

// Hint is the label of a disabled resend button, e.g. "25s remaining".
func (c Cooldown) Hint() string {
	if !c.Active() {
		return ""
	}
	return fmt.Sprintf("%ds remaining", c.Seconds())
}

// Attempts is the wrong-code budget of the current code.
type Attempts struct {
	Used   int
	Max    int
	Locked bool
}

// Remaining returns the submissions left before the lock.
func (a Attempts) Remaining() int {
	if a.Used >= a.Max {
		return 0
	}
	return a.Max - a.Used
}

func remainingOf(deadline, now time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
