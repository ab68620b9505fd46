package errcode

import "strings"

// Field names a form input that can carry an inline error. The empty Field
// is the form-level slot.
type Field string

const (
	FieldForm            Field = ""
	FieldEmail           Field = "email"
	FieldPassword        Field = "password"
	FieldConfirmPassword Field = "confirmPassword"
	FieldCode            Field = "code"
	FieldFullName        Field = "fullName"
	FieldBaseCurrency    Field = "baseCurrency"
)

// Server-issued error codes.
const (
	InvalidCredentials  = "100001"
	EmailRegistered     = "100002"
	PasswordPolicy      = "100003"
	AccountLocked       = "100004"
	InvalidCode         = "100005"
	MalformedEmail      = "400002"
	PasswordPolicyInput = "400003"
	RateLimited         = "429001"
)

const (
	MsgInvalidCredentials = "Invalid email or password."
	MsgEmailRegistered    = "This email is already registered."
	MsgAccountLocked      = "Account temporarily locked. Try again later."
	MsgInvalidCode        = "Invalid or expired code."
	MsgMalformedEmail     = "Enter a valid email address."
	MsgRateLimited        = "Too many requests. Please wait and try again."
	MsgRequestFailed      = "Request failed. Please try again."
)

// Translation is where and how a server error is rendered.
type Translation struct {
	Field   Field
	Message string
	// ClearFields lists inputs whose validity markers are reset rather than
	// flagged.
	ClearFields []Field
}

// FormLevel reports whether the translation targets the form slot.
func (t Translation) FormLevel() bool {
	return t.Field == FieldForm
}

// Translator renders codes. PolicyDescription is used for password policy
// violations when the server sends no message.
type Translator struct {
	PolicyDescription string
}

// Translate maps code to its render target. Unknown codes fall back to the
// generic form-level failure.
func (t Translator) Translate(code, message string) Translation {
	switch strings.TrimSpace(code) {
	case InvalidCredentials:
		return Translation{
			Field:       FieldForm,
			Message:     MsgInvalidCredentials,
			ClearFields: []Field{FieldEmail, FieldPassword},
		}
	case EmailRegistered:
		return Translation{Field: FieldEmail, Message: MsgEmailRegistered}
	case PasswordPolicy, PasswordPolicyInput:
		msg := strings.TrimSpace(message)
		if msg == "" {
			msg = t.PolicyDescription
		}
		if msg == "" {
			msg = MsgRequestFailed
		}
		return Translation{Field: FieldPassword, Message: msg}
	case AccountLocked:
		return Translation{Field: FieldPassword, Message: MsgAccountLocked}
	case InvalidCode:
		return Translation{Field: FieldCode, Message: MsgInvalidCode}
	case MalformedEmail:
		return Translation{Field: FieldEmail, Message: MsgMalformedEmail}
	case RateLimited:
		return Translation{Field: FieldForm, Message: MsgRateLimited}
	default:
		return Translation{Field: FieldForm, Message: MsgRequestFailed}
	}
}

// Translate uses a Translator with no policy description.
func Translate(code, message string) Translation {
	return Translator{}.Translate(code, message)
}

// Generic is the fallback used for transport failures.
func Generic() Translation {
	return Translation{Field: FieldForm, Message: MsgRequestFailed}
}

// IsInvalidCode reports whether code consumes an attempt slot.
func IsInvalidCode(code string) bool {
	return strings.TrimSpace(code) == InvalidCode
}

// IsRateLimited reports whether code is the server rate-limit code.
func IsRateLimited(code string) bool {
	return strings.TrimSpace(code) == RateLimited
}
