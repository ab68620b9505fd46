package errcode

// Messages for failures detected before any request is sent.
const (
	MsgEmailRequired     = "Enter your email address."
	MsgPasswordRequired  = "Enter your password."
	MsgCodeRequired      = "Enter the code from your email."
	MsgFullNameRequired  = "Enter your full name."
	MsgFullNameTooLong   = "Full name must be at most 100 characters."
	MsgCurrencyInvalid   = "Choose a valid currency code, such as USD."
	MsgPasswordMismatch  = "Passwords do not match."
	MsgAttemptsExhausted = "Too many incorrect codes. Request a new code."
	MsgSessionExpired    = "Your reset session expired. Confirm a new code."
	MsgCooldownActive    = "Please wait before requesting another code."
)
