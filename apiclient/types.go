package apiclient

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"fullName"`
	BaseCurrency string `json:"baseCurrency"`
}

// RegisterResponse always asks for verification in practice; Token is null.
type RegisterResponse struct {
	VerificationRequired bool    `json:"verificationRequired"`
	Token                *string `json:"token"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries either a session token or an OTP challenge.
type LoginResponse struct {
	Token            string `json:"token,omitempty"`
	OTPRequired      bool   `json:"otpRequired,omitempty"`
	ExpiresInSeconds int    `json:"expiresInSeconds,omitempty"`
}

// OTPRequest is the body of POST /api/auth/login/otp.
type OTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyRequest is the body of POST /api/auth/verify.
type VerifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// TokenResponse is returned by OTP confirmation and verification.
type TokenResponse struct {
	Token string `json:"token"`
}

// EmailRequest is the body of the verification request and forgot-password
// endpoints.
type EmailRequest struct {
	Email string `json:"email"`
}

// ConfirmResetRequest is the body of POST /api/auth/reset/confirm.
type ConfirmResetRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

// ConfirmResetResponse opens a short-lived reset session.
type ConfirmResetResponse struct {
	ResetSessionToken string `json:"resetSessionToken"`
	ExpiresInSeconds  int    `json:"expiresInSeconds"`
}

// ResetRequest is the body of POST /api/auth/reset.
type ResetRequest struct {
	ResetSessionToken string `json:"resetSessionToken"`
	Password          string `json:"password"`
}

// CSRFResponse is returned by GET /api/auth/csrf.
type CSRFResponse struct {
	Token string `json:"token"`
}

// Profile is returned by GET /api/auth/me.
type Profile struct {
	ID           string `json:"id,omitempty"`
	Email        string `json:"email"`
	FullName     string `json:"fullName,omitempty"`
	BaseCurrency string `json:"baseCurrency,omitempty"`
	Verified     bool   `json:"verified,omitempty"`
}
