package authtest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/MrEthical07/authflow/internal/validate"
	"github.com/MrEthical07/authflow/password"
)

const (
	SessionCookie = "session"
	CSRFCookie    = "XSRF-TOKEN"
	CSRFHeader    = "X-XSRF-TOKEN"

	// CodeCSRF and CodeResetSession are server codes outside the closed set the
	// client translates; they render as the generic failure.
	CodeCSRF         = "403001"
	CodeResetSession = "410001"
	CodeUnauthorized = "401001"
	CodeBadRequest   = "400001"
)

// Purpose separates the one-time code namespaces.
type Purpose string

const (
	PurposeVerify   Purpose = "verify"
	PurposeLoginOTP Purpose = "login-otp"
	PurposeReset    Purpose = "reset"
)

// Config configures a Server. Zero values fall back to defaults.
type Config struct {
	SigningKey      []byte
	SessionTTL      time.Duration
	CodeTTL         time.Duration
	ResetSessionTTL time.Duration
	// ResendInterval rejects a second code for the same purpose and email
	// with 429001 inside the window. Zero disables the check.
	ResendInterval time.Duration
	// LockoutThreshold locks an account with 100004 after that many failed
	// logins. Zero disables lockout.
	LockoutThreshold int
	CodeDigits       int
	Policy           *password.Policy
	Now              func() time.Time
	// OnCode receives every issued code, in place of an email.
	OnCode func(purpose Purpose, email, code string)
	Logger *slog.Logger
}

// User seeds an account.
type User struct {
	Email        string
	Password     string
	FullName     string
	BaseCurrency string
	Verified     bool
	// OTPRequired makes login answer with an OTP challenge.
	OTPRequired bool
}

type user struct {
	ID           string
	Email        string
	Password     string
	FullName     string
	BaseCurrency string
	Verified     bool
	OTPRequired  bool
	FailedLogins int
}

type issuedCode struct {
	Code      string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

type resetSession struct {
	Email     string
	ExpiresAt time.Time
}

// Server is the in-memory authentication API.
type Server struct {
	cfg    Config
	router *mux.Router

	mu            sync.Mutex
	users         map[string]*user
	codes         map[Purpose]map[string]issuedCode
	resetSessions map[string]resetSession
	revoked       map[string]struct{}
	calls         map[string]int
}

// New creates a Server.
func New(cfg Config) *Server {
	if len(cfg.SigningKey) == 0 {
		cfg.SigningKey = newSigningKey()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.ResetSessionTTL <= 0 {
		cfg.ResetSessionTTL = 120 * time.Second
	}
	if cfg.CodeDigits == 0 {
		cfg.CodeDigits = 6
	}
	if cfg.Policy == nil {
		cfg.Policy = password.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:           cfg,
		users:         make(map[string]*user),
		codes:         make(map[Purpose]map[string]issuedCode),
		resetSessions: make(map[string]resetSession),
		revoked:       make(map[string]struct{}),
		calls:         make(map[string]int),
	}
	s.router = s.routes()
	return s
}

func (s *Server) now() time.Time {
	return s.cfg.Now()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser seeds an account and returns its id.
func (s *Server) AddUser(u User) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	email := validate.NormalizeEmail(u.Email)
	s.users[email] = &user{
		ID:           id,
		Email:        email,
		Password:     u.Password,
		FullName:     u.FullName,
		BaseCurrency: u.BaseCurrency,
		Verified:     u.Verified,
		OTPRequired:  u.OTPRequired,
	}
	return id
}

// SetCode replaces the outstanding code for purpose and email.
func (s *Server) SetCode(purpose Purpose, email, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.codeMap(purpose)[validate.NormalizeEmail(email)] = issuedCode{
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
	}
}

// Code returns the outstanding code for purpose and email.
func (s *Server) Code(purpose Purpose, email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codeMap(purpose)[validate.NormalizeEmail(email)]
	if !ok {
		return "", false
	}
	return c.Code, true
}

// Password returns the stored password of email.
func (s *Server) Password(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[validate.NormalizeEmail(email)]
	if !ok {
		return "", false
	}
	return u.Password, true
}

// Verified reports whether email completed verification.
func (s *Server) Verified(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[validate.NormalizeEmail(email)]
	return ok && u.Verified
}

// ExpireResetSessions invalidates every open reset session.
func (s *Server) ExpireResetSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetSessions = make(map[string]resetSession)
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// issueCodeLocked must be called with s.mu held.
func (s *Server) issueCodeLocked(purpose Purpose, email string) (bool, error) {
	codes := s.codeMap(purpose)
	now := s.now()

	if prev, ok := codes[email]; ok && s.cfg.ResendInterval > 0 && now.Sub(prev.IssuedAt) < s.cfg.ResendInterval {
		return false, nil
	}

	code, err := newCode(s.cfg.CodeDigits)
	if err != nil {
		return false, err
	}
	codes[email] = issuedCode{Code: code, IssuedAt: now, ExpiresAt: now.Add(s.cfg.CodeTTL)}
	if s.cfg.OnCode != nil {
		s.cfg.OnCode(purpose, email, code)
	}
	return true, nil
}

// consumeCodeLocked must be called with s.mu held.
func (s *Server) consumeCodeLocked(purpose Purpose, email, code string) bool {
	codes := s.codeMap(purpose)
	issued, ok := codes[email]
	if !ok {
		return false
	}
	if !s.now().Before(issued.ExpiresAt) {
		delete(codes, email)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(issued.Code), []byte(code)) != 1 {
		return false
	}
	delete(codes, email)
	return true
}

func (s *Server) codeMap(purpose Purpose) map[string]issuedCode {
	codes, ok := s.codes[purpose]
	if !ok {
		codes = make(map[string]issuedCode)
		s.codes[purpose] = codes
	}
	return codes
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}
