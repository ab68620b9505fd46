package authtest

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/MrEthical07/authflow/apiclient"
	"github.com/MrEthical07/authflow/internal/errcode"
	"github.com/MrEthical07/authflow/internal/validate"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.countCalls, s.requireCSRF)

	api := r.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/csrf", s.handleCSRF).Methods(http.MethodGet)
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/login/otp", s.handleLoginOTP).Methods(http.MethodPost)
	api.HandleFunc("/verify/request", s.handleVerifyRequest).Methods(http.MethodPost)
	api.HandleFunc("/verify", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/forgot", s.handleForgot).Methods(http.MethodPost)
	api.HandleFunc("/reset/confirm", s.handleResetConfirm).Methods(http.MethodPost)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	return r
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// requireCSRF enforces the double-submit check: the header must echo the
// cookie on every unsafe method.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(CSRFCookie)
		header := r.Header.Get(CSRFHeader)
		if err != nil || cookie.Value == "" || header == "" ||
			subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			writeError(w, http.StatusForbidden, CodeCSRF, "csrf token missing or invalid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, apiclient.CSRFResponse{Token: token})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.cfg.SessionTTL / time.Second),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req apiclient.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	email := validate.NormalizeEmail(req.Email)
	if validate.Email(email) != nil {
		writeError(w, http.StatusBadRequest, errcode.MalformedEmail, "malformed email")
		return
	}
	if err := s.cfg.Policy.Check(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, errcode.PasswordPolicyInput, s.cfg.Policy.Description())
		return
	}
	currency, err := validate.Currency(req.BaseCurrency)
	if err != nil || validate.FullName(req.FullName) != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid profile fields")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[email]; exists {
		writeError(w, http.StatusConflict, errcode.EmailRegistered, "email already registered")
		return
	}
	s.users[email] = &user{
		ID:           uuid.NewString(),
		Email:        email,
		Password:     req.Password,
		FullName:     req.FullName,
		BaseCurrency: currency,
	}
	if _, err := s.issueCodeLocked(PurposeVerify, email); err != nil {
		writeError(w, http.StatusInternalServerError, "500001", "code generation failed")
		return
	}

	writeJSON(w, http.StatusCreated, apiclient.RegisterResponse{VerificationRequired: true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req apiclient.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	email := validate.NormalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if ok && s.cfg.LockoutThreshold > 0 && u.FailedLogins >= s.cfg.LockoutThreshold {
		writeError(w, http.StatusLocked, errcode.AccountLocked, "account locked")
		return
	}
	if !ok || subtle.ConstantTimeCompare([]byte(u.Password), []byte(req.Password)) != 1 {
		if ok {
			u.FailedLogins++
		}
		writeError(w, http.StatusUnauthorized, errcode.InvalidCredentials, "invalid credentials")
		return
	}
	u.FailedLogins = 0

	if u.OTPRequired || !u.Verified {
		purpose := PurposeLoginOTP
		if !u.Verified {
			purpose = PurposeVerify
		}
		issued, err := s.issueCodeLocked(purpose, email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "500001", "code generation failed")
			return
		}
		if !issued {
			writeError(w, http.StatusTooManyRequests, errcode.RateLimited, "too many code requests")
			return
		}
		writeJSON(w, http.StatusOK, apiclient.LoginResponse{
			OTPRequired:      true,
			ExpiresInSeconds: int(s.cfg.CodeTTL / time.Second),
		})
		return
	}

	s.completeLoginLocked(w, u)
}

// completeLoginLocked must be called with s.mu held.
func (s *Server) completeLoginLocked(w http.ResponseWriter, u *user) {
	token, err := s.issueSession(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "500002", "token issuance failed")
		return
	}
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, apiclient.TokenResponse{Token: token})
}

func (s *Server) handleLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req apiclient.OTPRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	email := validate.NormalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok {
		writeError(w, http.StatusBadRequest, errcode.InvalidCode, "invalid or expired code")
		return
	}
	// An unverified user's login challenge is the verification code.
	purpose := PurposeLoginOTP
	if !u.Verified {
		purpose = PurposeVerify
	}
	if !s.consumeCodeLocked(purpose, email, req.Code) {
		writeError(w, http.StatusBadRequest, errcode.InvalidCode, "invalid or expired code")
		return
	}
	u.Verified = true
	s.completeLoginLocked(w, u)
}

func (s *Server) handleVerifyRequest(w http.ResponseWriter, r *http.Request) {
	var req apiclient.EmailRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	email := validate.NormalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[email]; ok && !u.Verified {
		issued, err := s.issueCodeLocked(PurposeVerify, email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "500001", "code generation failed")
			return
		}
		if !issued {
			writeError(w, http.StatusTooManyRequests, errcode.RateLimited, "too many code requests")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req apiclient.VerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	email := validate.NormalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok || !s.consumeCodeLocked(PurposeVerify, email, req.Token) {
		writeError(w, http.StatusBadRequest, errcode.InvalidCode, "invalid or expired code")
		return
	}
	u.Verified = true
	s.completeLoginLocked(w, u)
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request) {
	var req apiclient.EmailRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	email := validate.NormalizeEmail(req.Email)
	if validate.Email(email) != nil {
		writeError(w, http.StatusBadRequest, errcode.MalformedEmail, "malformed email")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Unknown addresses get the same answer so the endpoint does not reveal
	// which emails are registered.
	if _, ok := s.users[email]; ok {
		issued, err := s.issueCodeLocked(PurposeReset, email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "500001", "code generation failed")
			return
		}
		if !issued {
			writeError(w, http.StatusTooManyRequests, errcode.RateLimited, "too many code requests")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req apiclient.ConfirmResetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	email := validate.NormalizeEmail(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.consumeCodeLocked(PurposeReset, email, req.Token) {
		writeError(w, http.StatusBadRequest, errcode.InvalidCode, "invalid or expired code")
		return
	}

	token := uuid.NewString()
	s.resetSessions[token] = resetSession{
		Email:     email,
		ExpiresAt: s.now().Add(s.cfg.ResetSessionTTL),
	}
	writeJSON(w, http.StatusOK, apiclient.ConfirmResetResponse{
		ResetSessionToken: token,
		ExpiresInSeconds:  int(s.cfg.ResetSessionTTL / time.Second),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req apiclient.ResetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.resetSessions[req.ResetSessionToken]
	if !ok || !s.now().Before(session.ExpiresAt) {
		delete(s.resetSessions, req.ResetSessionToken)
		writeError(w, http.StatusGone, CodeResetSession, "reset session expired")
		return
	}
	if err := s.cfg.Policy.Check(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, errcode.PasswordPolicyInput, s.cfg.Policy.Description())
		return
	}

	u, ok := s.users[session.Email]
	if !ok {
		delete(s.resetSessions, req.ResetSessionToken)
		writeError(w, http.StatusGone, CodeResetSession, "reset session expired")
		return
	}
	u.Password = req.Password
	u.FailedLogins = 0
	delete(s.resetSessions, req.ResetSessionToken)
	s.cfg.Logger.Info("password reset", "user_id", u.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "not signed in")
		return
	}
	writeJSON(w, http.StatusOK, apiclient.Profile{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		BaseCurrency: u.BaseCurrency,
		Verified:     u.Verified,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if _, claims, ok := s.authenticate(r); ok {
		s.mu.Lock()
		s.revoked[claims.ID] = struct{}{}
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// authenticate resolves the session cookie to a user.
func (s *Server) authenticate(r *http.Request) (user, *sessionClaims, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return user{}, nil, false
	}
	claims, err := s.parseSession(cookie.Value)
	if err != nil {
		return user{}, nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, revoked := s.revoked[claims.ID]; revoked {
		return user{}, nil, false
	}
	u, ok := s.users[claims.Email]
	if !ok || u.ID != claims.Subject {
		return user{}, nil, false
	}
	return *u, claims, true
}
