package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	defaultCSRFCookie = "XSRF-TOKEN"
	defaultCSRFHeader = "X-XSRF-TOKEN"
	defaultTimeout    = 15 * time.Second
	maxErrorBodyBytes = 64 << 10
)

// Endpoint paths.
const (
	PathRegister      = "/api/auth/register"
	PathLogin         = "/api/auth/login"
	PathLoginOTP      = "/api/auth/login/otp"
	PathVerifyRequest = "/api/auth/verify/request"
	PathVerify        = "/api/auth/verify"
	PathForgot        = "/api/auth/forgot"
	PathResetConfirm  = "/api/auth/reset/confirm"
	PathReset         = "/api/auth/reset"
	PathCSRF          = "/api/auth/csrf"
	PathMe            = "/api/auth/me"
	PathLogout        = "/api/auth/logout"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the origin serving /api/auth, e.g. "https://app.example.com".
	BaseURL string
	// HTTPClient is optional. A cookie jar is installed when it has none.
	HTTPClient     *http.Client
	CSRFCookieName string
	CSRFHeaderName string
	Timeout        time.Duration
	UserAgent      string
	Logger         *slog.Logger
}

// Client calls the authentication endpoints. It is safe for concurrent use.
type Client struct {
	base       *url.URL
	http       *http.Client
	csrfCookie string
	csrfHeader string
	userAgent  string
	logger     *slog.Logger

	// csrfMu serializes token acquisition so concurrent unsafe calls issue a
	// single GET /api/auth/csrf.
	csrfMu    sync.Mutex
	csrfToken string
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("apiclient: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: unsupported scheme %q", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("apiclient: cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	c := &Client{
		base:       base,
		http:       httpClient,
		csrfCookie: cfg.CSRFCookieName,
		csrfHeader: cfg.CSRFHeaderName,
		userAgent:  cfg.UserAgent,
		logger:     cfg.Logger,
	}
	if c.csrfCookie == "" {
		c.csrfCookie = defaultCSRFCookie
	}
	if c.csrfHeader == "" {
		c.csrfHeader = defaultCSRFHeader
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var out RegisterResponse
	if err := c.do(ctx, http.MethodPost, PathRegister, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, PathLogin, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LoginOTP(ctx context.Context, req OTPRequest) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, PathLoginOTP, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RequestVerification(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, PathVerifyRequest, EmailRequest{Email: email}, nil)
}

func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, PathVerify, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Forgot(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, PathForgot, EmailRequest{Email: email}, nil)
}

func (c *Client) ConfirmReset(ctx context.Context, req ConfirmResetRequest) (*ConfirmResetResponse, error) {
	var out ConfirmResetResponse
	if err := c.do(ctx, http.MethodPost, PathResetConfirm, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reset(ctx context.Context, req ResetRequest) error {
	return c.do(ctx, http.MethodPost, PathReset, req, nil)
}

func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, PathMe, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, PathLogout, nil, nil)
}

// CSRF fetches a fresh token from GET /api/auth/csrf. The server also sets
// the CSRF cookie, which later requests read from the jar.
func (c *Client) CSRF(ctx context.Context) (string, error) {
	var out CSRFResponse
	if err := c.do(ctx, http.MethodGet, PathCSRF, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	return &u
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ensureCSRF returns the token to send. The cookie wins; a token from an
// earlier GET /api/auth/csrf body covers servers that set no cookie. Only
// when neither exists is a new token acquired.
func (c *Client) ensureCSRF(ctx context.Context) (string, error) {
	if token := c.cookieToken(); token != "" {
		return token, nil
	}

	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()

	if token := c.cookieToken(); token != "" {
		return token, nil
	}
	if c.csrfToken != "" {
		return c.csrfToken, nil
	}

	token, err := c.CSRF(ctx)
	if err != nil {
		return "", err
	}
	if cookie := c.cookieToken(); cookie != "" {
		token = cookie
	}
	if token == "" {
		return "", ErrCSRFUnavailable
	}
	c.csrfToken = token
	return token, nil
}

func (c *Client) cookieToken() string {
	for _, cookie := range c.http.Jar.Cookies(c.endpoint(PathCSRF)) {
		if cookie.Name == c.csrfCookie && cookie.Value != "" {
			if v, err := url.QueryUnescape(cookie.Value); err == nil {
				return v
			}
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("apiclient: encode %s: %w", path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path).String(), body)
	if err != nil {
		return fmt.Errorf("apiclient: build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if !isSafeMethod(method) {
		token, err := c.ensureCSRF(ctx)
		if err != nil {
			return err
		}
		req.Header.Set(c.csrfHeader, token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "auth api request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "auth api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return decodeError(resp.StatusCode, path, raw)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return nil
}
