package authflow

import (
	"context"

	"github.com/MrEthical07/authflow/apiclient"
)

// API is the authentication endpoint set the controllers consume.
// [apiclient.Client] implements it over HTTP.
//
// Implementations report server rejections as *apiclient.Error and failures
// without a response as errors wrapping apiclient.ErrTransport. The session
// token travels in an HTTP-only cookie owned by the implementation.
type API interface {
	Register(ctx context.Context, req apiclient.RegisterRequest) (*apiclient.RegisterResponse, error)
	Login(ctx context.Context, req apiclient.LoginRequest) (*apiclient.LoginResponse, error)
	LoginOTP(ctx context.Context, req apiclient.OTPRequest) (*apiclient.TokenResponse, error)
	RequestVerification(ctx context.Context, email string) error
	Verify(ctx context.Context, req apiclient.VerifyRequest) (*apiclient.TokenResponse, error)
	Forgot(ctx context.Context, email string) error
	ConfirmReset(ctx context.Context, req apiclient.ConfirmResetRequest) (*apiclient.ConfirmResetResponse, error)
	Reset(ctx context.Context, req apiclient.ResetRequest) error
	Me(ctx context.Context) (*apiclient.Profile, error)
	Logout(ctx context.Context) error
}

var _ API = (*apiclient.Client)(nil)
