package internaldefs

import (
	"github.com/MrEthical07/authflow"
)

// CounterDef names one flow counter for export.
type CounterDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram for export.
type HistogramDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authflow.MetricLoginSubmitted, Name: "authflow_login_submitted_total", Help: "Credential submissions sent to the API."},
	{ID: authflow.MetricLoginSuccess, Name: "authflow_login_success_total", Help: "Logins authenticated without an OTP step."},
	{ID: authflow.MetricLoginFailure, Name: "authflow_login_failure_total", Help: "Credential submissions rejected by the API."},
	{ID: authflow.MetricLoginOTPRequired, Name: "authflow_login_otp_required_total", Help: "Logins answered with an OTP challenge."},
	{ID: authflow.MetricLoginOTPSuccess, Name: "authflow_login_otp_success_total", Help: "Successful OTP confirmations."},
	{ID: authflow.MetricLoginOTPFailure, Name: "authflow_login_otp_failure_total", Help: "Failed OTP confirmations."},
	{ID: authflow.MetricRegistrationSubmitted, Name: "authflow_registration_submitted_total", Help: "Registrations sent to the API."},
	{ID: authflow.MetricRegistrationFailure, Name: "authflow_registration_failure_total", Help: "Registrations rejected by the API."},
	{ID: authflow.MetricVerificationSuccess, Name: "authflow_verification_success_total", Help: "Successful email verifications."},
	{ID: authflow.MetricVerificationFailure, Name: "authflow_verification_failure_total", Help: "Failed email verifications."},
	{ID: authflow.MetricVerificationResent, Name: "authflow_verification_resent_total", Help: "Verification codes resent."},
	{ID: authflow.MetricRecoveryCodeRequested, Name: "authflow_recovery_code_requested_total", Help: "Recovery codes requested."},
	{ID: authflow.MetricRecoveryConfirmSuccess, Name: "authflow_recovery_confirm_success_total", Help: "Recovery codes exchanged for a reset session."},
	{ID: authflow.MetricRecoveryConfirmFailure, Name: "authflow_recovery_confirm_failure_total", Help: "Failed recovery code confirmations."},
	{ID: authflow.MetricRecoveryResetSuccess, Name: "authflow_recovery_reset_success_total", Help: "Completed password resets."},
	{ID: authflow.MetricRecoveryResetFailure, Name: "authflow_recovery_reset_failure_total", Help: "Password resets rejected by the API."},
	{ID: authflow.MetricResetSessionExpired, Name: "authflow_reset_session_expired_total", Help: "Reset sessions that lapsed or were rejected."},
	{ID: authflow.MetricAttemptsExhausted, Name: "authflow_attempts_exhausted_total", Help: "Codes locked after the wrong-code budget was spent."},
	{ID: authflow.MetricCooldownStarted, Name: "authflow_cooldown_started_total", Help: "Resend cooldowns started."},
	{ID: authflow.MetricCooldownRestored, Name: "authflow_cooldown_restored_total", Help: "Resend cooldowns resumed after a restart."},
	{ID: authflow.MetricCooldownRejected, Name: "authflow_cooldown_rejected_total", Help: "Code requests refused during a cooldown."},
	{ID: authflow.MetricValidationRejected, Name: "authflow_validation_rejected_total", Help: "Submissions rejected by local validation."},
	{ID: authflow.MetricRateLimited, Name: "authflow_rate_limited_total", Help: "Requests throttled by the API."},
	{ID: authflow.MetricTransportFailure, Name: "authflow_transport_failure_total", Help: "Requests that received no response."},
	{ID: authflow.MetricStoreFailure, Name: "authflow_store_failure_total", Help: "Failed throttle or session store operations."},
	{ID: authflow.MetricLateResponseDiscarded, Name: "authflow_late_response_discarded_total", Help: "Responses discarded because the flow was closed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authflow.MetricAPILatency, Name: "authflow_api_latency_seconds", Help: "API call latency histogram."},
}

// HistogramBounds are the bucket upper bounds in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix are the bounds as metric name suffixes.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
