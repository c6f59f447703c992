package internaldefs

import (
	"github.com/zsportal/gatekeeper"
)

// CounterDef names one gate counter for exporters.
type CounterDef struct {
	ID   gatekeeper.MetricID
	Name string
	Help string
}

// HistogramDef names one gate histogram for exporters.
type HistogramDef struct {
	ID   gatekeeper.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: gatekeeper.MetricNavigationAllowed, Name: "gatekeeper_navigation_allowed_total", Help: "Navigations allowed by the guard chain."},
	{ID: gatekeeper.MetricDeniedNoSession, Name: "gatekeeper_denied_no_session_total", Help: "Navigations denied for lack of a session."},
	{ID: gatekeeper.MetricDeniedProfileMissingOrTimeout, Name: "gatekeeper_denied_profile_missing_or_timeout_total", Help: "Navigations denied because the profile was missing or slow."},
	{ID: gatekeeper.MetricDeniedUnverified, Name: "gatekeeper_denied_unverified_total", Help: "Navigations denied for an unverified email."},
	{ID: gatekeeper.MetricDeniedNotApprovedOrBlocked, Name: "gatekeeper_denied_not_approved_or_blocked_total", Help: "Navigations denied for account standing."},
	{ID: gatekeeper.MetricDeniedUnauthorized, Name: "gatekeeper_denied_unauthorized_total", Help: "Navigations denied by role or feature flag."},
	{ID: gatekeeper.MetricDeniedBackendUnavailable, Name: "gatekeeper_denied_backend_unavailable_total", Help: "Navigations denied because a backend failed."},
	{ID: gatekeeper.MetricNavigationCancelled, Name: "gatekeeper_navigation_cancelled_total", Help: "Navigations abandoned by the caller."},
	{ID: gatekeeper.MetricForcedSignOut, Name: "gatekeeper_forced_sign_out_total", Help: "Sessions ended by the profile stage."},
	{ID: gatekeeper.MetricForcedSignOutFailure, Name: "gatekeeper_forced_sign_out_failure_total", Help: "Forced sign-outs that failed."},
	{ID: gatekeeper.MetricSignInSuccess, Name: "gatekeeper_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: gatekeeper.MetricSignInFailure, Name: "gatekeeper_sign_in_failure_total", Help: "Failed sign-ins."},
	{ID: gatekeeper.MetricSignInRateLimited, Name: "gatekeeper_sign_in_rate_limited_total", Help: "Rate-limited sign-ins."},
	{ID: gatekeeper.MetricSignOut, Name: "gatekeeper_sign_out_total", Help: "Explicit sign-outs."},
	{ID: gatekeeper.MetricRegistration, Name: "gatekeeper_registration_total", Help: "Registered accounts."},
	{ID: gatekeeper.MetricEmailVerificationRequest, Name: "gatekeeper_email_verification_request_total", Help: "Email verification requests."},
	{ID: gatekeeper.MetricEmailVerificationSuccess, Name: "gatekeeper_email_verification_success_total", Help: "Successful email verifications."},
	{ID: gatekeeper.MetricEmailVerificationFailure, Name: "gatekeeper_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: gatekeeper.MetricProfileStatusChange, Name: "gatekeeper_profile_status_change_total", Help: "Administrative profile changes."},
	{ID: gatekeeper.MetricStreamOpened, Name: "gatekeeper_stream_opened_total", Help: "Combined user streams opened."},
	{ID: gatekeeper.MetricStreamClosed, Name: "gatekeeper_stream_closed_total", Help: "Combined user streams closed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: gatekeeper.MetricEvaluateLatency, Name: "gatekeeper_evaluate_latency_seconds", Help: "Guard chain evaluation latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket in instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
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
