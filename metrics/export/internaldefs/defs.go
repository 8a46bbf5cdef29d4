package internaldefs

import (
	goRotate "github.com/MrEthical07/goRotate"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goRotate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   goRotate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goRotate.MetricIssueSuccess, Name: "gorotate_issue_success_total", Help: "Token pairs issued."},
	{ID: goRotate.MetricIssueFailure, Name: "gorotate_issue_failure_total", Help: "Failed issue attempts."},
	{ID: goRotate.MetricRefreshSuccess, Name: "gorotate_refresh_success_total", Help: "Successful rotations."},
	{ID: goRotate.MetricRefreshFailure, Name: "gorotate_refresh_failure_total", Help: "Rejected or failed rotations."},
	{ID: goRotate.MetricRefreshReuseDetected, Name: "gorotate_refresh_reuse_detected_total", Help: "Refresh tokens presented after redemption."},
	{ID: goRotate.MetricDeviceMismatch, Name: "gorotate_device_mismatch_total", Help: "Refresh attempts from an unbound device."},
	{ID: goRotate.MetricFamilyRevokedReject, Name: "gorotate_family_revoked_reject_total", Help: "Tokens rejected because their family is revoked."},
	{ID: goRotate.MetricTokenRevokedReject, Name: "gorotate_token_revoked_reject_total", Help: "Refresh tokens rejected by a revoked marker."},
	{ID: goRotate.MetricSessionEvicted, Name: "gorotate_session_evicted_total", Help: "Sessions evicted by the per-user cap."},
	{ID: goRotate.MetricRevoke, Name: "gorotate_revoke_total", Help: "Single refresh token revocations."},
	{ID: goRotate.MetricRevokeFamily, Name: "gorotate_revoke_family_total", Help: "Administrative family revocations."},
	{ID: goRotate.MetricRevokeAll, Name: "gorotate_revoke_all_total", Help: "Revoke-all-user-tokens operations."},
	{ID: goRotate.MetricRevokeOthers, Name: "gorotate_revoke_others_total", Help: "Revoke-other-sessions operations."},
	{ID: goRotate.MetricValidSuccess, Name: "gorotate_valid_success_total", Help: "Tokens accepted by validation."},
	{ID: goRotate.MetricValidFailure, Name: "gorotate_valid_failure_total", Help: "Tokens rejected by validation."},
	{ID: goRotate.MetricStoreUnavailable, Name: "gorotate_store_unavailable_total", Help: "Operations failed by the token store or user provider."},
	{ID: goRotate.MetricReaperSweep, Name: "gorotate_reaper_sweep_total", Help: "Reaper slow-tier sweeps."},
	{ID: goRotate.MetricReaperDeleted, Name: "gorotate_reaper_deleted_total", Help: "Records, markers and families deleted by the reaper."},
	{ID: goRotate.MetricReaperCacheEvicted, Name: "gorotate_reaper_cache_evicted_total", Help: "Local cache entries dropped by the reaper."},
	{ID: goRotate.MetricRefreshRateLimited, Name: "gorotate_refresh_rate_limited_total", Help: "Refresh attempts rejected by the per-family throttle."},
}

// HistogramDefs lists the exported latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: goRotate.MetricValidateLatency, Name: "gorotate_validate_latency_seconds", Help: "Validation latency."},
	{ID: goRotate.MetricRefreshLatency, Name: "gorotate_refresh_latency_seconds", Help: "Rotation latency."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const (
	AuditDroppedName = "gorotate_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf last, for instrument names.
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
