package internaldefs

import (
	"github.com/MrEthical07/umbra"
)

// CounterDef names one counter.
type CounterDef struct {
	ID   umbra.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram.
type HistogramDef struct {
	ID   umbra.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: umbra.MetricJobSubmitted, Name: "umbra_jobs_submitted_total", Help: "Jobs submitted to the worker pool."},
	{ID: umbra.MetricJobDispatched, Name: "umbra_jobs_dispatched_total", Help: "Jobs accepted by a worker."},
	{ID: umbra.MetricJobRejected, Name: "umbra_jobs_rejected_total", Help: "Jobs rejected before reaching a worker."},
	{ID: umbra.MetricWorkerCreated, Name: "umbra_workers_created_total", Help: "Workers that completed both startup phases."},
	{ID: umbra.MetricWorkerCreationFailed, Name: "umbra_worker_creation_failed_total", Help: "Worker startups that failed or timed out."},
	{ID: umbra.MetricWorkerEvicted, Name: "umbra_workers_evicted_total", Help: "Workers removed after a transport fault."},
	{ID: umbra.MetricKeypairGenerated, Name: "umbra_handshake_keypair_generated_total", Help: "Handshakes that reached keypair_generated."},
	{ID: umbra.MetricServerIntroduced, Name: "umbra_handshake_introduced_total", Help: "Handshakes that reached introduced."},
	{ID: umbra.MetricCaptchaVerified, Name: "umbra_handshake_captcha_verified_total", Help: "Handshakes that reached captcha_verified."},
	{ID: umbra.MetricStepFailure, Name: "umbra_handshake_step_failures_total", Help: "Failed handshake steps."},
	{ID: umbra.MetricCaptchaFormatRejected, Name: "umbra_captcha_format_rejected_total", Help: "Captcha answers rejected for their format."},
	{ID: umbra.MetricPoWSolved, Name: "umbra_pow_solved_total", Help: "Solved proof-of-work puzzles."},
	{ID: umbra.MetricLogout, Name: "umbra_logout_total", Help: "Session record clears."},
	{ID: umbra.MetricBearerMinted, Name: "umbra_bearer_minted_total", Help: "Minted bearer tokens."},
}

var HistogramDefs = []HistogramDef{
	{ID: umbra.MetricStepLatency, Name: "umbra_handshake_step_latency_seconds", Help: "Handshake step latency histogram."},
}

// HistogramBounds are the upper bounds of the step latency buckets, in
// seconds, matching the root package bucketing.
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

// HistogramBoundSuffix are instrument-name-safe forms of HistogramBounds.
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

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
