// Package metrics defines the Prometheus collectors exported by SpineScan.
package metrics

// Namespace prefixes every metric name.
const Namespace = "spinescan"

// Run outcomes.
const (
	RunDone           = "done"
	RunFailed         = "failed"
	RunAlreadyRunning = "already_running"
	RunRejected       = "rejected"
)

// Label names shared by several collectors.
const (
	labelOutcome = "outcome"
	labelReason  = "reason"
	labelVerdict = "verdict"
	labelStage   = "stage"
	labelMethod  = "method"
	labelRoute   = "route"
	labelStatus  = "status_code"
)
