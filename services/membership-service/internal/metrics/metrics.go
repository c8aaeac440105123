// Package metrics records webhook, transition and activation counters for
// the membership service.
package metrics

import "time"

// Recorder is implemented by Prometheus and by Noop. Callers never check for nil:
// pass Noop{} when metrics are not wanted.
type Recorder interface {
	RecordWebhookEvent(eventType, outcome string)
	RecordWebhookDuration(eventType string, d time.Duration)
	RecordTransition(from, to string)
	RecordActivation(outcome string)
	RecordReconcile(outcome string)
	RecordOutboxPublished(count int)
}

// Webhook outcomes.
const (
	OutcomeProcessed  = "processed"
	OutcomeIgnored    = "ignored"
	OutcomeMalformed  = "malformed"
	OutcomeSignature  = "invalid_signature"
	OutcomeNotFound   = "not_found"
	OutcomeSuperseded = "superseded"
	OutcomeError      = "error"
)

// Activation and reconcile outcomes.
const (
	ActivationApplied          = "applied"
	ActivationUnchanged        = "unchanged"
	ActivationPlanNotFound     = "plan_not_found"
	ActivationBusinessNotFound = "business_not_found"
	ActivationFailed           = "failed"
)

type Noop struct{}

func (Noop) RecordWebhookEvent(_, _ string)                  {}
func (Noop) RecordWebhookDuration(_ string, _ time.Duration) {}
func (Noop) RecordTransition(_, _ string)                    {}
func (Noop) RecordActivation(_ string)                       {}
func (Noop) RecordReconcile(_ string)                        {}
func (Noop) RecordOutboxPublished(_ int)                     {}
