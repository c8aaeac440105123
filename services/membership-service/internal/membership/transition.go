// Package membership moves membership requests through their lifecycle in
// response to gateway payment events and activates the business's plan
// once a payment is approved.
package membership

import (
	"fmt"
	"strings"

	"github.com/localbiz/membership/services/membership-service/internal/gateway"
	"github.com/localbiz/membership/services/membership-service/internal/storage"
)

// Policy decides whether a request that already reached a terminal status may
// be moved again by a later event.
type Policy int

const (
	// Permissive applies every event regardless of the stored status, so a
	// completed request can fall back to pending or cancelled.
	Permissive Policy = iota
	// Monotonic treats completed and cancelled as final. Replays of the same
	// status still apply.
	Monotonic
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permissive":
		return Permissive, nil
	case "monotonic":
		return Monotonic, nil
	default:
		return Permissive, fmt.Errorf("unknown transition policy %q", s)
	}
}

func (p Policy) String() string {
	if p == Monotonic {
		return "monotonic"
	}
	return "permissive"
}

// Transition is the outcome of applying one event to one request.
type Transition struct {
	From storage.RequestStatus
	To   storage.RequestStatus
	// Activate is set when the business must receive the request's plan.
	Activate bool
	// Superseded means the event is acknowledged but nothing is written.
	Superseded bool
}

// TargetStatus maps a gateway status bucket onto a request status.
func TargetStatus(s gateway.Status) storage.RequestStatus {
	switch s {
	case gateway.StatusApproved:
		return storage.StatusCompleted
	case gateway.StatusDeclined:
		return storage.StatusCancelled
	default:
		return storage.StatusPending
	}
}

// Next computes the transition for req given evt.
func (p Policy) Next(req storage.MembershipRequest, evt gateway.PaymentEvent) Transition {
	t := Transition{From: req.Status, To: TargetStatus(evt.Status)}
	if p == Monotonic && req.Status.Terminal() && req.Status != t.To {
		t.To = req.Status
		t.Superseded = true
		return t
	}
	t.Activate = t.To == storage.StatusCompleted && strings.TrimSpace(req.BusinessID) != ""
	return t
}
