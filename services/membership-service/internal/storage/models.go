// Package storage persists membership requests, plans and businesses in
// PostgreSQL, with an in-memory equivalent for tests and local runs.
package storage

import "time"

// RequestStatus is the stored lifecycle state of a membership request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether s is completed or cancelled.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type MembershipRequest struct {
	ID            string
	Status        RequestStatus
	PlanID        string
	BusinessID    string
	TransactionID string
	PaymentMethod string
	UpdatedAt     time.Time
}

// RequestUpdate carries the fields written on a transition. Empty
// TransactionID or PaymentMethod leave the stored value untouched.
type RequestUpdate struct {
	Status        RequestStatus
	TransactionID string
	PaymentMethod string
}

type Plan struct {
	ID    string
	Level int
}

type Business struct {
	ID           string
	MembershipID string
	Level        int
	UpdatedAt    time.Time
}

// LevelChange is the outcome of UpdateBusinessLevel.
type LevelChange struct {
	PreviousMembershipID string
	PreviousLevel        int
	Changed              bool
}

// PendingActivation is a completed request whose business does not yet
// carry the request's plan and level.
type PendingActivation struct {
	RequestID  string
	BusinessID string
	PlanID     string
	Level      int
}
