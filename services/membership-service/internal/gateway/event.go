// Package gateway decodes payment gateway notifications into typed events.
package gateway

import "strings"

// EventTransactionUpdated is the only notification kind that drives
// membership transitions. Every other kind is acknowledged and ignored.
const EventTransactionUpdated = "transaction.updated"

// Status is the gateway transaction status folded into the three buckets the
// transition engine understands.
type Status string

const (
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
	StatusOther    Status = "other"
)

// NormalizeStatus maps a gateway status string onto a Status. VOIDED, PENDING,
// ERROR and anything unknown fold into StatusOther.
func NormalizeStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "APPROVED":
		return StatusApproved
	case "DECLINED":
		return StatusDeclined
	default:
		return StatusOther
	}
}

// PaymentEvent is a decoded transaction.updated notification.
type PaymentEvent struct {
	// RequestID is the gateway reference, which is the membership request id.
	RequestID     string
	Status        Status
	RawStatus     string
	TransactionID string
	PaymentMethod string
}

// Notification is the result of decoding any notification body. Payment is
// nil for kinds this service does not act on.
type Notification struct {
	Type    string
	Payment *PaymentEvent
}

func (n Notification) Handled() bool {
	return n.Payment != nil
}
