package outbox

import (
	"encoding/json"
	"time"
)

const (
	AggregateBusiness = "business"

	// EventBusinessActivated is emitted when a completed membership request
	// changes a business's plan or level. The Kafka topic name equals the event type.
	EventBusinessActivated = "membership.business.activated.v1"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type businessActivatedPayload struct {
	BusinessID           string `json:"business_id"`
	MembershipID         string `json:"membership_id"`
	Level                int    `json:"level"`
	PreviousMembershipID string `json:"previous_membership_id,omitempty"`
	PreviousLevel        int    `json:"previous_level"`
	ActivatedAt          string `json:"activated_at"`
}

// BusinessActivated builds the event describing a business tier change.
func BusinessActivated(businessID, membershipID string, level int, prevMembershipID string, prevLevel int, at time.Time) (Event, error) {
	payload, err := json.Marshal(businessActivatedPayload{
		BusinessID:           businessID,
		MembershipID:         membershipID,
		Level:                level,
		PreviousMembershipID: prevMembershipID,
		PreviousLevel:        prevLevel,
		ActivatedAt:          at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateBusiness,
		AggregateID:   businessID,
		EventType:     EventBusinessActivated,
		Payload:       payload,
	}, nil
}
