package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type envelope struct {
	Event     *string         `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
	Signature json.RawMessage `json:"signature"`
}

type transactionData struct {
	Transaction *transaction `json:"transaction"`
}

type transaction struct {
	ID                *string `json:"id"`
	Reference         *string `json:"reference"`
	Status            *string `json:"status"`
	PaymentMethodType *string `json:"payment_method_type"`
}

// Decoder turns raw notification bodies into Notifications. When an events
// secret is configured every transaction update must carry a valid checksum.
type Decoder struct {
	secret string
}

func NewDecoder(eventsSecret string) *Decoder {
	return &Decoder{secret: strings.TrimSpace(eventsSecret)}
}

// VerifiesSignatures reports whether checksum verification is enabled.
func (d *Decoder) VerifiesSignatures() bool {
	return d.secret != ""
}

// Decode parses body. headerChecksum is used when the body itself carries no
// signature block. Unknown event kinds decode to a Notification with a nil
// Payment and no error.
func (d *Decoder) Decode(body []byte, headerChecksum string) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == nil || strings.TrimSpace(*env.Event) == "" {
		return Notification{}, fmt.Errorf("%w: missing event", ErrMalformedEvent)
	}
	kind := strings.TrimSpace(*env.Event)

	// Other kinds are acknowledged without being acted on, so only
	// transaction updates are held to the checksum.
	if kind != EventTransactionUpdated {
		return Notification{Type: kind}, nil
	}

	if d.secret != "" {
		if err := d.verify(env, headerChecksum); err != nil {
			return Notification{}, err
		}
	}

	evt, err := decodeTransaction(env.Data)
	if err != nil {
		return Notification{}, err
	}
	return Notification{Type: kind, Payment: &evt}, nil
}

func decodeTransaction(raw json.RawMessage) (PaymentEvent, error) {
	if isNull(raw) {
		return PaymentEvent{}, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	var data transactionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
	}
	tx := data.Transaction
	if tx == nil {
		return PaymentEvent{}, fmt.Errorf("%w: missing data.transaction", ErrMalformedEvent)
	}
	if tx.Reference == nil || strings.TrimSpace(*tx.Reference) == "" {
		return PaymentEvent{}, fmt.Errorf("%w: missing transaction.reference", ErrMalformedEvent)
	}
	if tx.Status == nil {
		return PaymentEvent{}, fmt.Errorf("%w: missing transaction.status", ErrMalformedEvent)
	}

	evt := PaymentEvent{
		RequestID: strings.TrimSpace(*tx.Reference),
		RawStatus: strings.TrimSpace(*tx.Status),
		Status:    NormalizeStatus(*tx.Status),
	}
	if tx.ID != nil {
		evt.TransactionID = strings.TrimSpace(*tx.ID)
	}
	if tx.PaymentMethodType != nil {
		evt.PaymentMethod = strings.TrimSpace(*tx.PaymentMethodType)
	}
	return evt, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
