// Command gateway-webhook-sim posts a signed transaction.updated notification
// to a running membership service.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/localbiz/membership/libs/config"
	"github.com/localbiz/membership/services/membership-service/internal/gateway"
	"github.com/localbiz/membership/services/membership-service/internal/handlers"
)

func main() {
	var (
		baseURL   = flag.String("base-url", config.String("BASE_URL", "http://localhost:8086"), "membership service base url")
		reference = flag.String("reference", config.String("REFERENCE", ""), "membership request id sent as the transaction reference")
		status    = flag.String("status", config.String("GATEWAY_STATUS", "APPROVED"), "APPROVED, DECLINED, VOIDED, PENDING or ERROR")
		method    = flag.String("payment-method", config.String("PAYMENT_METHOD", "CARD"), "payment_method_type")
		amount    = flag.Int64("amount-in-cents", 4990000, "transaction amount in cents")
		evtType   = flag.String("event", gateway.EventTransactionUpdated, "event kind")
		secret    = flag.String("secret", config.String("GATEWAY_EVENTS_SECRET", ""), "events secret; empty sends an unsigned body")
	)
	flag.Parse()

	if strings.TrimSpace(*reference) == "" {
		fatal("REFERENCE is required")
	}

	now := time.Now().UTC()
	txID := fmt.Sprintf("%d-%d", now.Unix(), now.Nanosecond()%100000)
	payload, err := buildEventJSON(*evtType, txID, *reference, strings.ToUpper(*status), *method, *amount, now, *secret)
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+handlers.WebhookPath, bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("transaction_id=%s status=%d body=%s\n", txID, resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventType, txID, reference, status, method string, amount int64, t time.Time, secret string) ([]byte, error) {
	evt := map[string]any{
		"event": eventType,
		"data": map[string]any{
			"transaction": map[string]any{
				"id":                  txID,
				"reference":           reference,
				"status":              status,
				"amount_in_cents":     amount,
				"currency":            "COP",
				"payment_method_type": method,
				"created_at":          t.Format(time.RFC3339),
			},
		},
		"sent_at":   t.Format(time.RFC3339),
		"timestamp": t.Unix(),
	}
	if secret != "" {
		values := []string{txID, status, strconv.FormatInt(amount, 10)}
		evt["signature"] = map[string]any{
			"properties": []string{"transaction.id", "transaction.status", "transaction.amount_in_cents"},
			"checksum":   gateway.Checksum(values, strconv.FormatInt(t.Unix(), 10), secret),
		}
	}
	return json.Marshal(evt)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
