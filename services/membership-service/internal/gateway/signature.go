package gateway

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type signatureBlock struct {
	Properties []string `json:"properties"`
	Checksum   string   `json:"checksum"`
}

// Checksum computes the event checksum: SHA-256 over the property values in
// order, then the timestamp, then the events secret, hex encoded.
func Checksum(values []string, timestamp string, secret string) string {
	h := sha256.New()
	for _, v := range values {
		h.Write([]byte(v))
	}
	h.Write([]byte(timestamp))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Decoder) verify(env envelope, headerChecksum string) error {
	var sig signatureBlock
	if !isNull(env.Signature) {
		if err := json.Unmarshal(env.Signature, &sig); err != nil {
			return fmt.Errorf("%w: signature: %v", ErrMalformedEvent, err)
		}
	}
	expected := strings.TrimSpace(sig.Checksum)
	if expected == "" {
		expected = strings.TrimSpace(headerChecksum)
	}
	if expected == "" || len(sig.Properties) == 0 {
		return fmt.Errorf("%w: missing checksum", ErrInvalidSignature)
	}

	data, err := decodeGeneric(env.Data)
	if err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
	}
	values := make([]string, 0, len(sig.Properties))
	for _, path := range sig.Properties {
		v, ok := lookupPath(data, path)
		if !ok {
			return fmt.Errorf("%w: property %q not found", ErrInvalidSignature, path)
		}
		values = append(values, v)
	}

	computed := Checksum(values, rawScalar(env.Timestamp), d.secret)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(expected)), []byte(computed)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func decodeGeneric(raw json.RawMessage) (map[string]any, error) {
	if isNull(raw) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// lookupPath resolves a dotted path such as "transaction.amount_in_cents".
func lookupPath(root map[string]any, path string) (string, bool) {
	var cur any = root
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	return scalarString(cur)
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case nil:
		return "", true
	default:
		return "", false
	}
}

// rawScalar renders a JSON number or string without quotes.
func rawScalar(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if isNull(trimmed) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}
