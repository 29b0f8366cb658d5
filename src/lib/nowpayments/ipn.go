package nowpayments

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"thruster/src/types"

	"github.com/tidwall/gjson"
)

const SignatureHeader = "x-nowpayments-sig"

var ErrBadSignature = errors.New("invalid ipn signature")

// VerifySignature checks the HMAC-SHA512 of the key-sorted body against sig.
func VerifySignature(body []byte, sig, secret string) error {
	if sig == "" || secret == "" {
		return ErrBadSignature
	}
	sorted, err := sortedJSON(body)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrBadSignature
	}
	return nil
}

// Sign is the inverse of VerifySignature, used by local tooling and tests.
func Sign(body []byte, secret string) (string, error) {
	sorted, err := sortedJSON(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// encoding/json writes map keys in sorted order at every depth.
func sortedJSON(body []byte) ([]byte, error) {
	var v map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MapStatus maps a payment_status to a ledger outcome. ok is false for
// intermediate statuses, which are ignored.
func MapStatus(status string) (outcome types.PaymentOutcome, ok bool) {
	switch strings.ToLower(status) {
	case "finished", "confirmed":
		return types.PAYMENT_SUCCEEDED, true
	case "failed", "expired", "refunded":
		return types.PAYMENT_FAILED, true
	}
	return types.PAYMENT_NONE, false
}

type Notification struct {
	PaymentID     string
	InvoiceID     string
	OrderID       string
	Status        string
	PriceAmount   float64
	PriceCurrency string
	Raw           types.JSONB
}

func ParseNotification(body []byte) (*Notification, error) {
	if !gjson.ValidBytes(body) {
		return nil, &types.ValidationError{Field: "body", Reason: "invalid json"}
	}
	r := gjson.ParseBytes(body)
	n := &Notification{
		PaymentID:     r.Get("payment_id").String(),
		InvoiceID:     r.Get("invoice_id").String(),
		OrderID:       r.Get("order_id").String(),
		Status:        r.Get("payment_status").String(),
		PriceAmount:   r.Get("price_amount").Float(),
		PriceCurrency: strings.ToUpper(r.Get("price_currency").String()),
	}
	if n.PaymentID == "" || n.OrderID == "" {
		return nil, &types.ValidationError{Field: "payment_id", Reason: "payment_id and order_id are required"}
	}
	raw := types.JSONB{}
	if err := json.Unmarshal(body, &raw); err == nil {
		n.Raw = raw
	}
	return n, nil
}
