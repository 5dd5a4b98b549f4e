// Package paymob parses and authenticates Paymob transaction callbacks.
package paymob

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Callback is the processed-transaction callback body.
type Callback struct {
	Type string      `json:"type"`
	Obj  Transaction `json:"obj"`
}

type Transaction struct {
	ID                   int64      `json:"id"`
	Pending              bool       `json:"pending"`
	AmountCents          int64      `json:"amount_cents"`
	Success              bool       `json:"success"`
	IsAuth               bool       `json:"is_auth"`
	IsCapture            bool       `json:"is_capture"`
	IsStandalonePayment  bool       `json:"is_standalone_payment"`
	IsVoided             bool       `json:"is_voided"`
	IsRefunded           bool       `json:"is_refunded"`
	Is3DSecure           bool       `json:"is_3d_secure"`
	IntegrationID        int64      `json:"integration_id"`
	HasParentTransaction bool       `json:"has_parent_transaction"`
	ErrorOccured         bool       `json:"error_occured"`
	Currency             string     `json:"currency"`
	CreatedAt            string     `json:"created_at"`
	Owner                int64      `json:"owner"`
	Order                Order      `json:"order"`
	SourceData           SourceData `json:"source_data"`
}

type Order struct {
	ID              int64  `json:"id"`
	MerchantOrderID string `json:"merchant_order_id"`
}

type SourceData struct {
	Pan     string `json:"pan"`
	Type    string `json:"type"`
	SubType string `json:"sub_type"`
}

// Outcome is the gateway result collapsed to three cases.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomePending
	OutcomeSuccess
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	default:
		return "failed"
	}
}

// Parse decodes a callback body and checks the fields reconciliation depends on.
func Parse(body []byte) (Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if cb.Type != "" && !strings.EqualFold(cb.Type, "TRANSACTION") {
		return Callback{}, fmt.Errorf("%w: unsupported type %q", ErrMalformedPayload, cb.Type)
	}
	if cb.Obj.ID <= 0 {
		return Callback{}, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}
	if cb.Obj.AmountCents < 0 {
		return Callback{}, fmt.Errorf("%w: negative amount", ErrMalformedPayload)
	}
	return cb, nil
}

// Outcome: pending wins over success.
func (t Transaction) Outcome() Outcome {
	switch {
	case t.Pending:
		return OutcomePending
	case t.Success && !t.ErrorOccured && !t.IsVoided && !t.IsRefunded:
		return OutcomeSuccess
	default:
		return OutcomeFailed
	}
}

// UniqueKey is the idempotency key of a delivery: transaction_order_amount_outcome.
// Wallet and kiosk payments send pending then success for the same
// transaction; the outcome keeps the second one from being swallowed.
func (t Transaction) UniqueKey() string {
	return fmt.Sprintf("%d_%d_%d_%s", t.ID, t.Order.ID, t.AmountCents, t.Outcome())
}

// Method maps source_data.type to a coarse payment method.
func (t Transaction) Method() string {
	switch strings.ToLower(t.SourceData.Type) {
	case "card":
		return "card"
	case "wallet":
		return "wallet"
	default:
		return "other"
	}
}
