package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

var (
	ErrSecretMissing    = errors.New("hmac secret is not configured")
	ErrSignatureMissing = errors.New("hmac signature is missing")
	ErrSignatureInvalid = errors.New("invalid signature")
)

// concatenated fields in the order Paymob signs them
func signedString(t Transaction) string {
	fields := []string{
		strconv.FormatInt(t.AmountCents, 10),
		t.CreatedAt,
		t.Currency,
		strconv.FormatBool(t.ErrorOccured),
		strconv.FormatBool(t.HasParentTransaction),
		strconv.FormatInt(t.ID, 10),
		strconv.FormatInt(t.IntegrationID, 10),
		strconv.FormatBool(t.Is3DSecure),
		strconv.FormatBool(t.IsAuth),
		strconv.FormatBool(t.IsCapture),
		strconv.FormatBool(t.IsRefunded),
		strconv.FormatBool(t.IsStandalonePayment),
		strconv.FormatBool(t.IsVoided),
		strconv.FormatInt(t.Order.ID, 10),
		strconv.FormatInt(t.Owner, 10),
		strconv.FormatBool(t.Pending),
		t.SourceData.Pan,
		t.SourceData.SubType,
		t.SourceData.Type,
		strconv.FormatBool(t.Success),
	}
	return strings.Join(fields, "")
}

// ComputeHMAC returns the lowercase hex HMAC-SHA512 of t under secret.
func ComputeHMAC(secret string, t Transaction) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(signedString(t)))
	return hex.EncodeToString(mac.Sum(nil))
}

type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify compares the supplied hex signature against the computed one, ignoring case.
func (v *Verifier) Verify(t Transaction, signature string) error {
	if v == nil || v.secret == "" {
		return ErrSecretMissing
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrSignatureMissing
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrSignatureInvalid
	}
	want, _ := hex.DecodeString(ComputeHMAC(v.secret, t))
	if !hmac.Equal(got, want) {
		return ErrSignatureInvalid
	}
	return nil
}
