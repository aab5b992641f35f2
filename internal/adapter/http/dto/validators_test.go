package dto

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := ReceiveRequest{
		Token: "  cashuAeyJ0b2tlbiI6W119  ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "cashuAeyJ0b2tlbiI6W119", req.Token)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := MeltRequest{
		Invoice: "lnbc100n1<script>alert('x')</script>",
	}
	SanitizeStruct(&req)

	assert.Contains(t, req.Invoice, "&lt;script&gt;")
	assert.NotContains(t, req.Invoice, "<script>")
}

func TestSanitizeStruct_HandlesPointerString(t *testing.T) {
	tok := "  cashuAabc  "
	s := struct {
		Token *string
	}{Token: &tok}
	SanitizeStruct(&s)

	assert.Equal(t, "cashuAabc", *s.Token)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	s := struct {
		Token *string
	}{Token: nil}
	SanitizeStruct(&s)
	assert.Nil(t, s.Token)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestInvoiceValidation_Valid(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("invoice", validateInvoice))

	cases := []string{
		"lnbc100n1pexternal",
		"LNBC2500U1PVJLUEZ", // uppercase QR form
		"lntb50n1pfake",
		"  lnbc100n1p...  ", // surrounding whitespace trims away
	}
	for _, tc := range cases {
		assert.NoError(t, v.Var(tc, "invoice"), "expected valid: %s", tc)
	}
}

func TestInvoiceValidation_Invalid(t *testing.T) {
	v := validator.New()
	require.NoError(t, v.RegisterValidation("invoice", validateInvoice))

	cases := []string{
		"",
		"ln", // prefix alone
		"bc1qaddressnotinvoice",
		"http://evil.example/pay",
		"cashuAeyJ0b2tlbiI6W119", // a token is not an invoice
	}
	for _, tc := range cases {
		assert.Error(t, v.Var(tc, "invoice"), "expected invalid: %s", tc)
	}
}
