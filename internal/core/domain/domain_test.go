package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProofs() Proofs {
	return Proofs{
		{Secret: "s1", KeysetID: "k1", Amount: 64, Signature: "c1"},
		{Secret: "s2", KeysetID: "k1", Amount: 32, Signature: "c2"},
		{Secret: "s3", KeysetID: "k1", Amount: 4, Signature: "c3"},
	}
}

func TestProofs_Sum(t *testing.T) {
	assert.Equal(t, int64(100), testProofs().Sum())
	assert.Equal(t, int64(0), Proofs{}.Sum())
}

func TestProof_Validate(t *testing.T) {
	p := Proof{Secret: "s", Amount: 1}
	assert.NoError(t, p.Validate())

	assert.Error(t, (&Proof{Secret: "", Amount: 1}).Validate())
	assert.Error(t, (&Proof{Secret: "s", Amount: 0}).Validate())
	assert.Error(t, (&Proof{Secret: "s", Amount: -5}).Validate())
}

func TestProofs_Validate_Duplicate(t *testing.T) {
	ps := Proofs{
		{Secret: "same", Amount: 1},
		{Secret: "same", Amount: 2},
	}
	assert.Error(t, ps.Validate())
}

func TestEncodeDecodeToken(t *testing.T) {
	proofs := testProofs()
	token, err := EncodeToken("https://mint.example.com", proofs)
	require.NoError(t, err)
	assert.Contains(t, token, "cashuA")

	decoded, err := DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "https://mint.example.com", decoded.Mint)
	assert.Equal(t, proofs.Sum(), decoded.Proofs.Sum())
	assert.Equal(t, proofs.Secrets(), decoded.Proofs.Secrets())
}

func TestEncodeToken_Empty(t *testing.T) {
	_, err := EncodeToken("https://mint.example.com", nil)
	assert.Error(t, err)
}

func TestDecodeToken_Malformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-token",
		"cashuA",
		"cashuA%%%",
		"cashuAeyJmb28iOiJiYXIifQ", // valid base64, wrong shape
	}
	for _, raw := range cases {
		_, err := DecodeToken(raw)
		assert.Error(t, err, "input %q should be rejected", raw)
	}
}

func TestMintQuote_Transitions(t *testing.T) {
	q := &MintQuote{QuoteID: "q1", State: QuoteStateUnpaid}

	assert.True(t, q.CanTransition(QuoteStatePaid))
	assert.True(t, q.CanTransition(QuoteStateExpired))
	assert.False(t, q.CanTransition(QuoteStateIssued))

	q.State = QuoteStatePaid
	assert.True(t, q.CanTransition(QuoteStateIssued))
	assert.False(t, q.CanTransition(QuoteStateExpired), "EXPIRED is reachable from UNPAID only")

	q.State = QuoteStateIssued
	assert.True(t, q.IsTerminal())
	assert.False(t, q.CanTransition(QuoteStatePaid))

	q.State = QuoteStateExpired
	assert.True(t, q.IsTerminal())
	assert.False(t, q.CanTransition(QuoteStatePaid))
}

func TestMeltQuote_TotalNeeded(t *testing.T) {
	q := &MeltQuote{QuoteID: "m1", Amount: 500, FeeReserve: 10}
	assert.Equal(t, int64(510), q.TotalNeeded())
}

func TestTransaction_Incoming(t *testing.T) {
	now := time.Now()
	assert.True(t, (&Transaction{Type: TransactionTypeMint, CreatedAt: now}).Incoming())
	assert.True(t, (&Transaction{Type: TransactionTypeReceive, CreatedAt: now}).Incoming())
	assert.False(t, (&Transaction{Type: TransactionTypeSend, CreatedAt: now}).Incoming())
	assert.False(t, (&Transaction{Type: TransactionTypeMelt, CreatedAt: now}).Incoming())
}
