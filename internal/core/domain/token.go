package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// tokenPrefix marks the portable serialized token format.
const tokenPrefix = "cashuA"

// Token is the portable encoding of one or more proofs from a single mint,
// exchanged out-of-band as pasted text.
type Token struct {
	Mint   string `json:"mint"`
	Proofs Proofs `json:"proofs"`
}

type tokenEnvelope struct {
	Token []Token `json:"token"`
}

// EncodeToken serializes proofs into a portable token string.
func EncodeToken(mintURL string, proofs Proofs) (string, error) {
	if len(proofs) == 0 {
		return "", fmt.Errorf("cannot encode empty proof set")
	}
	if err := proofs.Validate(); err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	payload, err := json.Marshal(tokenEnvelope{Token: []Token{{Mint: mintURL, Proofs: proofs}}})
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeToken parses a portable token string back into its proof set.
// Malformed input is rejected before any proof reaches the ledger.
func DecodeToken(raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, tokenPrefix) {
		return nil, fmt.Errorf("missing token prefix")
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, tokenPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	var env tokenEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if len(env.Token) != 1 || len(env.Token[0].Proofs) == 0 {
		return nil, fmt.Errorf("token contains no proofs")
	}
	t := env.Token[0]
	if err := t.Proofs.Validate(); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &t, nil
}
