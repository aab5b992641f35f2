package domain

import "fmt"

// Proof is a bearer unit of value issued by a mint. The secret string is the
// proof's identity; the signature blob is never inspected by the ledger.
type Proof struct {
	Secret    string `json:"secret"`
	KeysetID  string `json:"id"`
	Amount    int64  `json:"amount"`
	Signature string `json:"C"`
	MintURL   string `json:"mint_url,omitempty"`
}

// Validate rejects malformed proofs at the boundary.
func (p *Proof) Validate() error {
	if p.Secret == "" {
		return fmt.Errorf("proof has empty secret")
	}
	if p.Amount <= 0 {
		return fmt.Errorf("proof %s has non-positive amount %d", p.Secret, p.Amount)
	}
	return nil
}

// Proofs is an ordered set of proofs.
type Proofs []Proof

// Sum returns the total amount carried by the set.
func (ps Proofs) Sum() int64 {
	var total int64
	for _, p := range ps {
		total += p.Amount
	}
	return total
}

// Secrets returns the identities of all proofs in order.
func (ps Proofs) Secrets() []string {
	secrets := make([]string, len(ps))
	for i, p := range ps {
		secrets[i] = p.Secret
	}
	return secrets
}

// Validate checks every proof in the set.
func (ps Proofs) Validate() error {
	seen := make(map[string]struct{}, len(ps))
	for i := range ps {
		if err := ps[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[ps[i].Secret]; dup {
			return fmt.Errorf("duplicate proof secret in set: %s", ps[i].Secret)
		}
		seen[ps[i].Secret] = struct{}{}
	}
	return nil
}
