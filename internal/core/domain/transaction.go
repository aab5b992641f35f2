package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of value movement.
type TransactionType string

const (
	TransactionTypeMint    TransactionType = "mint"
	TransactionTypeSend    TransactionType = "send"
	TransactionTypeReceive TransactionType = "receive"
	TransactionTypeMelt    TransactionType = "melt"
)

// Transaction is an immutable, append-only ledger entry. Entries are never
// mutated or removed; Token is set for sends, Invoice for melts, QuoteID
// for mints and melts.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	Type      TransactionType `json:"type"`
	Amount    int64           `json:"amount"`
	MintURL   string          `json:"mint_url"`
	Token     *string         `json:"token,omitempty"`
	Invoice   *string         `json:"invoice,omitempty"`
	QuoteID   *string         `json:"quote_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Incoming returns true if the entry increased the wallet balance.
func (t *Transaction) Incoming() bool {
	return t.Type == TransactionTypeMint || t.Type == TransactionTypeReceive
}
