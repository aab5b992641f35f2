package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog records the outcome of an operation keyed by its quote id,
// preventing the same quote from being processed twice.
type IdempotencyLog struct {
	Key           string    `json:"key"`
	TransactionID uuid.UUID `json:"transaction_id"`
	ResponseJSON  []byte    `json:"response_json"` // Recorded outcome to return on replay
	CreatedAt     time.Time `json:"created_at"`
}

// BuildMintIdempotencyKey keys proof issuance for a mint quote.
func BuildMintIdempotencyKey(quoteID string) string {
	return "mint:" + quoteID
}

// BuildMeltIdempotencyKey keys submission of proofs for a melt quote.
func BuildMeltIdempotencyKey(quoteID string) string {
	return "melt:" + quoteID
}
