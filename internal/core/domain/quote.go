package domain

import "time"

// QuoteState represents the lifecycle state of a mint quote.
type QuoteState string

const (
	QuoteStateUnpaid  QuoteState = "UNPAID"
	QuoteStatePaid    QuoteState = "PAID"
	QuoteStateIssued  QuoteState = "ISSUED"
	QuoteStateExpired QuoteState = "EXPIRED"
)

// MintQuote is a pending request to convert a paid Lightning invoice into
// proofs. State moves UNPAID -> PAID -> ISSUED monotonically; EXPIRED is
// terminal and reachable from UNPAID only.
type MintQuote struct {
	QuoteID        string     `json:"quote_id"`
	RequestInvoice string     `json:"request_invoice"`
	Amount         int64      `json:"amount"`
	State          QuoteState `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

// IsTerminal returns true once the quote can no longer change state.
func (q *MintQuote) IsTerminal() bool {
	return q.State == QuoteStateIssued || q.State == QuoteStateExpired
}

// CanTransition reports whether moving to the target state is legal.
func (q *MintQuote) CanTransition(to QuoteState) bool {
	switch q.State {
	case QuoteStateUnpaid:
		return to == QuoteStatePaid || to == QuoteStateExpired
	case QuoteStatePaid:
		return to == QuoteStateIssued
	default:
		return false
	}
}

// MeltQuote is a pending request to pay an invoice by consuming proofs.
// It is created and consumed within a single melt operation; the fee
// reserve comes back as change proofs when overpaid.
type MeltQuote struct {
	QuoteID    string `json:"quote_id"`
	Invoice    string `json:"invoice"`
	Amount     int64  `json:"amount"`
	FeeReserve int64  `json:"fee_reserve"`
}

// TotalNeeded returns the input value the melt must cover.
func (q *MeltQuote) TotalNeeded() int64 {
	return q.Amount + q.FeeReserve
}
