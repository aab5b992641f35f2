package domain

import "time"

// OperationRecord is the structured record handed to the external notifier
// after each successful mutating operation. Broadcast is best-effort; it
// never rolls back local state.
type OperationRecord struct {
	OperationType TransactionType `json:"operation_type"`
	Amount        int64           `json:"amount"`
	MintURL       string          `json:"mint_url"`
	Timestamp     int64           `json:"timestamp"`
}

// NewOperationRecord builds the record for a committed transaction.
func NewOperationRecord(t *Transaction) OperationRecord {
	return OperationRecord{
		OperationType: t.Type,
		Amount:        t.Amount,
		MintURL:       t.MintURL,
		Timestamp:     time.Now().Unix(),
	}
}
