package ports

import (
	"context"

	"ecash-wallet/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// ProofRepository is the durable proof store, the source of truth for the
// wallet balance. Methods accepting pgx.Tx run inside the transaction block
// of the operation that spends or creates the proofs, so a proof-set swap
// commits as a single atomic write.
type ProofRepository interface {
	// Add inserts proofs. Any identity already present fails the whole
	// batch with apperror ErrDuplicateProof (double-accounting guard).
	Add(ctx context.Context, tx pgx.Tx, proofs domain.Proofs) error
	// Remove deletes proofs by identity. Any absent identity fails the
	// whole batch with apperror ErrProofNotFound (double-spend guard).
	Remove(ctx context.Context, tx pgx.Tx, proofs domain.Proofs) error
	// GetAll returns the current unspent proof set.
	GetAll(ctx context.Context) (domain.Proofs, error)
	// Balance returns the sum of all stored proof amounts.
	Balance(ctx context.Context) (int64, error)
}

// TransactionRepository is the append-only ledger of value-affecting
// operations. Entries are never updated or deleted.
type TransactionRepository interface {
	Append(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	Stats(ctx context.Context) (*LedgerStats, error)
}

// TransactionListParams holds filter + pagination for listing ledger entries.
type TransactionListParams struct {
	Type     *domain.TransactionType
	From     *int64 // Unix timestamp
	To       *int64 // Unix timestamp
	Page     int
	PageSize int
}

// LedgerStats holds aggregated ledger totals per operation type.
type LedgerStats struct {
	TotalTransactions int64
	TotalMinted       int64
	TotalSent         int64
	TotalReceived     int64
	TotalMelted       int64
}

// QuoteRepository persists mint quotes and their confirmation lifecycle.
// State changes are compare-and-set so that concurrent pollers and a firing
// expiry timer cannot both win the same transition.
type QuoteRepository interface {
	Save(ctx context.Context, q *domain.MintQuote) error
	Get(ctx context.Context, quoteID string) (*domain.MintQuote, error)
	// UpdateState moves quoteID from state `from` to state `to`. Returns
	// false when the quote was not in `from` (transition lost the race).
	UpdateState(ctx context.Context, quoteID string, from, to domain.QuoteState) (bool, error)
	// MarkIssued is the commit-side CAS to ISSUED, run inside the same
	// database transaction that adds the issued proofs.
	MarkIssued(ctx context.Context, tx pgx.Tx, quoteID string) (bool, error)
	// ListPending returns quotes awaiting payment or issuance (UNPAID and
	// PAID), for startup resume.
	ListPending(ctx context.Context) ([]domain.MintQuote, error)
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
