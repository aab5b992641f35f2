package postgres

import (
	"context"
	"errors"
	"fmt"

	"ecash-wallet/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// QuoteRepo implements ports.QuoteRepository. State transitions are
// compare-and-set so concurrent pollers and the expiry timer cannot both
// win the same transition.
type QuoteRepo struct {
	pool Pool
}

// NewQuoteRepo creates a new QuoteRepo.
func NewQuoteRepo(pool Pool) *QuoteRepo {
	return &QuoteRepo{pool: pool}
}

// Save inserts a new mint quote.
func (r *QuoteRepo) Save(ctx context.Context, q *domain.MintQuote) error {
	query := `INSERT INTO mint_quotes (quote_id, request_invoice, amount, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		q.QuoteID, q.RequestInvoice, q.Amount, q.State, q.CreatedAt, q.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert mint quote: %w", err)
	}
	return nil
}

// Get fetches a mint quote by its ID.
func (r *QuoteRepo) Get(ctx context.Context, quoteID string) (*domain.MintQuote, error) {
	query := `SELECT quote_id, request_invoice, amount, state, created_at, expires_at
		FROM mint_quotes WHERE quote_id = $1`

	q := &domain.MintQuote{}
	err := r.pool.QueryRow(ctx, query, quoteID).Scan(
		&q.QuoteID, &q.RequestInvoice, &q.Amount, &q.State, &q.CreatedAt, &q.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get mint quote: %w", err)
	}
	return q, nil
}

// UpdateState moves a quote from one state to another. Returns false when
// the quote was not in the expected state, meaning the transition lost a
// race against another writer.
func (r *QuoteRepo) UpdateState(ctx context.Context, quoteID string, from, to domain.QuoteState) (bool, error) {
	query := `UPDATE mint_quotes SET state = $1 WHERE quote_id = $2 AND state = $3`

	tag, err := r.pool.Exec(ctx, query, to, quoteID, from)
	if err != nil {
		return false, fmt.Errorf("update quote state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkIssued moves a PAID quote to ISSUED inside the database transaction
// that also persists the issued proofs. Returns false when the quote was
// not in PAID state.
func (r *QuoteRepo) MarkIssued(ctx context.Context, tx pgx.Tx, quoteID string) (bool, error) {
	query := `UPDATE mint_quotes SET state = $1 WHERE quote_id = $2 AND state = $3`

	tag, err := tx.Exec(ctx, query, domain.QuoteStateIssued, quoteID, domain.QuoteStatePaid)
	if err != nil {
		return false, fmt.Errorf("mark quote issued: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPending returns quotes awaiting payment or issuance, oldest first.
// PAID rows surface quotes whose finalization failed before a restart.
func (r *QuoteRepo) ListPending(ctx context.Context) ([]domain.MintQuote, error) {
	query := `SELECT quote_id, request_invoice, amount, state, created_at, expires_at
		FROM mint_quotes WHERE state IN ($1, $2) ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, domain.QuoteStateUnpaid, domain.QuoteStatePaid)
	if err != nil {
		return nil, fmt.Errorf("list pending quotes: %w", err)
	}
	defer rows.Close()

	var quotes []domain.MintQuote
	for rows.Next() {
		var q domain.MintQuote
		err := rows.Scan(&q.QuoteID, &q.RequestInvoice, &q.Amount, &q.State, &q.CreatedAt, &q.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("scan quote row: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote rows: %w", err)
	}
	return quotes, nil
}
