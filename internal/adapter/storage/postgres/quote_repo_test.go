package postgres

import (
	"context"
	"testing"
	"time"

	"ecash-wallet/internal/core/domain"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQuote() *domain.MintQuote {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.MintQuote{
		QuoteID:        "quote-123",
		RequestInvoice: "lnbc100n1p...",
		Amount:         100,
		State:          domain.QuoteStateUnpaid,
		CreatedAt:      now,
		ExpiresAt:      now.Add(15 * time.Minute),
	}
}

func quoteColumns() []string {
	return []string{"quote_id", "request_invoice", "amount", "state", "created_at", "expires_at"}
}

func quoteRow(q *domain.MintQuote) *pgxmock.Rows {
	return pgxmock.NewRows(quoteColumns()).AddRow(
		q.QuoteID, q.RequestInvoice, q.Amount, q.State, q.CreatedAt, q.ExpiresAt,
	)
}

func TestQuoteRepo_Save(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQuoteRepo(mock)
	q := newTestQuote()

	mock.ExpectExec("INSERT INTO mint_quotes").
		WithArgs(q.QuoteID, q.RequestInvoice, q.Amount, q.State, q.CreatedAt, q.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Save(context.Background(), q)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteRepo_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQuoteRepo(mock)
	q := newTestQuote()

	mock.ExpectQuery("SELECT .+ FROM mint_quotes WHERE quote_id").
		WithArgs(q.QuoteID).
		WillReturnRows(quoteRow(q))

	result, err := repo.Get(context.Background(), q.QuoteID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, q.QuoteID, result.QuoteID)
	assert.Equal(t, domain.QuoteStateUnpaid, result.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteRepo_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQuoteRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM mint_quotes WHERE quote_id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(quoteColumns()))

	result, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteRepo_UpdateState_Wins(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQuoteRepo(mock)

	mock.ExpectExec("UPDATE mint_quotes SET state").
		WithArgs(domain.QuoteStatePaid, "quote-123", domain.QuoteStateUnpaid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	won, err := repo.UpdateState(context.Background(), "quote-123", domain.QuoteStateUnpaid, domain.QuoteStatePaid)
	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteRepo_UpdateState_LosesRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQuoteRepo(mock)

	// Quote already moved on; the CAS must not clobber the newer state.
	mock.ExpectExec("UPDATE mint_quotes SET state").
		WithArgs(domain.QuoteStateExpired, "quote-123", domain.QuoteStateUnpaid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	won, err := repo.UpdateState(context.Background(), "quote-123", domain.QuoteStateUnpaid, domain.QuoteStateExpired)
	require.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteRepo_MarkIssued(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQuoteRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE mint_quotes SET state").
		WithArgs(domain.QuoteStateIssued, "quote-123", domain.QuoteStatePaid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	won, err := repo.MarkIssued(context.Background(), tx, "quote-123")
	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteRepo_ListPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQuoteRepo(mock)
	unpaid := newTestQuote()
	stuck := newTestQuote()
	stuck.QuoteID = "quote-456"
	stuck.State = domain.QuoteStatePaid

	// Both UNPAID and PAID rows come back: a PAID quote whose issuance
	// failed before a restart still needs to be driven to ISSUED.
	mock.ExpectQuery("SELECT .+ FROM mint_quotes WHERE state").
		WithArgs(domain.QuoteStateUnpaid, domain.QuoteStatePaid).
		WillReturnRows(pgxmock.NewRows(quoteColumns()).
			AddRow(unpaid.QuoteID, unpaid.RequestInvoice, unpaid.Amount, unpaid.State, unpaid.CreatedAt, unpaid.ExpiresAt).
			AddRow(stuck.QuoteID, stuck.RequestInvoice, stuck.Amount, stuck.State, stuck.CreatedAt, stuck.ExpiresAt))

	quotes, err := repo.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, unpaid.QuoteID, quotes[0].QuoteID)
	assert.Equal(t, domain.QuoteStatePaid, quotes[1].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}
