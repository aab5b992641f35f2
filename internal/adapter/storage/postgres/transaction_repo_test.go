package postgres

import (
	"context"
	"testing"
	"time"

	"ecash-wallet/internal/core/domain"
	"ecash-wallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransaction(txType domain.TransactionType) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		Type:      txType,
		Amount:    100,
		MintURL:   "https://mint.test",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func transactionColumns() []string {
	return []string{"id", "type", "amount", "mint_url", "token", "invoice", "quote_id", "created_at"}
}

func transactionRow(t *domain.Transaction) *pgxmock.Rows {
	return pgxmock.NewRows(transactionColumns()).AddRow(
		t.ID, t.Type, t.Amount, t.MintURL, t.Token, t.Invoice, t.QuoteID, t.CreatedAt,
	)
}

func TestTransactionRepo_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(domain.TransactionTypeMint)
	quoteID := "quote-123"
	txn.QuoteID = &quoteID

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.Type, txn.Amount, txn.MintURL, txn.Token, txn.Invoice, txn.QuoteID, txn.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Append(context.Background(), tx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(domain.TransactionTypeSend)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT .+ FROM transactions .*ORDER BY created_at DESC").
		WithArgs(20, 0).
		WillReturnRows(transactionRow(txn))

	txns, total, err := repo.List(context.Background(), ports.TransactionListParams{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, txns, 1)
	assert.Equal(t, txn.ID, txns[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_List_FilterByType(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txType := domain.TransactionTypeMelt

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(txType).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery("SELECT .+ FROM transactions WHERE type").
		WithArgs(txType, 10, 0).
		WillReturnRows(pgxmock.NewRows(transactionColumns()))

	txns, total, err := repo.List(context.Background(), ports.TransactionListParams{
		Type: &txType, Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, txns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Stats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	rows := pgxmock.NewRows([]string{"total", "minted", "sent", "received", "melted"}).
		AddRow(int64(7), int64(500), int64(120), int64(80), int64(200))
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.TotalTransactions)
	assert.Equal(t, int64(500), stats.TotalMinted)
	assert.Equal(t, int64(120), stats.TotalSent)
	assert.Equal(t, int64(80), stats.TotalReceived)
	assert.Equal(t, int64(200), stats.TotalMelted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
