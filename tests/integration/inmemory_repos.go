package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"ecash-wallet/internal/core/domain"
	"ecash-wallet/internal/core/ports"
	"ecash-wallet/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- In-Memory Proof Repo ---

type inMemoryProofRepo struct {
	mu     sync.RWMutex
	proofs map[string]domain.Proof
}

func newInMemoryProofRepo() *inMemoryProofRepo {
	return &inMemoryProofRepo{proofs: make(map[string]domain.Proof)}
}

func (r *inMemoryProofRepo) Add(ctx context.Context, tx pgx.Tx, proofs domain.Proofs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range proofs {
		if _, exists := r.proofs[p.Secret]; exists {
			return apperror.ErrDuplicateProof()
		}
	}
	for _, p := range proofs {
		r.proofs[p.Secret] = p
	}
	return nil
}

func (r *inMemoryProofRepo) Remove(ctx context.Context, tx pgx.Tx, proofs domain.Proofs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range proofs {
		if _, exists := r.proofs[p.Secret]; !exists {
			return apperror.ErrProofNotFound()
		}
	}
	for _, p := range proofs {
		delete(r.proofs, p.Secret)
	}
	return nil
}

func (r *inMemoryProofRepo) GetAll(ctx context.Context) (domain.Proofs, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make(domain.Proofs, 0, len(r.proofs))
	for _, p := range r.proofs {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Amount < all[j].Amount })
	return all, nil
}

func (r *inMemoryProofRepo) Balance(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, p := range r.proofs {
		total += p.Amount
	}
	return total, nil
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu      sync.RWMutex
	entries []domain.Transaction
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{}
}

func (r *inMemoryTransactionRepo) Append(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *txn)
	return nil
}

func (r *inMemoryTransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.entries {
		if params.Type != nil && t.Type != *params.Type {
			continue
		}
		if params.From != nil && t.CreatedAt.Unix() < *params.From {
			continue
		}
		if params.To != nil && t.CreatedAt.Unix() > *params.To {
			continue
		}
		result = append(result, t)
	}
	// Newest first
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	total := int64(len(result))

	start := (params.Page - 1) * params.PageSize
	if start >= len(result) {
		return []domain.Transaction{}, total, nil
	}
	end := start + params.PageSize
	if end > len(result) {
		end = len(result)
	}
	return result[start:end], total, nil
}

func (r *inMemoryTransactionRepo) Stats(ctx context.Context) (*ports.LedgerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &ports.LedgerStats{}
	for _, t := range r.entries {
		stats.TotalTransactions++
		switch t.Type {
		case domain.TransactionTypeMint:
			stats.TotalMinted += t.Amount
		case domain.TransactionTypeSend:
			stats.TotalSent += t.Amount
		case domain.TransactionTypeReceive:
			stats.TotalReceived += t.Amount
		case domain.TransactionTypeMelt:
			stats.TotalMelted += t.Amount
		}
	}
	return stats, nil
}

// --- In-Memory Quote Repo ---

type inMemoryQuoteRepo struct {
	mu     sync.RWMutex
	quotes map[string]*domain.MintQuote
}

func newInMemoryQuoteRepo() *inMemoryQuoteRepo {
	return &inMemoryQuoteRepo{quotes: make(map[string]*domain.MintQuote)}
}

func (r *inMemoryQuoteRepo) Save(ctx context.Context, q *domain.MintQuote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *q
	r.quotes[q.QuoteID] = &cp
	return nil
}

func (r *inMemoryQuoteRepo) Get(ctx context.Context, quoteID string) (*domain.MintQuote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.quotes[quoteID]
	if !ok {
		return nil, nil
	}
	cp := *q
	return &cp, nil
}

func (r *inMemoryQuoteRepo) UpdateState(ctx context.Context, quoteID string, from, to domain.QuoteState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[quoteID]
	if !ok || q.State != from {
		return false, nil
	}
	q.State = to
	return true, nil
}

func (r *inMemoryQuoteRepo) MarkIssued(ctx context.Context, tx pgx.Tx, quoteID string) (bool, error) {
	return r.UpdateState(ctx, quoteID, domain.QuoteStatePaid, domain.QuoteStateIssued)
}

func (r *inMemoryQuoteRepo) ListPending(ctx context.Context) ([]domain.MintQuote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []domain.MintQuote
	for _, q := range r.quotes {
		if q.State == domain.QuoteStateUnpaid || q.State == domain.QuoteStatePaid {
			pending = append(pending, *q)
		}
	}
	return pending, nil
}

// --- In-Memory Idempotency Repo ---

type inMemoryIdempotencyRepo struct {
	mu   sync.RWMutex
	logs map[string]*domain.IdempotencyLog
}

func newInMemoryIdempotencyRepo() *inMemoryIdempotencyRepo {
	return &inMemoryIdempotencyRepo{logs: make(map[string]*domain.IdempotencyLog)}
}

func (r *inMemoryIdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs[log.Key] = log
	return nil
}

func (r *inMemoryIdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logs[key]
	if !ok {
		return nil, nil
	}
	return l, nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }

// --- Fake Mint ---

// fakeMint simulates the external mint in memory: it tracks quote payment
// state, issues proofs decomposed into power-of-two denominations, and pays
// melt quotes charging a fixed fee out of the reserve.
type fakeMint struct {
	mu         sync.Mutex
	quoteSeq   atomic.Int64
	proofSeq   atomic.Int64
	quoteState map[string]domain.QuoteState
	quoteAmt   map[string]int64

	meltAmount     int64 // invoice amount reported by melt quotes
	meltFeeReserve int64 // reserve demanded up front
	meltFee        int64 // fee actually charged; the rest comes back as change

	mintFailures int // MintProofs outages to inject before succeeding
}

func newFakeMint() *fakeMint {
	return &fakeMint{
		quoteState:     make(map[string]domain.QuoteState),
		quoteAmt:       make(map[string]int64),
		meltAmount:     10,
		meltFeeReserve: 2,
		meltFee:        1,
	}
}

// markPaid simulates the user paying the quote's invoice.
func (m *fakeMint) markPaid(quoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteState[quoteID] = domain.QuoteStatePaid
}

// failNextMints makes the next n MintProofs calls fail as unreachable.
func (m *fakeMint) failNextMints(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mintFailures = n
}

// newProofs issues fresh proofs summing to amount, split into power-of-two
// denominations the way real mints do.
func (m *fakeMint) newProofs(amount int64) domain.Proofs {
	var proofs domain.Proofs
	for amount > 0 {
		var denom int64 = 1
		for denom*2 <= amount {
			denom *= 2
		}
		proofs = append(proofs, domain.Proof{
			Secret:    fmt.Sprintf("fake-secret-%d", m.proofSeq.Add(1)),
			KeysetID:  "fake-keyset",
			Amount:    denom,
			Signature: fmt.Sprintf("fake-sig-%d", m.proofSeq.Load()),
		})
		amount -= denom
	}
	return proofs
}

func (m *fakeMint) CreateMintQuote(ctx context.Context, amount int64) (*domain.MintQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("fq-%d", m.quoteSeq.Add(1))
	m.quoteState[id] = domain.QuoteStateUnpaid
	m.quoteAmt[id] = amount
	return &domain.MintQuote{
		QuoteID:        id,
		RequestInvoice: fmt.Sprintf("lnbc%dn1fake%s", amount, id),
		Amount:         amount,
	}, nil
}

func (m *fakeMint) CheckMintQuote(ctx context.Context, quoteID string) (domain.QuoteState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.quoteState[quoteID]
	if !ok {
		return "", fmt.Errorf("unknown quote %s", quoteID)
	}
	return state, nil
}

func (m *fakeMint) MintProofs(ctx context.Context, quoteID string, amount int64) (domain.Proofs, error) {
	m.mu.Lock()
	state := m.quoteState[quoteID]
	fail := m.mintFailures > 0
	if fail {
		m.mintFailures--
	}
	m.mu.Unlock()
	if fail {
		return nil, apperror.ErrMintUnavailable(fmt.Errorf("mint offline"))
	}
	if state != domain.QuoteStatePaid {
		return nil, apperror.ErrMintRejected(fmt.Errorf("quote %s not paid", quoteID))
	}
	return m.newProofs(amount), nil
}

func (m *fakeMint) Swap(ctx context.Context, inputs domain.Proofs, amount int64) (domain.Proofs, domain.Proofs, error) {
	if inputs.Sum() < amount {
		return nil, nil, apperror.ErrMintRejected(fmt.Errorf("swap inputs below target"))
	}
	return m.newProofs(amount), m.newProofs(inputs.Sum() - amount), nil
}

func (m *fakeMint) Redeem(ctx context.Context, token *domain.Token) (domain.Proofs, error) {
	return m.newProofs(token.Proofs.Sum()), nil
}

func (m *fakeMint) CreateMeltQuote(ctx context.Context, invoice string) (*domain.MeltQuote, error) {
	id := fmt.Sprintf("mq-%d", m.quoteSeq.Add(1))
	return &domain.MeltQuote{
		QuoteID:    id,
		Invoice:    invoice,
		Amount:     m.meltAmount,
		FeeReserve: m.meltFeeReserve,
	}, nil
}

func (m *fakeMint) Melt(ctx context.Context, quote *domain.MeltQuote, inputs domain.Proofs) (domain.Proofs, error) {
	if inputs.Sum() < quote.TotalNeeded() {
		return nil, apperror.ErrMintRejected(fmt.Errorf("melt inputs below quote total"))
	}
	changeAmt := inputs.Sum() - quote.Amount - m.meltFee
	if changeAmt <= 0 {
		return nil, nil
	}
	return m.newProofs(changeAmt), nil
}
