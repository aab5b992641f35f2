package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ecash-wallet/internal/core/domain"
	"ecash-wallet/internal/core/ports"
	"ecash-wallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	idempotencyTTL = 24 * time.Hour
	// issuanceClaimTTL bounds how long a crashed issuance blocks a retry.
	issuanceClaimTTL = 5 * time.Minute
)

// WalletServiceImpl implements ports.WalletService. A single mutex
// serializes every proof-mutating operation; the critical section spans the
// external mint call, which row-level database locks cannot cover.
type WalletServiceImpl struct {
	mu sync.Mutex

	proofRepo  ports.ProofRepository
	txRepo     ports.TransactionRepository
	quoteRepo  ports.QuoteRepository
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	guard      ports.IssuanceGuard
	mintClient ports.MintClient
	notifier   ports.Notifier
	transactor ports.DBTransactor
	tracker    ports.QuoteTracker

	mintURL     string
	quoteExpiry time.Duration
	log         zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	proofRepo ports.ProofRepository,
	txRepo ports.TransactionRepository,
	quoteRepo ports.QuoteRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	guard ports.IssuanceGuard,
	mintClient ports.MintClient,
	notifier ports.Notifier,
	transactor ports.DBTransactor,
	mintURL string,
	quoteExpiry time.Duration,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		proofRepo:   proofRepo,
		txRepo:      txRepo,
		quoteRepo:   quoteRepo,
		idempRepo:   idempRepo,
		idempCache:  idempCache,
		guard:       guard,
		mintClient:  mintClient,
		notifier:    notifier,
		transactor:  transactor,
		mintURL:     mintURL,
		quoteExpiry: quoteExpiry,
		log:         log,
	}
}

// SetQuoteTracker wires the tracker after construction. The tracker itself
// calls back into FinalizeMintQuote, so it cannot exist before the engine.
func (s *WalletServiceImpl) SetQuoteTracker(t ports.QuoteTracker) {
	s.tracker = t
}

// Mint requests a quote for amount and registers it for confirmation
// polling. The returned quote carries the invoice the user must pay.
func (s *WalletServiceImpl) Mint(ctx context.Context, amount int64) (*domain.MintQuote, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	quote, err := s.mintClient.CreateMintQuote(ctx, amount)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	quote.State = domain.QuoteStateUnpaid
	quote.CreatedAt = now
	quote.ExpiresAt = now.Add(s.quoteExpiry)

	if err := s.quoteRepo.Save(ctx, quote); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save quote: %w", err))
	}

	if s.tracker != nil {
		s.tracker.Track(quote)
	}

	s.log.Info().
		Str("quote_id", quote.QuoteID).
		Int64("amount", amount).
		Msg("mint quote created")

	return quote, nil
}

// FinalizeMintQuote issues proofs for a paid quote exactly once. Callers
// (the tracker, or a manual retry) may race; the redis claim, the ISSUED
// compare-and-set, and the proof-store unique constraint each independently
// stop a second issuance.
func (s *WalletServiceImpl) FinalizeMintQuote(ctx context.Context, quoteID string) (*domain.Transaction, error) {
	idempKey := domain.BuildMintIdempotencyKey(quoteID)

	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return s.unmarshalCachedTransaction(cached)
	}

	// Layer 2: DB idempotency check
	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if idempLog != nil {
		return s.unmarshalCachedTransaction(idempLog.ResponseJSON)
	}

	quote, err := s.quoteRepo.Get(ctx, quoteID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get quote: %w", err))
	}
	if quote == nil {
		return nil, apperror.ErrQuoteNotFound(quoteID)
	}
	if quote.State != domain.QuoteStatePaid {
		return nil, apperror.ErrQuoteNotPayable()
	}

	claimed, err := s.guard.Acquire(ctx, idempKey, issuanceClaimTTL)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("acquire issuance claim: %w", err))
	}
	if !claimed {
		return nil, apperror.ErrQuoteNotPayable()
	}

	txn, err := s.issueProofs(ctx, quote, idempKey)
	if err != nil {
		if releaseErr := s.guard.Release(ctx, idempKey); releaseErr != nil {
			s.log.Warn().Err(releaseErr).Str("quote_id", quoteID).Msg("failed to release issuance claim")
		}
		return nil, err
	}
	return txn, nil
}

func (s *WalletServiceImpl) issueProofs(ctx context.Context, quote *domain.MintQuote, idempKey string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proofs, err := s.mintClient.MintProofs(ctx, quote.QuoteID, quote.Amount)
	if err != nil {
		return nil, err
	}
	if err := proofs.Validate(); err != nil {
		return nil, apperror.ErrMintRejected(fmt.Errorf("invalid proofs from mint: %w", err))
	}
	if proofs.Sum() != quote.Amount {
		return nil, s.integrityFault(apperror.ErrConservationViolated(quote.Amount, proofs.Sum()), "mint", quote.QuoteID)
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	issued, err := s.quoteRepo.MarkIssued(ctx, dbTx, quote.QuoteID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("mark quote issued: %w", err))
	}
	if !issued {
		return nil, apperror.ErrQuoteNotPayable()
	}

	if err := s.proofRepo.Add(ctx, dbTx, proofs); err != nil {
		return nil, s.wrapIntegrity(err, "mint", quote.QuoteID)
	}

	now := time.Now().UTC()
	quoteID := quote.QuoteID
	txn := &domain.Transaction{
		ID:        uuid.New(),
		Type:      domain.TransactionTypeMint,
		Amount:    quote.Amount,
		MintURL:   s.mintURL,
		QuoteID:   &quoteID,
		CreatedAt: now,
	}
	if err := s.txRepo.Append(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append transaction: %w", err))
	}

	respJSON, err := json.Marshal(txn)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal response: %w", err))
	}
	if err := s.idempRepo.Create(ctx, dbTx, &domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: txn.ID,
		ResponseJSON:  respJSON,
		CreatedAt:     now,
	}); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save idempotency log: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
	}
	s.broadcast(ctx, txn)

	s.log.Info().
		Str("quote_id", quote.QuoteID).
		Int64("amount", quote.Amount).
		Msg("proofs issued for paid quote")

	return txn, nil
}

// Send moves amount out of the wallet as a portable token string. Proof-set
// changes and the ledger entry commit atomically; the token is encoded
// before anything is removed so an encoding failure cannot strand value.
func (s *WalletServiceImpl) Send(ctx context.Context, amount int64) (string, *domain.Transaction, error) {
	if amount <= 0 {
		return "", nil, apperror.ErrInvalidAmount()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.proofRepo.GetAll(ctx)
	if err != nil {
		return "", nil, apperror.InternalError(fmt.Errorf("load proofs: %w", err))
	}
	if all.Sum() < amount {
		return "", nil, apperror.ErrInsufficientBalance()
	}

	inputs := selectProofs(all, amount)

	var sendSet, keepSet domain.Proofs
	if inputs.Sum() == amount {
		// Exact cover, no swap needed
		sendSet, keepSet = inputs, nil
	} else {
		sendSet, keepSet, err = s.mintClient.Swap(ctx, inputs, amount)
		if err != nil {
			return "", nil, err
		}
		if sendSet.Sum() != amount || sendSet.Sum()+keepSet.Sum() != inputs.Sum() {
			return "", nil, s.integrityFault(
				apperror.ErrConservationViolated(inputs.Sum(), sendSet.Sum()+keepSet.Sum()), "send", "")
		}
	}

	tokenStr, err := domain.EncodeToken(s.mintURL, sendSet)
	if err != nil {
		return "", nil, apperror.InternalError(fmt.Errorf("encode token: %w", err))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return "", nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.proofRepo.Remove(ctx, dbTx, inputs); err != nil {
		return "", nil, s.wrapIntegrity(err, "send", "")
	}
	if len(keepSet) > 0 {
		if err := s.proofRepo.Add(ctx, dbTx, keepSet); err != nil {
			return "", nil, s.wrapIntegrity(err, "send", "")
		}
	}

	txn := &domain.Transaction{
		ID:        uuid.New(),
		Type:      domain.TransactionTypeSend,
		Amount:    amount,
		MintURL:   s.mintURL,
		Token:     &tokenStr,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.txRepo.Append(ctx, dbTx, txn); err != nil {
		return "", nil, apperror.InternalError(fmt.Errorf("append transaction: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return "", nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.broadcast(ctx, txn)

	s.log.Info().Int64("amount", amount).Msg("token sent")

	return tokenStr, txn, nil
}

// Receive redeems a pasted token into the wallet. The token's proofs are
// swapped at the mint for fresh ones so the sender can no longer spend them.
func (s *WalletServiceImpl) Receive(ctx context.Context, rawToken string) (*domain.Transaction, error) {
	token, err := domain.DecodeToken(rawToken)
	if err != nil {
		return nil, apperror.ErrInvalidToken()
	}
	if token.Mint != s.mintURL {
		// Proofs from another mint cannot be redeemed here; reject at the
		// boundary instead of letting the mint fail the swap opaquely
		s.log.Warn().Str("token_mint", token.Mint).Msg("token from foreign mint rejected")
		return nil, apperror.ErrInvalidToken()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh, err := s.mintClient.Redeem(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := fresh.Validate(); err != nil {
		return nil, apperror.ErrMintRejected(fmt.Errorf("invalid proofs from mint: %w", err))
	}
	if fresh.Sum() != token.Proofs.Sum() {
		return nil, s.integrityFault(
			apperror.ErrConservationViolated(token.Proofs.Sum(), fresh.Sum()), "receive", "")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.proofRepo.Add(ctx, dbTx, fresh); err != nil {
		return nil, s.wrapIntegrity(err, "receive", "")
	}

	txn := &domain.Transaction{
		ID:        uuid.New(),
		Type:      domain.TransactionTypeReceive,
		Amount:    fresh.Sum(),
		MintURL:   s.mintURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.txRepo.Append(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append transaction: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.broadcast(ctx, txn)

	s.log.Info().Int64("amount", txn.Amount).Msg("token received")

	return txn, nil
}

// Melt pays a Lightning invoice by consuming proofs. The ledger records the
// committed value, invoice amount plus fee reserve; change from the unused
// reserve returns to the proof store.
func (s *WalletServiceImpl) Melt(ctx context.Context, invoice string) (*domain.Transaction, error) {
	invoice = strings.TrimSpace(invoice)
	if invoice == "" {
		return nil, apperror.ErrInvalidInvoice()
	}

	quote, err := s.mintClient.CreateMeltQuote(ctx, invoice)
	if err != nil {
		return nil, err
	}

	idempKey := domain.BuildMeltIdempotencyKey(quote.QuoteID)

	// A melt quote is fresh per call, but retried submissions of the same
	// quote must not pay the invoice twice.
	if idempLog, err := s.idempRepo.Get(ctx, idempKey); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	} else if idempLog != nil {
		return s.unmarshalCachedTransaction(idempLog.ResponseJSON)
	}

	claimed, err := s.guard.Acquire(ctx, idempKey, issuanceClaimTTL)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("acquire melt claim: %w", err))
	}
	if !claimed {
		return nil, apperror.ErrQuoteNotPayable()
	}

	txn, err := s.executeMelt(ctx, quote, idempKey)
	if err != nil {
		if releaseErr := s.guard.Release(ctx, idempKey); releaseErr != nil {
			s.log.Warn().Err(releaseErr).Str("quote_id", quote.QuoteID).Msg("failed to release melt claim")
		}
		return nil, err
	}
	return txn, nil
}

func (s *WalletServiceImpl) executeMelt(ctx context.Context, quote *domain.MeltQuote, idempKey string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needed := quote.TotalNeeded()

	all, err := s.proofRepo.GetAll(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load proofs: %w", err))
	}
	if all.Sum() < needed {
		return nil, apperror.ErrInsufficientBalance()
	}

	inputs := selectProofs(all, needed)

	var meltSet, keepSet domain.Proofs
	if inputs.Sum() == needed {
		meltSet, keepSet = inputs, nil
	} else {
		meltSet, keepSet, err = s.mintClient.Swap(ctx, inputs, needed)
		if err != nil {
			return nil, err
		}
		if meltSet.Sum() != needed || meltSet.Sum()+keepSet.Sum() != inputs.Sum() {
			return nil, s.integrityFault(
				apperror.ErrConservationViolated(inputs.Sum(), meltSet.Sum()+keepSet.Sum()), "melt", quote.QuoteID)
		}
	}

	change, err := s.mintClient.Melt(ctx, quote, meltSet)
	if err != nil {
		return nil, err
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.proofRepo.Remove(ctx, dbTx, inputs); err != nil {
		return nil, s.wrapIntegrity(err, "melt", quote.QuoteID)
	}
	returned := append(domain.Proofs{}, keepSet...)
	returned = append(returned, change...)
	if len(returned) > 0 {
		if err := s.proofRepo.Add(ctx, dbTx, returned); err != nil {
			return nil, s.wrapIntegrity(err, "melt", quote.QuoteID)
		}
	}

	now := time.Now().UTC()
	quoteID := quote.QuoteID
	invoice := quote.Invoice
	txn := &domain.Transaction{
		ID:        uuid.New(),
		Type:      domain.TransactionTypeMelt,
		Amount:    needed,
		MintURL:   s.mintURL,
		Invoice:   &invoice,
		QuoteID:   &quoteID,
		CreatedAt: now,
	}
	if err := s.txRepo.Append(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append transaction: %w", err))
	}

	respJSON, err := json.Marshal(txn)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal response: %w", err))
	}
	if err := s.idempRepo.Create(ctx, dbTx, &domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: txn.ID,
		ResponseJSON:  respJSON,
		CreatedAt:     now,
	}); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save idempotency log: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
	}
	s.broadcast(ctx, txn)

	s.log.Info().
		Str("quote_id", quote.QuoteID).
		Int64("amount", txn.Amount).
		Int64("change", change.Sum()).
		Msg("invoice paid")

	return txn, nil
}

// Balance returns the sum of all stored proof amounts.
func (s *WalletServiceImpl) Balance(ctx context.Context) (int64, error) {
	balance, err := s.proofRepo.Balance(ctx)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("get balance: %w", err))
	}
	return balance, nil
}

// Transactions lists ledger entries with filtering and pagination.
func (s *WalletServiceImpl) Transactions(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}
	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, total, nil
}

// Stats returns aggregated ledger totals.
func (s *WalletServiceImpl) Stats(ctx context.Context) (*ports.LedgerStats, error) {
	stats, err := s.txRepo.Stats(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get stats: %w", err))
	}
	return stats, nil
}

// selectProofs picks the smallest prefix of proofs (ordered by amount
// ascending) covering target. The caller has already checked coverage.
func selectProofs(proofs domain.Proofs, target int64) domain.Proofs {
	var selected domain.Proofs
	var sum int64
	for _, p := range proofs {
		if sum >= target {
			break
		}
		selected = append(selected, p)
		sum += p.Amount
	}
	return selected
}

func (s *WalletServiceImpl) broadcast(ctx context.Context, txn *domain.Transaction) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EnqueueRecord(ctx, domain.NewOperationRecord(txn)); err != nil {
		s.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Msg("failed to enqueue operation record")
	}
}

// wrapIntegrity logs ledger-integrity faults before returning them. These
// indicate double-processing and must never be retried automatically.
func (s *WalletServiceImpl) wrapIntegrity(err error, op, quoteID string) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.IsIntegrity() {
		return s.integrityFault(appErr, op, quoteID)
	}
	return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
}

func (s *WalletServiceImpl) integrityFault(appErr *apperror.AppError, op, quoteID string) error {
	evt := s.log.Error().Str("code", appErr.Code).Str("operation", op)
	if quoteID != "" {
		evt = evt.Str("quote_id", quoteID)
	}
	evt.Msg("ledger integrity fault")
	return appErr
}

func (s *WalletServiceImpl) unmarshalCachedTransaction(data []byte) (*domain.Transaction, error) {
	var txn domain.Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached transaction: %w", err))
	}
	return &txn, nil
}
