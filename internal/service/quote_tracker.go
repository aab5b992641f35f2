package service

import (
	"context"
	"sync"
	"time"

	"ecash-wallet/internal/core/domain"
	"ecash-wallet/internal/core/ports"

	"github.com/rs/zerolog"
)

// QuoteFinalizer is the callback that issues proofs for a paid quote.
// Satisfied by ports.WalletService.
type QuoteFinalizer interface {
	FinalizeMintQuote(ctx context.Context, quoteID string) (*domain.Transaction, error)
}

// QuoteTrackerImpl implements ports.QuoteTracker. Each tracked quote gets
// its own polling goroutine with a ticker and an absolute expiry deadline.
// State transitions go through the repository's compare-and-set, so a
// poller, a manual retry, and the expiry path cannot all win.
type QuoteTrackerImpl struct {
	mintClient ports.MintClient
	quoteRepo  ports.QuoteRepository
	finalizer  QuoteFinalizer

	pollInterval time.Duration
	expiry       time.Duration
	log          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan ports.QuoteEvent
	nextSub int
}

// NewQuoteTracker creates a new QuoteTrackerImpl.
func NewQuoteTracker(
	mintClient ports.MintClient,
	quoteRepo ports.QuoteRepository,
	finalizer QuoteFinalizer,
	pollInterval time.Duration,
	expiry time.Duration,
	log zerolog.Logger,
) *QuoteTrackerImpl {
	ctx, cancel := context.WithCancel(context.Background())
	return &QuoteTrackerImpl{
		mintClient:   mintClient,
		quoteRepo:    quoteRepo,
		finalizer:    finalizer,
		pollInterval: pollInterval,
		expiry:       expiry,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		subs:         make(map[int]chan ports.QuoteEvent),
	}
}

// Track starts confirmation polling for a registered quote.
func (t *QuoteTrackerImpl) Track(quote *domain.MintQuote) {
	t.wg.Add(1)
	go t.poll(*quote)
}

// Resume re-registers pending quotes found in the store at startup. Unpaid
// quotes whose deadline already passed while the process was down are
// expired immediately instead of polled. Quotes stuck in PAID, where a
// previous finalization attempt failed, are re-driven regardless of the
// deadline: the invoice is paid and issuance still owes the wallet proofs.
func (t *QuoteTrackerImpl) Resume(ctx context.Context) error {
	pending, err := t.quoteRepo.ListPending(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	resumed := 0
	for i := range pending {
		q := pending[i]
		if q.State == domain.QuoteStateUnpaid && now.After(q.ExpiresAt) {
			t.expire(ctx, &q)
			continue
		}
		t.Track(&q)
		resumed++
	}

	t.log.Info().
		Int("resumed", resumed).
		Int("expired", len(pending)-resumed).
		Msg("pending quotes resumed")
	return nil
}

// Subscribe returns a stream of quote-state transitions. The returned
// cancel func releases the subscription.
func (t *QuoteTrackerImpl) Subscribe() (<-chan ports.QuoteEvent, func()) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan ports.QuoteEvent, 16)
	t.subs[id] = ch

	cancel := func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close cancels all polling and waits for the goroutines to drain.
func (t *QuoteTrackerImpl) Close() {
	t.cancel()
	t.wg.Wait()
}

func (t *QuoteTrackerImpl) poll(quote domain.MintQuote) {
	defer t.wg.Done()

	deadline := quote.ExpiresAt
	if deadline.IsZero() {
		deadline = time.Now().Add(t.expiry)
	}
	paid := quote.State == domain.QuoteStatePaid

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}

		if !paid {
			if time.Now().After(deadline) {
				t.expire(t.ctx, &quote)
				return
			}

			state, err := t.mintClient.CheckMintQuote(t.ctx, quote.QuoteID)
			if err != nil {
				// Transient mint failure; keep polling until the deadline
				t.log.Debug().Err(err).Str("quote_id", quote.QuoteID).Msg("quote check failed")
				continue
			}
			if state != domain.QuoteStatePaid && state != domain.QuoteStateIssued {
				continue
			}

			won, err := t.quoteRepo.UpdateState(t.ctx, quote.QuoteID, domain.QuoteStateUnpaid, domain.QuoteStatePaid)
			if err != nil {
				t.log.Error().Err(err).Str("quote_id", quote.QuoteID).Msg("quote state update failed")
				continue
			}
			if won {
				t.emit(ports.QuoteEvent{QuoteID: quote.QuoteID, State: domain.QuoteStatePaid, Amount: quote.Amount})
				t.log.Info().Str("quote_id", quote.QuoteID).Msg("quote paid, issuing proofs")
			} else {
				// Another writer advanced the quote. Keep issuing only when
				// it sits in PAID, meaning that writer's finalization failed.
				cur, err := t.quoteRepo.Get(t.ctx, quote.QuoteID)
				if err != nil || cur == nil || cur.State != domain.QuoteStatePaid {
					return
				}
			}
			paid = true
		}

		if _, err := t.finalizer.FinalizeMintQuote(t.ctx, quote.QuoteID); err != nil {
			// The invoice is already paid; issuance must eventually happen.
			// Retry on the next tick rather than stranding the quote in PAID.
			t.log.Error().Err(err).Str("quote_id", quote.QuoteID).Msg("proof issuance failed, retrying")
			continue
		}
		t.emit(ports.QuoteEvent{QuoteID: quote.QuoteID, State: domain.QuoteStateIssued, Amount: quote.Amount})
		return
	}
}

func (t *QuoteTrackerImpl) expire(ctx context.Context, quote *domain.MintQuote) {
	won, err := t.quoteRepo.UpdateState(ctx, quote.QuoteID, domain.QuoteStateUnpaid, domain.QuoteStateExpired)
	if err != nil {
		t.log.Error().Err(err).Str("quote_id", quote.QuoteID).Msg("quote expiry update failed")
		return
	}
	if won {
		t.emit(ports.QuoteEvent{QuoteID: quote.QuoteID, State: domain.QuoteStateExpired, Amount: quote.Amount})
		t.log.Info().Str("quote_id", quote.QuoteID).Msg("quote expired unpaid")
	}
}

func (t *QuoteTrackerImpl) emit(evt ports.QuoteEvent) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber; drop rather than block the poller
		}
	}
}
