package service

import (
	"context"
	"testing"
	"time"

	"ecash-wallet/internal/core/domain"
	"ecash-wallet/internal/core/ports"
	"ecash-wallet/internal/core/ports/mocks"
	"ecash-wallet/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const trackerTestPoll = 10 * time.Millisecond

type trackerTestDeps struct {
	tracker    *QuoteTrackerImpl
	mintClient *mocks.MockMintClient
	quoteRepo  *mocks.MockQuoteRepository
	finalizer  *mocks.MockWalletService
	ctrl       *gomock.Controller
}

func setupTracker(t *testing.T) *trackerTestDeps {
	ctrl := gomock.NewController(t)
	d := &trackerTestDeps{
		mintClient: mocks.NewMockMintClient(ctrl),
		quoteRepo:  mocks.NewMockQuoteRepository(ctrl),
		finalizer:  mocks.NewMockWalletService(ctrl),
		ctrl:       ctrl,
	}
	d.tracker = NewQuoteTracker(
		d.mintClient, d.quoteRepo, d.finalizer,
		trackerTestPoll, time.Minute, zerolog.Nop(),
	)
	return d
}

func trackedQuote(expiresIn time.Duration) *domain.MintQuote {
	return &domain.MintQuote{
		QuoteID:        "quote-1",
		RequestInvoice: "lnbc100n1p...",
		Amount:         100,
		State:          domain.QuoteStateUnpaid,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(expiresIn),
	}
}

func waitForEvent(t *testing.T, events <-chan ports.QuoteEvent) ports.QuoteEvent {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quote event")
		return ports.QuoteEvent{}
	}
}

func TestQuoteTracker_PaidQuoteIsFinalized(t *testing.T) {
	d := setupTracker(t)
	defer d.tracker.Close()

	events, cancel := d.tracker.Subscribe()
	defer cancel()

	d.mintClient.EXPECT().CheckMintQuote(gomock.Any(), "quote-1").
		Return(domain.QuoteStatePaid, nil).MinTimes(1)
	d.quoteRepo.EXPECT().UpdateState(gomock.Any(), "quote-1", domain.QuoteStateUnpaid, domain.QuoteStatePaid).
		Return(true, nil)
	d.finalizer.EXPECT().FinalizeMintQuote(gomock.Any(), "quote-1").
		Return(&domain.Transaction{Type: domain.TransactionTypeMint, Amount: 100}, nil)

	d.tracker.Track(trackedQuote(time.Minute))

	evt := waitForEvent(t, events)
	assert.Equal(t, domain.QuoteStatePaid, evt.State)
	assert.Equal(t, "quote-1", evt.QuoteID)

	evt = waitForEvent(t, events)
	assert.Equal(t, domain.QuoteStateIssued, evt.State)
	assert.Equal(t, int64(100), evt.Amount)
}

func TestQuoteTracker_UnpaidQuoteExpires(t *testing.T) {
	d := setupTracker(t)
	defer d.tracker.Close()

	events, cancel := d.tracker.Subscribe()
	defer cancel()

	d.quoteRepo.EXPECT().UpdateState(gomock.Any(), "quote-1", domain.QuoteStateUnpaid, domain.QuoteStateExpired).
		Return(true, nil)

	// Deadline already passed: first tick expires the quote without a check
	d.tracker.Track(trackedQuote(-time.Second))

	evt := waitForEvent(t, events)
	assert.Equal(t, domain.QuoteStateExpired, evt.State)
}

func TestQuoteTracker_LostRaceStopsPolling(t *testing.T) {
	d := setupTracker(t)

	done := make(chan struct{})

	issued := trackedQuote(time.Minute)
	issued.State = domain.QuoteStateIssued

	d.mintClient.EXPECT().CheckMintQuote(gomock.Any(), "quote-1").
		Return(domain.QuoteStatePaid, nil)
	// Another writer already drove the quote to ISSUED: no finalize, no event
	d.quoteRepo.EXPECT().UpdateState(gomock.Any(), "quote-1", domain.QuoteStateUnpaid, domain.QuoteStatePaid).
		Return(false, nil)
	d.quoteRepo.EXPECT().Get(gomock.Any(), "quote-1").
		DoAndReturn(func(context.Context, string) (*domain.MintQuote, error) {
			close(done)
			return issued, nil
		})

	d.tracker.Track(trackedQuote(time.Minute))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state check")
	}
	d.tracker.Close()
}

func TestQuoteTracker_LostRaceToStrandedPaidQuoteStillIssues(t *testing.T) {
	d := setupTracker(t)
	defer d.tracker.Close()

	events, cancel := d.tracker.Subscribe()
	defer cancel()

	stranded := trackedQuote(time.Minute)
	stranded.State = domain.QuoteStatePaid

	d.mintClient.EXPECT().CheckMintQuote(gomock.Any(), "quote-1").
		Return(domain.QuoteStatePaid, nil)
	// The CAS loser finds the quote stuck in PAID, so the other writer's
	// finalization failed and issuance is still owed
	d.quoteRepo.EXPECT().UpdateState(gomock.Any(), "quote-1", domain.QuoteStateUnpaid, domain.QuoteStatePaid).
		Return(false, nil)
	d.quoteRepo.EXPECT().Get(gomock.Any(), "quote-1").Return(stranded, nil)
	d.finalizer.EXPECT().FinalizeMintQuote(gomock.Any(), "quote-1").
		Return(&domain.Transaction{Type: domain.TransactionTypeMint, Amount: 100}, nil)

	d.tracker.Track(trackedQuote(time.Minute))

	evt := waitForEvent(t, events)
	assert.Equal(t, domain.QuoteStateIssued, evt.State)
}

func TestQuoteTracker_FinalizeRetriesAfterTransientFailure(t *testing.T) {
	d := setupTracker(t)
	defer d.tracker.Close()

	events, cancel := d.tracker.Subscribe()
	defer cancel()

	d.mintClient.EXPECT().CheckMintQuote(gomock.Any(), "quote-1").
		Return(domain.QuoteStatePaid, nil)
	d.quoteRepo.EXPECT().UpdateState(gomock.Any(), "quote-1", domain.QuoteStateUnpaid, domain.QuoteStatePaid).
		Return(true, nil)
	// An unreachable mint must not strand the paid quote: the next tick
	// retries issuance
	gomock.InOrder(
		d.finalizer.EXPECT().FinalizeMintQuote(gomock.Any(), "quote-1").
			Return(nil, apperror.ErrMintUnavailable(assert.AnError)),
		d.finalizer.EXPECT().FinalizeMintQuote(gomock.Any(), "quote-1").
			Return(&domain.Transaction{Type: domain.TransactionTypeMint, Amount: 100}, nil),
	)

	d.tracker.Track(trackedQuote(time.Minute))

	evt := waitForEvent(t, events)
	assert.Equal(t, domain.QuoteStatePaid, evt.State)

	evt = waitForEvent(t, events)
	assert.Equal(t, domain.QuoteStateIssued, evt.State)
}

func TestQuoteTracker_ResumeRedrivesPaidQuote(t *testing.T) {
	d := setupTracker(t)
	ctx := context.Background()

	events, cancel := d.tracker.Subscribe()
	defer cancel()

	// Stuck in PAID past its deadline: payment happened, issuance did not.
	// It must be finalized, never expired.
	stuck := *trackedQuote(-time.Minute)
	stuck.State = domain.QuoteStatePaid

	d.quoteRepo.EXPECT().ListPending(ctx).Return([]domain.MintQuote{stuck}, nil)
	d.finalizer.EXPECT().FinalizeMintQuote(gomock.Any(), "quote-1").
		Return(&domain.Transaction{Type: domain.TransactionTypeMint, Amount: 100}, nil)

	require.NoError(t, d.tracker.Resume(ctx))

	evt := waitForEvent(t, events)
	assert.Equal(t, domain.QuoteStateIssued, evt.State)
	d.tracker.Close()
}

func TestQuoteTracker_TransientCheckFailureKeepsPolling(t *testing.T) {
	d := setupTracker(t)
	defer d.tracker.Close()

	events, cancel := d.tracker.Subscribe()
	defer cancel()

	gomock.InOrder(
		d.mintClient.EXPECT().CheckMintQuote(gomock.Any(), "quote-1").
			Return(domain.QuoteState(""), assert.AnError),
		d.mintClient.EXPECT().CheckMintQuote(gomock.Any(), "quote-1").
			Return(domain.QuoteStateUnpaid, nil),
		d.mintClient.EXPECT().CheckMintQuote(gomock.Any(), "quote-1").
			Return(domain.QuoteStatePaid, nil).MinTimes(1),
	)
	d.quoteRepo.EXPECT().UpdateState(gomock.Any(), "quote-1", domain.QuoteStateUnpaid, domain.QuoteStatePaid).
		Return(true, nil)
	d.finalizer.EXPECT().FinalizeMintQuote(gomock.Any(), "quote-1").
		Return(&domain.Transaction{}, nil)

	d.tracker.Track(trackedQuote(time.Minute))

	evt := waitForEvent(t, events)
	assert.Equal(t, domain.QuoteStatePaid, evt.State)
}

func TestQuoteTracker_Resume(t *testing.T) {
	d := setupTracker(t)
	ctx := context.Background()

	live := *trackedQuote(time.Minute)
	stale := *trackedQuote(-time.Minute)
	stale.QuoteID = "quote-stale"

	d.quoteRepo.EXPECT().ListPending(ctx).Return([]domain.MintQuote{live, stale}, nil)
	// Stale quote is expired inline, live quote resumes polling
	d.quoteRepo.EXPECT().UpdateState(ctx, "quote-stale", domain.QuoteStateUnpaid, domain.QuoteStateExpired).
		Return(true, nil)
	d.mintClient.EXPECT().CheckMintQuote(gomock.Any(), "quote-1").
		Return(domain.QuoteStateUnpaid, nil).AnyTimes()

	require.NoError(t, d.tracker.Resume(ctx))
	d.tracker.Close()
}

func TestQuoteTracker_SubscribeCancel(t *testing.T) {
	d := setupTracker(t)
	defer d.tracker.Close()

	events, cancel := d.tracker.Subscribe()
	cancel()

	_, open := <-events
	assert.False(t, open, "cancelled subscription channel should be closed")

	// Double cancel must not panic
	cancel()
}

func TestQuoteTracker_CloseStopsPolling(t *testing.T) {
	d := setupTracker(t)

	d.mintClient.EXPECT().CheckMintQuote(gomock.Any(), "quote-1").
		Return(domain.QuoteStateUnpaid, nil).AnyTimes()

	d.tracker.Track(trackedQuote(time.Minute))
	time.Sleep(3 * trackerTestPoll)

	done := make(chan struct{})
	go func() {
		d.tracker.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drain polling goroutines")
	}
}
