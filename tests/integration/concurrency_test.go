package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ecash-wallet/internal/core/domain"
	"ecash-wallet/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentFinalize fires many concurrent finalizations of the same
// paid quote. Exactly one must mint; every other caller either replays the
// recorded outcome or is turned away, and the balance grows exactly once.
func TestConcurrentFinalize(t *testing.T) {
	app := newTestApp(t)
	token := app.unlock(t)
	ctx := context.Background()

	resp, body := app.post(t, token, "/api/v1/wallet/mint", map[string]int64{"amount": 100})
	require.Equal(t, 201, resp.StatusCode)
	quoteID := body["data"].(map[string]interface{})["quote_id"].(string)

	// Pay on the mint side and mark PAID locally without letting the
	// tracker win the race first.
	app.mint.markPaid(quoteID)
	won, err := app.quoteRepo.UpdateState(ctx, quoteID, domain.QuoteStateUnpaid, domain.QuoteStatePaid)
	require.NoError(t, err)

	concurrency := 50
	var wg sync.WaitGroup
	var issued atomic.Int64
	var rejected atomic.Int64

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn, err := app.walletSvc.FinalizeMintQuote(ctx, quoteID)
			switch {
			case err == nil && txn != nil && txn.Amount == 100:
				issued.Add(1)
			case apperror.HasCode(err, "WAL_006"):
				rejected.Add(1)
			default:
				t.Errorf("unexpected finalize outcome: txn=%v err=%v", txn, err)
			}
		}()
	}
	wg.Wait()

	t.Logf("finalize race: %d returned the transaction, %d rejected (cas won locally: %v)",
		issued.Load(), rejected.Load(), won)

	// Losers that arrive after the winner committed see the idempotent
	// replay, so more than one success is fine; more than one LEDGER ENTRY
	// is not.
	assert.GreaterOrEqual(t, issued.Load(), int64(1))

	bal, err := app.proofRepo.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal, "balance must grow exactly once")

	_, stats := app.get(t, token, "/api/v1/wallet/stats")
	assert.Equal(t, float64(1), stats["data"].(map[string]interface{})["total_transactions"])
}

// TestConcurrentSends verifies the engine serializes spends: concurrent
// sends that together cover the whole balance all succeed, value is
// conserved across the produced tokens, and nothing is spent twice.
func TestConcurrentSends(t *testing.T) {
	app := newTestApp(t)
	token := app.unlock(t)
	ctx := context.Background()

	app.mintAndWait(t, token, 100)

	concurrency := 10
	sendAmount := int64(10)

	var wg sync.WaitGroup
	tokens := make(chan string, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokenStr, _, err := app.walletSvc.Send(ctx, sendAmount)
			if err != nil {
				t.Errorf("concurrent send failed: %v", err)
				return
			}
			tokens <- tokenStr
		}()
	}
	wg.Wait()
	close(tokens)

	// Every send produced a distinct, decodable token worth exactly 10
	var tokenTotal int64
	seen := make(map[string]struct{})
	for tokenStr := range tokens {
		decoded, err := domain.DecodeToken(tokenStr)
		require.NoError(t, err)
		assert.Equal(t, sendAmount, decoded.Proofs.Sum())
		for _, p := range decoded.Proofs {
			_, dup := seen[p.Secret]
			assert.False(t, dup, "proof spent into two tokens: %s", p.Secret)
			seen[p.Secret] = struct{}{}
		}
		tokenTotal += decoded.Proofs.Sum()
	}
	assert.Equal(t, int64(100), tokenTotal)

	// The wallet is empty and the ledger accounts for every sat
	bal, err := app.proofRepo.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	_, stats := app.get(t, token, "/api/v1/wallet/stats")
	data := stats["data"].(map[string]interface{})
	assert.Equal(t, float64(100), data["total_sent"])
}

// TestConcurrentMixedOperations interleaves sends and receives and checks
// the conservation identity balance = minted + received - sent - melted.
func TestConcurrentMixedOperations(t *testing.T) {
	app := newTestApp(t)
	token := app.unlock(t)
	ctx := context.Background()

	app.mintAndWait(t, token, 200)

	var wg sync.WaitGroup
	var sent atomic.Int64
	var received atomic.Int64

	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, _, err := app.walletSvc.Send(ctx, 7); err == nil {
				sent.Add(7)
			}
		}()
		go func() {
			defer wg.Done()
			external, err := domain.EncodeToken(testMintURL, app.mint.newProofs(13))
			if err != nil {
				t.Errorf("encode token: %v", err)
				return
			}
			if _, err := app.walletSvc.Receive(ctx, external); err == nil {
				received.Add(13)
			} else {
				t.Errorf("receive failed: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, err := app.proofRepo.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200-sent.Load()+received.Load(), bal)

	// The tracker is still quiet; give in-flight broadcasts a moment and
	// confirm the ledger matches the proof store.
	time.Sleep(50 * time.Millisecond)
	stats, err := app.txRepo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.TotalMinted+stats.TotalReceived-stats.TotalSent-stats.TotalMelted, bal)
}
