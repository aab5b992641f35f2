package ports

import (
	"context"
	"time"

	"ecash-wallet/internal/core/domain"
)

// MintClient is the external minting authority. Proof construction and
// verification happen on the mint side; the wallet treats returned proofs
// as opaque value carriers.
type MintClient interface {
	CreateMintQuote(ctx context.Context, amount int64) (*domain.MintQuote, error)
	CheckMintQuote(ctx context.Context, quoteID string) (domain.QuoteState, error)
	MintProofs(ctx context.Context, quoteID string, amount int64) (domain.Proofs, error)
	// Swap splits inputs into a set summing exactly to amount and a
	// remainder set (conservation is asserted by the caller).
	Swap(ctx context.Context, inputs domain.Proofs, amount int64) (send domain.Proofs, keep domain.Proofs, err error)
	Redeem(ctx context.Context, token *domain.Token) (domain.Proofs, error)
	CreateMeltQuote(ctx context.Context, invoice string) (*domain.MeltQuote, error)
	Melt(ctx context.Context, quote *domain.MeltQuote, inputs domain.Proofs) (change domain.Proofs, err error)
}

// --- Service Ports (Business Logic) ---

// WalletService is the engine driving the four protocol operations.
type WalletService interface {
	// Mint requests a quote for amount and registers it for confirmation
	// polling. Completion is asynchronous: the returned quote carries the
	// invoice to pay, and issuance is observed later via the tracker.
	Mint(ctx context.Context, amount int64) (*domain.MintQuote, error)
	// FinalizeMintQuote issues proofs for a paid quote exactly once.
	FinalizeMintQuote(ctx context.Context, quoteID string) (*domain.Transaction, error)
	// Send moves amount out of the wallet as a portable token string.
	Send(ctx context.Context, amount int64) (string, *domain.Transaction, error)
	// Receive redeems a pasted token into the wallet.
	Receive(ctx context.Context, rawToken string) (*domain.Transaction, error)
	// Melt pays a Lightning invoice by consuming proofs.
	Melt(ctx context.Context, invoice string) (*domain.Transaction, error)

	Balance(ctx context.Context) (int64, error)
	Transactions(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	Stats(ctx context.Context) (*LedgerStats, error)
}

// QuoteEvent signals a quote-state transition to the UI layer.
type QuoteEvent struct {
	QuoteID string            `json:"quote_id"`
	State   domain.QuoteState `json:"state"`
	Amount  int64             `json:"amount"`
}

// QuoteTracker manages asynchronous confirmation of mint quotes.
type QuoteTracker interface {
	// Track starts confirmation polling for a registered quote.
	Track(quote *domain.MintQuote)
	// Resume re-registers pending quotes found in the store at startup.
	Resume(ctx context.Context) error
	// Subscribe returns a stream of quote-state transitions. The returned
	// cancel func must be called to release the subscription.
	Subscribe() (<-chan QuoteEvent, func())
	// Close cancels all polling without leaking timers.
	Close()
}

// IssuanceGuard is the fast-path exactly-once marker for quote issuance.
type IssuanceGuard interface {
	// Acquire atomically claims quoteID. Returns true when this caller is
	// the first; false when issuance was already claimed.
	Acquire(ctx context.Context, quoteID string, ttl time.Duration) (bool, error)
	// Release frees the claim after a failed issuance so it can be retried.
	Release(ctx context.Context, quoteID string) error
}

// IdempotencyCache is the redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Notifier broadcasts operation records to the external messaging layer.
// Delivery is best-effort: failure never affects committed wallet state.
type Notifier interface {
	EnqueueRecord(ctx context.Context, rec domain.OperationRecord) error
}

// EncryptionService handles AES-256-GCM encryption/decryption of proof
// payloads at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing of outbound records.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// HashService handles passphrase hashing (Argon2id).
type HashService interface {
	Hash(passphrase string) (string, error)
	Verify(passphrase string, hash string) (bool, error)
}

// TokenService handles JWT session token operations.
type TokenService interface {
	Generate() (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
}

// AuthService unlocks the wallet with its passphrase.
type AuthService interface {
	Unlock(ctx context.Context, passphrase string) (string, time.Time, error) // token, expiry, error
}
