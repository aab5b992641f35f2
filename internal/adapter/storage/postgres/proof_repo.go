package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"ecash-wallet/internal/core/domain"
	"ecash-wallet/internal/core/ports"
	"ecash-wallet/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// ProofRepo implements ports.ProofRepository. Proof payloads are encrypted
// at rest; the identity column is a SHA-256 digest of the secret so the
// unique constraint still catches duplicates.
type ProofRepo struct {
	pool Pool
	enc  ports.EncryptionService
}

// NewProofRepo creates a new ProofRepo.
func NewProofRepo(pool Pool, enc ports.EncryptionService) *ProofRepo {
	return &ProofRepo{pool: pool, enc: enc}
}

func secretDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Add inserts proofs within a database transaction. A duplicate identity
// fails the whole batch with ErrDuplicateProof; the transaction rollback
// discards any rows inserted before the collision.
func (r *ProofRepo) Add(ctx context.Context, tx pgx.Tx, proofs domain.Proofs) error {
	query := `INSERT INTO proofs (secret_hash, keyset_id, amount, secret_enc, signature_enc, mint_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	now := time.Now()
	for _, p := range proofs {
		secretEnc, err := r.enc.Encrypt(p.Secret)
		if err != nil {
			return apperror.ErrEncryptionFailure(err)
		}
		signatureEnc, err := r.enc.Encrypt(p.Signature)
		if err != nil {
			return apperror.ErrEncryptionFailure(err)
		}

		_, err = tx.Exec(ctx, query,
			secretDigest(p.Secret), p.KeysetID, p.Amount,
			secretEnc, signatureEnc, p.MintURL, now,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return apperror.ErrDuplicateProof()
			}
			return fmt.Errorf("insert proof: %w", err)
		}
	}
	return nil
}

// Remove deletes proofs by identity within a database transaction. Any
// identity not present fails the whole batch with ErrProofNotFound.
func (r *ProofRepo) Remove(ctx context.Context, tx pgx.Tx, proofs domain.Proofs) error {
	query := `DELETE FROM proofs WHERE secret_hash = ANY($1)`

	digests := make([]string, len(proofs))
	for i, p := range proofs {
		digests[i] = secretDigest(p.Secret)
	}

	tag, err := tx.Exec(ctx, query, digests)
	if err != nil {
		return fmt.Errorf("delete proofs: %w", err)
	}
	if tag.RowsAffected() != int64(len(proofs)) {
		return apperror.ErrProofNotFound()
	}
	return nil
}

// GetAll returns the full unspent proof set, decrypted.
func (r *ProofRepo) GetAll(ctx context.Context) (domain.Proofs, error) {
	query := `SELECT keyset_id, amount, secret_enc, signature_enc, mint_url FROM proofs ORDER BY amount ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	defer rows.Close()

	var proofs domain.Proofs
	for rows.Next() {
		var p domain.Proof
		var secretEnc, signatureEnc string
		if err := rows.Scan(&p.KeysetID, &p.Amount, &secretEnc, &signatureEnc, &p.MintURL); err != nil {
			return nil, fmt.Errorf("scan proof row: %w", err)
		}
		if p.Secret, err = r.enc.Decrypt(secretEnc); err != nil {
			return nil, apperror.ErrEncryptionFailure(err)
		}
		if p.Signature, err = r.enc.Decrypt(signatureEnc); err != nil {
			return nil, apperror.ErrEncryptionFailure(err)
		}
		proofs = append(proofs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proof rows: %w", err)
	}
	return proofs, nil
}

// Balance returns the sum of stored proof amounts.
func (r *ProofRepo) Balance(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM proofs`

	var balance int64
	if err := r.pool.QueryRow(ctx, query).Scan(&balance); err != nil {
		return 0, fmt.Errorf("sum proof amounts: %w", err)
	}
	return balance, nil
}
