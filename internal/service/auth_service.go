package service

import (
	"context"
	"fmt"
	"time"

	"ecash-wallet/internal/core/ports"
	"ecash-wallet/pkg/apperror"
)

// AuthServiceImpl implements ports.AuthService. The wallet holds a single
// Argon2id passphrase hash; unlocking yields a session token.
type AuthServiceImpl struct {
	passphraseHash string
	hashSvc        ports.HashService
	tokenSvc       ports.TokenService
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(passphraseHash string, hashSvc ports.HashService, tokenSvc ports.TokenService) *AuthServiceImpl {
	return &AuthServiceImpl{
		passphraseHash: passphraseHash,
		hashSvc:        hashSvc,
		tokenSvc:       tokenSvc,
	}
}

// Unlock verifies the wallet passphrase and returns a session token.
func (s *AuthServiceImpl) Unlock(ctx context.Context, passphrase string) (string, time.Time, error) {
	if s.passphraseHash == "" {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("no passphrase hash configured"))
	}

	valid, err := s.hashSvc.Verify(passphrase, s.passphraseHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify passphrase: %w", err))
	}
	if !valid {
		return "", time.Time{}, apperror.ErrInvalidPassphrase()
	}

	token, expiry, err := s.tokenSvc.Generate()
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate session token: %w", err))
	}

	return token, expiry, nil
}
