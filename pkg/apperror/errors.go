package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// IsIntegrity reports whether the error indicates a ledger logic fault
// (double-processing) rather than a user or environment problem.
func (e *AppError) IsIntegrity() bool {
	return strings.HasPrefix(e.Code, "INT_")
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Wallet Business Logic (WAL) ----

func ErrInvalidAmount() *AppError {
	return New("WAL_001", "Amount must be a positive integer", http.StatusBadRequest)
}

func ErrInsufficientBalance() *AppError {
	return New("WAL_002", "Insufficient wallet balance", http.StatusPaymentRequired)
}

func ErrInvalidToken() *AppError {
	return New("WAL_003", "Token is malformed or empty", http.StatusBadRequest)
}

func ErrInvalidInvoice() *AppError {
	return New("WAL_004", "Invoice is malformed or empty", http.StatusBadRequest)
}

func ErrQuoteNotFound(quoteID string) *AppError {
	return New("WAL_005", fmt.Sprintf("Quote %s not found", quoteID), http.StatusNotFound)
}

func ErrQuoteNotPayable() *AppError {
	return New("WAL_006", "Quote is expired or already issued", http.StatusConflict)
}

// ---- External Mint (MINT) ----

// ErrMintUnavailable covers network failure and request timeout against the
// mint. Safe for the caller to retry; never retried automatically.
func ErrMintUnavailable(err error) *AppError {
	return Wrap("MINT_001", "Mint is unreachable", http.StatusServiceUnavailable, err)
}

// ErrMintRejected covers a reachable mint refusing the request.
func ErrMintRejected(err error) *AppError {
	return Wrap("MINT_002", "Mint rejected the request", http.StatusBadGateway, err)
}

// ---- Ledger Integrity (INT) ----
// Integrity errors indicate double-processing. They are fatal for the
// operation, logged as integrity faults, and never retried automatically.

func ErrDuplicateProof() *AppError {
	return New("INT_001", "Proof already present in store", http.StatusInternalServerError)
}

func ErrProofNotFound() *AppError {
	return New("INT_002", "Proof not present in store", http.StatusInternalServerError)
}

func ErrConservationViolated(want, got int64) *AppError {
	return New("INT_003",
		fmt.Sprintf("Conservation violated: expected %d, got %d", want, got),
		http.StatusInternalServerError)
}

// ---- Authentication (AUTH) ----

func ErrInvalidPassphrase() *AppError {
	return New("AUTH_001", "Invalid passphrase", http.StatusUnauthorized)
}

func ErrInvalidSession() *AppError {
	return New("AUTH_002", "Invalid or expired session token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a WAL_001-style validation error with a custom message.
func Validation(message string) *AppError {
	return New("WAL_001", message, http.StatusBadRequest)
}
