package dto

// UnlockRequest is the request body for unlocking the wallet.
type UnlockRequest struct {
	Passphrase string `json:"passphrase" binding:"required,min=1,max=256"`
}

// UnlockResponse is the response body for a successful unlock.
type UnlockResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// MintRequest is the request body for requesting a mint quote.
type MintRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// MintQuoteResponse is the response body for a mint quote.
type MintQuoteResponse struct {
	QuoteID        string `json:"quote_id"`
	RequestInvoice string `json:"request_invoice"`
	Amount         int64  `json:"amount"`
	State          string `json:"state"`
	ExpiresAt      string `json:"expires_at"`
}

// SendRequest is the request body for sending value out of the wallet.
type SendRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// SendResponse carries the portable token alongside the ledger entry.
type SendResponse struct {
	Token       string              `json:"token"`
	Transaction TransactionResponse `json:"transaction"`
}

// ReceiveRequest is the request body for redeeming a pasted token.
type ReceiveRequest struct {
	Token string `json:"token" binding:"required"`
}

// MeltRequest is the request body for paying a Lightning invoice.
type MeltRequest struct {
	Invoice string `json:"invoice" binding:"required,invoice"`
}

// TransactionResponse is the response body for a ledger entry.
type TransactionResponse struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Amount    int64   `json:"amount"`
	MintURL   string  `json:"mint_url"`
	Token     *string `json:"token,omitempty"`
	Invoice   *string `json:"invoice,omitempty"`
	QuoteID   *string `json:"quote_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	Balance int64  `json:"balance"`
	Unit    string `json:"unit"`
	MintURL string `json:"mint_url"`
}

// StatsResponse is the response for ledger statistics.
type StatsResponse struct {
	TotalTransactions int64 `json:"total_transactions"`
	TotalMinted       int64 `json:"total_minted"`
	TotalSent         int64 `json:"total_sent"`
	TotalReceived     int64 `json:"total_received"`
	TotalMelted       int64 `json:"total_melted"`
}

// TransactionListResponse wraps a paginated ledger page.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}
