package handler

import (
	"io"
	"math"
	"strconv"
	"time"

	"ecash-wallet/internal/adapter/http/dto"
	"ecash-wallet/internal/core/domain"
	"ecash-wallet/internal/core/ports"
	"ecash-wallet/pkg/apperror"
	"ecash-wallet/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet operation and query endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
	tracker   ports.QuoteTracker
	mintURL   string
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService, tracker ports.QuoteTracker, mintURL string) *WalletHandler {
	return &WalletHandler{
		walletSvc: walletSvc,
		tracker:   tracker,
		mintURL:   mintURL,
	}
}

// Mint handles POST /api/v1/wallet/mint. It returns the quote immediately;
// issuance happens asynchronously once the invoice is paid.
func (h *WalletHandler) Mint(c *gin.Context) {
	var req dto.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	quote, err := h.walletSvc.Mint(c.Request.Context(), req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.MintQuoteResponse{
		QuoteID:        quote.QuoteID,
		RequestInvoice: quote.RequestInvoice,
		Amount:         quote.Amount,
		State:          string(quote.State),
		ExpiresAt:      quote.ExpiresAt.Format(time.RFC3339),
	})
}

// Send handles POST /api/v1/wallet/send.
func (h *WalletHandler) Send(c *gin.Context) {
	var req dto.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	token, txn, err := h.walletSvc.Send(c.Request.Context(), req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.SendResponse{
		Token:       token,
		Transaction: toTransactionResponse(txn),
	})
}

// Receive handles POST /api/v1/wallet/receive.
func (h *WalletHandler) Receive(c *gin.Context) {
	var req dto.ReceiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.walletSvc.Receive(c.Request.Context(), req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// Melt handles POST /api/v1/wallet/melt.
func (h *WalletHandler) Melt(c *gin.Context) {
	var req dto.MeltRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.walletSvc.Melt(c.Request.Context(), req.Invoice)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// Balance handles GET /api/v1/wallet/balance.
func (h *WalletHandler) Balance(c *gin.Context) {
	balance, err := h.walletSvc.Balance(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		Balance: balance,
		Unit:    "sat",
		MintURL: h.mintURL,
	})
}

// Transactions handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) Transactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	params := ports.TransactionListParams{
		Page:     page,
		PageSize: pageSize,
	}

	if t := c.Query("type"); t != "" {
		txType := domain.TransactionType(t)
		params.Type = &txType
	}
	if f := c.Query("from"); f != "" {
		if v, err := strconv.ParseInt(f, 10, 64); err == nil {
			params.From = &v
		}
	}
	if t := c.Query("to"); t != "" {
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			params.To = &v
		}
	}

	txns, total, err := h.walletSvc.Transactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResponse(&txns[i]))
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	response.OK(c, dto.TransactionListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// Stats handles GET /api/v1/wallet/stats.
func (h *WalletHandler) Stats(c *gin.Context) {
	stats, err := h.walletSvc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.StatsResponse{
		TotalTransactions: stats.TotalTransactions,
		TotalMinted:       stats.TotalMinted,
		TotalSent:         stats.TotalSent,
		TotalReceived:     stats.TotalReceived,
		TotalMelted:       stats.TotalMelted,
	})
}

// Events handles GET /api/v1/wallet/events, a server-sent event stream of
// quote-state transitions, one subscription per connected client.
func (h *WalletHandler) Events(c *gin.Context) {
	events, cancel := h.tracker.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("quote", evt)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// toTransactionResponse converts domain.Transaction to its DTO.
func toTransactionResponse(txn *domain.Transaction) dto.TransactionResponse {
	return dto.TransactionResponse{
		ID:        txn.ID.String(),
		Type:      string(txn.Type),
		Amount:    txn.Amount,
		MintURL:   txn.MintURL,
		Token:     txn.Token,
		Invoice:   txn.Invoice,
		QuoteID:   txn.QuoteID,
		CreatedAt: txn.CreatedAt.Format(time.RFC3339),
	}
}
