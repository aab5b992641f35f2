package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ecash-wallet/config"
	"ecash-wallet/internal/core/domain"
	"ecash-wallet/pkg/apperror"

	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the external mint over its REST API. It implements
// ports.MintClient. Every request is bounded by the configured timeout;
// transport failures map to MINT_001 and refusals to MINT_002.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	timeout    time.Duration
	log        zerolog.Logger
}

// NewClient creates a mint client from config.
func NewClient(cfg config.MintConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		baseURL:    cfg.URL,
		httpClient: httpClient,
		timeout:    cfg.RequestTimeout,
		log:        log,
	}
}

// BaseURL returns the mint endpoint this client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type mintQuoteRequest struct {
	Amount int64  `json:"amount"`
	Unit   string `json:"unit"`
}

type mintQuoteResponse struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   string `json:"state"`
}

type mintRequest struct {
	Quote  string `json:"quote"`
	Amount int64  `json:"amount"`
}

type mintResponse struct {
	Proofs domain.Proofs `json:"proofs"`
}

type swapRequest struct {
	Inputs     domain.Proofs `json:"inputs"`
	SendAmount int64         `json:"send_amount"`
}

type swapResponse struct {
	Send domain.Proofs `json:"send"`
	Keep domain.Proofs `json:"keep"`
}

type meltQuoteRequest struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type meltQuoteResponse struct {
	Quote      string `json:"quote"`
	Amount     int64  `json:"amount"`
	FeeReserve int64  `json:"fee_reserve"`
}

type meltRequest struct {
	Quote  string        `json:"quote"`
	Inputs domain.Proofs `json:"inputs"`
}

type meltResponse struct {
	State  string        `json:"state"`
	Change domain.Proofs `json:"change"`
}

type mintErrorResponse struct {
	Detail string `json:"detail"`
}

// CreateMintQuote asks the mint for a Lightning invoice covering amount.
func (c *Client) CreateMintQuote(ctx context.Context, amount int64) (*domain.MintQuote, error) {
	var out mintQuoteResponse
	err := c.post(ctx, "/v1/mint/quote/bolt11", mintQuoteRequest{Amount: amount, Unit: "sat"}, &out)
	if err != nil {
		return nil, err
	}
	return &domain.MintQuote{
		QuoteID:        out.Quote,
		RequestInvoice: out.Request,
		Amount:         amount,
		State:          domain.QuoteStateUnpaid,
	}, nil
}

// CheckMintQuote fetches the mint-side payment state of a quote.
func (c *Client) CheckMintQuote(ctx context.Context, quoteID string) (domain.QuoteState, error) {
	var out mintQuoteResponse
	err := c.get(ctx, "/v1/mint/quote/bolt11/"+quoteID, &out)
	if err != nil {
		return "", err
	}
	return domain.QuoteState(out.State), nil
}

// MintProofs exchanges a paid quote for freshly signed proofs.
func (c *Client) MintProofs(ctx context.Context, quoteID string, amount int64) (domain.Proofs, error) {
	var out mintResponse
	err := c.post(ctx, "/v1/mint/bolt11", mintRequest{Quote: quoteID, Amount: amount}, &out)
	if err != nil {
		return nil, err
	}
	return out.Proofs, nil
}

// Swap exchanges inputs for a set summing exactly to amount plus a
// remainder set. The caller asserts conservation on the result.
func (c *Client) Swap(ctx context.Context, inputs domain.Proofs, amount int64) (domain.Proofs, domain.Proofs, error) {
	var out swapResponse
	err := c.post(ctx, "/v1/swap", swapRequest{Inputs: inputs, SendAmount: amount}, &out)
	if err != nil {
		return nil, nil, err
	}
	return out.Send, out.Keep, nil
}

// Redeem swaps a received token's proofs for fresh proofs bound to this
// wallet, invalidating the originals at the mint.
func (c *Client) Redeem(ctx context.Context, token *domain.Token) (domain.Proofs, error) {
	inputs := token.Proofs
	var out swapResponse
	err := c.post(ctx, "/v1/swap", swapRequest{Inputs: inputs, SendAmount: inputs.Sum()}, &out)
	if err != nil {
		return nil, err
	}
	return out.Send, nil
}

// CreateMeltQuote asks the mint to price paying an invoice.
func (c *Client) CreateMeltQuote(ctx context.Context, invoice string) (*domain.MeltQuote, error) {
	var out meltQuoteResponse
	err := c.post(ctx, "/v1/melt/quote/bolt11", meltQuoteRequest{Request: invoice, Unit: "sat"}, &out)
	if err != nil {
		return nil, err
	}
	return &domain.MeltQuote{
		QuoteID:    out.Quote,
		Invoice:    invoice,
		Amount:     out.Amount,
		FeeReserve: out.FeeReserve,
	}, nil
}

// Melt submits inputs to pay the quoted invoice, returning any change from
// the unused fee reserve.
func (c *Client) Melt(ctx context.Context, quote *domain.MeltQuote, inputs domain.Proofs) (domain.Proofs, error) {
	var out meltResponse
	err := c.post(ctx, "/v1/melt/bolt11", meltRequest{Quote: quote.QuoteID, Inputs: inputs}, &out)
	if err != nil {
		return nil, err
	}
	if out.State != "PAID" {
		return nil, apperror.ErrMintRejected(fmt.Errorf("melt state %q", out.State))
	}
	return out.Change, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("marshal mint request: %w", err))
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("build mint request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("mint: request failed")
		return apperror.ErrMintUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperror.ErrMintUnavailable(fmt.Errorf("mint returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		var mintErr mintErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&mintErr); decodeErr == nil && mintErr.Detail != "" {
			return apperror.ErrMintRejected(fmt.Errorf("mint returned status %d: %s", resp.StatusCode, mintErr.Detail))
		}
		return apperror.ErrMintRejected(fmt.Errorf("mint returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.ErrMintRejected(fmt.Errorf("decode mint response: %w", err))
	}
	return nil
}
