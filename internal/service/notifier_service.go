package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ecash-wallet/internal/core/domain"
	"ecash-wallet/internal/core/ports"

	"github.com/rs/zerolog"
)

// notifierRetryIntervals bounds redelivery of a failed broadcast.
var notifierRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	5 * time.Minute,
}

// notifierPayload is the JSON structure posted to the broadcast endpoint.
type notifierPayload struct {
	Record    domain.OperationRecord `json:"record"`
	Signature string                 `json:"signature"`
}

// notifierService implements ports.Notifier. Delivery is fire-and-forget:
// wallet state is already committed when a record is enqueued, so a failed
// broadcast is logged and dropped, never surfaced to the caller.
type notifierService struct {
	url        string
	secret     string
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	log        zerolog.Logger
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewNotifierService creates a new notifier. An empty url disables
// broadcasting entirely.
func NewNotifierService(url, secret string, sigSvc ports.SignatureService, httpClient HTTPClient, log zerolog.Logger) ports.Notifier {
	return &notifierService{
		url:        url,
		secret:     secret,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		log:        log,
	}
}

// EnqueueRecord signs the record and fires delivery in the background.
func (s *notifierService) EnqueueRecord(ctx context.Context, rec domain.OperationRecord) error {
	if s.url == "" {
		s.log.Debug().Str("type", string(rec.OperationType)).Msg("notifier: no endpoint configured, skipping")
		return nil
	}

	recBytes, err := json.Marshal(rec)
	if err != nil {
		s.log.Error().Err(err).Msg("notifier: failed to marshal record")
		return err
	}

	payload := notifierPayload{
		Record:    rec,
		Signature: s.sigSvc.Sign(s.secret, string(recBytes)),
	}

	go s.deliverWithRetries(payload)

	return nil
}

// deliverWithRetries attempts delivery, backing off between attempts.
func (s *notifierService) deliverWithRetries(payload notifierPayload) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("notifier: failed to marshal payload")
		return
	}

	opType := string(payload.Record.OperationType)
	for attempt := 0; attempt <= len(notifierRetryIntervals); attempt++ {
		if attempt > 0 {
			time.Sleep(notifierRetryIntervals[attempt-1])
		}

		req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(payloadBytes))
		if err != nil {
			s.log.Error().Err(err).Str("type", opType).Msg("notifier: failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			s.log.Warn().Err(err).Str("type", opType).Int("attempt", attempt+1).Msg("notifier: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.log.Info().Str("type", opType).Int("attempt", attempt+1).Msg("notifier: record delivered")
			return
		}

		s.log.Warn().Str("type", opType).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("notifier: non-2xx response, retrying")
	}

	s.log.Error().Str("type", opType).Msg("notifier: all retry attempts exhausted")
}
