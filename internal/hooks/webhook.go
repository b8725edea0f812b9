package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	rserr "github.com/reposage/reposage/internal/errors"
	"github.com/reposage/reposage/internal/models"
)

const (
	signatureHeader = "X-Reposage-Signature-256"
	eventHeader     = "X-Reposage-Event"
	deliveryTimeout = 10 * time.Second
)

// WebhookSender delivers signed events to customer endpoints.
type WebhookSender struct {
	httpClient *http.Client
}

func NewWebhookSender() *WebhookSender {
	return &WebhookSender{
		httpClient: &http.Client{Timeout: deliveryTimeout},
	}
}

// Sign computes the hex HMAC-SHA256 of the body under the endpoint
// secret, in the "sha256=<hex>" form receivers expect.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver posts one event to one endpoint. Server-side failures and
// rate limiting come back as transient errors so the job pipeline
// retries them; other client errors are permanent and the delivery is
// dropped.
func (s *WebhookSender) Deliver(ctx context.Context, endpoint *models.WebhookEndpoint, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, event)
	req.Header.Set(signatureHeader, Sign(endpoint.Secret, body))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return rserr.Transient(err, "webhook delivery failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return rserr.Transient(
			fmt.Errorf("endpoint %s returned %d", endpoint.ID, resp.StatusCode),
			"webhook delivery rejected")
	default:
		return rserr.Permanent(
			fmt.Errorf("endpoint %s returned %d", endpoint.ID, resp.StatusCode),
			"webhook delivery refused")
	}
}
