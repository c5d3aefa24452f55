package billing

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// WebhookConfig configures the webhook handler
type WebhookConfig struct {
	Secret string
	// Tolerance bounds the age of a signature. Zero means 5m.
	Tolerance time.Duration
	Now       func() time.Time
}

// WebhookHandler verifies and processes billing webhooks
type WebhookHandler struct {
	processor *Processor
	cfg       WebhookConfig
}

// NewWebhookHandler creates the handler
func NewWebhookHandler(processor *Processor, cfg WebhookConfig) *WebhookHandler {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &WebhookHandler{processor: processor, cfg: cfg}
}

// ServeHTTP implements http.Handler. Replays answer 200 with applied=false;
// storage failures answer 503 so that the provider retries.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "unreadable body")
		return
	}

	err = VerifySignature(payload, r.Header.Get(SignatureHeader), h.cfg.Secret, h.cfg.Tolerance, h.cfg.Now())
	if err != nil {
		logger.WithError(err).Warn("billing webhook rejected")
		httputil.WriteUnauthorized(w, "invalid signature")
		return
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		httputil.WriteBadRequest(w, "invalid event payload")
		return
	}

	outcome, err := h.processor.Process(r.Context(), event)
	if err != nil {
		logger.WithError(err).WithField("event_id", event.ID).Error("billing event failed")
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, outcome)
}

