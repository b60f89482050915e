package external

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bizpulse/internal/config"
	"bizpulse/internal/types"
)

// OpsAlertClient delivers reconciliation alerts to the operations webhook.
// Payloads are signed so the receiving side can authenticate them, using
// the same timestamped HMAC scheme the payment provider uses inbound:
//
//	X-BizPulse-Signature: t=<unix>,v1=<hmac-sha256 hex of "{t}.{body}">
type OpsAlertClient struct {
	base   *BaseClient
	url    string
	secret string
	logger *slog.Logger

	now func() time.Time
}

// NewOpsAlertClient creates an alert client from the alerts configuration.
func NewOpsAlertClient(httpClient *http.Client, cfg config.AlertsConfig, logger *slog.Logger) *OpsAlertClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsAlertClient{
		base:   NewBaseClient(httpClient, "ops-alerts", DefaultRetryPolicy(), cfg.UserAgent),
		url:    cfg.URL,
		secret: cfg.Secret.Unmask(),
		logger: logger,
		now:    time.Now,
	}
}

// SendReconciliationAlert posts a signed alert. Failures are returned so the
// caller can log them; alert delivery never changes an event's outcome.
func (c *OpsAlertClient) SendReconciliationAlert(ctx context.Context, alert types.ReconciliationAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal alert payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build alert request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BizPulse-Signature", SignAlertPayload(body, c.secret, c.now()))

	resp, err := c.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamAlerts, "alert delivery failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewAppError(
			types.ErrCodeUpstreamAlerts,
			fmt.Sprintf("alert endpoint returned %d", resp.StatusCode),
			nil,
		)
	}

	c.logger.InfoContext(ctx, "reconciliation alert delivered",
		slog.String("event_id", alert.EventID),
		slog.String("reason", alert.Reason),
	)
	return nil
}

// SignAlertPayload computes the outbound signature header value for a
// payload at the given time. Exported so alert receivers in tests can
// verify with the same code.
func SignAlertPayload(payload []byte, secret string, now time.Time) string {
	ts := now.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// VerifyAlertSignature checks a payload against a signature header value.
func VerifyAlertSignature(payload []byte, header string, secret string) bool {
	var ts int64
	var v1 string
	if _, err := fmt.Sscanf(header, "t=%d,v1=%s", &ts, &v1); err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(v1), []byte(expected))
}

// NoopAlertNotifier drops alerts, logging them at warn level. Used when no
// alert webhook is configured; the audit log still records the rejection.
type NoopAlertNotifier struct {
	Logger *slog.Logger
}

// SendReconciliationAlert logs the alert and returns nil.
func (n *NoopAlertNotifier) SendReconciliationAlert(ctx context.Context, alert types.ReconciliationAlert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "reconciliation alert (no webhook configured)",
		slog.String("event_id", alert.EventID),
		slog.String("event_type", alert.EventType),
		slog.String("tenant_id", alert.TenantID),
		slog.String("reason", alert.Reason),
		slog.String("detail", alert.Detail),
	)
	return nil
}
