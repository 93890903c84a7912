// Package integrations implements the collaborator interfaces over plain
// HTTP, matching the contract the platform services expose.
package integrations

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPBackend queries the telemetry service and polls its event feed.
type HTTPBackend struct {
	baseURL   string
	eventPoll time.Duration
	client    *http.Client
	logger    *zap.Logger
}

// NewHTTPBackend builds a telemetry backend client.
func NewHTTPBackend(cfg config.IntegrationsConfig, logger *zap.Logger) *HTTPBackend {
	return &HTTPBackend{
		baseURL:   cfg.TelemetryURL,
		eventPoll: cfg.EventPoll,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:    logger.Named("telemetry_backend"),
	}
}

// Query fetches metrics, logs, and events for a window.
func (b *HTTPBackend) Query(ctx context.Context, window schemas.TimeRange, dims schemas.Dimensions) (schemas.RawTelemetry, error) {
	q := url.Values{}
	q.Set("start", window.Start.Format(time.RFC3339Nano))
	q.Set("end", window.End.Format(time.RFC3339Nano))
	if dims.Tenant != "" {
		q.Set("tenant", dims.Tenant)
	}
	if dims.Component != "" {
		q.Set("component", dims.Component)
	}

	var out schemas.RawTelemetry
	if err := b.getJSON(ctx, b.baseURL+"/v1/telemetry?"+q.Encode(), &out); err != nil {
		return schemas.RawTelemetry{}, err
	}
	return out, nil
}

// Events polls the event feed and fans new events into the returned
// channel until ctx is cancelled.
func (b *HTTPBackend) Events(ctx context.Context) (<-chan schemas.Event, error) {
	ch := make(chan schemas.Event)
	go func() {
		defer close(ch)

		since := time.Now().UTC()
		ticker := time.NewTicker(b.eventPoll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			var events []schemas.Event
			u := b.baseURL + "/v1/events?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
			if err := b.getJSON(ctx, u, &events); err != nil {
				b.logger.Warn("Event poll failed", zap.Error(err))
				continue
			}
			for _, ev := range events {
				if ev.Timestamp.After(since) {
					since = ev.Timestamp
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (b *HTTPBackend) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("querying telemetry service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telemetry service returned %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding telemetry response: %w", err)
	}
	return nil
}

// HTTPReloader asks the platform's reload endpoint to swap a component.
type HTTPReloader struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPReloader builds a reload controller client.
func NewHTTPReloader(cfg config.IntegrationsConfig, logger *zap.Logger) *HTTPReloader {
	return &HTTPReloader{
		baseURL: cfg.ReloadURL,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger.Named("reloader"),
	}
}

// Reload blocks until the platform confirms the component swap.
func (r *HTTPReloader) Reload(ctx context.Context, componentID string) error {
	u := r.baseURL + "/v1/components/" + url.PathEscape(componentID) + "/reload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("building reload request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("reloading %s: %w", componentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reload of %s returned %d: %s", componentID, resp.StatusCode, body)
	}
	r.logger.Info("Component reloaded", zap.String("component", componentID))
	return nil
}

// HTTPApprovalGate files an approval request and polls for the decision
// until the caller's context expires.
type HTTPApprovalGate struct {
	baseURL string
	poll    time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPApprovalGate builds an approval gate client.
func NewHTTPApprovalGate(cfg config.IntegrationsConfig, logger *zap.Logger) *HTTPApprovalGate {
	return &HTTPApprovalGate{
		baseURL: cfg.ApprovalURL,
		poll:    cfg.ApprovalPoll,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger.Named("approval_gate"),
	}
}

type approvalStatus struct {
	Decision schemas.ApprovalDecision `json:"decision"`
	Pending  bool                     `json:"pending"`
}

// RequestApproval registers the request and polls until decided or the
// context deadline hits.
func (g *HTTPApprovalGate) RequestApproval(ctx context.Context, deploymentID string) (schemas.ApprovalDecision, error) {
	u := g.baseURL + "/v1/approvals/" + url.PathEscape(deploymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, nil)
	if err != nil {
		return "", fmt.Errorf("building approval request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("filing approval request: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		pollReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return "", fmt.Errorf("building approval poll: %w", err)
		}
		pollResp, err := g.client.Do(pollReq)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			g.logger.Warn("Approval poll failed", zap.Error(err))
			continue
		}

		var status approvalStatus
		decodeErr := json.NewDecoder(pollResp.Body).Decode(&status)
		pollResp.Body.Close()
		if decodeErr != nil {
			g.logger.Warn("Approval poll returned malformed body", zap.Error(decodeErr))
			continue
		}
		if status.Pending {
			continue
		}
		return status.Decision, nil
	}
}

// WebhookAlerter posts alerts to a webhook and mirrors them to the log.
type WebhookAlerter struct {
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewWebhookAlerter builds an alerter. With an empty webhook URL alerts go
// to the log only.
func NewWebhookAlerter(cfg config.IntegrationsConfig, logger *zap.Logger) *WebhookAlerter {
	return &WebhookAlerter{
		webhookURL: cfg.AlertWebhookURL,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger.Named("alerter"),
	}
}

// Alert delivers an operator alert. Delivery failures are logged, never
// propagated; alerting is best effort.
func (a *WebhookAlerter) Alert(ctx context.Context, message string, fields map[string]string) {
	zapFields := make([]zap.Field, 0, len(fields)+1)
	for k, v := range fields {
		zapFields = append(zapFields, zap.String(k, v))
	}
	a.logger.Warn("ALERT: "+message, zapFields...)

	if a.webhookURL == "" {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"message":   message,
		"fields":    fields,
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("Alert webhook delivery failed", zap.Error(err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
