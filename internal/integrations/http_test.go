package integrations

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
)

func integrationsConfig(baseURL string) config.IntegrationsConfig {
	return config.IntegrationsConfig{
		TelemetryURL:    baseURL,
		ReloadURL:       baseURL,
		ApprovalURL:     baseURL,
		AlertWebhookURL: baseURL + "/alerts",
		EventPoll:       10 * time.Millisecond,
		ApprovalPoll:    10 * time.Millisecond,
		RequestTimeout:  2 * time.Second,
	}
}

func TestHTTPBackend_QueryPassesWindowAndDimensions(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Encode())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"metrics":[{"name":"latency_ms","component":"checkout","points":[{"t":"2026-08-29T10:00:00Z","value":42}]}]}`))
	}))
	defer srv.Close()

	b := NewHTTPBackend(integrationsConfig(srv.URL), zaptest.NewLogger(t))
	window := schemas.TimeRange{
		Start: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
	}

	raw, err := b.Query(context.Background(), window, schemas.Dimensions{Tenant: "acme", Component: "checkout"})
	require.NoError(t, err)
	require.Len(t, raw.Metrics, 1)
	assert.Equal(t, "latency_ms", raw.Metrics[0].Name)
	assert.Equal(t, 42.0, raw.Metrics[0].Points[0].Value)

	q := gotQuery.Load().(string)
	assert.Contains(t, q, "tenant=acme")
	assert.Contains(t, q, "component=checkout")
	assert.Contains(t, q, "start=")
}

func TestHTTPBackend_QueryErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewHTTPBackend(integrationsConfig(srv.URL), zaptest.NewLogger(t))
	_, err := b.Query(context.Background(), schemas.TimeRange{}, schemas.Dimensions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPBackend_EventsDeliversNewEvents(t *testing.T) {
	var served atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if served.Swap(true) {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		ts := time.Now().UTC().Add(time.Minute).Format(time.RFC3339Nano)
		_, _ = w.Write([]byte(`[{"type":"CRITICAL_ALARM","source":"checkout","timestamp":"` + ts + `"}]`))
	}))
	defer srv.Close()

	b := NewHTTPBackend(integrationsConfig(srv.URL), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Events(ctx)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, schemas.EventTypeCriticalAlarm, ev.Type)
		assert.Equal(t, "checkout", ev.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an event from the poll loop")
	}

	cancel()
	// The channel must close once the context is cancelled.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPReloader_ReloadStatusHandling(t *testing.T) {
	var gotPath atomic.Value
	status := atomic.Int32{}
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	rl := NewHTTPReloader(integrationsConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, rl.Reload(context.Background(), "checkout"))
	assert.Equal(t, "/v1/components/checkout/reload", gotPath.Load().(string))

	status.Store(http.StatusInternalServerError)
	err := rl.Reload(context.Background(), "checkout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPApprovalGate_ReturnsDecisionAfterPending(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPut {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"pending":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"decision":"granted","pending":false}`))
	}))
	defer srv.Close()

	g := NewHTTPApprovalGate(integrationsConfig(srv.URL), zaptest.NewLogger(t))
	decision, err := g.RequestApproval(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.ApprovalGranted, decision)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestHTTPApprovalGate_ContextDeadlinePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pending":true}`))
	}))
	defer srv.Close()

	g := NewHTTPApprovalGate(integrationsConfig(srv.URL), zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.RequestApproval(ctx, "dep-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebhookAlerter_PostsPayload(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
	}))
	defer srv.Close()

	cfg := integrationsConfig(srv.URL)
	cfg.AlertWebhookURL = srv.URL + "/alerts"
	a := NewWebhookAlerter(cfg, zaptest.NewLogger(t))
	a.Alert(context.Background(), "cycles failing", map[string]string{"consecutive_failures": "3"})

	select {
	case body := <-received:
		assert.Contains(t, string(body), "cycles failing")
		assert.Contains(t, string(body), "consecutive_failures")
	case <-time.After(time.Second):
		t.Fatal("webhook never received the alert")
	}
}

func TestWebhookAlerter_NoWebhookIsLogOnly(t *testing.T) {
	cfg := integrationsConfig("http://unused")
	cfg.AlertWebhookURL = ""
	a := NewWebhookAlerter(cfg, zaptest.NewLogger(t))
	// Must not panic or attempt network I/O.
	a.Alert(context.Background(), "test", nil)
}
