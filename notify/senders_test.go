package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSlackSenderPostsWebhook(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &payload)
	}))
	defer srv.Close()

	s := NewSlackSender(srv.URL, srv.Client(), zap.NewNop().Sugar())
	err := s.Send(context.Background(), "#oncall", "Latency alert", "p99 above 2s")
	require.NoError(t, err)
	assert.Equal(t, "#oncall", payload["channel"])
	assert.Equal(t, "*Latency alert*\np99 above 2s", payload["text"])
}

func TestSlackSenderNoSubject(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &payload)
	}))
	defer srv.Close()

	s := NewSlackSender(srv.URL, srv.Client(), zap.NewNop().Sugar())
	require.NoError(t, s.Send(context.Background(), "", "", "plain text"))
	assert.Equal(t, "plain text", payload["text"])
	_, hasChannel := payload["channel"]
	assert.False(t, hasChannel, "empty target uses the webhook default channel")
}

func TestSlackSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSlackSender(srv.URL, srv.Client(), zap.NewNop().Sugar())
	err := s.Send(context.Background(), "", "", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestSlackSenderUnconfigured(t *testing.T) {
	s := NewSlackSender("", nil, zap.NewNop().Sugar())
	assert.Error(t, s.Send(context.Background(), "", "", "x"))
}

func TestPagerDutySenderTriggersEvent(t *testing.T) {
	var event map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &event)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewPagerDutySender("rk-configured", srv.Client(), zap.NewNop().Sugar())
	s.eventsURL = srv.URL

	require.NoError(t, s.Send(context.Background(), "", "DB primary down", "failover in progress"))
	assert.Equal(t, "rk-configured", event["routing_key"])
	assert.Equal(t, "trigger", event["event_action"])
	payload := event["payload"].(map[string]interface{})
	assert.Equal(t, "DB primary down", payload["summary"])

	// Target overrides the configured routing key
	require.NoError(t, s.Send(context.Background(), "rk-override", "", "body only"))
	assert.Equal(t, "rk-override", event["routing_key"])
	payload = event["payload"].(map[string]interface{})
	assert.Equal(t, "body only", payload["summary"], "summary falls back to the body")
}

func TestPagerDutySenderNoRoutingKey(t *testing.T) {
	s := NewPagerDutySender("", nil, zap.NewNop().Sugar())
	assert.Error(t, s.Send(context.Background(), "", "", "x"))
}

func TestEmailSenderRequiresConfig(t *testing.T) {
	logger := zap.NewNop().Sugar()

	unconfigured := NewEmailSender("", 587, "aegis@example.com", "", "", logger)
	assert.Error(t, unconfigured.Send(context.Background(), "sre@example.com", "", "x"))

	noRecipient := NewEmailSender("smtp.example.com", 587, "aegis@example.com", "", "", logger)
	assert.Error(t, noRecipient.Send(context.Background(), "", "", "x"))
}
