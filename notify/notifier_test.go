package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aegis/core"
)

type stubSender struct {
	channel string
	err     error

	mu       sync.Mutex
	attempts int
	sends    []string
}

func (s *stubSender) Channel() string { return s.channel }

func (s *stubSender) Send(ctx context.Context, target, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil {
		return s.err
	}
	s.sends = append(s.sends, target+"|"+subject+"|"+body)
	return nil
}

func (s *stubSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func (s *stubSender) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func testBreakerConfig() core.CircuitBreakerConfig {
	return core.CircuitBreakerConfig{
		MaxFailures:         2,
		Timeout:             5 * time.Millisecond,
		MaxHalfOpenRequests: 1,
	}
}

func TestNotifierDelivers(t *testing.T) {
	slack := &stubSender{channel: "slack"}
	n := NewNotifier(zap.NewNop().Sugar(), testBreakerConfig(), slack)

	err := n.Notify(context.Background(), "slack", "#ops", "latency", "p99 is up")
	require.NoError(t, err)
	require.Equal(t, 1, slack.sendCount())
	assert.Equal(t, "#ops|latency|p99 is up", slack.sends[0])
}

func TestNotifierUnknownChannel(t *testing.T) {
	n := NewNotifier(zap.NewNop().Sugar(), testBreakerConfig())

	err := n.Notify(context.Background(), "carrier-pigeon", "roof", "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestNotifierBreakerOpensAfterFailures(t *testing.T) {
	broken := &stubSender{channel: "email", err: fmt.Errorf("smtp refused")}
	n := NewNotifier(zap.NewNop().Sugar(), testBreakerConfig(), broken)
	ctx := context.Background()

	// Two failures trip the breaker
	assert.Error(t, n.Notify(ctx, "email", "sre@example.com", "", "x"))
	assert.Error(t, n.Notify(ctx, "email", "sre@example.com", "", "x"))

	state, err := n.BreakerState("email")
	require.NoError(t, err)
	assert.Equal(t, core.CircuitBreakerStateOpen, state)

	// Open circuit drops the message without touching the sender
	err = n.Notify(ctx, "email", "sre@example.com", "", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
	assert.Equal(t, 2, broken.attemptCount())
}

func TestNotifierBreakerRecovers(t *testing.T) {
	flaky := &stubSender{channel: "slack", err: fmt.Errorf("gateway timeout")}
	n := NewNotifier(zap.NewNop().Sugar(), testBreakerConfig(), flaky)
	ctx := context.Background()

	assert.Error(t, n.Notify(ctx, "slack", "#ops", "", "x"))
	assert.Error(t, n.Notify(ctx, "slack", "#ops", "", "x"))

	state, err := n.BreakerState("slack")
	require.NoError(t, err)
	require.Equal(t, core.CircuitBreakerStateOpen, state)

	// After the breaker timeout a probe is allowed through; the sender is
	// healthy again so the circuit closes.
	flaky.mu.Lock()
	flaky.err = nil
	flaky.mu.Unlock()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, n.Notify(ctx, "slack", "#ops", "", "recovered"))

	state, err = n.BreakerState("slack")
	require.NoError(t, err)
	assert.Equal(t, core.CircuitBreakerStateClosed, state)
}

func TestNotifierBreakersAreIndependent(t *testing.T) {
	broken := &stubSender{channel: "email", err: fmt.Errorf("smtp refused")}
	healthy := &stubSender{channel: "slack"}
	n := NewNotifier(zap.NewNop().Sugar(), testBreakerConfig(), broken, healthy)
	ctx := context.Background()

	assert.Error(t, n.Notify(ctx, "email", "a", "", "x"))
	assert.Error(t, n.Notify(ctx, "email", "a", "", "x"))

	require.NoError(t, n.Notify(ctx, "slack", "#ops", "", "still fine"))
	assert.Equal(t, 1, healthy.sendCount())
}

func TestNotifierRegisterReplacesSender(t *testing.T) {
	first := &stubSender{channel: "slack", err: fmt.Errorf("bad webhook")}
	n := NewNotifier(zap.NewNop().Sugar(), testBreakerConfig(), first)

	second := &stubSender{channel: "slack"}
	n.Register(second)

	require.NoError(t, n.Notify(context.Background(), "slack", "#ops", "", "hello"))
	assert.Equal(t, 1, second.sendCount())
	assert.ElementsMatch(t, []string{"slack"}, n.Channels())
}
