// Package notify delivers incident notifications through external
// channels. Each channel is wrapped in its own circuit breaker so a
// failing destination cannot stall playbook execution.
package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"aegis/core"
	"aegis/metrics"
)

// Sender delivers a message through one concrete channel
type Sender interface {
	// Channel returns the channel name this sender serves (slack, email, ...)
	Channel() string
	// Send delivers one message. target is channel-specific: a Slack
	// channel, an email recipient, a PagerDuty routing key.
	Send(ctx context.Context, target, subject, body string) error
}

// Notifier routes messages to registered channel senders. It satisfies
// the playbook engine's Notifier interface.
type Notifier struct {
	senders map[string]Sender
	logger  *zap.SugaredLogger

	breakerConfig core.CircuitBreakerConfig
	breakers      map[string]*core.CircuitBreaker
	breakersMu    sync.RWMutex
}

// NewNotifier creates a notifier over the given senders
func NewNotifier(logger *zap.SugaredLogger, breakerConfig core.CircuitBreakerConfig, senders ...Sender) *Notifier {
	n := &Notifier{
		senders:       make(map[string]Sender, len(senders)),
		logger:        logger,
		breakerConfig: breakerConfig,
		breakers:      make(map[string]*core.CircuitBreaker),
	}
	for _, s := range senders {
		n.senders[s.Channel()] = s
	}
	return n
}

// Register adds or replaces the sender for its channel
func (n *Notifier) Register(s Sender) {
	n.senders[s.Channel()] = s
}

// Notify delivers one message through the named channel. Delivery goes
// through the channel's circuit breaker: when the breaker is open the
// message is dropped immediately with an error.
func (n *Notifier) Notify(ctx context.Context, channel, target, subject, body string) error {
	sender, ok := n.senders[channel]
	if !ok {
		return fmt.Errorf("no sender registered for channel %q", channel)
	}

	cb, err := n.breakerFor(channel)
	if err != nil {
		return err
	}

	if err := cb.Allow(); err != nil {
		metrics.NotificationsSent.WithLabelValues(channel, "circuit_open").Inc()
		n.logger.Warnw("Notification dropped, circuit breaker open", "channel", channel)
		return fmt.Errorf("channel %s: %w", channel, err)
	}

	if err := sender.Send(ctx, target, subject, body); err != nil {
		oldState, newState := cb.RecordFailure()
		n.updateBreakerGauge(channel, newState)
		if oldState != newState {
			n.logger.Warnw("Notification circuit breaker state changed",
				"channel", channel, "from", oldState, "to", newState)
		}
		metrics.NotificationsSent.WithLabelValues(channel, "failure").Inc()
		return fmt.Errorf("channel %s: %w", channel, err)
	}

	oldState, newState := cb.RecordSuccess()
	n.updateBreakerGauge(channel, newState)
	if oldState != newState {
		n.logger.Infow("Notification circuit breaker recovered",
			"channel", channel, "from", oldState, "to", newState)
	}
	metrics.NotificationsSent.WithLabelValues(channel, "success").Inc()
	return nil
}

// Channels returns the registered channel names
func (n *Notifier) Channels() []string {
	out := make([]string, 0, len(n.senders))
	for ch := range n.senders {
		out = append(out, ch)
	}
	return out
}

// BreakerState returns the circuit breaker state for a channel, creating
// the breaker if it does not exist yet.
func (n *Notifier) BreakerState(channel string) (core.CircuitBreakerState, error) {
	cb, err := n.breakerFor(channel)
	if err != nil {
		return "", err
	}
	return cb.State(), nil
}

// breakerFor returns the channel's breaker, creating it lazily with
// double-checked locking.
func (n *Notifier) breakerFor(channel string) (*core.CircuitBreaker, error) {
	n.breakersMu.RLock()
	cb, ok := n.breakers[channel]
	n.breakersMu.RUnlock()
	if ok {
		return cb, nil
	}

	n.breakersMu.Lock()
	defer n.breakersMu.Unlock()
	if cb, ok := n.breakers[channel]; ok {
		return cb, nil
	}
	cb, err := core.NewCircuitBreaker(n.breakerConfig)
	if err != nil {
		return nil, fmt.Errorf("creating circuit breaker for channel %s: %w", channel, err)
	}
	n.breakers[channel] = cb
	return cb, nil
}

func (n *Notifier) updateBreakerGauge(channel string, state core.CircuitBreakerState) {
	var v float64
	switch state {
	case core.CircuitBreakerStateHalfOpen:
		v = 1
	case core.CircuitBreakerStateOpen:
		v = 2
	}
	metrics.NotifyCircuitBreakerState.WithLabelValues(channel).Set(v)
}
