package playbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"aegis/core"
)

// maxResponseBodySize bounds how much of an HTTP response is captured into
// action output.
const maxResponseBodySize = 64 * 1024

// Handler executes one type of playbook action. Implementations report
// domain failures through the returned error; the registry converts every
// error into a failed ActionResult so faults never escape the engine.
type Handler interface {
	// Type returns the action type string this handler serves
	Type() string
	// Name returns a human-readable handler name for logging
	Name() string
	// Execute runs the action with fully substituted parameters and
	// returns output values to merge into the execution context.
	Execute(ctx context.Context, ec *ExecutionContext, params map[string]interface{}) (map[string]interface{}, error)
}

// Notifier delivers a message through a named notification channel.
// Implemented by the notify package.
type Notifier interface {
	Notify(ctx context.Context, channel, target, subject, body string) error
}

// IncidentStore is the slice of incident storage the state-mutating
// actions need.
type IncidentStore interface {
	GetIncident(ctx context.Context, id string) (*core.Incident, error)
	UpdateIncident(ctx context.Context, inc *core.Incident) error
}

// Registry maps action types to handlers and dispatches action execution
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.SugaredLogger
}

// NewRegistry creates an empty action registry
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a handler, replacing any previous handler for its type
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Handler returns the handler for an action type, if registered
func (r *Registry) Handler(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

// Types returns the registered action types
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Execute substitutes the action's parameters against the context,
// dispatches to the registered handler, and returns the outcome as an
// ActionResult. Unknown action types and handler errors become failed
// results, never engine faults.
func (r *Registry) Execute(ctx context.Context, ec *ExecutionContext, action Action) ActionResult {
	start := time.Now()
	result := ActionResult{ActionType: action.Type}

	h, ok := r.Handler(action.Type)
	if !ok {
		result.Error = fmt.Sprintf("%v: %s", ErrUnknownActionType, action.Type)
		result.Duration = time.Since(start)
		r.logger.Warnw("Action dispatch failed", "action_type", action.Type, "error", result.Error)
		return result
	}

	params := ec.SubstituteParams(action.Parameters)
	output, err := h.Execute(ctx, ec, params)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = (&ActionError{ActionType: action.Type, Err: err}).Error()
		r.logger.Warnw("Action failed",
			"action_type", action.Type,
			"handler", h.Name(),
			"duration", result.Duration,
			"error", err)
		return result
	}

	result.Success = true
	result.Output = output
	return result
}

// NewDefaultRegistry builds a registry with every built-in handler wired.
// httpClient may be nil, in which case a 30 second client is used.
func NewDefaultRegistry(logger *zap.SugaredLogger, notifier Notifier, incidents IncidentStore, httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	r := NewRegistry(logger)
	r.Register(NewNotifyAction(ActionTypeSlack, "slack", notifier, logger))
	r.Register(NewNotifyAction(ActionTypeEmail, "email", notifier, logger))
	r.Register(NewNotifyAction(ActionTypePagerDuty, "pagerduty", notifier, logger))
	r.Register(NewHTTPAction(ActionTypeWebhook, httpClient, logger))
	r.Register(NewHTTPAction(ActionTypeHTTPRequest, httpClient, logger))
	r.Register(NewWaitAction(logger))
	r.Register(NewResolveIncidentAction(incidents, logger))
	r.Register(NewSeverityAction(ActionTypeIncreaseSeverity, incidents, logger))
	r.Register(NewSeverityAction(ActionTypeDecreaseSeverity, incidents, logger))
	return r
}

// NotifyAction sends a message through one notification channel
type NotifyAction struct {
	actionType string
	channel    string
	notifier   Notifier
	logger     *zap.SugaredLogger
}

// NewNotifyAction creates a notification action for the given channel
func NewNotifyAction(actionType, channel string, notifier Notifier, logger *zap.SugaredLogger) *NotifyAction {
	return &NotifyAction{actionType: actionType, channel: channel, notifier: notifier, logger: logger}
}

func (a *NotifyAction) Type() string { return a.actionType }
func (a *NotifyAction) Name() string { return a.channel + " notification" }

func (a *NotifyAction) Execute(ctx context.Context, ec *ExecutionContext, params map[string]interface{}) (map[string]interface{}, error) {
	if a.notifier == nil {
		return nil, fmt.Errorf("no notifier configured")
	}

	target := stringParam(params, "target")
	if target == "" {
		// Channel-specific aliases accepted for convenience
		target = stringParam(params, "channel")
	}
	if target == "" {
		target = stringParam(params, "to")
	}
	message := stringParam(params, "message")
	if message == "" {
		return nil, fmt.Errorf("missing required parameter %q", "message")
	}
	subject := stringParam(params, "subject")

	if err := a.notifier.Notify(ctx, a.channel, target, subject, message); err != nil {
		return nil, fmt.Errorf("delivery failed: %w", err)
	}

	a.logger.Infow("Notification sent", "channel", a.channel, "target", target)
	return map[string]interface{}{
		"channel": a.channel,
		"target":  target,
	}, nil
}

// HTTPAction performs an outbound HTTP call. The webhook variant defaults
// to POST with a JSON body; http_request takes the method from parameters.
type HTTPAction struct {
	actionType string
	client     *http.Client
	logger     *zap.SugaredLogger
}

// NewHTTPAction creates a webhook or generic HTTP request action
func NewHTTPAction(actionType string, client *http.Client, logger *zap.SugaredLogger) *HTTPAction {
	return &HTTPAction{actionType: actionType, client: client, logger: logger}
}

func (a *HTTPAction) Type() string { return a.actionType }
func (a *HTTPAction) Name() string { return "http call" }

func (a *HTTPAction) Execute(ctx context.Context, ec *ExecutionContext, params map[string]interface{}) (map[string]interface{}, error) {
	url := stringParam(params, "url")
	if url == "" {
		return nil, fmt.Errorf("missing required parameter %q", "url")
	}

	method := strings.ToUpper(stringParam(params, "method"))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if rawBody, ok := params["body"]; ok && rawBody != nil {
		switch b := rawBody.(type) {
		case string:
			body = strings.NewReader(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("cannot encode request body: %w", err)
			}
			body = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("cannot build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, stringify(v))
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	a.logger.Debugw("HTTP action completed", "method", method, "url", url, "status", resp.StatusCode)
	return map[string]interface{}{
		"status_code":   resp.StatusCode,
		"response_body": string(respBody),
	}, nil
}

// WaitAction pauses the step for a configured duration. Accepts either a
// "duration" string ("30s", "500ms") or a numeric "seconds" parameter.
type WaitAction struct {
	logger *zap.SugaredLogger
}

// NewWaitAction creates a wait action
func NewWaitAction(logger *zap.SugaredLogger) *WaitAction {
	return &WaitAction{logger: logger}
}

func (a *WaitAction) Type() string { return ActionTypeWait }
func (a *WaitAction) Name() string { return "wait" }

func (a *WaitAction) Execute(ctx context.Context, ec *ExecutionContext, params map[string]interface{}) (map[string]interface{}, error) {
	d, err := waitDuration(params)
	if err != nil {
		return nil, err
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return map[string]interface{}{"waited": d.String()}, nil
}

func waitDuration(params map[string]interface{}) (time.Duration, error) {
	if raw, ok := params["duration"]; ok {
		s := stringify(raw)
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if d < 0 {
			return 0, fmt.Errorf("duration must not be negative")
		}
		return d, nil
	}
	if raw, ok := params["seconds"]; ok {
		f, fOK := toFloat(stringify(raw))
		if !fOK || f < 0 {
			return 0, fmt.Errorf("invalid seconds value %v", raw)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("missing required parameter %q or %q", "duration", "seconds")
}

// ResolveIncidentAction marks the context's incident as resolved
type ResolveIncidentAction struct {
	incidents IncidentStore
	logger    *zap.SugaredLogger
}

// NewResolveIncidentAction creates a resolve_incident action
func NewResolveIncidentAction(incidents IncidentStore, logger *zap.SugaredLogger) *ResolveIncidentAction {
	return &ResolveIncidentAction{incidents: incidents, logger: logger}
}

func (a *ResolveIncidentAction) Type() string { return ActionTypeResolveIncident }
func (a *ResolveIncidentAction) Name() string { return "resolve incident" }

func (a *ResolveIncidentAction) Execute(ctx context.Context, ec *ExecutionContext, params map[string]interface{}) (map[string]interface{}, error) {
	if a.incidents == nil {
		return nil, fmt.Errorf("no incident store configured")
	}
	snapshot := ec.Incident()
	if snapshot == nil {
		return nil, fmt.Errorf("execution has no incident")
	}

	inc, err := a.incidents.GetIncident(ctx, snapshot.ID)
	if err != nil {
		return nil, fmt.Errorf("cannot load incident %s: %w", snapshot.ID, err)
	}

	resolvedBy := stringParam(params, "resolved_by")
	if resolvedBy == "" {
		resolvedBy = "playbook-automation"
	}
	if err := inc.Resolve(resolvedBy, "playbook", stringParam(params, "root_cause"), stringParam(params, "notes")); err != nil {
		return nil, err
	}
	if err := a.incidents.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("cannot persist incident %s: %w", inc.ID, err)
	}

	ec.SetVariable("incident_state", string(inc.State))
	a.logger.Infow("Incident resolved by playbook", "incident_id", inc.ID, "resolved_by", resolvedBy)
	return map[string]interface{}{"resolved": true, "incident_id": inc.ID}, nil
}

// SeverityAction raises or lowers the incident's severity by one level,
// clamped at P0 and P4.
type SeverityAction struct {
	actionType string
	incidents  IncidentStore
	logger     *zap.SugaredLogger
}

// NewSeverityAction creates an increase_severity or decrease_severity action
func NewSeverityAction(actionType string, incidents IncidentStore, logger *zap.SugaredLogger) *SeverityAction {
	return &SeverityAction{actionType: actionType, incidents: incidents, logger: logger}
}

func (a *SeverityAction) Type() string { return a.actionType }
func (a *SeverityAction) Name() string { return "severity change" }

func (a *SeverityAction) Execute(ctx context.Context, ec *ExecutionContext, params map[string]interface{}) (map[string]interface{}, error) {
	if a.incidents == nil {
		return nil, fmt.Errorf("no incident store configured")
	}
	snapshot := ec.Incident()
	if snapshot == nil {
		return nil, fmt.Errorf("execution has no incident")
	}

	inc, err := a.incidents.GetIncident(ctx, snapshot.ID)
	if err != nil {
		return nil, fmt.Errorf("cannot load incident %s: %w", snapshot.ID, err)
	}

	old := inc.Severity
	var next core.Severity
	if a.actionType == ActionTypeIncreaseSeverity {
		next = old.Increase()
	} else {
		next = old.Decrease()
	}
	inc.SetSeverity(next, "playbook-automation")
	if err := a.incidents.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("cannot persist incident %s: %w", inc.ID, err)
	}

	ec.SetVariable("incident_severity", string(next))
	a.logger.Infow("Incident severity changed by playbook",
		"incident_id", inc.ID, "from", old, "to", next)
	return map[string]interface{}{
		"previous_severity": string(old),
		"severity":          string(next),
	}, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key]; ok && v != nil {
		return stringify(v)
	}
	return ""
}
