package playbook

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"aegis/core"
)

// variablePattern matches {{name}} placeholders in parameter values
var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// conditionOperators in match order. Two-character operators first so that
// ">=" is not parsed as ">" followed by "=".
var conditionOperators = []string{"==", "!=", ">=", "<=", ">", "<"}

// ExecutionContext carries the mutable state of one playbook run: the
// variable map visible to substitution and conditions, the per-step action
// outputs, and a snapshot of the incident being acted on. Safe for
// concurrent use by parallel actions.
type ExecutionContext struct {
	mu          sync.RWMutex
	variables   map[string]interface{}
	stepOutputs map[string]map[string]interface{}
	incident    *core.Incident
}

// NewExecutionContext seeds a context from the playbook's default variables
// and the incident's identifying fields.
func NewExecutionContext(pb *Playbook, inc *core.Incident) *ExecutionContext {
	ctx := &ExecutionContext{
		variables:   make(map[string]interface{}),
		stepOutputs: make(map[string]map[string]interface{}),
		incident:    inc,
	}
	if pb != nil {
		for k, v := range pb.Variables {
			ctx.variables[k] = v
		}
	}
	if inc != nil {
		ctx.variables["incident_id"] = inc.ID
		ctx.variables["incident_title"] = inc.Title
		ctx.variables["incident_severity"] = string(inc.Severity)
		ctx.variables["incident_type"] = string(inc.Type)
		ctx.variables["incident_source"] = inc.Source
		ctx.variables["incident_state"] = string(inc.State)
	}
	return ctx
}

// Incident returns the incident snapshot this run operates on
func (c *ExecutionContext) Incident() *core.Incident {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.incident
}

// SetVariable stores a variable, overwriting any previous value
func (c *ExecutionContext) SetVariable(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// Variable returns a variable value and whether it was set
func (c *ExecutionContext) Variable(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// RecordActionOutput merges an action's output into the variable map under
// "action_<index>.<key>" and remembers it per step for later inspection.
func (c *ExecutionContext) RecordActionOutput(stepID string, actionIndex int, output map[string]interface{}) {
	if len(output) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stepOutputs[stepID] == nil {
		c.stepOutputs[stepID] = make(map[string]interface{})
	}
	for k, v := range output {
		key := fmt.Sprintf("action_%d.%s", actionIndex, k)
		c.variables[key] = v
		c.stepOutputs[stepID][key] = v
	}
}

// StepOutputs returns a copy of the outputs recorded for a step
func (c *ExecutionContext) StepOutputs(stepID string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.stepOutputs[stepID]))
	for k, v := range c.stepOutputs[stepID] {
		out[k] = v
	}
	return out
}

// Substitute replaces every {{name}} placeholder in the input with the
// variable's string form. Names with no binding become the empty string.
func (c *ExecutionContext) Substitute(input string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := c.variables[name]; ok {
			return stringify(v)
		}
		return ""
	})
}

// SubstituteParams applies Substitute to every string found in the
// parameter map, recursing into nested maps and slices. Non-string values
// pass through unchanged.
func (c *ExecutionContext) SubstituteParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = c.substituteValue(v)
	}
	return out
}

func (c *ExecutionContext) substituteValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return c.Substitute(val)
	case map[string]interface{}:
		return c.SubstituteParams(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = c.substituteValue(item)
		}
		return out
	default:
		return v
	}
}

// EvaluateCondition evaluates a step condition of the form
// "operand OP operand" where OP is one of == != >= <= > < and either
// operand may be a $variable reference or a literal. Unset variables
// resolve to the empty string. Returns a *ConditionError for malformed
// expressions.
func (c *ExecutionContext) EvaluateCondition(expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	var op string
	var parts []string
	for _, candidate := range conditionOperators {
		if idx := strings.Index(expr, candidate); idx >= 0 {
			op = candidate
			parts = []string{expr[:idx], expr[idx+len(candidate):]}
			break
		}
	}
	if op == "" {
		return false, &ConditionError{Expression: expr, Reason: "no comparison operator"}
	}

	left := strings.TrimSpace(parts[0])
	right := strings.TrimSpace(parts[1])
	if left == "" || right == "" {
		return false, &ConditionError{Expression: expr, Reason: "missing operand"}
	}
	if strings.ContainsAny(left, "<>=!") || strings.ContainsAny(right, "<>=!") {
		return false, &ConditionError{Expression: expr, Reason: "multiple operators"}
	}

	return compareValues(c.resolveOperand(left), c.resolveOperand(right), op), nil
}

// resolveOperand turns a condition operand into a comparable string.
// "$name" reads the variable map, anything else is a literal. Quotes
// around literals are stripped.
func (c *ExecutionContext) resolveOperand(operand string) string {
	if strings.HasPrefix(operand, "$") {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if v, ok := c.variables[operand[1:]]; ok {
			return stringify(v)
		}
		return ""
	}
	return strings.Trim(operand, `"'`)
}

// compareValues compares numerically when both sides parse as numbers,
// lexicographically otherwise.
func compareValues(left, right, op string) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
		return false
	}

	switch op {
	case "==":
		return left == right
	case "!=":
		return left != right
	case ">":
		return left > right
	case "<":
		return left < right
	case ">=":
		return left >= right
	case "<=":
		return left <= right
	}
	return false
}

func toFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// stringify renders a variable value the way substitution and conditions
// see it. Floats that hold whole numbers print without a decimal point.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}
