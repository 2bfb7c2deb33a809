// Package planner turns user text into a Plan: a response to show the user
// and an ordered list of actions for the orchestrator. Planners are black
// boxes; the rest of the system only sees the Plan shape.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
)

// Planner modes.
const (
	ModeRules = "rules"
	ModeJSON  = "json"
)

// ErrNoJSON is returned by ParsePlan when the text holds no JSON object.
var ErrNoJSON = errors.New("no JSON found in model output")

// Plan is the planner output.
type Plan struct {
	Response    string          `json:"response"`
	Actions     []PlannedAction `json:"actions"`
	Constraints map[string]any  `json:"constraints"`
}

// ErrBadPriority is returned by PlannedAction.Action when the plan carried
// a priority that is not an integer.
var ErrBadPriority = errors.New("invalid priority")

// PlannedAction is one {name, args, priority} tuple. A nil Priority means
// the planner did not set one.
type PlannedAction struct {
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	Priority *int           `json:"priority,omitempty"`

	// badPriority quotes a priority value ParsePlan could not read.
	badPriority string
}

// Action converts p into an orchestrator action, applying defaultPriority
// when p has none.
func (p PlannedAction) Action(defaultPriority int) (action.Action, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return action.Action{}, errors.New("planned action has no name")
	}
	if p.badPriority != "" {
		return action.Action{}, fmt.Errorf("%s: %w %s", name, ErrBadPriority, p.badPriority)
	}
	prio := defaultPriority
	if p.Priority != nil {
		prio = *p.Priority
	}
	return action.New(name, p.Args, prio), nil
}

// Planner produces a plan for user text.
type Planner interface {
	Plan(ctx context.Context, text string) (Plan, error)
}

// New returns the planner for mode. An empty mode means rules.
func New(mode string) (Planner, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeRules:
		return RulesPlanner{}, nil
	case ModeJSON:
		return JSONPlanner{}, nil
	default:
		return nil, fmt.Errorf("unsupported planner mode %q (want %q or %q)", mode, ModeRules, ModeJSON)
	}
}

// JSONPlanner reads the plan straight from the text, as produced by an
// external model.
type JSONPlanner struct{}

// Plan implements Planner.
func (JSONPlanner) Plan(_ context.Context, text string) (Plan, error) {
	return ParsePlan(text)
}

// ParsePlan extracts the outermost JSON object from text and decodes it as
// a Plan. Loosely typed fields (numeric string priorities, missing args)
// are tolerated. A priority that is not an integer is kept on the action
// and reported by Action, so it never silently becomes the default.
func ParsePlan(text string) (Plan, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Plan{}, ErrNoJSON
	}

	var raw struct {
		Response    any              `json:"response"`
		Actions     []map[string]any `json:"actions"`
		Constraints map[string]any   `json:"constraints"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}

	plan := Plan{
		Actions:     make([]PlannedAction, 0, len(raw.Actions)),
		Constraints: raw.Constraints,
	}
	if raw.Response != nil {
		plan.Response = fmt.Sprint(raw.Response)
	}
	if plan.Constraints == nil {
		plan.Constraints = map[string]any{}
	}

	for _, m := range raw.Actions {
		pa := PlannedAction{Args: map[string]any{}}
		if name, ok := m["name"].(string); ok {
			pa.Name = name
		}
		if args, ok := m["args"].(map[string]any); ok {
			pa.Args = args
		}
		if v, set := m["priority"]; set && v != nil {
			if prio, ok := toInt(v); ok {
				pa.Priority = &prio
			} else {
				pa.badPriority = fmt.Sprintf("%q", fmt.Sprint(v))
			}
		}
		plan.Actions = append(plan.Actions, pa)
	}
	return plan, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	case int:
		return n, true
	default:
		return 0, false
	}
}

// Prio is a helper for building planned actions with an explicit priority.
func Prio(p int) *int { return &p }
