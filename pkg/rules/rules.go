// Package rules implements the engine's priority-ordered, typed rule
// evaluator. Conditions are a fixed tagged-variant type rather than a
// dynamic expression language: the operator set is closed, and every
// rule is checked against a small, named field namespace so a rule set
// can be statically linted before it ever evaluates a real decision.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Verdict is the outcome a matching rule assigns to a decision.
type Verdict string

const (
	VerdictAllow     Verdict = "allow"
	VerdictMonitor   Verdict = "monitor"
	VerdictChallenge Verdict = "challenge"
	VerdictEscalate  Verdict = "escalate"
	VerdictDeny      Verdict = "deny"
)

// Severity ranks verdicts from least to most restrictive, used by the
// Decision Pipeline's reconcile step.
var severity = map[Verdict]int{
	VerdictAllow:     0,
	VerdictMonitor:   1,
	VerdictChallenge: 2,
	VerdictEscalate:  3,
	VerdictDeny:      4,
}

// Stricter reports whether a is at least as restrictive as b.
func Stricter(a, b Verdict) bool {
	return severity[a] >= severity[b]
}

// Operator is the closed set of comparison operators a Condition may use.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpLt          Operator = "lt"
	OpLe          Operator = "le"
	OpGt          Operator = "gt"
	OpGe          Operator = "ge"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// Value is the closed sum type a Condition's literal and a resolved
// field value are compared as.
type Value struct {
	Number  *float64 `yaml:"number,omitempty" json:"number,omitempty"`
	String  *string  `yaml:"string,omitempty" json:"string,omitempty"`
	Boolean *bool    `yaml:"boolean,omitempty" json:"boolean,omitempty"`
	List    []Value  `yaml:"list,omitempty" json:"list,omitempty"`
}

// NumberValue constructs a numeric Value.
func NumberValue(n float64) Value { return Value{Number: &n} }

// StringValue constructs a string Value.
func StringValue(s string) Value { return Value{String: &s} }

// BoolValue constructs a boolean Value.
func BoolValue(b bool) Value { return Value{Boolean: &b} }

// Condition is one typed clause of a Rule.
type Condition struct {
	FieldPath string   `yaml:"field_path" json:"field_path"`
	Operator  Operator `yaml:"operator" json:"operator"`
	Literal   Value    `yaml:"literal" json:"literal"`
}

// Rule is a single priority-ordered, all-conditions-must-match policy entry.
type Rule struct {
	ID         string      `yaml:"id" json:"id"`
	Priority   int         `yaml:"priority" json:"priority"`
	Conditions []Condition `yaml:"conditions" json:"conditions"`
	Verdict    Verdict     `yaml:"verdict" json:"verdict"`
}

// Engine evaluates an ordered rule set against a resolved field namespace.
type Engine struct {
	rules []Rule
}

// NewEngine sorts rules by descending priority, breaking ties by
// ascending lexicographic ID, and returns an Engine ready to evaluate.
func NewEngine(rules []Rule) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &Engine{rules: sorted}
}

// Fields is the resolved field namespace a Condition's FieldPath indexes
// into: trust_score, user_id, resource_path, action are top-level; any
// other path is looked up under Context or Metadata by its first segment.
type Fields struct {
	TrustScore   float64
	UserID       string
	ResourcePath string
	Action       string
	Context      map[string]any
	Metadata     map[string]string
}

// Result is the outcome of evaluating a rule set: either a matched rule's
// verdict, or VerdictDeny with no rule ID when nothing matched (the
// engine is deny-by-default).
type Result struct {
	RuleID  string
	Matched bool
	Verdict Verdict
}

// Evaluate walks rules in priority order and returns the first full
// match. A panic anywhere in evaluation is recovered and the whole
// evaluation returns an unmatched deny with no rule ID (fail closed),
// never a crash.
func (e *Engine) Evaluate(fields Fields) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Matched: false, Verdict: VerdictDeny}
		}
	}()

	for _, rule := range e.rules {
		if matchesAll(rule.Conditions, fields) {
			return Result{RuleID: rule.ID, Matched: true, Verdict: rule.Verdict}
		}
	}
	return Result{Matched: false, Verdict: VerdictDeny}
}

func matchesAll(conditions []Condition, fields Fields) bool {
	for _, c := range conditions {
		if !matches(c, fields) {
			return false
		}
	}
	return true
}

func matches(c Condition, fields Fields) bool {
	resolved, ok := resolveField(c.FieldPath, fields)
	if !ok {
		// Missing fields never match and never raise — a condition
		// referencing an absent field simply fails closed.
		return false
	}
	return evalOperator(c.Operator, resolved, c.Literal)
}

func resolveField(path string, fields Fields) (Value, bool) {
	switch path {
	case "trust_score":
		return NumberValue(fields.TrustScore), true
	case "user_id":
		return StringValue(fields.UserID), true
	case "resource_path":
		return StringValue(fields.ResourcePath), true
	case "action":
		return StringValue(fields.Action), true
	}

	if rest, found := strings.CutPrefix(path, "context."); found {
		v, ok := fields.Context[rest]
		if !ok {
			return Value{}, false
		}
		return toValue(v), true
	}

	if rest, found := strings.CutPrefix(path, "metadata."); found {
		v, ok := fields.Metadata[rest]
		if !ok {
			return Value{}, false
		}
		return StringValue(v), true
	}

	return Value{}, false
}

func toValue(v any) Value {
	switch t := v.(type) {
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case float64:
		return NumberValue(t)
	case int:
		return NumberValue(float64(t))
	default:
		return Value{}
	}
}

func evalOperator(op Operator, resolved, literal Value) bool {
	switch op {
	case OpEq:
		return valuesEqual(resolved, literal)
	case OpNe:
		return !valuesEqual(resolved, literal)
	case OpLt, OpLe, OpGt, OpGe:
		return compareNumbers(op, resolved, literal)
	case OpContains, OpNotContains:
		return evalContains(op, resolved, literal)
	default:
		return false
	}
}

func valuesEqual(a, b Value) bool {
	switch {
	case a.Number != nil && b.Number != nil:
		return *a.Number == *b.Number
	case a.String != nil && b.String != nil:
		return normalize(*a.String) == normalize(*b.String)
	case a.Boolean != nil && b.Boolean != nil:
		return *a.Boolean == *b.Boolean
	default:
		return false
	}
}

func compareNumbers(op Operator, a, b Value) bool {
	if a.Number == nil || b.Number == nil {
		return false
	}
	x, y := *a.Number, *b.Number
	switch op {
	case OpLt:
		return x < y
	case OpLe:
		return x <= y
	case OpGt:
		return x > y
	case OpGe:
		return x >= y
	default:
		return false
	}
}

func evalContains(op Operator, resolved, literal Value) bool {
	var contains bool
	switch {
	case resolved.String != nil && literal.String != nil:
		contains = strings.Contains(normalize(*resolved.String), normalize(*literal.String))
	case resolved.List != nil:
		for _, item := range resolved.List {
			if valuesEqual(item, literal) {
				contains = true
				break
			}
		}
	}
	if op == OpNotContains {
		return !contains
	}
	return contains
}

// normalize applies Unicode NFC normalization so visually-identical
// strings built from different code point sequences compare equal.
func normalize(s string) string {
	return norm.NFC.String(s)
}

// Diagnostic is a load-time linting finding, never a runtime evaluation
// error — Lint never blocks Evaluate, it only reports on the rule set
// before it goes live.
type Diagnostic struct {
	Severity string // "info" | "warning" | "error"
	RuleID   string
	Message  string
}

// Lint reports duplicate rule IDs, rules shadowed by a higher (or equal,
// earlier) priority catch-all with no conditions, and conditions
// referencing field paths outside the known namespace.
func Lint(ruleSet []Rule) []Diagnostic {
	var diags []Diagnostic

	seen := make(map[string]bool)
	sawCatchAll := false

	sorted := make([]Rule, len(ruleSet))
	copy(sorted, ruleSet)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	for _, r := range sorted {
		if seen[r.ID] {
			diags = append(diags, Diagnostic{Severity: "error", RuleID: r.ID, Message: "duplicate rule ID"})
		}
		seen[r.ID] = true

		if sawCatchAll {
			diags = append(diags, Diagnostic{Severity: "warning", RuleID: r.ID, Message: "unreachable: shadowed by an earlier catch-all rule"})
		}
		if len(r.Conditions) == 0 {
			sawCatchAll = true
		}

		for _, c := range r.Conditions {
			if !knownFieldPath(c.FieldPath) {
				diags = append(diags, Diagnostic{Severity: "warning", RuleID: r.ID, Message: fmt.Sprintf("condition references unknown field path %q", c.FieldPath)})
			}
		}
	}

	return diags
}

func knownFieldPath(path string) bool {
	switch path {
	case "trust_score", "user_id", "resource_path", "action":
		return true
	}
	return strings.HasPrefix(path, "context.") || strings.HasPrefix(path, "metadata.")
}
