// Package rules evaluates validation and authorization rules for business objects.
package rules

import (
	"fmt"
	"slices"

	"entityportal/pkg/domain"
)

// Args carries the registration parameters handed to a rule on each check.
// A rule may overwrite Description to explain a failure.
type Args struct {
	Field       string
	Description string
	Severity    domain.Severity
	Params      map[string]any
}

// Param returns a registration parameter.
func (a *Args) Param(key string) (any, bool) {
	v, ok := a.Params[key]
	return v, ok
}

// Handler checks target and reports whether the rule holds.
type Handler func(target any, args *Args) bool

// Rule defines a validation evaluated for a field.
type Rule interface {
	Name() string
	Check(target any, args *Args) bool
}

type handlerRule struct {
	name string
	fn   Handler
}

func (r handlerRule) Name() string                      { return r.name }
func (r handlerRule) Check(target any, args *Args) bool { return r.fn(target, args) }

// NewRule adapts a handler function into a Rule.
func NewRule(name string, fn Handler) Rule {
	return handlerRule{name: name, fn: fn}
}

// Option configures a rule registration.
type Option func(*binding)

// WithSeverity overrides the default blocking severity.
func WithSeverity(s domain.Severity) Option {
	return func(b *binding) { b.severity = s }
}

// WithDescription sets the description reported when the rule is broken.
func WithDescription(d string) Option {
	return func(b *binding) { b.description = d }
}

// WithParam attaches a parameter visible to the rule through Args.
func WithParam(key string, value any) Option {
	return func(b *binding) {
		if b.params == nil {
			b.params = make(map[string]any)
		}
		b.params[key] = value
	}
}

type binding struct {
	rule        Rule
	severity    domain.Severity
	description string
	params      map[string]any
}

// ValidationRules holds the rules registered per field and the rules that
// are currently broken for one object.
type ValidationRules struct {
	byField map[string][]*binding
	fields  []string
	broken  domain.BrokenRules
}

// NewValidationRules constructs an empty rule set.
func NewValidationRules() *ValidationRules {
	return &ValidationRules{byField: make(map[string][]*binding)}
}

// Add registers rule for field.
func (v *ValidationRules) Add(field string, rule Rule, opts ...Option) {
	b := &binding{rule: rule, severity: domain.SeverityBlock}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if _, ok := v.byField[field]; !ok {
		v.fields = append(v.fields, field)
	}
	v.byField[field] = append(v.byField[field], b)
}

// AddHandler registers a handler function for field.
func (v *ValidationRules) AddHandler(field, name string, fn Handler, opts ...Option) {
	v.Add(field, NewRule(name, fn), opts...)
}

// Fields lists fields with registered rules in registration order.
func (v *ValidationRules) Fields() []string {
	return append([]string(nil), v.fields...)
}

// Check re-evaluates every rule registered for field against target and
// returns the rules now broken for that field.
func (v *ValidationRules) Check(target any, field string) domain.BrokenRules {
	v.broken = slices.DeleteFunc(v.broken, func(r domain.BrokenRule) bool { return r.Field == field })
	var out domain.BrokenRules
	for _, b := range v.byField[field] {
		args := &Args{Field: field, Description: b.description, Severity: b.severity, Params: b.params}
		if b.rule.Check(target, args) {
			continue
		}
		desc := args.Description
		if desc == "" {
			desc = fmt.Sprintf("%s: rule %s failed", field, b.rule.Name())
		}
		out = append(out, domain.BrokenRule{
			Rule:        b.rule.Name(),
			Field:       field,
			Description: desc,
			Severity:    args.Severity,
		})
	}
	v.broken = append(v.broken, out...)
	return out
}

// CheckAll re-evaluates every registered rule.
func (v *ValidationRules) CheckAll(target any) domain.BrokenRules {
	for _, f := range v.fields {
		v.Check(target, f)
	}
	return v.Broken()
}

// Broken returns a copy of the currently broken rules.
func (v *ValidationRules) Broken() domain.BrokenRules {
	return append(domain.BrokenRules(nil), v.broken...)
}

// Restore replaces the broken set, used when an object's state is rolled back
// or rebuilt from its serialized form.
func (v *ValidationRules) Restore(broken domain.BrokenRules) {
	v.broken = append(domain.BrokenRules(nil), broken...)
}

// IsValid reports whether no blocking rule is broken.
func (v *ValidationRules) IsValid() bool {
	return !v.broken.HasBlocking()
}
