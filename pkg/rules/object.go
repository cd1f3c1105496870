package rules

import (
	"fmt"
	"sync"

	celgo "github.com/google/cel-go/cel"

	"entityportal/pkg/domain"
)

// Action is an object-level operation subject to authorization.
type Action string

const (
	ActionCreate Action = "create"
	ActionFetch  Action = "fetch"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

type objectKey struct {
	typeName string
	action   Action
}

type policy struct {
	expression string
	program    celgo.Program
}

// ObjectRules decides whether a principal may perform an action on a type.
// An action is permitted when the principal holds one of the allowed roles
// (if any are registered) and every registered policy evaluates to true.
//
// Policies are CEL expressions over:
//
//	principal.name, principal.authenticated, principal.roles, action, typeName
type ObjectRules struct {
	mu       sync.RWMutex
	env      *celgo.Env
	roles    map[objectKey][]string
	policies map[objectKey][]policy
}

// NewObjectRules constructs an empty, permit-all rule set.
func NewObjectRules() (*ObjectRules, error) {
	env, err := celgo.NewEnv(
		celgo.Variable("principal", celgo.MapType(celgo.StringType, celgo.DynType)),
		celgo.Variable("action", celgo.StringType),
		celgo.Variable("typeName", celgo.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("object rules env: %w", err)
	}
	return &ObjectRules{
		env:      env,
		roles:    make(map[objectKey][]string),
		policies: make(map[objectKey][]policy),
	}, nil
}

// AllowRoles restricts action on typeName to roles.
func (o *ObjectRules) AllowRoles(typeName string, action Action, roles ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := objectKey{typeName, action}
	o.roles[k] = append(o.roles[k], roles...)
}

// AddPolicy compiles expression and requires it to hold for action on typeName.
func (o *ObjectRules) AddPolicy(typeName string, action Action, expression string) error {
	ast, issues := o.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("policy %q: %w", expression, issues.Err())
	}
	checked, issues := o.env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("policy %q: %w", expression, issues.Err())
	}
	prg, err := o.env.Program(checked)
	if err != nil {
		return fmt.Errorf("policy %q: %w", expression, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	k := objectKey{typeName, action}
	o.policies[k] = append(o.policies[k], policy{expression: expression, program: prg})
	return nil
}

// Can reports whether p may perform action on typeName.
func (o *ObjectRules) Can(p domain.Principal, typeName string, action Action) (bool, error) {
	o.mu.RLock()
	k := objectKey{typeName, action}
	roles := o.roles[k]
	policies := o.policies[k]
	o.mu.RUnlock()

	if len(roles) > 0 && !domain.InRole(p, roles...) {
		return false, nil
	}
	if len(policies) == 0 {
		return true, nil
	}
	activation := map[string]any{
		"principal": principalVars(p),
		"action":    string(action),
		"typeName":  typeName,
	}
	for _, pol := range policies {
		out, _, err := pol.program.Eval(activation)
		if err != nil {
			return false, fmt.Errorf("policy %q: %w", pol.expression, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return false, fmt.Errorf("policy %q: returned %T, want bool", pol.expression, out.Value())
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Check is Can returning a SecurityViolation when the action is denied.
func (o *ObjectRules) Check(p domain.Principal, typeName string, action Action) error {
	ok, err := o.Can(p, typeName, action)
	if err != nil {
		return err
	}
	if !ok {
		name := "anonymous"
		if p != nil && p.Name() != "" {
			name = p.Name()
		}
		return domain.NewSecurityError(string(action), fmt.Sprintf("%s may not %s %s", name, action, typeName))
	}
	return nil
}

func principalVars(p domain.Principal) map[string]any {
	vars := map[string]any{"name": "", "authenticated": false, "roles": []string{}}
	if p == nil {
		return vars
	}
	vars["name"] = p.Name()
	vars["authenticated"] = p.IsAuthenticated()
	if rl, ok := p.(domain.RoleLister); ok {
		vars["roles"] = rl.RoleNames()
	}
	return vars
}
