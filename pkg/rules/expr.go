package rules

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

type exprRule struct {
	name       string
	expression string
	program    *exprvm.Program
}

// Expr compiles a boolean expression evaluated against the target's RuleEnv.
func Expr(name, expression string) (Rule, error) {
	if expression == "" {
		return nil, fmt.Errorf("rule %s: expression must not be empty", name)
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("rule %s: compile %q: %w", name, expression, err)
	}
	return &exprRule{name: name, expression: expression, program: program}, nil
}

// MustExpr is Expr that panics on a compile error. Intended for rule tables
// built at package init.
func MustExpr(name, expression string) Rule {
	r, err := Expr(name, expression)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *exprRule) Name() string { return r.name }

func (r *exprRule) Check(target any, args *Args) bool {
	env := map[string]any{}
	if e, ok := target.(Env); ok {
		env = e.RuleEnv()
	}
	out, err := exprlang.Run(r.program, env)
	if err != nil {
		args.Description = fmt.Sprintf("%s: %v", args.Field, err)
		return false
	}
	ok, isBool := out.(bool)
	if !isBool {
		args.Description = fmt.Sprintf("%s: rule %s returned %T, want bool", args.Field, r.name, out)
		return false
	}
	return ok
}
