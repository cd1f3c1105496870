package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Env exposes an object's field values to declarative rules.
type Env interface {
	RuleEnv() map[string]any
}

func fieldValue(target any, field string) (any, bool) {
	env, ok := target.(Env)
	if !ok {
		return nil, false
	}
	v, ok := env.RuleEnv()[field]
	return v, ok
}

// StringRequired fails when the field is empty or whitespace.
func StringRequired() Rule {
	return NewRule("required", func(target any, args *Args) bool {
		v, _ := fieldValue(target, args.Field)
		s, _ := v.(string)
		if strings.TrimSpace(s) != "" {
			return true
		}
		if args.Description == "" {
			args.Description = fmt.Sprintf("%s required", args.Field)
		}
		return false
	})
}

// StringMaxLength fails when the field exceeds max characters.
func StringMaxLength(max int) Rule {
	return NewRule("maxLength", func(target any, args *Args) bool {
		v, _ := fieldValue(target, args.Field)
		s, _ := v.(string)
		if utf8.RuneCountInString(s) <= max {
			return true
		}
		if args.Description == "" {
			args.Description = fmt.Sprintf("%s can not exceed %d characters", args.Field, max)
		}
		return false
	})
}

// IntMinValue fails when an integer field is below min.
func IntMinValue(min int64) Rule {
	return NewRule("minValue", func(target any, args *Args) bool {
		v, _ := fieldValue(target, args.Field)
		n, ok := asInt64(v)
		if ok && n >= min {
			return true
		}
		if args.Description == "" {
			args.Description = fmt.Sprintf("%s can not be less than %d", args.Field, min)
		}
		return false
	})
}

// RegexMatch fails when a string field does not match pattern.
func RegexMatch(pattern string) Rule {
	re := regexp.MustCompile(pattern)
	return NewRule("regex", func(target any, args *Args) bool {
		v, _ := fieldValue(target, args.Field)
		s, _ := v.(string)
		if re.MatchString(s) {
			return true
		}
		if args.Description == "" {
			args.Description = fmt.Sprintf("%s is not in the expected format", args.Field)
		}
		return false
	})
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	}
	return 0, false
}
