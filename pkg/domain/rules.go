package domain

import (
	"strings"
)

// Severity captures how a broken rule affects validity.
type Severity string

const (
	// SeverityBlock marks the owning object invalid.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but does not affect validity.
	SeverityWarn Severity = "warn"
	// SeverityLog is informational only.
	SeverityLog Severity = "log"
)

func (s Severity) rank() int {
	switch s {
	case SeverityBlock:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool { return s.rank() >= other.rank() }

// BrokenRule is a currently failing validation rule.
type BrokenRule struct {
	Rule        string   `json:"rule"`
	Field       string   `json:"field"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// BrokenRules is the ordered set of rules currently failing on an object.
type BrokenRules []BrokenRule

// Merge appends other's entries.
func (b *BrokenRules) Merge(other BrokenRules) {
	if len(other) == 0 {
		return
	}
	*b = append(*b, other...)
}

// HasBlocking reports whether any entry blocks validity.
func (b BrokenRules) HasBlocking() bool {
	for _, r := range b {
		if r.Severity.AtLeast(SeverityBlock) {
			return true
		}
	}
	return false
}

// For returns the entries for one field.
func (b BrokenRules) For(field string) BrokenRules {
	var out BrokenRules
	for _, r := range b {
		if r.Field == field {
			out = append(out, r)
		}
	}
	return out
}

// FirstFor returns the first entry for field, if any.
func (b BrokenRules) FirstFor(field string) (BrokenRule, bool) {
	for _, r := range b {
		if r.Field == field {
			return r, true
		}
	}
	return BrokenRule{}, false
}

// ErrorFor returns the blocking descriptions for field joined for display.
func (b BrokenRules) ErrorFor(field string) string {
	var parts []string
	for _, r := range b {
		if r.Field == field && r.Severity == SeverityBlock {
			parts = append(parts, r.Description)
		}
	}
	return strings.Join(parts, "; ")
}

// String lists one description per line.
func (b BrokenRules) String() string {
	var sb strings.Builder
	for i, r := range b {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(r.Description)
	}
	return sb.String()
}
