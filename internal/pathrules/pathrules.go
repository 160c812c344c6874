// Package pathrules matches files against FilePath allow rules.
package pathrules

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gobwas/glob"

	"github.com/wdactools/wdacsim/internal/sipolicy"
)

// Rule is one compiled FilePath rule.
type Rule struct {
	ID      string
	Pattern string
	g       glob.Glob
}

// Matcher matches paths against compiled FilePath allow rules in document
// order.
type Matcher struct {
	rules []Rule
}

// DefaultMacros are expanded in FilePath rules before compilation.
var DefaultMacros = map[string]string{
	"%OSDRIVE%":      `C:`,
	"%WINDIR%":       `C:\Windows`,
	"%SYSTEM32%":     `C:\Windows\System32`,
	"%PROGRAMFILES%": `C:\Program Files`,
}

// Extract compiles the policy's FilePath allow rules. Rules that fail to
// compile are logged and skipped.
func Extract(p *sipolicy.Policy, macros map[string]string, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if macros == nil {
		macros = DefaultMacros
	}
	m := &Matcher{}
	if p == nil {
		return m
	}
	for _, r := range p.AllowRules() {
		if r.FilePath == "" {
			continue
		}
		rule, err := Compile(r.ID, r.FilePath, macros)
		if err != nil {
			logger.Warn("pathrules: skipping rule", "rule", r.ID, "path", r.FilePath, "error", err)
			continue
		}
		m.rules = append(m.rules, rule)
	}
	return m
}

// Compile expands macros and compiles pattern. Matching is case-insensitive.
// '*' stays within one path segment, except that a trailing "\*" covers the
// whole subtree.
func Compile(id, pattern string, macros map[string]string) (Rule, error) {
	expanded := normalize(expandMacros(pattern, macros))
	if expanded == "" {
		return Rule{}, fmt.Errorf("empty pattern")
	}
	subtree := strings.HasSuffix(expanded, "/*")
	if subtree {
		expanded = strings.TrimSuffix(expanded, "*")
	}
	quoted := quote(expanded)
	if subtree {
		quoted += "**"
	}
	// gobwas/glob treats '\' as an escape, so paths are matched with '/'.
	g, err := glob.Compile(quoted, '/')
	if err != nil {
		return Rule{}, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return Rule{ID: id, Pattern: pattern, g: g}, nil
}

// Match returns the first rule matching path.
func (m *Matcher) Match(path string) (Rule, bool) {
	if m == nil {
		return Rule{}, false
	}
	p := normalize(path)
	for _, r := range m.rules {
		if r.g.Match(p) {
			return r, true
		}
	}
	return Rule{}, false
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}

func expandMacros(pattern string, macros map[string]string) string {
	out := pattern
	for k, v := range macros {
		if idx := strings.Index(strings.ToLower(out), strings.ToLower(k)); idx >= 0 {
			out = out[:idx] + v + out[idx+len(k):]
		}
	}
	return out
}

// quote escapes glob metacharacters other than '*' and '?'.
func quote(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '[', ']', '{', '}', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func normalize(p string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p), `\`, "/"))
}
