package sipolicy

import "strings"

// Option names used by helpers below.
const (
	OptionEnabledUMCI      = "Enabled:UMCI"
	OptionEnabledAuditMode = "Enabled:Audit Mode"
)

// HasOption reports whether the policy carries the given rule option.
func (p *Policy) HasOption(option string) bool {
	for _, r := range p.Rules {
		if strings.EqualFold(strings.TrimSpace(r.Option), option) {
			return true
		}
	}
	return false
}

// RuleOptions returns the trimmed rule option strings in document order.
func (p *Policy) RuleOptions() []string {
	out := make([]string, 0, len(p.Rules))
	for _, r := range p.Rules {
		out = append(out, strings.TrimSpace(r.Option))
	}
	return out
}

// Scenario returns the signing scenario with the given value.
func (p *Policy) Scenario(value int) (*SigningScenario, bool) {
	for i := range p.SigningScenarios {
		if p.SigningScenarios[i].Value == value {
			return &p.SigningScenarios[i], true
		}
	}
	return nil, false
}

// ReferencedFileRules returns the IDs listed under every scenario's
// FileRulesRef, without duplicates, in document order.
func (p *Policy) ReferencedFileRules() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sc := range p.SigningScenarios {
		for _, ref := range sc.ProductSigners.FileRulesRef {
			if _, ok := seen[ref.RuleID]; ok {
				continue
			}
			seen[ref.RuleID] = struct{}{}
			out = append(out, ref.RuleID)
		}
	}
	return out
}

// AllowRules returns the Allow file rules. When any scenario lists
// FileRulesRef entries only referenced rules are returned; policies that
// reference nothing expose all Allow rules.
func (p *Policy) AllowRules() []FileRule {
	refs := p.ReferencedFileRules()
	if len(refs) == 0 {
		return p.FileRules.Allow
	}
	want := make(map[string]struct{}, len(refs))
	for _, id := range refs {
		want[id] = struct{}{}
	}
	var out []FileRule
	for _, r := range p.FileRules.Allow {
		if _, ok := want[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// AllowsAll reports whether an Allow rule with FileName="*" is in effect.
func (p *Policy) AllowsAll() (string, bool) {
	for _, r := range p.AllowRules() {
		if r.FileName != nil && *r.FileName == "*" && r.Hash == "" && r.FilePath == "" {
			return r.ID, true
		}
	}
	return "", false
}

// FileAttribIndex maps FileAttrib IDs to their nodes. Later duplicates lose.
func (p *Policy) FileAttribIndex() map[string]FileRule {
	idx := make(map[string]FileRule, len(p.FileRules.FileAttrib))
	for _, fa := range p.FileRules.FileAttrib {
		if _, dup := idx[fa.ID]; dup {
			continue
		}
		idx[fa.ID] = fa
	}
	return idx
}

// EKUIndex maps EKU IDs to their hex values. Later duplicates lose.
func (p *Policy) EKUIndex() map[string]string {
	idx := make(map[string]string, len(p.EKUs))
	for _, e := range p.EKUs {
		if _, dup := idx[e.ID]; dup {
			continue
		}
		idx[e.ID] = e.Value
	}
	return idx
}
