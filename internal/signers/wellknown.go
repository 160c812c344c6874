package signers

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed wellknown_roots.yaml
var wellKnownRootsYAML []byte

// WellKnownRoot is one row of the well-known root substitution table.
type WellKnownRoot struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	TBS  string `yaml:"tbs"`
}

// WellKnownRoots is an immutable code -> root lookup. Codes are upper-case.
type WellKnownRoots struct {
	byCode map[string]WellKnownRoot
}

// DefaultWellKnownRoots returns the embedded table.
func DefaultWellKnownRoots() *WellKnownRoots {
	roots, err := parseWellKnownRoots(wellKnownRootsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded well-known roots: %v", err))
	}
	return roots
}

func parseWellKnownRoots(data []byte) (*WellKnownRoots, error) {
	var doc struct {
		Roots []WellKnownRoot `yaml:"roots"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return NewWellKnownRoots(doc.Roots)
}

// NewWellKnownRoots builds a table from rows. Codes must be unique.
func NewWellKnownRoots(rows []WellKnownRoot) (*WellKnownRoots, error) {
	t := &WellKnownRoots{byCode: make(map[string]WellKnownRoot, len(rows))}
	for _, r := range rows {
		r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
		r.TBS = strings.ToUpper(strings.TrimSpace(r.TBS))
		if r.Code == "" {
			return nil, fmt.Errorf("well-known root %q has no code", r.Name)
		}
		if _, dup := t.byCode[r.Code]; dup {
			return nil, fmt.Errorf("duplicate well-known root code %q", r.Code)
		}
		t.byCode[r.Code] = r
	}
	return t, nil
}

// WithOverrides returns a copy of t where rows in overrides replace or add
// entries by code. Empty name or tbs fields keep the existing value.
func (t *WellKnownRoots) WithOverrides(overrides []WellKnownRoot) *WellKnownRoots {
	out := &WellKnownRoots{byCode: make(map[string]WellKnownRoot, len(t.byCode)+len(overrides))}
	for k, v := range t.byCode {
		out.byCode[k] = v
	}
	for _, o := range overrides {
		code := strings.ToUpper(strings.TrimSpace(o.Code))
		if code == "" {
			continue
		}
		cur := out.byCode[code]
		cur.Code = code
		if o.Name != "" {
			cur.Name = o.Name
		}
		if tbs := strings.ToUpper(strings.TrimSpace(o.TBS)); tbs != "" {
			cur.TBS = tbs
		}
		out.byCode[code] = cur
	}
	return out
}

// Lookup returns the root registered under code.
func (t *WellKnownRoots) Lookup(code string) (WellKnownRoot, bool) {
	if t == nil {
		return WellKnownRoot{}, false
	}
	r, ok := t.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// Len returns the number of rows.
func (t *WellKnownRoots) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byCode)
}
