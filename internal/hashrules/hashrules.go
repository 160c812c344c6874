// Package hashrules extracts hash-based allow rules from a policy.
package hashrules

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/wdactools/wdacsim/internal/sipolicy"
)

// Set is a set of uppercase hex digests mapped to the rule that carries them.
type Set map[string]string

// Extract collects the Hash of every Allow rule in the policy, upper-case hex.
// Values that are not valid hex are skipped.
func Extract(p *sipolicy.Policy) Set {
	out := make(Set)
	if p == nil {
		return out
	}
	for _, r := range p.FileRules.Allow {
		if r.Hash == "" {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimSpace(r.Hash))
		if err != nil || len(raw) == 0 {
			continue
		}
		h := strings.ToUpper(hex.EncodeToString(raw))
		if _, dup := out[h]; !dup {
			out[h] = r.ID
		}
	}
	return out
}

// Contains reports whether digest is allowed and returns the rule ID.
func (s Set) Contains(digest string) (string, bool) {
	id, ok := s[strings.ToUpper(strings.TrimSpace(digest))]
	return id, ok
}

// Sorted returns the digests in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
