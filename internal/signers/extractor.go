// Package signers normalizes policy Signer nodes into the descriptors the
// arbitration engine consumes.
package signers

import (
	"log/slog"
	"strings"

	"github.com/wdactools/wdacsim/internal/sipolicy"
	"github.com/wdactools/wdacsim/internal/tbs"
)

// WHQLEKUHex is the policy encoding of the WHQL EKU 1.3.6.1.4.1.311.10.3.5.
const WHQLEKUHex = "010A2B0601040182370A0305"

// Extractor turns a parsed policy into Signers.
type Extractor struct {
	roots  *WellKnownRoots
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithWellKnownRoots replaces the embedded well-known root table.
func WithWellKnownRoots(r *WellKnownRoots) Option {
	return func(e *Extractor) { e.roots = r }
}

// WithLogger sets the logger used for skipped references.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor returns an Extractor using the embedded root table.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, o := range opts {
		o(e)
	}
	if e.roots == nil {
		e.roots = DefaultWellKnownRoots()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Extract is shorthand for NewExtractor().Extract(p).
func Extract(p *sipolicy.Policy) []Signer {
	return NewExtractor().Extract(p)
}

type scenarioSets struct {
	allowed map[string]struct{}
	denied  map[string]struct{}
}

func collectScenario(p *sipolicy.Policy, value int) scenarioSets {
	s := scenarioSets{allowed: map[string]struct{}{}, denied: map[string]struct{}{}}
	sc, ok := p.Scenario(value)
	if !ok {
		return s
	}
	for _, ref := range sc.ProductSigners.AllowedSigners {
		s.allowed[ref.SignerID] = struct{}{}
	}
	for _, ref := range sc.ProductSigners.DeniedSigners {
		s.denied[ref.SignerID] = struct{}{}
	}
	return s
}

func (s scenarioSets) has(id string) (allowed, denied bool) {
	_, allowed = s.allowed[id]
	_, denied = s.denied[id]
	return allowed, denied
}

// Extract returns the policy's product signers in document order. Signers
// referenced by no scenario (update and supplemental signers) are dropped.
func (e *Extractor) Extract(p *sipolicy.Policy) []Signer {
	if p == nil {
		return nil
	}
	user := collectScenario(p, sipolicy.ScenarioUserMode)
	kernel := collectScenario(p, sipolicy.ScenarioKernelMode)
	fileAttribs := p.FileAttribIndex()
	ekus := p.EKUIndex()

	out := make([]Signer, 0, len(p.Signers))
	for _, node := range p.Signers {
		umAllowed, umDenied := user.has(node.ID)
		kmAllowed, kmDenied := kernel.has(node.ID)
		if !umAllowed && !umDenied && !kmAllowed && !kmDenied {
			e.logger.Debug("signers: dropping signer outside signing scenarios", "signer", node.ID)
			continue
		}

		s := Signer{
			ID:        node.ID,
			Name:      node.Name,
			CertRoot:  strings.ToUpper(strings.TrimSpace(node.CertRoot.Value)),
			IsAllowed: umAllowed || kmAllowed,
			Scope:     ScopeKernelMode,
		}
		if umAllowed {
			s.Scope = ScopeUserMode
		}
		if root, ok := e.roots.Lookup(s.CertRoot); ok {
			s.Name = root.Name
			if root.TBS != "" {
				s.CertRoot = root.TBS
			} else {
				e.logger.Warn("signers: well-known root has no canonical tbs; signer cannot match by root",
					"signer", node.ID, "code", root.Code)
			}
		}
		if node.CertPublisher != nil {
			s.CertPublisher = strPtr(node.CertPublisher.Value)
		}
		if node.CertIssuer != nil {
			s.CertIssuer = strPtr(node.CertIssuer.Value)
		}
		if node.CertOemID != nil {
			s.CertOemID = strPtr(node.CertOemID.Value)
		}

		e.resolveFileAttribs(&s, node, fileAttribs)
		e.resolveEKUs(&s, node, ekus)
		out = append(out, s)
	}
	return out
}

func (e *Extractor) resolveFileAttribs(s *Signer, node sipolicy.Signer, index map[string]sipolicy.FileRule) {
	for _, ref := range node.FileAttribRef {
		s.FileAttribRefs = append(s.FileAttribRefs, ref.RuleID)
		rule, ok := index[ref.RuleID]
		if !ok {
			e.logger.Warn("signers: unresolved FileAttribRef", "signer", node.ID, "rule", ref.RuleID)
			continue
		}
		s.FileAttribs = append(s.FileAttribs, fileAttribFromRule(rule))
	}
}

// fileAttribFromRule records the first present name constraint in the order
// OriginalFileName, InternalName, FileDescription, ProductName.
func fileAttribFromRule(rule sipolicy.FileRule) FileAttrib {
	fa := FileAttrib{RuleID: rule.ID, Constraints: make(map[string]string, 3)}
	names := []struct {
		key string
		val *string
	}{
		{KeyOriginalFileName, rule.FileName},
		{KeyInternalName, rule.InternalName},
		{KeyFileDescription, rule.FileDescription},
		{KeyProductName, rule.ProductName},
	}
	for _, n := range names {
		if n.val != nil {
			fa.SpecificFileNameLevel = n.key
			fa.Constraints[n.key] = *n.val
			break
		}
	}
	if rule.MinimumFileVersion != nil {
		fa.Constraints[KeyMinimumFileVersion] = *rule.MinimumFileVersion
	}
	if rule.MaximumFileVersion != nil {
		fa.Constraints[KeyMaximumFileVersion] = *rule.MaximumFileVersion
	}
	return fa
}

func (e *Extractor) resolveEKUs(s *Signer, node sipolicy.Signer, index map[string]string) {
	for _, ref := range node.CertEKUs {
		value, ok := index[ref.ID]
		if !ok {
			e.logger.Warn("signers: unresolved CertEKU", "signer", node.ID, "eku", ref.ID)
			continue
		}
		s.HasEKU = true
		if strings.EqualFold(strings.TrimSpace(value), WHQLEKUHex) {
			s.IsWHQL = true
		}
		oid, err := tbs.HexToOid(value)
		if err != nil {
			e.logger.Warn("signers: malformed EKU value", "signer", node.ID, "eku", ref.ID, "error", err)
			continue
		}
		s.CertEKUs = append(s.CertEKUs, oid)
	}
}
