// Package arbiter decides whether a file is authorized by a policy's
// signers.
//
// Signers are evaluated in policy order and the first one that qualifies
// wins. Each signer is tried against every chain of the file through two
// procedures: a WHQL procedure for signers gated on the WHQL EKU, and a
// chain procedure that matches the signer's CertRoot against the
// intermediates, the leaf and the root of each chain.
package arbiter

import (
	"log/slog"
	"strings"

	"github.com/wdactools/wdacsim/internal/authenticode"
	"github.com/wdactools/wdacsim/internal/chain"
	"github.com/wdactools/wdacsim/internal/signers"
)

// WHQLEKU is the dotted OID of the Windows Hardware Driver Verification EKU.
const WHQLEKU = "1.3.6.1.4.1.311.10.3.5"

// OpusReader returns the OEM identifiers recorded in a signed message.
type OpusReader interface {
	OpusInfo(signedMessage []byte) ([]string, error)
}

// OpusFunc adapts a function to OpusReader.
type OpusFunc func(signedMessage []byte) ([]string, error)

// OpusInfo calls f.
func (f OpusFunc) OpusInfo(signedMessage []byte) ([]string, error) { return f(signedMessage) }

// Engine evaluates Inputs. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	opus   OpusReader
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for skipped FileAttrib entries and Opus read
// failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithOpusReader replaces the PKCS#7 Opus parser.
func WithOpusReader(r OpusReader) Option {
	return func(e *Engine) { e.opus = r }
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	if e.opus == nil {
		e.opus = OpusFunc(authenticode.OpusInfo)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Compare returns the first signer-level decision for in, or NoMatch.
func (e *Engine) Compare(in Input) Output {
	for i := range in.Signers {
		s := &in.Signers[i]
		if !s.IsAllowed {
			continue
		}
		if out, ok := e.evaluate(s, in); ok {
			return out
		}
	}
	return NotAllowed(in.Path)
}

func (e *Engine) evaluate(s *signers.Signer, in Input) (Output, bool) {
	if s.HasEKU {
		if !intersects(s.CertEKUs, in.EKUs) {
			return Output{}, false
		}
		if s.IsWHQL {
			return e.whql(s, in)
		}
	}
	return e.chains(s, in)
}

// chains runs the certificate-chain procedure over every chain of the file.
func (e *Engine) chains(s *signers.Signer, in Input) (Output, bool) {
	for _, pkg := range in.Chains {
		if pkg == nil {
			continue
		}
		for _, im := range pkg.Intermediates {
			if !e.signerIs(s, im) {
				continue
			}
			if pkg.Leaf != nil && equalOpt(s.CertPublisher, pkg.Leaf.SubjectCN) {
				if out, ok := e.publisherLevels(s, in, im, atLeastOne); ok {
					return out, true
				}
			} else if !s.HasFileAttribRefs() {
				return e.output(s, in, LevelPcaCertificateOrRootCertificate, im), true
			}
		}

		if pkg.Leaf != nil && e.signerIs(s, pkg.Leaf) && !s.HasFileAttribRefs() {
			return e.output(s, in, LevelLeafCertificate, pkg.Leaf), true
		}

		root := pkg.Root
		if root == nil || !e.signerIs(s, root) {
			continue
		}
		if equalOpt(s.CertPublisher, root.SubjectCN) {
			if out, ok := e.publisherLevels(s, in, root, exactlyOne); ok {
				return out, true
			}
		} else if !s.HasFileAttribRefs() {
			return e.output(s, in, LevelPcaCertificateOrRootCertificate, root), true
		}
	}
	return Output{}, false
}

type wildcardRule func(n int) bool

func atLeastOne(n int) bool { return n > 0 }
func exactlyOne(n int) bool { return n == 1 }

// publisherLevels resolves a publisher match to SignedVersion,
// FilePublisher or Publisher. Signers with resolved FileAttribs never reach
// Publisher.
func (e *Engine) publisherLevels(s *signers.Signer, in Input, el *chain.Element, wildcard wildcardRule) (Output, bool) {
	if s.HasFileAttribs() {
		surviving := e.filterByVersion(s, in)
		if wildcard(countWildcards(surviving)) {
			out := e.output(s, in, LevelSignedVersion, el)
			out.SpecificFileNameLevel = signers.KeyVersion
			out.FileAttribRef = firstWildcard(surviving).RuleID
			return out, true
		}
		if fa, key, ok := fiveKeySearch(surviving, in.Attributes); ok {
			out := e.output(s, in, LevelFilePublisher, el)
			out.SpecificFileNameLevel = key
			out.FileAttribRef = fa.RuleID
			return out, true
		}
		return Output{}, false
	}
	if !s.HasFileAttribRefs() {
		return e.output(s, in, LevelPublisher, el), true
	}
	return Output{}, false
}

// filterByVersion keeps the FileAttrib entries whose MinimumFileVersion is
// at or below the file's version. Entries without a usable minimum are
// skipped.
func (e *Engine) filterByVersion(s *signers.Signer, in Input) []signers.FileAttrib {
	fileVer, fileErr := parseVersion(in.Attributes.Version)
	var out []signers.FileAttrib
	for _, fa := range s.FileAttribs {
		raw, ok := fa.Get(signers.KeyMinimumFileVersion)
		if !ok {
			e.logger.Debug("arbiter: file attrib has no minimum version", "signer", s.ID, "rule", fa.RuleID)
			continue
		}
		minVer, err := parseVersion(raw)
		if err != nil {
			e.logger.Warn("arbiter: skipping file attrib with malformed minimum version",
				"signer", s.ID, "rule", fa.RuleID, "value", raw, "error", err)
			continue
		}
		if fileErr != nil {
			e.logger.Debug("arbiter: file has no usable version", "path", in.Path, "error", fileErr)
			continue
		}
		if minVer.compare(fileVer) <= 0 {
			out = append(out, fa)
		}
	}
	return out
}

func countWildcards(fas []signers.FileAttrib) int {
	n := 0
	for _, fa := range fas {
		if v, ok := fa.Get(signers.KeyOriginalFileName); ok && v == "*" {
			n++
		}
	}
	return n
}

func firstWildcard(fas []signers.FileAttrib) signers.FileAttrib {
	for _, fa := range fas {
		if v, ok := fa.Get(signers.KeyOriginalFileName); ok && v == "*" {
			return fa
		}
	}
	return signers.FileAttrib{}
}

var fiveKeys = []string{
	signers.KeyOriginalFileName,
	signers.KeyInternalName,
	signers.KeyProductName,
	signers.KeyVersion,
	signers.KeyFileDescription,
}

// fiveKeySearch returns the first entry, and the key within it, whose
// recorded value equals the file's attribute.
func fiveKeySearch(fas []signers.FileAttrib, attrs FileAttributes) (signers.FileAttrib, string, bool) {
	for _, fa := range fas {
		for _, key := range fiveKeys {
			want, ok := fa.Get(key)
			if !ok {
				continue
			}
			if have := attrs.Get(key); have != "" && strings.EqualFold(have, want) {
				return fa, key, true
			}
		}
	}
	return signers.FileAttrib{}, "", false
}

// signerIs reports whether the signer names el by TBS hash and subject.
func (e *Engine) signerIs(s *signers.Signer, el *chain.Element) bool {
	if el == nil || el.TBSValue == "" {
		return false
	}
	return strings.EqualFold(s.CertRoot, el.TBSValue) && strings.EqualFold(s.Name, el.SubjectCN)
}

func (e *Engine) output(s *signers.Signer, in Input, level MatchLevel, el *chain.Element) Output {
	out := Output{
		FileName:     baseName(in.Path),
		Path:         in.Path,
		Source:       SourceSigner,
		IsAuthorized: true,
		Level:        level,
		SignerID:     s.ID,
		SignerName:   s.Name,
		CertRoot:     s.CertRoot,
		Scope:        s.Scope,
	}
	if s.CertPublisher != nil {
		out.CertPublisher = *s.CertPublisher
	}
	if el != nil {
		out.SubjectCN = el.SubjectCN
		out.IssuerCN = el.IssuerCN
		out.NotAfter = el.NotAfter
		out.TBSValue = el.TBSValue
	}
	return out
}

// equalOpt compares an optional policy value. Absent never matches.
func equalOpt(p *string, v string) bool {
	return p != nil && strings.EqualFold(*p, v)
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
