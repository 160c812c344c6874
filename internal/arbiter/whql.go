package arbiter

import (
	"strings"

	"github.com/wdactools/wdacsim/internal/chain"
	"github.com/wdactools/wdacsim/internal/signers"
)

// opusSigner is an intermediate of a WHQL-signed chain.
type opusSigner struct {
	tbsHash   string
	subjectCN string
	element   *chain.Element
}

// whql runs the WHQL procedure. Signers that hold FileAttribs only ever
// produce WHQLFilePublisher here.
func (e *Engine) whql(s *signers.Signer, in Input) (Output, bool) {
	opusSet := make(map[string]struct{})
	var pairs []opusSigner
	for _, pkg := range in.Chains {
		if pkg == nil || !pkg.Leaf.HasEKU(WHQLEKU) {
			continue
		}
		oems, err := e.opus.OpusInfo(pkg.SignedMessage)
		if err != nil {
			e.logger.Warn("arbiter: reading opus info", "path", in.Path, "error", err)
		}
		for _, o := range oems {
			opusSet[strings.ToLower(o)] = struct{}{}
		}
		for _, im := range pkg.Intermediates {
			pairs = append(pairs, opusSigner{tbsHash: im.TBSValue, subjectCN: im.SubjectCN, element: im})
		}
	}

	opusMatch := false
	if s.CertOemID != nil {
		_, opusMatch = opusSet[strings.ToLower(*s.CertOemID)]
	}

	for _, p := range pairs {
		if p.tbsHash == "" || !strings.EqualFold(s.CertRoot, p.tbsHash) || !strings.EqualFold(s.Name, p.subjectCN) {
			continue
		}
		switch {
		case opusMatch && s.HasFileAttribs():
			surviving := e.filterByVersion(s, in)
			if fa, key, ok := fiveKeySearch(surviving, in.Attributes); ok {
				out := e.output(s, in, LevelWHQLFilePublisher, p.element)
				out.SpecificFileNameLevel = key
				out.FileAttribRef = fa.RuleID
				return out, true
			}
		case opusMatch && !s.HasFileAttribRefs():
			return e.output(s, in, LevelWHQLPublisher, p.element), true
		case s.HasFileAttribs():
			// Reserved for WHQLFilePublisher; try the next intermediate.
		default:
			return e.output(s, in, LevelWHQL, p.element), true
		}
	}
	return Output{}, false
}
