// Package scan evaluates files on disk against a code-integrity policy.
package scan

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"

	"github.com/wdactools/wdacsim/internal/hashrules"
	"github.com/wdactools/wdacsim/internal/pathrules"
	"github.com/wdactools/wdacsim/internal/signers"
	"github.com/wdactools/wdacsim/internal/sipolicy"
)

// PolicySet is a loaded policy reduced to what evaluation needs. It is
// immutable once returned by LoadPolicy.
type PolicySet struct {
	Path      string
	PolicyID  string
	AuditMode bool

	Signers []signers.Signer
	Hashes  hashrules.Set
	Paths   *pathrules.Matcher

	// AllowAllRule is the ID of the FileName="*" allow rule, if any.
	AllowAllRule string
}

// AllowsAll reports whether the policy authorizes every file.
func (p *PolicySet) AllowsAll() bool {
	return p.AllowAllRule != ""
}

// PolicyOptions tune LoadPolicy.
type PolicyOptions struct {
	// WellKnownRoots override rows of the embedded table.
	WellKnownRoots []signers.WellKnownRoot
	// Macros expand FilePath rule variables. Nil uses pathrules.DefaultMacros.
	Macros map[string]string
	Logger *slog.Logger
}

// LoadPolicy reads and reduces the policy at path.
func LoadPolicy(path string, opts PolicyOptions) (*PolicySet, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	doc, err := sipolicy.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", path, err)
	}

	roots := signers.DefaultWellKnownRoots()
	if len(opts.WellKnownRoots) > 0 {
		roots = roots.WithOverrides(opts.WellKnownRoots)
	}
	extractor := signers.NewExtractor(
		signers.WithWellKnownRoots(roots),
		signers.WithLogger(logger),
	)

	set := &PolicySet{
		Path:      path,
		PolicyID:  doc.PolicyID,
		AuditMode: doc.HasOption(sipolicy.OptionEnabledAuditMode),
		Signers:   extractor.Extract(doc),
		Hashes:    hashrules.Extract(doc),
		Paths:     pathrules.Extract(doc, opts.Macros, logger),
	}
	if id, ok := doc.AllowsAll(); ok {
		set.AllowAllRule = id
	}

	logger.Info("policy loaded",
		"path", path,
		"policy_id", set.PolicyID,
		"signers", len(set.Signers),
		"hash_rules", len(set.Hashes),
		"path_rules", set.Paths.Len(),
		"allow_all", set.AllowsAll(),
	)
	return set, nil
}

// LoadCertificates reads PEM or DER certificates from files. A PEM file may
// hold several certificates.
func LoadCertificates(paths []string) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read certificate %s: %w", p, err)
		}
		certs, err := parseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("parse certificate %s: %w", p, err)
		}
		out = append(out, certs...)
	}
	return out, nil
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if len(out) > 0 {
		return out, nil
	}
	c, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, err
	}
	return []*x509.Certificate{c}, nil
}
