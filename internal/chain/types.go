package chain

import "time"

// CertificateType is the position of a certificate in a classified chain.
type CertificateType string

const (
	TypeRoot         CertificateType = "Root"
	TypeIntermediate CertificateType = "Intermediate"
	TypeLeaf         CertificateType = "Leaf"
)

// Element is one certificate of a classified chain.
type Element struct {
	SubjectCN string          `json:"subject_cn" yaml:"subject_cn"`
	IssuerCN  string          `json:"issuer_cn" yaml:"issuer_cn"`
	NotBefore time.Time       `json:"not_before" yaml:"not_before"`
	NotAfter  time.Time       `json:"not_after" yaml:"not_after"`
	TBSValue  string          `json:"tbs_value" yaml:"tbs_value"`
	Type      CertificateType `json:"type" yaml:"type"`
	// EKUs holds the dotted OIDs of the certificate's extended key usages.
	EKUs []string `json:"ekus,omitempty" yaml:"ekus,omitempty"`

	// Issuer points at the issuing element. A root points at itself.
	Issuer *Element `json:"-" yaml:"-"`
}

// HasEKU reports whether the certificate carries the given EKU OID.
func (e *Element) HasEKU(oid string) bool {
	if e == nil {
		return false
	}
	for _, o := range e.EKUs {
		if o == oid {
			return true
		}
	}
	return false
}

// Package is one file signature's decomposed chain.
type Package struct {
	Root          *Element   `json:"root" yaml:"root"`
	Intermediates []*Element `json:"intermediates,omitempty" yaml:"intermediates,omitempty"`
	// Leaf is nil for single-certificate chains.
	Leaf *Element `json:"leaf,omitempty" yaml:"leaf,omitempty"`

	// SignedMessage is the raw PKCS#7 SignedData the chain was taken from.
	SignedMessage []byte `json:"-" yaml:"-"`
}

// HasIntermediates reports whether the chain has at least one intermediate.
func (p *Package) HasIntermediates() bool {
	return p != nil && len(p.Intermediates) > 0
}

// Elements returns the chain leaf first, root last.
func (p *Package) Elements() []*Element {
	if p == nil {
		return nil
	}
	out := make([]*Element, 0, len(p.Intermediates)+2)
	if p.Leaf != nil {
		out = append(out, p.Leaf)
	}
	out = append(out, p.Intermediates...)
	if p.Root != nil {
		out = append(out, p.Root)
	}
	return out
}
