// Package chain decomposes built certificate chains into root, intermediate
// and leaf elements carrying the identities policy signers match on.
package chain

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/wdactools/wdacsim/internal/tbs"
)

// ErrEmptyChain is returned when Classify is given no certificates.
var ErrEmptyChain = errors.New("empty certificate chain")

var oidExtKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}

// Classifier builds Packages from ordered certificate chains.
type Classifier struct {
	names NameLookup
}

// NewClassifier returns a Classifier. A nil lookup uses SimpleDisplayName.
func NewClassifier(names NameLookup) *Classifier {
	if names == nil {
		names = SimpleDisplayName{}
	}
	return &Classifier{names: names}
}

// Classify decomposes certs, ordered leaf first and root last.
//
// A single certificate is treated as the root with no leaf. With two or more,
// the first is the leaf, the last the root and everything between are
// intermediates, each issued by the next certificate toward the root.
func (c *Classifier) Classify(certs []*x509.Certificate, signedMessage []byte) (*Package, error) {
	if len(certs) == 0 {
		return nil, ErrEmptyChain
	}

	last := len(certs) - 1
	root, err := c.element(certs[last], TypeRoot)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	root.Issuer = root

	pkg := &Package{Root: root, SignedMessage: signedMessage}
	if len(certs) == 1 {
		return pkg, nil
	}

	// Walk toward the leaf so each intermediate's issuer already exists.
	issuer := root
	intermediates := make([]*Element, last-1)
	for i := last - 1; i >= 1; i-- {
		el, err := c.element(certs[i], TypeIntermediate)
		if err != nil {
			return nil, fmt.Errorf("intermediate %d: %w", i, err)
		}
		el.Issuer = issuer
		intermediates[i-1] = el
		issuer = el
	}
	if len(intermediates) > 0 {
		pkg.Intermediates = intermediates
	}

	leaf, err := c.element(certs[0], TypeLeaf)
	if err != nil {
		return nil, fmt.Errorf("leaf: %w", err)
	}
	leaf.Issuer = issuer
	pkg.Leaf = leaf
	return pkg, nil
}

func (c *Classifier) element(cert *x509.Certificate, typ CertificateType) (*Element, error) {
	if cert == nil {
		return nil, fmt.Errorf("nil certificate")
	}
	tbsValue, err := tbs.ComputeTbsHash(cert.Raw)
	if err != nil {
		return nil, err
	}
	ekus, err := ExtendedKeyUsages(cert)
	if err != nil {
		return nil, err
	}
	return &Element{
		SubjectCN: c.names.SubjectName(cert),
		IssuerCN:  c.names.IssuerName(cert),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		TBSValue:  tbsValue,
		Type:      typ,
		EKUs:      ekus,
	}, nil
}

// ExtendedKeyUsages returns the dotted OIDs listed in the certificate's EKU
// extension, in encoded order. Certificates without the extension yield nil.
func ExtendedKeyUsages(cert *x509.Certificate) ([]string, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidExtKeyUsage) {
			continue
		}
		var oids []asn1.ObjectIdentifier
		rest, err := asn1.Unmarshal(ext.Value, &oids)
		if err != nil {
			return nil, fmt.Errorf("parse eku extension: %w", err)
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("parse eku extension: trailing data")
		}
		out := make([]string, 0, len(oids))
		for _, o := range oids {
			out = append(out, o.String())
		}
		return out, nil
	}
	return nil, nil
}
