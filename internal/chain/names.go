package chain

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
)

// NameLookup resolves the display names used to match policy signers.
type NameLookup interface {
	SubjectName(cert *x509.Certificate) string
	IssuerName(cert *x509.Certificate) string
}

// SimpleDisplayName implements NameLookup with the "simple display name"
// rule: CN, then OU, then O, then the e-mail address attribute.
type SimpleDisplayName struct{}

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

func (SimpleDisplayName) SubjectName(cert *x509.Certificate) string {
	return displayName(cert.Subject)
}

func (SimpleDisplayName) IssuerName(cert *x509.Certificate) string {
	return displayName(cert.Issuer)
}

func displayName(n pkix.Name) string {
	if n.CommonName != "" {
		return n.CommonName
	}
	if len(n.OrganizationalUnit) > 0 {
		return n.OrganizationalUnit[0]
	}
	if len(n.Organization) > 0 {
		return n.Organization[0]
	}
	for _, atv := range n.Names {
		if atv.Type.Equal(oidEmailAddress) {
			if s, ok := atv.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}
