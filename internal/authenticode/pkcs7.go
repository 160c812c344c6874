// Package authenticode reads Authenticode signatures embedded in PE files.
//
// Only structure is decoded. Signatures are never verified: the simulator
// needs the certificates, the signer and the signed attributes, not a trust
// decision.
package authenticode

import (
	"bytes"
	"crypto/x509"
	encasn1 "encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"go.mozilla.org/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	// ErrNotSigned is returned for PE files without a certificate table.
	ErrNotSigned = errors.New("file is not signed")
	// ErrMalformed is returned for undecodable signature structures.
	ErrMalformed = errors.New("malformed signature")
	// ErrNotPE is returned when the file is not a PE image.
	ErrNotPE = errors.New("not a PE image")
)

var (
	oidNestedSignature = encasn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 4, 1}
	oidSpcSpOpusInfo   = encasn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 12}
)

// Attribute is a CMS attribute with its raw DER values.
type Attribute struct {
	Type   string
	Values [][]byte
}

// Signature is one decoded Authenticode signature.
type Signature struct {
	// Certificates is the SignedData certificate bag.
	Certificates []*x509.Certificate
	// Signer is the bag certificate named by the first SignerInfo, nil when
	// the bag does not contain it.
	Signer *x509.Certificate
	// SignedMessage is the ContentInfo DER the signature was decoded from.
	SignedMessage []byte
	// DigestAlgorithm is the dotted OID of the signer's digest.
	DigestAlgorithm  string
	SignedAttributes []Attribute
	// Nested is true for signatures carried in another signature's
	// unsigned attributes.
	Nested bool
}

type signerInfo struct {
	issuer        []byte
	serial        *big.Int
	digestAlg     string
	signedAttrs   []Attribute
	unsignedAttrs []Attribute
}

type signedData struct {
	certs   []*x509.Certificate
	signers []signerInfo
}

// ParseSignedData decodes a PKCS#7 ContentInfo and every signature nested
// inside it. The outer signature comes first.
func ParseSignedData(der []byte) ([]*Signature, error) {
	return parseSignedData(der, false, 0)
}

// nesting depth is bounded so crafted input cannot recurse forever.
const maxNesting = 8

func parseSignedData(der []byte, nested bool, depth int) ([]*Signature, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("%w: signatures nested too deeply", ErrMalformed)
	}
	sd, err := decodeContentInfo(der)
	if err != nil {
		return nil, err
	}
	sig := &Signature{
		Certificates:  sd.certs,
		SignedMessage: der,
		Nested:        nested,
	}
	var children []*Signature
	if len(sd.signers) > 0 {
		si := sd.signers[0]
		sig.Signer = si.find(sd.certs)
		sig.DigestAlgorithm = si.digestAlg
		sig.SignedAttributes = si.signedAttrs
	}
	for _, si := range sd.signers {
		for _, attr := range si.unsignedAttrs {
			if attr.Type != oidNestedSignature.String() {
				continue
			}
			for _, v := range attr.Values {
				inner, err := parseSignedData(v, true, depth+1)
				if err != nil {
					return nil, fmt.Errorf("nested signature: %w", err)
				}
				children = append(children, inner...)
			}
		}
	}
	return append([]*Signature{sig}, children...), nil
}

func (si signerInfo) find(certs []*x509.Certificate) *x509.Certificate {
	if si.serial == nil {
		return nil
	}
	for _, c := range certs {
		if c.SerialNumber != nil && c.SerialNumber.Cmp(si.serial) == 0 && bytes.Equal(c.RawIssuer, si.issuer) {
			return c
		}
	}
	return nil
}

// decodeContentInfo parses a signedData ContentInfo with go.mozilla.org/pkcs7
// and copies out the parts Authenticode needs.
func decodeContentInfo(der []byte) (*signedData, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// Enveloped and encrypted data parse without signers or certificates.
	if len(p7.Signers) == 0 && len(p7.Certificates) == 0 {
		return nil, fmt.Errorf("%w: no signed data", ErrMalformed)
	}

	out := &signedData{certs: p7.Certificates}
	for _, si := range p7.Signers {
		info := signerInfo{
			issuer:    si.IssuerAndSerialNumber.IssuerName.FullBytes,
			serial:    si.IssuerAndSerialNumber.SerialNumber,
			digestAlg: si.DigestAlgorithm.Algorithm.String(),
		}
		for _, a := range si.AuthenticatedAttributes {
			attr, err := newAttribute(a.Type, a.Value.Bytes)
			if err != nil {
				return nil, err
			}
			info.signedAttrs = append(info.signedAttrs, attr)
		}
		for _, a := range si.UnauthenticatedAttributes {
			attr, err := newAttribute(a.Type, a.Value.Bytes)
			if err != nil {
				return nil, err
			}
			info.unsignedAttrs = append(info.unsignedAttrs, attr)
		}
		out.signers = append(out.signers, info)
	}
	return out, nil
}

// newAttribute splits the contents of an attribute's value SET into its
// DER elements.
func newAttribute(typ encasn1.ObjectIdentifier, set []byte) (Attribute, error) {
	a := Attribute{Type: typ.String()}
	values := cryptobyte.String(set)
	for !values.Empty() {
		var v cryptobyte.String
		var tag cbasn1.Tag
		if !values.ReadAnyASN1Element(&v, &tag) {
			return Attribute{}, fmt.Errorf("%w: attribute %s value", ErrMalformed, typ)
		}
		a.Values = append(a.Values, v)
	}
	return a, nil
}
