// Package tbs computes code-integrity TBS certificate identities.
//
// A TBS hash is the digest of a certificate's DER-encoded TBSCertificate,
// computed with the digest implied by the certificate's own signature
// algorithm. Code-integrity policies identify roots, PCAs and leaves by this
// value instead of by thumbprint.
package tbs

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	encasn1 "encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	// ErrUnsupportedAlgorithm is returned when the certificate's signature
	// algorithm does not map to a known digest.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	// ErrInvalidEncoding is returned for malformed DER or hex input.
	ErrInvalidEncoding = errors.New("invalid encoding")
)

type digestKind int

const (
	digestMD5 digestKind = iota
	digestSHA1
	digestSHA256
	digestSHA384
	digestSHA512
)

var digestByAlgorithm = map[string]digestKind{
	"1.2.840.113549.1.1.4": digestMD5,

	"1.2.840.113549.1.1.5": digestSHA1,
	"1.3.14.3.2.29":        digestSHA1,
	"1.2.840.10040.4.3":    digestSHA1,
	"1.2.840.10045.4.1":    digestSHA1,

	"1.2.840.113549.1.1.11":  digestSHA256,
	"2.16.840.1.101.3.4.3.2": digestSHA256,
	"1.2.840.10045.4.3.2":    digestSHA256,

	"1.2.840.113549.1.1.12":  digestSHA384,
	"2.16.840.1.101.3.4.3.3": digestSHA384,
	"1.2.840.10045.4.3.3":    digestSHA384,

	"1.2.840.113549.1.1.13":  digestSHA512,
	"2.16.840.1.101.3.4.3.4": digestSHA512,
	"1.2.840.10045.4.3.4":    digestSHA512,
}

func (d digestKind) new() hash.Hash {
	switch d {
	case digestMD5:
		return md5.New()
	case digestSHA1:
		return sha1.New()
	case digestSHA384:
		return sha512.New384()
	case digestSHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// ComputeTbsHash returns the uppercase hex TBS hash of a DER certificate.
func ComputeTbsHash(der []byte) (string, error) {
	tbsRaw, algOID, err := splitCertificate(der)
	if err != nil {
		return "", err
	}
	kind, ok := digestByAlgorithm[algOID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algOID)
	}
	h := kind.new()
	h.Write(tbsRaw)
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}

// SignatureAlgorithmOID returns the dotted OID of the certificate's outer
// signatureAlgorithm field.
func SignatureAlgorithmOID(der []byte) (string, error) {
	_, oid, err := splitCertificate(der)
	return oid, err
}

// splitCertificate returns the encoded TBSCertificate (tag and length
// included) and the signature algorithm OID.
//
//	Certificate ::= SEQUENCE {
//	    tbsCertificate       TBSCertificate,
//	    signatureAlgorithm   AlgorithmIdentifier,
//	    signatureValue       BIT STRING }
func splitCertificate(der []byte) ([]byte, string, error) {
	input := cryptobyte.String(der)
	var cert cryptobyte.String
	if !input.ReadASN1(&cert, cbasn1.SEQUENCE) {
		return nil, "", fmt.Errorf("%w: certificate is not a SEQUENCE", ErrInvalidEncoding)
	}

	var tbsRaw cryptobyte.String
	if !cert.ReadASN1Element(&tbsRaw, cbasn1.SEQUENCE) {
		return nil, "", fmt.Errorf("%w: missing TBSCertificate", ErrInvalidEncoding)
	}

	// The outer signatureAlgorithm must equal TBSCertificate.signature
	// (RFC 5280 4.1.1.2), so it stands in for the inner copy.
	var algID cryptobyte.String
	if !cert.ReadASN1(&algID, cbasn1.SEQUENCE) {
		return nil, "", fmt.Errorf("%w: missing signatureAlgorithm", ErrInvalidEncoding)
	}
	var oid encasn1.ObjectIdentifier
	if !algID.ReadASN1ObjectIdentifier(&oid) {
		return nil, "", fmt.Errorf("%w: signatureAlgorithm has no OID", ErrInvalidEncoding)
	}

	if !cert.SkipASN1(cbasn1.BIT_STRING) {
		return nil, "", fmt.Errorf("%w: missing signatureValue", ErrInvalidEncoding)
	}
	return tbsRaw, oid.String(), nil
}
