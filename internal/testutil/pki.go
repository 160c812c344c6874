// Package testutil builds throwaway certificate hierarchies for tests.
package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync/atomic"
	"testing"
	"time"
)

var serial atomic.Int64

// Cert is a generated certificate with its private key.
type Cert struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Options tweak a generated certificate.
type Options struct {
	// EKUs are dotted OIDs written verbatim into the EKU extension.
	EKUs      []string
	IsCA      bool
	NotBefore time.Time
	NotAfter  time.Time
	// Subject overrides the default subject built from the common name.
	Subject *pkix.Name
}

// NewRoot creates a self-signed CA certificate.
func NewRoot(t testing.TB, cn string) *Cert {
	t.Helper()
	return issue(t, cn, nil, Options{IsCA: true})
}

// Issue creates a certificate signed by parent.
func (c *Cert) Issue(t testing.TB, cn string, opts Options) *Cert {
	t.Helper()
	return issue(t, cn, c, opts)
}

func issue(t testing.TB, cn string, parent *Cert, opts Options) *Cert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	notAfter := opts.NotAfter
	if notAfter.IsZero() {
		notAfter = time.Date(2045, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	subject := pkix.Name{CommonName: cn}
	if opts.Subject != nil {
		subject = *opts.Subject
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  opts.IsCA,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	if len(opts.EKUs) > 0 {
		ext, err := ekuExtension(opts.EKUs)
		if err != nil {
			t.Fatalf("eku extension: %v", err)
		}
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, ext)
	}

	signerCert, signerKey := tmpl, crypto.Signer(key)
	if parent != nil {
		signerCert, signerKey = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatalf("create certificate %q: %v", cn, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate %q: %v", cn, err)
	}
	return &Cert{Cert: cert, Key: key}
}

func ekuExtension(oids []string) (pkix.Extension, error) {
	parsed := make([]asn1.ObjectIdentifier, 0, len(oids))
	for _, s := range oids {
		oid, err := parseOID(s)
		if err != nil {
			return pkix.Extension{}, err
		}
		parsed = append(parsed, oid)
	}
	val, err := asn1.Marshal(parsed)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: asn1.ObjectIdentifier{2, 5, 29, 37}, Value: val}, nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	var oid asn1.ObjectIdentifier
	n := 0
	digits := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if digits == 0 {
				return nil, &oidError{s}
			}
			oid = append(oid, n)
			n, digits = 0, 0
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			return nil, &oidError{s}
		}
		n = n*10 + int(s[i]-'0')
		digits++
	}
	return oid, nil
}

type oidError struct{ s string }

func (e *oidError) Error() string { return "invalid oid " + e.s }
