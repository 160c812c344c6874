package authenticode

import (
	"bytes"
	"crypto/x509"
)

const maxChainLength = 16

// BuildChain orders the signer's certificate chain leaf first by following
// issuer names through the signature's bag and extraRoots. When several
// candidates share a subject, one whose key verifies the child's signature
// is preferred. The chain stops at a self-issued certificate or when no
// issuer is available; it is not validated.
func BuildChain(sig *Signature, extraRoots []*x509.Certificate) []*x509.Certificate {
	if sig == nil || sig.Signer == nil {
		return nil
	}
	pool := make([]*x509.Certificate, 0, len(sig.Certificates)+len(extraRoots))
	pool = append(pool, sig.Certificates...)
	pool = append(pool, extraRoots...)

	out := []*x509.Certificate{sig.Signer}
	cur := sig.Signer
	for len(out) < maxChainLength {
		if bytes.Equal(cur.RawIssuer, cur.RawSubject) {
			break
		}
		next := findIssuer(cur, pool, out)
		if next == nil {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

func findIssuer(child *x509.Certificate, pool, seen []*x509.Certificate) *x509.Certificate {
	var fallback *x509.Certificate
	for _, c := range pool {
		if !bytes.Equal(c.RawSubject, child.RawIssuer) || contains(seen, c) {
			continue
		}
		if child.CheckSignatureFrom(c) == nil {
			return c
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}

func contains(certs []*x509.Certificate, c *x509.Certificate) bool {
	for _, x := range certs {
		if x.Equal(c) {
			return true
		}
	}
	return false
}
