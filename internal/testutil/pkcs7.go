package testutil

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"testing"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/text/encoding/unicode"
)

var (
	oidSignedData      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidSpcIndirectData = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 4}
	oidSpcSpOpusInfo   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 12}
	oidNestedSignature = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 4, 1}
	oidSHA256          = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
)

// SignedDataOptions describe a PKCS#7 SignedData blob. The signature value
// is random; nothing verifies it.
type SignedDataOptions struct {
	Certs  []*x509.Certificate
	Signer *x509.Certificate
	// ProgramName is written as the SpcSpOpusInfo programName. Empty omits
	// the attribute.
	ProgramName string
	// ASCIIProgramName encodes ProgramName as IA5String instead of BMPString.
	ASCIIProgramName bool
	// RawOpusInfo replaces the encoded SpcSpOpusInfo value verbatim.
	RawOpusInfo []byte
	// Nested are ContentInfo blobs attached as nested signatures.
	Nested [][]byte
	// ExtraSigners add SignerInfos after the primary one.
	ExtraSigners []SignerOptions
}

// SignerOptions describe one additional SignerInfo.
type SignerOptions struct {
	Cert             *x509.Certificate
	ProgramName      string
	ASCIIProgramName bool
	RawOpusInfo      []byte
}

// OpusInfoDER encodes an SpcSpOpusInfo carrying programName.
func OpusInfoDER(t testing.TB, programName string, ascii bool) []byte {
	t.Helper()
	var b cryptobyte.Builder
	addOpusInfo(t, &b, programName, ascii)
	der, err := b.Bytes()
	if err != nil {
		t.Fatalf("encode opus info: %v", err)
	}
	return der
}

// SignedData encodes a ContentInfo wrapping SignedData.
func SignedData(t testing.TB, opts SignedDataOptions) []byte {
	t.Helper()
	var signers []SignerOptions
	if opts.Signer != nil {
		signers = append(signers, SignerOptions{
			Cert:             opts.Signer,
			ProgramName:      opts.ProgramName,
			ASCIIProgramName: opts.ASCIIProgramName,
			RawOpusInfo:      opts.RawOpusInfo,
		})
	}
	signers = append(signers, opts.ExtraSigners...)

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oidSignedData)
		b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(1)
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
					addAlgorithm(b, oidSHA256)
				})
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(oidSpcIndirectData)
				})
				b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
					for _, c := range opts.Certs {
						b.AddBytes(c.Raw)
					}
				})
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
					for i, s := range signers {
						var nested [][]byte
						if i == 0 {
							nested = opts.Nested
						}
						addSignerInfo(t, b, s, nested)
					}
				})
			})
		})
	})
	der, err := b.Bytes()
	if err != nil {
		t.Fatalf("encode signed data: %v", err)
	}
	return der
}

func addSignerInfo(t testing.TB, b *cryptobyte.Builder, s SignerOptions, nested [][]byte) {
	sig := make([]byte, 64)
	if _, err := rand.Read(sig); err != nil {
		t.Fatalf("random signature: %v", err)
	}
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(1)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddBytes(s.Cert.RawIssuer)
			b.AddASN1BigInt(s.Cert.SerialNumber)
		})
		addAlgorithm(b, oidSHA256)
		if s.ProgramName != "" || s.RawOpusInfo != nil {
			b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
				addAttribute(b, oidSpcSpOpusInfo, func(b *cryptobyte.Builder) {
					if s.RawOpusInfo != nil {
						b.AddBytes(s.RawOpusInfo)
						return
					}
					addOpusInfo(t, b, s.ProgramName, s.ASCIIProgramName)
				})
			})
		}
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidECDSAWithSHA256)
		})
		b.AddASN1OctetString(sig)
		if len(nested) > 0 {
			b.AddASN1(cbasn1.Tag(1).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
				addAttribute(b, oidNestedSignature, func(b *cryptobyte.Builder) {
					for _, n := range nested {
						b.AddBytes(n)
					}
				})
			})
		}
	})
}

//	SpcSpOpusInfo ::= SEQUENCE { programName [0] EXPLICIT SpcString OPTIONAL, ... }
func addOpusInfo(t testing.TB, b *cryptobyte.Builder, programName string, ascii bool) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			if ascii {
				b.AddASN1(cbasn1.Tag(1).ContextSpecific(), func(b *cryptobyte.Builder) {
					b.AddBytes([]byte(programName))
				})
				return
			}
			enc, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(programName))
			if err != nil {
				t.Fatalf("encode program name: %v", err)
			}
			b.AddASN1(cbasn1.Tag(0).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes(enc)
			})
		})
	})
}

func addAlgorithm(b *cryptobyte.Builder, oid asn1.ObjectIdentifier) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		b.AddASN1NULL()
	})
}

func addAttribute(b *cryptobyte.Builder, oid asn1.ObjectIdentifier, values cryptobyte.BuilderContinuation) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		b.AddASN1(cbasn1.SET, values)
	})
}
