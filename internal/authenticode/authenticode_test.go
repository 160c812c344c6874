package authenticode

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdactools/wdacsim/internal/testutil"
)

type hierarchy struct {
	root, pca, leaf *testutil.Cert
}

func newHierarchy(t *testing.T, prefix string) hierarchy {
	t.Helper()
	root := testutil.NewRoot(t, prefix+" Root")
	pca := root.Issue(t, prefix+" Code Signing PCA", testutil.Options{IsCA: true})
	leaf := pca.Issue(t, prefix+" Corporation", testutil.Options{EKUs: []string{"1.3.6.1.5.5.7.3.3"}})
	return hierarchy{root: root, pca: pca, leaf: leaf}
}

func (h hierarchy) signedData(t *testing.T, program string, nested ...[]byte) []byte {
	return testutil.SignedData(t, testutil.SignedDataOptions{
		Certs:       []*x509.Certificate{h.root.Cert, h.leaf.Cert, h.pca.Cert},
		Signer:      h.leaf.Cert,
		ProgramName: program,
		Nested:      nested,
	})
}

func TestParseSignedData(t *testing.T) {
	h := newHierarchy(t, "Contoso")
	der := h.signedData(t, "Contoso Widget")

	sigs, err := ParseSignedData(der)
	require.NoError(t, err)
	require.Len(t, sigs, 1)

	sig := sigs[0]
	assert.Len(t, sig.Certificates, 3)
	require.NotNil(t, sig.Signer)
	assert.True(t, sig.Signer.Equal(h.leaf.Cert))
	assert.Equal(t, "2.16.840.1.101.3.4.2.1", sig.DigestAlgorithm)
	assert.Equal(t, der, sig.SignedMessage)
	assert.False(t, sig.Nested)
	require.Len(t, sig.SignedAttributes, 1)
	assert.Equal(t, "1.3.6.1.4.1.311.2.1.12", sig.SignedAttributes[0].Type)
}

func TestParseSignedData_Nested(t *testing.T) {
	inner := newHierarchy(t, "Fabrikam")
	outer := newHierarchy(t, "Contoso")
	der := outer.signedData(t, "", inner.signedData(t, "Fabrikam Driver"))

	sigs, err := ParseSignedData(der)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.False(t, sigs[0].Nested)
	assert.True(t, sigs[1].Nested)
	assert.True(t, sigs[0].Signer.Equal(outer.leaf.Cert))
	assert.True(t, sigs[1].Signer.Equal(inner.leaf.Cert))

	oems, err := OpusInfo(sigs[1].SignedMessage)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fabrikam Driver"}, oems)
}

func TestParseSignedData_SignerMissingFromBag(t *testing.T) {
	h := newHierarchy(t, "Contoso")
	der := testutil.SignedData(t, testutil.SignedDataOptions{
		Certs:  []*x509.Certificate{h.root.Cert},
		Signer: h.leaf.Cert,
	})
	sigs, err := ParseSignedData(der)
	require.NoError(t, err)
	assert.Nil(t, sigs[0].Signer)
	assert.Nil(t, BuildChain(sigs[0], nil))
}

func TestParseSignedData_Malformed(t *testing.T) {
	for name, input := range map[string][]byte{
		"empty":        nil,
		"not sequence": {0x04, 0x00},
		"wrong type":   {0x30, 0x05, 0x06, 0x03, 0x2a, 0x03, 0x04},
		"truncated":    {0x30, 0x20, 0x06},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSignedData(input)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestOpusInfo(t *testing.T) {
	h := newHierarchy(t, "Contoso")

	oems, err := OpusInfo(h.signedData(t, "Contoso Ünïcode"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Contoso Ünïcode"}, oems)

	ascii := testutil.SignedData(t, testutil.SignedDataOptions{
		Certs:            []*x509.Certificate{h.leaf.Cert},
		Signer:           h.leaf.Cert,
		ProgramName:      "Contoso",
		ASCIIProgramName: true,
	})
	oems, err = OpusInfo(ascii)
	require.NoError(t, err)
	assert.Equal(t, []string{"Contoso"}, oems)

	oems, err = OpusInfo(h.signedData(t, ""))
	require.NoError(t, err)
	assert.Empty(t, oems)

	_, err = OpusInfo([]byte{0x30})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestProgramName_Encodings(t *testing.T) {
	tests := map[string]struct {
		der  []byte
		want string
	}{
		"ascii":   {append([]byte{0x30, 0x0b, 0xa0, 0x09, 0x81, 0x07}, "Contoso"...), "Contoso"},
		"unicode": {testutil.OpusInfoDER(t, "Contoso Ünïcode", false), "Contoso Ünïcode"},
		"absent":  {[]byte{0x30, 0x00}, ""},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := programName(tt.der)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := programName([]byte{0x30, 0x04, 0xa0, 0x02, 0x82, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOpusInfo_SkipsUndecodableProgramName(t *testing.T) {
	h := newHierarchy(t, "Contoso")
	other := newHierarchy(t, "Fabrikam")
	der := testutil.SignedData(t, testutil.SignedDataOptions{
		Certs:       []*x509.Certificate{h.leaf.Cert, other.leaf.Cert},
		Signer:      h.leaf.Cert,
		RawOpusInfo: []byte{0x30, 0x04, 0xa0, 0x02, 0x82, 0x00},
		ExtraSigners: []testutil.SignerOptions{
			{Cert: other.leaf.Cert, ProgramName: "Fabrikam Driver", ASCIIProgramName: true},
		},
	})

	oems, err := OpusInfo(der)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fabrikam Driver"}, oems)

	sigs, err := ParseSignedData(der)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.True(t, sigs[0].Signer.Equal(h.leaf.Cert))
}

func TestBuildChain(t *testing.T) {
	h := newHierarchy(t, "Contoso")
	other := newHierarchy(t, "Fabrikam")

	sigs, err := ParseSignedData(h.signedData(t, ""))
	require.NoError(t, err)
	chain := BuildChain(sigs[0], []*x509.Certificate{other.root.Cert})
	require.Len(t, chain, 3)
	assert.True(t, chain[0].Equal(h.leaf.Cert))
	assert.True(t, chain[1].Equal(h.pca.Cert))
	assert.True(t, chain[2].Equal(h.root.Cert))
}

func TestBuildChain_ExtraRoots(t *testing.T) {
	h := newHierarchy(t, "Contoso")
	der := testutil.SignedData(t, testutil.SignedDataOptions{
		Certs:  []*x509.Certificate{h.leaf.Cert, h.pca.Cert},
		Signer: h.leaf.Cert,
	})
	sigs, err := ParseSignedData(der)
	require.NoError(t, err)

	assert.Len(t, BuildChain(sigs[0], nil), 2)

	chain := BuildChain(sigs[0], []*x509.Certificate{h.root.Cert})
	require.Len(t, chain, 3)
	assert.True(t, chain[2].Equal(h.root.Cert))
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.exe")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadSignatures(t *testing.T) {
	h := newHierarchy(t, "Contoso")
	second := newHierarchy(t, "Fabrikam")
	image := testutil.BuildPE(t, testutil.PEOptions{
		Sections:   []testutil.Section{{Name: ".text", Data: []byte{0xc3}}},
		Signatures: [][]byte{h.signedData(t, "Contoso"), second.signedData(t, "")},
	})

	sigs, err := ReadSignatures(writeFile(t, image))
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.True(t, sigs[0].Signer.Equal(h.leaf.Cert))
	assert.True(t, sigs[1].Signer.Equal(second.leaf.Cert))
}

func TestReadSignatures_Unsigned(t *testing.T) {
	image := testutil.BuildPE(t, testutil.PEOptions{
		Sections: []testutil.Section{{Name: ".text", Data: []byte{0xc3}}},
	})
	_, err := ReadSignatures(writeFile(t, image))
	assert.ErrorIs(t, err, ErrNotSigned)
}

func TestReadSignatures_NotPE(t *testing.T) {
	_, err := ReadSignatures(writeFile(t, []byte("#!/bin/sh\necho hi\n")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotPE)
	assert.NotErrorIs(t, err, ErrNotSigned)

	_, err = ReadSignatures(filepath.Join(t.TempDir(), "missing.exe"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDigests_ExcludeSignature(t *testing.T) {
	h := newHierarchy(t, "Contoso")
	sections := []testutil.Section{{Name: ".text", Data: []byte{0x55, 0x8b, 0xec, 0xc3}}}

	unsigned, err := Digests(writeFile(t, testutil.BuildPE(t, testutil.PEOptions{Sections: sections})))
	require.NoError(t, err)
	signed, err := Digests(writeFile(t, testutil.BuildPE(t, testutil.PEOptions{
		Sections:   sections,
		Signatures: [][]byte{h.signedData(t, "Contoso")},
	})))
	require.NoError(t, err)

	assert.Equal(t, unsigned, signed)
	assert.Len(t, signed[SHA1], 40)
	assert.Len(t, signed[SHA256], 64)

	changed, err := Digests(writeFile(t, testutil.BuildPE(t, testutil.PEOptions{
		Sections: []testutil.Section{{Name: ".text", Data: []byte{0x90, 0x8b, 0xec, 0xc3}}},
	})))
	require.NoError(t, err)
	assert.NotEqual(t, unsigned[SHA256], changed[SHA256])
}

func TestFlatDigests(t *testing.T) {
	script := []byte("Write-Host 'hello'\r\n")
	got, err := FlatDigests(writeFile(t, script))
	require.NoError(t, err)

	s1 := sha1.Sum(script)
	s256 := sha256.Sum256(script)
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(s1[:])), got[SHA1])
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(s256[:])), got[SHA256])

	_, err = Digests(writeFile(t, script))
	assert.ErrorIs(t, err, ErrNotPE)
}

func TestTrimDER(t *testing.T) {
	assert.Equal(t, []byte{0x30, 0x01, 0xaa}, trimDER([]byte{0x30, 0x01, 0xaa, 0x00, 0x00}))
	assert.Equal(t, []byte{0x04, 0x00, 0x00}, trimDER([]byte{0x04, 0x00, 0x00}))
}
