package scan

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdactools/wdacsim/internal/arbiter"
	"github.com/wdactools/wdacsim/internal/authenticode"
	"github.com/wdactools/wdacsim/internal/report"
	"github.com/wdactools/wdacsim/internal/tbs"
	"github.com/wdactools/wdacsim/internal/testutil"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type publisher struct {
	root, pca, leaf *testutil.Cert
}

func newPublisher(t *testing.T, name string) publisher {
	t.Helper()
	root := testutil.NewRoot(t, name+" Root")
	pca := root.Issue(t, name+" Code Signing PCA", testutil.Options{IsCA: true})
	leaf := pca.Issue(t, name+" Corporation", testutil.Options{EKUs: []string{"1.3.6.1.5.5.7.3.3"}})
	return publisher{root: root, pca: pca, leaf: leaf}
}

func (p publisher) pcaTBS(t *testing.T) string {
	t.Helper()
	v, err := tbs.ComputeTbsHash(p.pca.Cert.Raw)
	require.NoError(t, err)
	return v
}

func (p publisher) signedData(t *testing.T, withRoot bool) []byte {
	certs := []*x509.Certificate{p.leaf.Cert, p.pca.Cert}
	if withRoot {
		certs = append(certs, p.root.Cert)
	}
	return testutil.SignedData(t, testutil.SignedDataOptions{
		Certs:       certs,
		Signer:      p.leaf.Cert,
		ProgramName: "Test Program",
	})
}

func text() testutil.Section {
	return testutil.Section{Name: ".text", Data: []byte{0x55, 0x8b, 0xec, 0xc3}}
}

func versioned(name string, v [4]uint16) testutil.Section {
	return testutil.VersionSection(testutil.VersionOptions{
		FileVersion: v,
		Strings:     map[string]string{"OriginalFilename": name},
		Keys:        []string{"OriginalFilename"},
	})
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type fixture struct {
	root    string
	policy  string
	contoso publisher
	fab     publisher
}

// newFixture lays out a scan tree and a policy that allows:
//   - bin/hashed.exe by Authenticode hash
//   - run.ps1 by flat hash
//   - anything under C:\Tools by path
//   - Contoso signed files at Publisher level
//   - Fabrikam app.exe 1.0 and later at FilePublisher level
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		root:    filepath.Join(t.TempDir(), "scan"),
		contoso: newPublisher(t, "Contoso"),
		fab:     newPublisher(t, "Fabrikam"),
	}

	hashed := writeFile(t, filepath.Join(f.root, "bin", "hashed.exe"), testutil.BuildPE(t, testutil.PEOptions{
		Sections: []testutil.Section{{Name: ".text", Data: []byte{0x90, 0x90, 0xc3}}},
	}))
	digests, err := authenticode.Digests(hashed)
	require.NoError(t, err)

	script := []byte("Write-Host 'ok'\r\n")
	writeFile(t, filepath.Join(f.root, "run.ps1"), script)
	scriptSum := sha256.Sum256(script)

	writeFile(t, filepath.Join(f.root, "tools", "helper.exe"), testutil.BuildPE(t, testutil.PEOptions{
		Sections: []testutil.Section{{Name: ".text", Data: []byte{0xcc, 0xc3}}},
	}))
	writeFile(t, filepath.Join(f.root, "bin", "unsigned.exe"), testutil.BuildPE(t, testutil.PEOptions{
		Sections: []testutil.Section{text()},
	}))
	writeFile(t, filepath.Join(f.root, "bin", "contoso.exe"), testutil.BuildPE(t, testutil.PEOptions{
		Sections:   []testutil.Section{text()},
		Signatures: [][]byte{f.contoso.signedData(t, true)},
	}))
	writeFile(t, filepath.Join(f.root, "bin", "app.exe"), testutil.BuildPE(t, testutil.PEOptions{
		Sections:   []testutil.Section{text(), versioned("app.exe", [4]uint16{2, 1, 0, 0})},
		Signatures: [][]byte{f.fab.signedData(t, true)},
	}))
	writeFile(t, filepath.Join(f.root, "bin", "old", "app.exe"), testutil.BuildPE(t, testutil.PEOptions{
		Sections:   []testutil.Section{text(), versioned("app.exe", [4]uint16{0, 9, 0, 0})},
		Signatures: [][]byte{f.fab.signedData(t, true)},
	}))
	writeFile(t, filepath.Join(f.root, "bin", "readme.txt"), []byte("not scanned"))

	f.policy = writeFile(t, filepath.Join(t.TempDir(), "policy.xml"), []byte(fmt.Sprintf(policyTemplate,
		digests[authenticode.SHA256],
		strings.ToUpper(hex.EncodeToString(scriptSum[:])),
		f.contoso.pcaTBS(t),
		f.fab.pcaTBS(t),
	)))
	return f
}

const policyTemplate = `<?xml version="1.0" encoding="utf-8"?>
<SiPolicy xmlns="urn:schemas-microsoft-com:sipolicy" PolicyType="Base Policy">
  <PolicyID>{11111111-2222-3333-4444-555555555555}</PolicyID>
  <Rules>
    <Rule><Option>Enabled:Audit Mode</Option></Rule>
  </Rules>
  <FileRules>
    <Allow ID="ID_ALLOW_HASH" FriendlyName="hashed.exe" Hash="%s" />
    <Allow ID="ID_ALLOW_SCRIPT" FriendlyName="run.ps1" Hash="%s" />
    <Allow ID="ID_ALLOW_TOOLS" FriendlyName="tools" FilePath="%%OSDRIVE%%\Tools\*" />
    <FileAttrib ID="ID_FILEATTRIB_APP" FriendlyName="app" FileName="app.exe" MinimumFileVersion="1.0.0.0" />
  </FileRules>
  <Signers>
    <Signer ID="ID_SIGNER_CONTOSO" Name="Contoso Code Signing PCA">
      <CertRoot Type="TBS" Value="%s" />
      <CertPublisher Value="Contoso Corporation" />
    </Signer>
    <Signer ID="ID_SIGNER_FABRIKAM" Name="Fabrikam Code Signing PCA">
      <CertRoot Type="TBS" Value="%s" />
      <CertPublisher Value="Fabrikam Corporation" />
      <FileAttribRef RuleID="ID_FILEATTRIB_APP" />
    </Signer>
  </Signers>
  <SigningScenarios>
    <SigningScenario Value="12" ID="ID_SIGNINGSCENARIO_WINDOWS" FriendlyName="User">
      <ProductSigners>
        <AllowedSigners>
          <AllowedSigner SignerId="ID_SIGNER_CONTOSO" />
          <AllowedSigner SignerId="ID_SIGNER_FABRIKAM" />
        </AllowedSigners>
        <FileRulesRef>
          <FileRuleRef RuleID="ID_ALLOW_HASH" />
          <FileRuleRef RuleID="ID_ALLOW_SCRIPT" />
          <FileRuleRef RuleID="ID_ALLOW_TOOLS" />
        </FileRulesRef>
      </ProductSigners>
    </SigningScenario>
  </SigningScenarios>
</SiPolicy>`

func (f *fixture) scanner(t *testing.T, opts Options) *Scanner {
	t.Helper()
	policy, err := LoadPolicy(f.policy, PolicyOptions{Logger: quietLogger})
	require.NoError(t, err)
	if opts.Extensions == nil {
		opts.Extensions = []string{".exe", ".dll", "ps1"}
	}
	if opts.MountAs == "" {
		opts.MountAs = `C:\`
	}
	opts.Logger = quietLogger
	s, err := New(policy, opts)
	require.NoError(t, err)
	return s
}

func byRelPath(t *testing.T, root string, rep *report.Report) map[string]arbiter.Output {
	t.Helper()
	out := make(map[string]arbiter.Output, len(rep.Results))
	for _, r := range rep.Results {
		rel, err := filepath.Rel(root, r.Path)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = r
	}
	return out
}

func TestLoadPolicy(t *testing.T) {
	f := newFixture(t)
	p, err := LoadPolicy(f.policy, PolicyOptions{Logger: quietLogger})
	require.NoError(t, err)

	assert.Equal(t, "{11111111-2222-3333-4444-555555555555}", p.PolicyID)
	assert.True(t, p.AuditMode)
	assert.False(t, p.AllowsAll())
	assert.Len(t, p.Signers, 2)
	assert.Len(t, p.Hashes, 2)
	assert.Equal(t, 1, p.Paths.Len())
}

func TestLoadPolicy_Missing(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.xml"), PolicyOptions{Logger: quietLogger})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_Decisions(t *testing.T) {
	f := newFixture(t)
	rep, err := f.scanner(t, Options{Workers: 3}).Run(context.Background(), []string{f.root})
	require.NoError(t, err)
	require.Empty(t, rep.Errors)

	got := byRelPath(t, f.root, rep)
	require.Len(t, got, 7, "readme.txt is filtered by extension")

	tests := []struct {
		path       string
		authorized bool
		level      arbiter.MatchLevel
		source     string
		id         string
	}{
		{"bin/hashed.exe", true, arbiter.LevelFileHash, arbiter.SourceHashRule, "ID_ALLOW_HASH"},
		{"run.ps1", true, arbiter.LevelFileHash, arbiter.SourceHashRule, "ID_ALLOW_SCRIPT"},
		{"tools/helper.exe", true, arbiter.LevelFilePath, arbiter.SourcePathRule, "ID_ALLOW_TOOLS"},
		{"bin/unsigned.exe", false, arbiter.LevelNoMatch, "", ""},
		{"bin/contoso.exe", true, arbiter.LevelPublisher, arbiter.SourceSigner, "ID_SIGNER_CONTOSO"},
		{"bin/app.exe", true, arbiter.LevelFilePublisher, arbiter.SourceSigner, "ID_SIGNER_FABRIKAM"},
		{"bin/old/app.exe", false, arbiter.LevelNoMatch, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			out, ok := got[tt.path]
			require.True(t, ok)
			assert.Equal(t, tt.authorized, out.IsAuthorized)
			assert.Equal(t, tt.level, out.Level)
			assert.Equal(t, tt.source, out.Source)
			if tt.source == arbiter.SourceSigner {
				assert.Equal(t, tt.id, out.SignerID)
			} else {
				assert.Equal(t, tt.id, out.RuleID)
			}
		})
	}

	app := got["bin/app.exe"]
	assert.Equal(t, "ID_FILEATTRIB_APP", app.FileAttribRef)
	assert.Equal(t, "OriginalFileName", app.SpecificFileNameLevel)
	assert.Equal(t, "Fabrikam Code Signing PCA", app.SubjectCN)

	assert.Equal(t, 7, rep.Summary.Files)
	assert.Equal(t, 5, rep.Summary.Allowed)
	assert.Equal(t, 2, rep.Summary.Blocked)
	assert.True(t, rep.AuditMode)
	assert.NotEmpty(t, rep.ScanID)
}

func TestRun_ResultsSortedByPath(t *testing.T) {
	f := newFixture(t)
	rep, err := f.scanner(t, Options{Workers: 4}).Run(context.Background(), []string{f.root})
	require.NoError(t, err)
	for i := 1; i < len(rep.Results); i++ {
		assert.Less(t, rep.Results[i-1].Path, rep.Results[i].Path)
	}
}

func TestRun_IncludeExclude(t *testing.T) {
	f := newFixture(t)
	s := f.scanner(t, Options{
		Include: []string{"bin/**"},
		Exclude: []string{"bin/old"},
	})
	rep, err := s.Run(context.Background(), []string{f.root})
	require.NoError(t, err)

	got := byRelPath(t, f.root, rep)
	assert.Contains(t, got, "bin/app.exe")
	assert.NotContains(t, got, "bin/old/app.exe")
	assert.NotContains(t, got, "run.ps1")
	assert.NotContains(t, got, "tools/helper.exe")
}

func TestRun_WithoutMountPathRulesMiss(t *testing.T) {
	f := newFixture(t)
	policy, err := LoadPolicy(f.policy, PolicyOptions{Logger: quietLogger})
	require.NoError(t, err)
	s, err := New(policy, Options{Logger: quietLogger})
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), []string{filepath.Join(f.root, "tools", "helper.exe")})
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.False(t, rep.Results[0].IsAuthorized)
}

func TestRun_CustomMacros(t *testing.T) {
	f := newFixture(t)
	policy, err := LoadPolicy(f.policy, PolicyOptions{
		Logger: quietLogger,
		Macros: map[string]string{"%OSDRIVE%": "D:"},
	})
	require.NoError(t, err)
	s, err := New(policy, Options{Logger: quietLogger, MountAs: `D:\`, Include: []string{"tools/**"}})
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), []string{f.root})
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, arbiter.LevelFilePath, rep.Results[0].Level)
}

func TestRun_MalformedFileIsReported(t *testing.T) {
	f := newFixture(t)
	image := testutil.BuildPE(t, testutil.PEOptions{
		Sections:   []testutil.Section{text()},
		Signatures: [][]byte{[]byte("not a signature")},
	})
	writeFile(t, filepath.Join(f.root, "bin", "broken.exe"), image)

	rep, err := f.scanner(t, Options{}).Run(context.Background(), []string{f.root})
	require.NoError(t, err)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, filepath.Join(f.root, "bin", "broken.exe"), rep.Errors[0].Path)
	assert.Equal(t, 1, rep.Summary.Errors)
}

func TestRun_AllowAll(t *testing.T) {
	dir := t.TempDir()
	policy := writeFile(t, filepath.Join(dir, "allowall.xml"), []byte(`<SiPolicy xmlns="urn:schemas-microsoft-com:sipolicy">
  <FileRules><Allow ID="ID_ALLOW_A_1" FileName="*" /></FileRules>
</SiPolicy>`))
	file := writeFile(t, filepath.Join(dir, "x.exe"), []byte("anything"))

	p, err := LoadPolicy(policy, PolicyOptions{Logger: quietLogger})
	require.NoError(t, err)
	s, err := New(p, Options{Logger: quietLogger})
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), []string{file})
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, arbiter.LevelAllowAllRule, rep.Results[0].Level)
	assert.Equal(t, "ID_ALLOW_A_1", rep.Results[0].RuleID)
}

func TestRun_MissingRoot(t *testing.T) {
	f := newFixture(t)
	_, err := f.scanner(t, Options{}).Run(context.Background(), []string{filepath.Join(f.root, "absent")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.scanner(t, Options{}).Run(ctx, []string{f.root})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrepare_ExtraRootsCompleteChain(t *testing.T) {
	f := newFixture(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "noroot.exe"), testutil.BuildPE(t, testutil.PEOptions{
		Sections:   []testutil.Section{text()},
		Signatures: [][]byte{f.contoso.signedData(t, false)},
	}))

	without := f.scanner(t, Options{})
	in, err := without.Prepare(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, in.Chains, 1)
	assert.Equal(t, "Contoso Code Signing PCA", in.Chains[0].Root.SubjectCN)

	with := f.scanner(t, Options{ExtraRoots: []*x509.Certificate{f.contoso.root.Cert}})
	in, err = with.Prepare(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, in.Chains, 1)
	assert.Equal(t, "Contoso Root", in.Chains[0].Root.SubjectCN)
	require.Len(t, in.Chains[0].Intermediates, 1)
	assert.Equal(t, []string{"1.3.6.1.5.5.7.3.3"}, in.EKUs)
}

func TestPrepare_Unsigned(t *testing.T) {
	f := newFixture(t)
	in, err := f.scanner(t, Options{}).Prepare(context.Background(), filepath.Join(f.root, "bin", "unsigned.exe"))
	require.NoError(t, err)
	assert.Empty(t, in.Chains)
	assert.Empty(t, in.EKUs)
}

func TestPrepare_VersionAttributes(t *testing.T) {
	f := newFixture(t)
	in, err := f.scanner(t, Options{}).Prepare(context.Background(), filepath.Join(f.root, "bin", "app.exe"))
	require.NoError(t, err)
	assert.Equal(t, "app.exe", in.Attributes.OriginalFileName)
	assert.Equal(t, "2.1.0.0", in.Attributes.Version)
}

func TestWithPolicy(t *testing.T) {
	f := newFixture(t)
	s := f.scanner(t, Options{})
	other := &PolicySet{Path: "other.xml"}
	cp := s.WithPolicy(other)
	assert.Same(t, other, cp.Policy())
	assert.NotSame(t, other, s.Policy())
}

func TestNew_InvalidGlob(t *testing.T) {
	_, err := New(&PolicySet{}, Options{Include: []string{"[unterminated"}})
	assert.Error(t, err)
}

func TestLoadCertificates(t *testing.T) {
	p := newPublisher(t, "Contoso")
	dir := t.TempDir()

	pemPath := filepath.Join(dir, "roots.pem")
	var pemData []byte
	for _, c := range []*x509.Certificate{p.root.Cert, p.pca.Cert} {
		pemData = append(pemData, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	require.NoError(t, os.WriteFile(pemPath, pemData, 0o644))
	derPath := filepath.Join(dir, "leaf.cer")
	require.NoError(t, os.WriteFile(derPath, p.leaf.Cert.Raw, 0o644))

	certs, err := LoadCertificates([]string{pemPath, derPath})
	require.NoError(t, err)
	require.Len(t, certs, 3)
	assert.Equal(t, "Contoso Root", certs[0].Subject.CommonName)
	assert.Equal(t, "Contoso Corporation", certs[2].Subject.CommonName)

	bad := filepath.Join(dir, "bad.cer")
	require.NoError(t, os.WriteFile(bad, []byte("junk"), 0o644))
	_, err = LoadCertificates([]string{bad})
	assert.Error(t, err)
}
