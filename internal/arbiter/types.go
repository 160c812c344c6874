package arbiter

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/wdactools/wdacsim/internal/chain"
	"github.com/wdactools/wdacsim/internal/signers"
)

// Output sources.
const (
	SourceAllowAll = "allow_all"
	SourceHashRule = "hash_rule"
	SourcePathRule = "path_rule"
	// SourceSigner tags outputs produced by signer arbitration.
	SourceSigner = "signer"
)

// FileAttributes are the version-resource attributes of a scanned file.
// Empty fields are absent.
type FileAttributes struct {
	OriginalFileName string `json:"original_file_name,omitempty" yaml:"original_file_name,omitempty"`
	InternalName     string `json:"internal_name,omitempty" yaml:"internal_name,omitempty"`
	ProductName      string `json:"product_name,omitempty" yaml:"product_name,omitempty"`
	FileDescription  string `json:"file_description,omitempty" yaml:"file_description,omitempty"`
	Version          string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Get returns the attribute stored under a FileAttrib constraint key.
func (a FileAttributes) Get(key string) string {
	switch key {
	case signers.KeyOriginalFileName:
		return a.OriginalFileName
	case signers.KeyInternalName:
		return a.InternalName
	case signers.KeyProductName:
		return a.ProductName
	case signers.KeyFileDescription:
		return a.FileDescription
	case signers.KeyVersion:
		return a.Version
	}
	return ""
}

// Input is everything the engine needs to decide one file.
type Input struct {
	Path       string
	Attributes FileAttributes
	// EKUs are the dotted EKU OIDs found on the file's own certificates.
	EKUs    []string
	Signers []signers.Signer
	Chains  []*chain.Package
}

// Output is the decision for one file.
type Output struct {
	FileName     string     `json:"file_name" yaml:"file_name"`
	Path         string     `json:"path" yaml:"path"`
	Source       string     `json:"source,omitempty" yaml:"source,omitempty"`
	IsAuthorized bool       `json:"is_authorized" yaml:"is_authorized"`
	Level        MatchLevel `json:"level" yaml:"level"`

	SignerID      string        `json:"signer_id,omitempty" yaml:"signer_id,omitempty"`
	SignerName    string        `json:"signer_name,omitempty" yaml:"signer_name,omitempty"`
	CertRoot      string        `json:"cert_root,omitempty" yaml:"cert_root,omitempty"`
	CertPublisher string        `json:"cert_publisher,omitempty" yaml:"cert_publisher,omitempty"`
	Scope         signers.Scope `json:"scope,omitempty" yaml:"scope,omitempty"`
	FileAttribRef string        `json:"file_attrib_ref,omitempty" yaml:"file_attrib_ref,omitempty"`
	// SpecificFileNameLevel is the constraint key that matched, if any.
	SpecificFileNameLevel string `json:"specific_file_name_level,omitempty" yaml:"specific_file_name_level,omitempty"`
	// RuleID names the file rule for hash and path decisions.
	RuleID string `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`

	SubjectCN string    `json:"subject_cn,omitempty" yaml:"subject_cn,omitempty"`
	IssuerCN  string    `json:"issuer_cn,omitempty" yaml:"issuer_cn,omitempty"`
	NotAfter  time.Time `json:"not_after,omitempty" yaml:"not_after,omitempty"`
	TBSValue  string    `json:"tbs_value,omitempty" yaml:"tbs_value,omitempty"`
}

// NotAllowed returns the blocked decision for path.
func NotAllowed(path string) Output {
	return Output{FileName: baseName(path), Path: path, Level: LevelNoMatch}
}

// Allowed returns an authorized decision for a file rule match.
func Allowed(path, source string, level MatchLevel, ruleID string) Output {
	return Output{
		FileName:     baseName(path),
		Path:         path,
		Source:       source,
		IsAuthorized: true,
		Level:        level,
		RuleID:       ruleID,
	}
}

// baseName handles both separators since scanned paths may come from
// either platform.
func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return filepath.Base(path)
}
