package signers

import "strings"

// Scope is the signing scenario a signer applies to.
type Scope string

const (
	ScopeUserMode   Scope = "UserMode"
	ScopeKernelMode Scope = "KernelMode"
)

// Constraint keys recorded for a FileAttrib entry.
const (
	KeyOriginalFileName   = "OriginalFileName"
	KeyInternalName       = "InternalName"
	KeyFileDescription    = "FileDescription"
	KeyProductName        = "ProductName"
	KeyVersion            = "Version"
	KeyMinimumFileVersion = "MinimumFileVersion"
	KeyMaximumFileVersion = "MaximumFileVersion"
)

// FileAttrib is one resolved FileAttribRef: the file-name constraint (at
// most one of the name keys) plus optional version bounds.
type FileAttrib struct {
	RuleID string `json:"rule_id" yaml:"rule_id"`
	// SpecificFileNameLevel names the key that carries the file-name
	// constraint, empty when the rule only bounds versions.
	SpecificFileNameLevel string            `json:"specific_file_name_level,omitempty" yaml:"specific_file_name_level,omitempty"`
	Constraints           map[string]string `json:"constraints" yaml:"constraints"`
}

// Get returns the constraint stored under key.
func (f FileAttrib) Get(key string) (string, bool) {
	v, ok := f.Constraints[key]
	return v, ok
}

// Signer is a normalized policy signer. Values are never mutated after
// extraction.
type Signer struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	CertRoot      string   `json:"cert_root" yaml:"cert_root"`
	CertPublisher *string  `json:"cert_publisher,omitempty" yaml:"cert_publisher,omitempty"`
	CertIssuer    *string  `json:"cert_issuer,omitempty" yaml:"cert_issuer,omitempty"`
	CertEKUs      []string `json:"cert_ekus,omitempty" yaml:"cert_ekus,omitempty"`
	CertOemID     *string  `json:"cert_oem_id,omitempty" yaml:"cert_oem_id,omitempty"`
	// FileAttribRefs lists every referenced rule ID, resolved or not.
	FileAttribRefs []string `json:"file_attrib_refs,omitempty" yaml:"file_attrib_refs,omitempty"`
	// FileAttribs holds the resolved references in reference order.
	FileAttribs []FileAttrib `json:"file_attribs,omitempty" yaml:"file_attribs,omitempty"`
	Scope       Scope        `json:"scope" yaml:"scope"`
	IsWHQL      bool         `json:"is_whql" yaml:"is_whql"`
	IsAllowed   bool         `json:"is_allowed" yaml:"is_allowed"`
	HasEKU      bool         `json:"has_eku" yaml:"has_eku"`
}

// HasFileAttribs reports whether at least one FileAttribRef resolved.
func (s *Signer) HasFileAttribs() bool {
	return len(s.FileAttribs) > 0
}

// HasFileAttribRefs reports whether the signer references any FileAttrib,
// resolved or not.
func (s *Signer) HasFileAttribRefs() bool {
	return len(s.FileAttribRefs) > 0
}

// FileAttrib returns the resolved rule with the given ID.
func (s *Signer) FileAttrib(ruleID string) (FileAttrib, bool) {
	for _, fa := range s.FileAttribs {
		if strings.EqualFold(fa.RuleID, ruleID) {
			return fa, true
		}
	}
	return FileAttrib{}, false
}

func strPtr(s string) *string { return &s }
