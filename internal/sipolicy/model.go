// Package sipolicy decodes code-integrity policy XML documents.
//
// Only the elements the simulator reads are modelled; unknown elements and
// attributes are ignored so newer schema revisions still load.
package sipolicy

import "encoding/xml"

// Namespace is the SiPolicy XML namespace.
const Namespace = "urn:schemas-microsoft-com:sipolicy"

// Signing scenario values.
const (
	ScenarioKernelMode = 131
	ScenarioUserMode   = 12
)

type Policy struct {
	XMLName          xml.Name
	PolicyType       string            `xml:"PolicyType,attr"`
	VersionEx        string            `xml:"VersionEx"`
	PolicyID         string            `xml:"PolicyID"`
	BasePolicyID     string            `xml:"BasePolicyID"`
	PlatformID       string            `xml:"PlatformID"`
	Rules            []RuleOption      `xml:"Rules>Rule"`
	EKUs             []EKU             `xml:"EKUs>EKU"`
	FileRules        FileRules         `xml:"FileRules"`
	Signers          []Signer          `xml:"Signers>Signer"`
	SigningScenarios []SigningScenario `xml:"SigningScenarios>SigningScenario"`
}

type RuleOption struct {
	Option string `xml:"Option"`
}

type EKU struct {
	ID           string `xml:"ID,attr"`
	Value        string `xml:"Value,attr"`
	FriendlyName string `xml:"FriendlyName,attr"`
}

// FileRules keeps Allow, Deny and FileAttrib nodes in their own slices.
type FileRules struct {
	Allow      []FileRule `xml:"Allow"`
	Deny       []FileRule `xml:"Deny"`
	FileAttrib []FileRule `xml:"FileAttrib"`
}

// FileRule is the shared shape of Allow, Deny and FileAttrib nodes.
// FileName holds the OriginalFileName constraint.
type FileRule struct {
	ID                 string  `xml:"ID,attr"`
	FriendlyName       string  `xml:"FriendlyName,attr,omitempty"`
	FileName           *string `xml:"FileName,attr"`
	InternalName       *string `xml:"InternalName,attr"`
	FileDescription    *string `xml:"FileDescription,attr"`
	ProductName        *string `xml:"ProductName,attr"`
	PackageFamilyName  *string `xml:"PackageFamilyName,attr"`
	MinimumFileVersion *string `xml:"MinimumFileVersion,attr"`
	MaximumFileVersion *string `xml:"MaximumFileVersion,attr"`
	Hash               string  `xml:"Hash,attr,omitempty"`
	FilePath           string  `xml:"FilePath,attr,omitempty"`
}

type Signer struct {
	ID            string          `xml:"ID,attr"`
	Name          string          `xml:"Name,attr"`
	CertRoot      CertRoot        `xml:"CertRoot"`
	CertEKUs      []CertEKU       `xml:"CertEKU"`
	CertIssuer    *CertValue      `xml:"CertIssuer"`
	CertPublisher *CertValue      `xml:"CertPublisher"`
	CertOemID     *CertValue      `xml:"CertOemID"`
	FileAttribRef []FileAttribRef `xml:"FileAttribRef"`
}

// CertRoot Type is TBS or Wellknown.
type CertRoot struct {
	Type  string `xml:"Type,attr"`
	Value string `xml:"Value,attr"`
}

type CertEKU struct {
	ID string `xml:"ID,attr"`
}

type CertValue struct {
	Value string `xml:"Value,attr"`
}

type FileAttribRef struct {
	RuleID string `xml:"RuleID,attr"`
}

type SigningScenario struct {
	Value          int            `xml:"Value,attr"`
	ID             string         `xml:"ID,attr"`
	FriendlyName   string         `xml:"FriendlyName,attr,omitempty"`
	ProductSigners ProductSigners `xml:"ProductSigners"`
}

type ProductSigners struct {
	AllowedSigners []SignerRef   `xml:"AllowedSigners>AllowedSigner"`
	DeniedSigners  []SignerRef   `xml:"DeniedSigners>DeniedSigner"`
	FileRulesRef   []FileRuleRef `xml:"FileRulesRef>FileRuleRef"`
}

type SignerRef struct {
	SignerID string `xml:"SignerId,attr"`
}

type FileRuleRef struct {
	RuleID string `xml:"RuleID,attr"`
}
