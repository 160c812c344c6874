// Package report collects simulation results and renders them.
package report

import (
	"time"

	"github.com/wdactools/wdacsim/internal/arbiter"
)

// Severity indicates the importance of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical" // Blocked files
	SeverityWarning  Severity = "warning"  // Files that could not be evaluated
	SeverityInfo     Severity = "info"     // Weak or notable authorizations
)

// Finding is a notable pattern across the scanned files.
type Finding struct {
	Severity    Severity `json:"severity" yaml:"severity"`
	Category    string   `json:"category" yaml:"category"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Count       int      `json:"count" yaml:"count"`
	Paths       []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// FileError records a file that could not be evaluated.
type FileError struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// Summary counts outcomes.
type Summary struct {
	Files   int            `json:"files" yaml:"files"`
	Allowed int            `json:"allowed" yaml:"allowed"`
	Blocked int            `json:"blocked" yaml:"blocked"`
	Errors  int            `json:"errors" yaml:"errors"`
	ByLevel map[string]int `json:"by_level" yaml:"by_level"`
	Signers map[string]int `json:"signers,omitempty" yaml:"signers,omitempty"`
	Elapsed time.Duration  `json:"elapsed" yaml:"elapsed"`
}

// Report is the outcome of one scan.
type Report struct {
	ScanID      string           `json:"scan_id" yaml:"scan_id"`
	PolicyPath  string           `json:"policy_path" yaml:"policy_path"`
	PolicyID    string           `json:"policy_id,omitempty" yaml:"policy_id,omitempty"`
	AuditMode   bool             `json:"audit_mode" yaml:"audit_mode"`
	Roots       []string         `json:"roots" yaml:"roots"`
	GeneratedAt time.Time        `json:"generated_at" yaml:"generated_at"`
	Summary     Summary          `json:"summary" yaml:"summary"`
	Findings    []Finding        `json:"findings,omitempty" yaml:"findings,omitempty"`
	Results     []arbiter.Output `json:"results" yaml:"results"`
	Errors      []FileError      `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Blocked reports whether any file was not authorized.
func (r *Report) Blocked() bool {
	return r.Summary.Blocked > 0
}
