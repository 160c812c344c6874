package report

import (
	"sort"
	"time"

	"github.com/wdactools/wdacsim/internal/arbiter"
)

// Meta describes the scan a report belongs to.
type Meta struct {
	ScanID     string
	PolicyPath string
	PolicyID   string
	AuditMode  bool
	Roots      []string
	Elapsed    time.Duration
}

// Build assembles a report. Results and errors are sorted by path.
func Build(meta Meta, results []arbiter.Output, errs []FileError) *Report {
	sorted := append([]arbiter.Output(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	fileErrs := append([]FileError(nil), errs...)
	sort.SliceStable(fileErrs, func(i, j int) bool { return fileErrs[i].Path < fileErrs[j].Path })

	r := &Report{
		ScanID:      meta.ScanID,
		PolicyPath:  meta.PolicyPath,
		PolicyID:    meta.PolicyID,
		AuditMode:   meta.AuditMode,
		Roots:       meta.Roots,
		GeneratedAt: time.Now().UTC(),
		Results:     sorted,
		Errors:      fileErrs,
	}
	r.Summary = summarize(sorted, fileErrs)
	r.Summary.Elapsed = meta.Elapsed
	r.Findings = detectFindings(sorted, fileErrs)
	return r
}

func summarize(results []arbiter.Output, errs []FileError) Summary {
	s := Summary{
		Files:   len(results) + len(errs),
		Errors:  len(errs),
		ByLevel: map[string]int{},
		Signers: map[string]int{},
	}
	for _, r := range results {
		if r.IsAuthorized {
			s.Allowed++
		} else {
			s.Blocked++
		}
		s.ByLevel[r.Level.String()]++
		if r.SignerID != "" {
			s.Signers[r.SignerID]++
		}
	}
	return s
}

// OnlyBlocked returns a copy of r keeping only unauthorized results. The
// summary still covers every file.
func (r *Report) OnlyBlocked() *Report {
	cp := *r
	cp.Results = nil
	for _, res := range r.Results {
		if !res.IsAuthorized {
			cp.Results = append(cp.Results, res)
		}
	}
	return &cp
}
