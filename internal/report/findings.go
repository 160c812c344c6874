package report

import (
	"fmt"

	"github.com/wdactools/wdacsim/internal/arbiter"
)

// maxFindingPaths bounds the example paths attached to a finding.
const maxFindingPaths = 10

// detectFindings analyzes results and returns notable findings.
func detectFindings(results []arbiter.Output, errs []FileError) []Finding {
	var findings []Finding

	var blocked, pathOnly, leafOnly, allowAll []string
	for _, r := range results {
		if !r.IsAuthorized {
			blocked = append(blocked, r.Path)
			continue
		}
		switch r.Level {
		case arbiter.LevelFilePath:
			pathOnly = append(pathOnly, r.Path)
		case arbiter.LevelLeafCertificate:
			leafOnly = append(leafOnly, r.Path)
		case arbiter.LevelAllowAllRule:
			allowAll = append(allowAll, r.Path)
		}
	}

	if len(blocked) > 0 {
		findings = append(findings, newFinding(SeverityCritical, "blocked", "Blocked files",
			fmt.Sprintf("%d file(s) match no allow rule and would be blocked", len(blocked)), blocked))
	}
	if len(errs) > 0 {
		paths := make([]string, 0, len(errs))
		for _, e := range errs {
			paths = append(paths, e.Path)
		}
		findings = append(findings, newFinding(SeverityWarning, "error", "Unevaluated files",
			fmt.Sprintf("%d file(s) could not be read or parsed", len(errs)), paths))
	}
	if len(allowAll) > 0 {
		findings = append(findings, newFinding(SeverityInfo, "allow_all", "Allow-all rule",
			"The policy allows every file; no signer was evaluated", allowAll))
	}
	if len(pathOnly) > 0 {
		findings = append(findings, newFinding(SeverityInfo, "path_rule", "Allowed by path",
			fmt.Sprintf("%d file(s) are allowed only by a FilePath rule", len(pathOnly)), pathOnly))
	}
	if len(leafOnly) > 0 {
		findings = append(findings, newFinding(SeverityInfo, "leaf_certificate", "Allowed by leaf certificate",
			fmt.Sprintf("%d file(s) are allowed by a leaf certificate that will change on renewal", len(leafOnly)), leafOnly))
	}
	return findings
}

func newFinding(sev Severity, category, title, desc string, paths []string) Finding {
	f := Finding{
		Severity:    sev,
		Category:    category,
		Title:       title,
		Description: desc,
		Count:       len(paths),
	}
	if len(paths) > maxFindingPaths {
		paths = paths[:maxFindingPaths]
	}
	f.Paths = append([]string(nil), paths...)
	return f
}
