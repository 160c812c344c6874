package report

import (
	"fmt"
	"sort"
	"strings"
)

// renderMarkdown renders a report as markdown.
func renderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Policy Simulation: %s\n", r.ScanID))
	sb.WriteString(fmt.Sprintf("**Generated:** %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))

	// Overview
	sb.WriteString("## Overview\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Policy | %s |\n", escapeCell(r.PolicyPath)))
	if r.PolicyID != "" {
		sb.WriteString(fmt.Sprintf("| Policy ID | %s |\n", r.PolicyID))
	}
	if r.AuditMode {
		sb.WriteString("| Mode | Audit |\n")
	}
	sb.WriteString(fmt.Sprintf("| Files | %s |\n", formatNumber(r.Summary.Files)))
	sb.WriteString(fmt.Sprintf("| Allowed | %s |\n", formatNumber(r.Summary.Allowed)))
	sb.WriteString(fmt.Sprintf("| Blocked | %s |\n", formatNumber(r.Summary.Blocked)))
	if r.Summary.Errors > 0 {
		sb.WriteString(fmt.Sprintf("| Errors | %s |\n", formatNumber(r.Summary.Errors)))
	}
	sb.WriteString(fmt.Sprintf("| Duration | %s |\n", r.Summary.Elapsed.String()))
	sb.WriteString("\n")

	// Level breakdown
	if len(r.Summary.ByLevel) > 0 {
		sb.WriteString("## Match Levels\n")
		sb.WriteString("| Level | Count |\n")
		sb.WriteString("|-------|-------|\n")
		for _, k := range sortedKeys(r.Summary.ByLevel) {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", k, r.Summary.ByLevel[k]))
		}
		sb.WriteString("\n")
	}

	// Findings
	if len(r.Findings) > 0 {
		sb.WriteString("## Findings\n")
		for _, f := range r.Findings {
			sb.WriteString(fmt.Sprintf("%s **%s** (%d) - %s\n", severityIcon(f.Severity), f.Title, f.Count, f.Description))
		}
		sb.WriteString("\n")
	}

	// Results
	if len(r.Results) > 0 {
		sb.WriteString("## Results\n")
		sb.WriteString("| File | Decision | Level | Signer | Certificate | Path |\n")
		sb.WriteString("|------|----------|-------|--------|-------------|------|\n")
		for _, res := range r.Results {
			decision := "Blocked"
			if res.IsAuthorized {
				decision = "Allowed"
			}
			signer := res.SignerName
			if signer == "" {
				signer = res.RuleID
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
				escapeCell(res.FileName), decision, res.Level, escapeCell(truncate(signer, 48)),
				escapeCell(truncate(res.SubjectCN, 48)), escapeCell(res.Path)))
		}
		sb.WriteString("\n")
	}

	if len(r.Errors) > 0 {
		sb.WriteString("## Errors\n")
		for _, e := range r.Errors {
			sb.WriteString(fmt.Sprintf("- `%s`: %s\n", e.Path, e.Error))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func severityIcon(s Severity) string {
	switch s {
	case SeverityCritical:
		return "[CRITICAL]"
	case SeverityWarning:
		return "[WARNING]"
	case SeverityInfo:
		return "[INFO]"
	default:
		return ""
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatNumber formats a number with comma separators, e.g. 12450 -> "12,450".
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
