package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Formats accepted by Render.
const (
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
)

// Render writes r to w in the given format.
func Render(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatMarkdown, "md":
		_, err := io.WriteString(w, renderMarkdown(r))
		return err
	case FormatCSV:
		return writeCSV(w, r)
	}
	return fmt.Errorf("unknown report format %q", format)
}

var csvHeader = []string{
	"path", "file_name", "authorized", "level", "source", "rule_id",
	"signer_id", "signer_name", "scope", "cert_root", "cert_publisher",
	"file_attrib_ref", "specific_file_name_level",
	"subject_cn", "issuer_cn", "not_after", "tbs_value", "error",
}

func writeCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, res := range r.Results {
		notAfter := ""
		if !res.NotAfter.IsZero() {
			notAfter = res.NotAfter.UTC().Format(time.RFC3339)
		}
		row := []string{
			res.Path, res.FileName, strconv.FormatBool(res.IsAuthorized), res.Level.String(), res.Source, res.RuleID,
			res.SignerID, res.SignerName, string(res.Scope), res.CertRoot, res.CertPublisher,
			res.FileAttribRef, res.SpecificFileNameLevel,
			res.SubjectCN, res.IssuerCN, notAfter, res.TBSValue, "",
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	for _, e := range r.Errors {
		row := make([]string, len(csvHeader))
		row[0] = e.Path
		row[2] = "false"
		row[len(row)-1] = e.Error
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
