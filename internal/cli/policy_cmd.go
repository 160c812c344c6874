package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wdactools/wdacsim/internal/scan"
	"github.com/wdactools/wdacsim/internal/signers"
)

func newPolicyCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect a policy document",
	}
	cmd.AddCommand(newPolicySignersCmd(app))
	cmd.AddCommand(newPolicyHashesCmd(app))
	return cmd
}

func newPolicySignersCmd(app *appState) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "signers POLICY",
		Short: "List the normalized signers of a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := scan.LoadPolicy(args[0], policyOptions(app))
			if err != nil {
				return err
			}
			if done, err := printStructured(cmd, format, policy.Signers); done {
				return err
			}
			return printSignersTable(cmd, policy.Signers)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json|yaml")
	return cmd
}

func printSignersTable(cmd *cobra.Command, list []signers.Signer) error {
	w := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(w, "No signers")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCOPE\tALLOWED\tNAME\tPUBLISHER\tFILE ATTRIBS\tCERT ROOT")
	for _, s := range list {
		publisher := "-"
		if s.CertPublisher != nil {
			publisher = *s.CertPublisher
		}
		attribs := "-"
		if s.HasFileAttribRefs() {
			attribs = strings.Join(s.FileAttribRefs, ",")
		}
		kind := ""
		if s.IsWHQL {
			kind = " (WHQL)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s%s\t%s\t%s\t%s\n",
			s.ID, s.Scope, s.IsAllowed, s.Name, kind, publisher, attribs, shortHash(s.CertRoot))
	}
	return tw.Flush()
}

func newPolicyHashesCmd(app *appState) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "hashes POLICY",
		Short: "List the file hashes a policy allows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := scan.LoadPolicy(args[0], policyOptions(app))
			if err != nil {
				return err
			}
			type row struct {
				Hash   string `json:"hash" yaml:"hash"`
				RuleID string `json:"rule_id" yaml:"rule_id"`
			}
			rows := make([]row, 0, len(policy.Hashes))
			for _, h := range policy.Hashes.Sorted() {
				rows = append(rows, row{Hash: h, RuleID: policy.Hashes[h]})
			}
			if done, err := printStructured(cmd, format, rows); done {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "HASH\tRULE")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\n", r.Hash, r.RuleID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json|yaml")
	return cmd
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "…"
	}
	if h == "" {
		return "-"
	}
	return h
}
