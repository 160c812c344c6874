package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wdactools/wdacsim/internal/scan"
	"github.com/wdactools/wdacsim/internal/tbs"
)

func newCertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificate identity helpers",
	}
	cmd.AddCommand(newCertTBSCmd())
	cmd.AddCommand(newCertOIDCmd())
	return cmd
}

func newCertTBSCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "tbs CERT...",
		Short: "Print the TBS hash policies use to identify a certificate",
		Long: `Print the TBS hash of each PEM or DER certificate. The value is what a
policy Signer's CertRoot Type="TBS" carries.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type row struct {
				File      string `json:"file" yaml:"file"`
				Subject   string `json:"subject" yaml:"subject"`
				Algorithm string `json:"signature_algorithm" yaml:"signature_algorithm"`
				TBS       string `json:"tbs" yaml:"tbs"`
			}
			var rows []row
			for _, path := range args {
				certs, err := scan.LoadCertificates([]string{path})
				if err != nil {
					return err
				}
				for _, c := range certs {
					alg, err := tbs.SignatureAlgorithmOID(c.Raw)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					hash, err := tbs.ComputeTbsHash(c.Raw)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					rows = append(rows, row{File: path, Subject: c.Subject.String(), Algorithm: alg, TBS: hash})
				}
			}
			if done, err := printStructured(cmd, format, rows); done {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TBS\tALGORITHM\tSUBJECT")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.TBS, r.Algorithm, r.Subject)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json|yaml")
	return cmd
}

func newCertOIDCmd() *cobra.Command {
	var reverse bool
	cmd := &cobra.Command{
		Use:   "oid VALUE",
		Short: "Convert a policy EKU value to a dotted OID",
		Long: `Convert a policy EKU value such as 010A2B0601040182370A0305 to its
dotted OID. With --reverse, convert a dotted OID to the policy form.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convert := tbs.HexToOid
			if reverse {
				convert = tbs.OidToHex
			}
			out, err := convert(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&reverse, "reverse", false, "Convert a dotted OID to the policy hex form")
	return cmd
}

