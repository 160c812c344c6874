package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wdactools/wdacsim/internal/authenticode"
	"github.com/wdactools/wdacsim/internal/chain"
	"github.com/wdactools/wdacsim/internal/scan"
)

func newChainCmd(app *appState) *cobra.Command {
	var (
		format     string
		extraRoots []string
	)
	cmd := &cobra.Command{
		Use:   "chain FILE",
		Short: "Show the classified certificate chains of a signed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roots, err := scan.LoadCertificates(append(app.cfg.Scan.ExtraRoots, extraRoots...))
			if err != nil {
				return err
			}
			sigs, err := authenticode.ReadSignatures(args[0])
			if errors.Is(err, authenticode.ErrNotSigned) {
				fmt.Fprintln(cmd.OutOrStdout(), "File is not signed")
				return nil
			}
			if err != nil {
				return err
			}

			classifier := chain.NewClassifier(nil)
			var packages []*chain.Package
			for _, sig := range sigs {
				certs := authenticode.BuildChain(sig, roots)
				if len(certs) == 0 {
					continue
				}
				pkg, err := classifier.Classify(certs, sig.SignedMessage)
				if err != nil {
					app.logger.Warn("skipping chain", "error", err)
					continue
				}
				packages = append(packages, pkg)
			}

			if done, err := printStructured(cmd, format, packages); done {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CHAIN\tTYPE\tSUBJECT\tISSUER\tNOT AFTER\tTBS")
			for i, pkg := range packages {
				for _, el := range pkg.Elements() {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
						i, el.Type, el.SubjectCN, el.IssuerCN, el.NotAfter.Format("2006-01-02"), el.TBSValue)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json|yaml")
	cmd.Flags().StringSliceVar(&extraRoots, "extra-root", nil, "PEM or DER certificates completing chains")
	return cmd
}
