package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func printYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// printStructured prints v as json or yaml. Other formats return false so
// the caller can render a table.
func printStructured(cmd *cobra.Command, format string, v any) (bool, error) {
	switch format {
	case "json":
		return true, printJSON(cmd, v)
	case "yaml":
		return true, printYAML(cmd, v)
	case "", "table":
		return false, nil
	}
	return true, fmt.Errorf("invalid output format %q: must be table, json or yaml", format)
}
