package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/ecogate/internal/catalog"
)

// characteristicsCmd lists the symbolic characteristic names
var characteristicsCmd = &cobra.Command{
	Use:     "characteristics",
	Aliases: []string{"chars"},
	Short:   "List the characteristic names the gateway accepts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		if !validFormat(format) {
			return fmt.Errorf("invalid format '%s': must be one of %v", format, validScanFormats)
		}
		if format == "json" {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(catalog.Entries())
		}
		return displayCharacteristics(cmd.OutOrStdout(), catalog.Entries())
	},
}

func init() {
	characteristicsCmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
}

func displayCharacteristics(out io.Writer, entries []catalog.Entry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tUUID")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.Name, e.UUID)
	}
	return w.Flush()
}
