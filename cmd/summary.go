package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vision-cli/internal/merge"
	"github.com/sells-group/vision-cli/internal/model"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Convert between structured attributes and summary text",
}

var summaryFormatCmd = &cobra.Command{
	Use:   "format [attributes.json]",
	Short: "Render a JSON attribute list as summary text",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, firstArg(args))
		if err != nil {
			return eris.Wrap(err, "read attributes")
		}
		var attrs []model.StructuredAttribute
		if err := json.Unmarshal(data, &attrs); err != nil {
			return eris.Wrap(err, "parse attributes")
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), merge.FormatSummaryText(attrs))
		return err
	},
}

var summaryParseCmd = &cobra.Command{
	Use:   "parse [summary.txt]",
	Short: "Parse summary text into key/value entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, firstArg(args))
		if err != nil {
			return eris.Wrap(err, "read summary")
		}
		entries := merge.ParseSummaryText(string(data))
		if entries == nil {
			entries = []merge.SummaryEntry{}
		}
		return printJSON(cmd.OutOrStdout(), entries)
	},
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func init() {
	summaryCmd.AddCommand(summaryFormatCmd, summaryParseCmd)
	rootCmd.AddCommand(summaryCmd)
}
