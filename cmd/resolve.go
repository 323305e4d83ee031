package main

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vision-cli/internal/merge"
	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/internal/resolve"
)

var resolveStructured bool

var resolveCmd = &cobra.Command{
	Use:   "resolve [facts.json]",
	Short: "Resolve attributes from saved visual facts (reads stdin when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		data, err := readInput(cmd, path)
		if err != nil {
			return eris.Wrap(err, "read facts")
		}
		var facts model.VisualFacts
		if err := json.Unmarshal(data, &facts); err != nil {
			return eris.Wrap(err, "parse facts")
		}

		lex, err := resolve.LoadLexicon(cfg.Resolve.LexiconPath)
		if err != nil {
			return err
		}
		resolver, err := resolve.New(lex)
		if err != nil {
			return err
		}
		res := resolver.Resolve(&facts)

		if resolveStructured {
			return printJSON(cmd.OutOrStdout(), merge.FromResolved(res, time.Now().UTC()))
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveStructured, "structured", false, "print DETECTED structured attributes instead of the raw resolution")
	rootCmd.AddCommand(resolveCmd)
}
