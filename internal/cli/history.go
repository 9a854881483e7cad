package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/st-keller/ultrasync/history"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		historyPath string
		kind        string
		limit       int
		format      string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the bank changes recorded by watch --history",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", format, ValidFormats))
			}
			switch kind {
			case "", "areas", "zones":
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be areas or zones", kind))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if historyPath == "" {
				s, err := rootOpts.settings()
				if err != nil {
					return err
				}
				historyPath = s.History
			}
			if historyPath == "" {
				return NewExitError(ExitCommandError, "no history database: pass --history or set history in the config")
			}
			return runHistory(historyPath, kind, limit, format, cmd)
		},
	}

	cmd.Flags().StringVar(&historyPath, "history", "", "journal database (default: history from config)")
	cmd.Flags().StringVar(&kind, "kind", "", "only areas or zones")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text|json|yaml)")
	return cmd
}

func runHistory(path, kind string, limit int, format string, cmd *cobra.Command) error {
	journal, err := history.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history", err)
	}
	defer journal.Close()

	entries, err := journal.Recent(cmd.Context(), kind, limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read history", err)
	}

	out := cmd.OutOrStdout()
	if format != "text" {
		return encode(out, format, entries)
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s %-5s bank %-2d seq %d -> %d [%s]\n",
			e.RecordedAt.Local().Format("2006-01-02 15:04:05"),
			e.Kind, e.Bank, e.Previous, e.Sequence, strings.Join(e.Values, ","))
	}
	return nil
}
