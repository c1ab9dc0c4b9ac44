package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Qualiasolutions/qualia-erp-sub000/config"
)

func newBoardsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the configured boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.BoardsFile)
			if err != nil {
				return writeErr(cmd, err)
			}
			if app.JSON {
				return writeJSON(cmd.OutOrStdout(), cfg.Boards)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTABLE\tFIELD\tBUCKETS")
			for _, b := range cfg.Boards {
				ids := make([]string, 0, len(b.Buckets))
				for _, bk := range b.Buckets {
					ids = append(ids, bk.ID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Name, b.Table, b.Field, strings.Join(ids, ","))
			}
			return tw.Flush()
		},
	}
}

func newColumnsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "columns <board>",
		Short: "Print a board's columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), app.Timeout)
			defer cancel()
			s, err := app.openSession(ctx, args[0], false)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer s.Close()
			return writeColumns(cmd.OutOrStdout(), app.JSON, s.Columns())
		},
	}
}
