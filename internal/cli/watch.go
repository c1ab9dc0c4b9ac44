package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWatchCmd(app *App) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch <board>",
		Short: "Print a board's columns again after every change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := app.openSession(ctx, args[0], true)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer s.Close()

			changes, stop := s.Watch()
			defer stop()
			out := cmd.OutOrStdout()
			if err := writeColumns(out, app.JSON, s.Columns()); err != nil {
				return err
			}
			for n := 0; count <= 0 || n < count; n++ {
				select {
				case <-ctx.Done():
					return nil
				case <-changes:
				}
				if !app.JSON {
					fmt.Fprintln(out, "--")
				}
				if err := writeColumns(out, app.JSON, s.Columns()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many updates (0 runs until interrupted)")
	return cmd
}
