package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Qualiasolutions/qualia-erp-sub000/drag"
)

func newMoveCmd(app *App) *cobra.Command {
	var to string
	var before string
	cmd := &cobra.Command{
		Use:   "move <board> <record-id>",
		Short: "Move a card to another column",
		Long: "Move a card the way a drag and drop would: --to drops it on a column, " +
			"--before drops it on another card and takes that card's column.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (to == "") == (before == "") {
				return writeErr(cmd, errors.New("provide exactly one of --to or --before"))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), app.Timeout)
			defer cancel()
			s, err := app.openSession(ctx, args[0], false)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer s.Close()

			id := args[1]
			var target drag.DropTarget
			switch {
			case to != "":
				if !s.Board().HasBucket(to) {
					return writeErr(cmd, fmt.Errorf("board %s has no column %q", args[0], to))
				}
				target = drag.OnBucket{ID: to}
			default:
				if _, ok := s.View().Get(before); !ok {
					return writeErr(cmd, fmt.Errorf("record %q is not on the board", before))
				}
				target = drag.OnSibling{RecordID: before}
			}

			if !s.BeginDrag(id) {
				return writeErr(cmd, fmt.Errorf("record %q is not on the board", id))
			}
			in, moved, err := s.Drop(ctx, target)
			if err != nil {
				return writeErr(cmd, err)
			}
			if !moved {
				bucket, _ := s.View().BucketOf(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%s already in %s\n", id, bucket)
				return nil
			}
			if app.JSON {
				rec, _ := s.View().Get(id)
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %s: %s -> %s\n", in.RecordID, in.From, in.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Target column id")
	cmd.Flags().StringVar(&before, "before", "", "Drop in front of this record")
	return cmd
}
