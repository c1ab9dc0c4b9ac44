package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bytedance/sonic"

	"github.com/Qualiasolutions/qualia-erp-sub000/viewstate"
)

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeColumns(w io.Writer, asJSON bool, cols []viewstate.Column) error {
	if asJSON {
		return writeJSON(w, cols)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range cols {
		label := c.Bucket.Label
		if label == "" {
			label = c.Bucket.ID
		}
		fmt.Fprintf(tw, "%s [%s] (%d)\n", label, c.Bucket.ID, len(c.Tasks))
		for _, t := range c.Tasks {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", t.ID, t.Title, t.Rank)
		}
	}
	return tw.Flush()
}
