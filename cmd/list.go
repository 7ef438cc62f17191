package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the trained labels and their encoding counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runList(cmd)
		},
	}
}

func (a *app) runList(cmd *cobra.Command) error {
	ctx := cmd.Context()
	st, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	enc, err := st.Load(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Encodings: %s\n\n", st.Describe(ctx))

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tENCODINGS")
	fmt.Fprintln(w, "-----\t---------")
	for _, lc := range enc.Summary() {
		fmt.Fprintf(w, "%s\t%s\n", lc.Label, humanize.Comma(int64(lc.Count)))
	}
	w.Flush()

	fmt.Fprintf(out, "\n%s label(s), %s encoding(s)\n", humanize.Comma(int64(len(enc.Summary()))), humanize.Comma(int64(enc.Len())))
	return nil
}
