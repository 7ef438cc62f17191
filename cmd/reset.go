package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newResetCmd(a *app) *cobra.Command {
	var (
		resetStore  bool
		resetOutput bool
		yes         bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the trained encodings and annotated output",
		Long:  "Clears all generated data. By default, it resets everything. Use flags to clear specific components.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// If no flags are set, default to clearing EVERYTHING
			if !resetStore && !resetOutput {
				resetStore = true
				resetOutput = true
			}

			out := cmd.OutOrStdout()
			reader := bufio.NewReader(cmd.InOrStdin())
			ask := func(prompt string) bool {
				return yes || confirm(out, reader, prompt)
			}

			if resetStore {
				st, err := openStore(cmd.Context(), a.cfg)
				if err != nil {
					return err
				}
				defer st.Close()

				if ask(fmt.Sprintf("⚠️  Are you sure you want to delete the trained encodings (%s)?", st.Describe(cmd.Context()))) {
					fmt.Fprintln(out, "🗑️  Clearing encodings...")
					if err := st.Reset(cmd.Context()); err != nil {
						return fmt.Errorf("failed to reset encodings: %w", err)
					}
				}
			}

			if resetOutput {
				if ask(fmt.Sprintf("⚠️  Are you sure you want to delete all annotated images in %s?", a.cfg.OutputDir)) {
					fmt.Fprintln(out, "🗑️  Clearing annotated images...")
					removeDir(cmd.ErrOrStderr(), a.cfg.OutputDir)
				}
			}

			fmt.Fprintln(out, "✨ Reset complete.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&resetStore, "store", false, "Clear the trained encodings")
	cmd.Flags().BoolVar(&resetOutput, "output", false, "Clear annotated images")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func confirm(w io.Writer, r *bufio.Reader, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(w io.Writer, path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(w, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
