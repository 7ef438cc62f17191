package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facevote/internal/builder"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/spf13/cobra"
)

// runTrain builds the encodings from the training directory and persists them.
// An existing store is left alone unless --force is given.
func (a *app) runTrain(ctx context.Context, cmd *cobra.Command) error {
	stderr := cmd.ErrOrStderr()

	st, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	exists, err := st.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check existing encodings: %w", err)
	}
	if exists && !a.opts.force {
		fmt.Fprintf(stderr, "✅ Already trained: %s\n", st.Describe(ctx))
		fmt.Fprintln(stderr, "   Use --force to retrain.")
		return nil
	}

	fmt.Fprintf(stderr, "⚙️  Training from %s with the %s model (%d worker(s))...\n", a.cfg.TrainingDir, a.cfg.Mode, a.cfg.Workers)

	enc, err := builder.Build(ctx, a.cfg.TrainingDir, detectorFactory(a.detectorConfig()), builder.Options{
		Workers:    a.cfg.Workers,
		SkipErrors: a.opts.skipBad,
		Progress:   stderr,
		Log:        a.log,
	})
	if err != nil {
		return err
	}
	// Never persist an empty store.
	if enc.Len() == 0 {
		return fmt.Errorf("no faces found under %s, nothing saved: %w", a.cfg.TrainingDir, types.ErrNotFound)
	}

	if err := st.Save(ctx, enc); err != nil {
		return fmt.Errorf("save encodings: %w", err)
	}

	fmt.Fprintf(stderr, "\n🏁 Training complete: %d face encoding(s) for %d label(s) saved to %s\n",
		enc.Len(), len(enc.Summary()), st.Describe(ctx))
	return nil
}
