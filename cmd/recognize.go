package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facevote/internal/annotate"
	"github.com/andresmejia3/facevote/internal/matcher"
	"github.com/andresmejia3/facevote/internal/pipeline"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/andresmejia3/facevote/internal/utils"
	"github.com/spf13/cobra"
)

// runTest recognizes every image below the validation directory.
func (a *app) runTest(ctx context.Context, cmd *cobra.Command) error {
	paths, err := utils.ListImages(a.cfg.ValidationDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "❌ No images found in %s\n", a.cfg.ValidationDir)
		return nil
	}
	return a.recognize(ctx, cmd, a.cfg.ValidationDir, paths)
}

// runUse recognizes the single image given with -f.
func (a *app) runUse(ctx context.Context, cmd *cobra.Command) error {
	info, err := os.Stat(a.opts.file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("image %s: %w", a.opts.file, types.ErrNotFound)
		}
		return err
	}
	if info.IsDir() {
		return usagef("%s is a directory, use --test for folders", a.opts.file)
	}
	return a.recognize(ctx, cmd, filepath.Dir(a.opts.file), []string{a.opts.file})
}

func (a *app) recognize(ctx context.Context, cmd *cobra.Command, root string, paths []string) error {
	stderr := cmd.ErrOrStderr()

	st, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	enc, err := st.Load(ctx)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("no trained encodings, run --train first: %w", err)
		}
		return err
	}
	a.log.Debug().Int("encodings", enc.Len()).Msg("encodings loaded")

	fmt.Fprintln(stderr, "🚀 Starting face detector...")
	det, err := detectorFactory(a.detectorConfig())(ctx, 0)
	if err != nil {
		return fmt.Errorf("start detector: %w", err)
	}
	defer det.Close()

	r := &pipeline.Recognizer{
		Store:    enc,
		Detector: det,
		IsMatch:  matcher.Tolerance(a.cfg.Tolerance),
		Report:   cmd.OutOrStdout(),
	}

	annotateOpts := annotate.DefaultOptions()
	annotateOpts.MinFontSize = a.cfg.MinFontSize

	results, err := pipeline.Run(ctx, r, root, paths, pipeline.Options{
		OutputDir: a.cfg.OutputDir,
		Annotate:  annotateOpts,
		Progress:  stderr,
		Log:       a.log,
	})
	if err != nil {
		return err
	}

	faces := 0
	for _, res := range results {
		faces += len(res.Recognitions)
	}
	fmt.Fprintf(stderr, "🏁 Recognized %d face(s) in %d image(s). Annotated images in %s\n", faces, len(results), a.cfg.OutputDir)
	return nil
}
