// Package pipeline recognizes faces in images against a trained store and saves annotated copies.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facevote/internal/annotate"
	"github.com/andresmejia3/facevote/internal/encodings"
	"github.com/andresmejia3/facevote/internal/matcher"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/andresmejia3/facevote/internal/utils"
	"github.com/andresmejia3/facevote/internal/worker"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// Recognizer matches every face in an image against Store.
type Recognizer struct {
	Store    *encodings.Store
	Detector worker.Detector
	// IsMatch defaults to matcher.Tolerance(matcher.DefaultTolerance).
	IsMatch matcher.MatchFunc
	// Report receives one line per recognized face. Nil discards.
	Report io.Writer
}

// Recognize detects and labels the faces in the image at path, in detector order.
// The decoded image is returned for annotation.
func (r *Recognizer) Recognize(ctx context.Context, path string) ([]types.Recognition, image.Image, error) {
	img, data, err := utils.ReadImage(path)
	if err != nil {
		return nil, nil, err
	}

	faces, err := r.Detector.Detect(ctx, data)
	if err != nil {
		return nil, nil, fmt.Errorf("detect faces in %s: %w", path, err)
	}

	isMatch := r.IsMatch
	if isMatch == nil {
		isMatch = matcher.Tolerance(matcher.DefaultTolerance)
	}

	recs := make([]types.Recognition, 0, len(faces))
	for _, f := range faces {
		label := matcher.Match(f.Vec, r.Store, isMatch)
		recs = append(recs, types.Recognition{Box: f.Box, Label: label})
		if r.Report != nil {
			fmt.Fprintf(r.Report, "%s: %s at %s\n", filepath.Base(path), label, f.Box)
		}
	}
	return recs, img, nil
}

// Options control a batch run.
type Options struct {
	// OutputDir receives one annotated PNG per input.
	OutputDir string
	Annotate  annotate.Options
	// Progress receives a progress bar when non-nil.
	Progress io.Writer
	Log      zerolog.Logger
}

// Result summarizes one processed image.
type Result struct {
	Input        string
	Output       string
	Recognitions []types.Recognition
}

// Run recognizes and annotates each of paths. Output files keep the input's
// path relative to root under opts.OutputDir, see OutputPath.
// The first failure stops the run.
func Run(ctx context.Context, r *Recognizer, root string, paths []string, opts Options) ([]Result, error) {
	var bar *progressbar.ProgressBar
	if opts.Progress != nil && len(paths) > 1 {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("🔍 Recognizing"),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
		)
	}

	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		recs, img, err := r.Recognize(ctx, p)
		if err != nil {
			return results, err
		}
		opts.Log.Debug().Str("file", p).Int("faces", len(recs)).Msg("recognized")

		out, err := annotate.Annotate(img, recs, opts.Annotate)
		if err != nil {
			return results, fmt.Errorf("annotate %s: %w", p, err)
		}

		dst := OutputPath(opts.OutputDir, root, p)
		if err := savePNG(dst, out); err != nil {
			return results, err
		}
		results = append(results, Result{Input: p, Output: dst, Recognitions: recs})

		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}
	return results, nil
}

// OutputPath maps an input image to its annotated PNG below outDir.
// Non-PNG inputs keep their extension (x.jpg becomes x.jpg.png) so x.jpg
// and x.png in one folder do not overwrite each other.
func OutputPath(outDir, root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	if !strings.EqualFold(filepath.Ext(rel), ".png") {
		rel += ".png"
	}
	return filepath.Join(outDir, rel)
}

func savePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
