// Package builder turns a labeled folder of training photos into an encoding store.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/andresmejia3/facevote/internal/encodings"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/andresmejia3/facevote/internal/utils"
	"github.com/andresmejia3/facevote/internal/worker"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

// Options tune a build.
type Options struct {
	// Workers is the number of detectors run in parallel. Values below 1 mean 1.
	Workers int
	// SkipErrors logs and skips undecodable or unreadable images instead of aborting.
	SkipErrors bool
	// Progress receives a progress bar when non-nil.
	Progress io.Writer
	Log      zerolog.Logger
}

// TrainingFile is one photo of a labeled person.
type TrainingFile struct {
	Label string
	Path  string
}

// ListTrainingFiles returns root/<label>/<file> images sorted by label, then filename.
// Files directly in root and anything nested deeper are ignored.
func ListTrainingFiles(root string) ([]TrainingFile, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("training directory %s: %w", root, types.ErrNotFound)
		}
		return nil, err
	}

	var files []TrainingFile
	for _, dir := range dirs {
		if !dir.IsDir() || dir.Name()[0] == '.' {
			continue
		}
		label := norm.NFC.String(dir.Name())

		entries, err := os.ReadDir(filepath.Join(root, dir.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !utils.IsImageFile(e.Name()) {
				continue
			}
			files = append(files, TrainingFile{
				Label: label,
				Path:  filepath.Join(root, dir.Name(), e.Name()),
			})
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Label != files[j].Label {
			return files[i].Label < files[j].Label
		}
		return filepath.Base(files[i].Path) < filepath.Base(files[j].Path)
	})
	return files, nil
}

// Build detects every face in the training corpus and returns the flattened store.
// The store order follows ListTrainingFiles regardless of the worker count.
func Build(ctx context.Context, root string, newDetector worker.Factory, opts Options) (*encodings.Store, error) {
	files, err := ListTrainingFiles(root)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		opts.Log.Warn().Str("root", root).Msg("no training images found")
		return &encodings.Store{}, nil
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("🧠 Encoding faces"),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
		)
	}

	results := make([][]types.LabeledEncoding, len(files))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range files {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		id := w
		g.Go(func() error {
			det, err := newDetector(gctx, id)
			if err != nil {
				return fmt.Errorf("start detector %d: %w", id, err)
			}
			defer det.Close()

			for i := range jobs {
				encs, err := encodeFile(gctx, det, files[i], opts.Log)
				if err != nil {
					if opts.SkipErrors && isImageError(err) {
						opts.Log.Warn().Err(err).Str("file", files[i].Path).Msg("skipping image")
					} else {
						return err
					}
				}
				results[i] = encs
				if bar != nil {
					bar.Add(1)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if bar != nil {
		bar.Finish()
	}

	store := &encodings.Store{}
	for _, encs := range results {
		for _, e := range encs {
			store.Add(e)
		}
	}
	return store, nil
}

// encodeFile returns one labeled encoding per face found in a training photo.
func encodeFile(ctx context.Context, det worker.Detector, f TrainingFile, log zerolog.Logger) ([]types.LabeledEncoding, error) {
	_, data, err := utils.ReadImage(f.Path)
	if err != nil {
		return nil, err
	}

	faces, err := det.Detect(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("detect faces in %s: %w", f.Path, err)
	}

	switch {
	case len(faces) == 0:
		log.Debug().Str("file", f.Path).Msg("no faces found")
	case len(faces) > 1:
		// Every face is kept under the folder label; the photo should really show one person.
		log.Warn().Str("file", f.Path).Int("faces", len(faces)).Str("label", f.Label).Msg("multiple faces in training photo")
	}

	encs := make([]types.LabeledEncoding, 0, len(faces))
	for _, face := range faces {
		encs = append(encs, types.LabeledEncoding{Label: f.Label, Vec: face.Vec})
	}
	return encs, nil
}

func isImageError(err error) bool {
	return errors.Is(err, types.ErrDecode) || errors.Is(err, fs.ErrPermission)
}
