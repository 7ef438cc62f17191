// Package worker wraps the external face detection and embedding backends.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/facevote/internal/types"
)

// Backend names accepted by New.
const (
	BackendPython = "python"
	BackendDlib   = "dlib"
)

// Detector finds faces in encoded image bytes and returns their boxes and embeddings.
type Detector interface {
	Detect(ctx context.Context, img []byte) ([]types.DetectedFace, error)
	Close() error
}

// Factory creates the detector used by worker id.
type Factory func(ctx context.Context, id int) (Detector, error)

// Config selects and configures a detector backend.
type Config struct {
	Backend     string
	Mode        string
	Python      string
	Script      string
	ModelsDir   string
	ReadTimeout time.Duration
}

// New starts a detector for the configured backend.
func New(ctx context.Context, id int, cfg Config) (Detector, error) {
	if err := types.ValidateMode(cfg.Mode); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendPython, "":
		return NewPythonWorker(ctx, id, PythonConfig{
			Python:      cfg.Python,
			Script:      cfg.Script,
			Mode:        cfg.Mode,
			ReadTimeout: cfg.ReadTimeout,
		})
	case BackendDlib:
		return NewDlibDetector(cfg.ModelsDir, cfg.Mode)
	}
	return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
}

// NewFactory binds cfg so callers can spawn one detector per worker.
func NewFactory(cfg Config) Factory {
	return func(ctx context.Context, id int) (Detector, error) {
		return New(ctx, id, cfg)
	}
}
