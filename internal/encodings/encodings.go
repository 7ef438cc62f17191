// Package encodings holds the trained label/embedding database and its file format.
package encodings

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facevote/internal/types"
)

const formatVersion = 1

// Store is the trained database: two parallel sequences where index i of
// Labels and Embeddings describe the same training face.
type Store struct {
	Labels     []string
	Embeddings []types.Embedding
}

// Add appends one labeled encoding. Only the builder calls this.
func (s *Store) Add(e types.LabeledEncoding) {
	s.Labels = append(s.Labels, e.Label)
	s.Embeddings = append(s.Embeddings, e.Vec)
}

// Len returns the number of stored encodings.
func (s *Store) Len() int {
	return len(s.Labels)
}

// Validate checks the parallel sequence invariant.
func (s *Store) Validate() error {
	if len(s.Labels) != len(s.Embeddings) {
		return fmt.Errorf("%w: %d labels but %d embeddings", types.ErrCorruptData, len(s.Labels), len(s.Embeddings))
	}
	return nil
}

// LabelCount is the number of encodings stored for one label.
type LabelCount struct {
	Label string
	Count int
}

// Summary returns per-label counts in order of first appearance.
func (s *Store) Summary() []LabelCount {
	idx := make(map[string]int)
	var out []LabelCount
	for _, l := range s.Labels {
		i, ok := idx[l]
		if !ok {
			i = len(out)
			idx[l] = i
			out = append(out, LabelCount{Label: l})
		}
		out[i].Count++
	}
	return out
}

// fileFormat is the on-disk schema.
type fileFormat struct {
	Version    int
	Labels     []string
	Embeddings [][]float64
}

// Encode writes the store to w.
func Encode(w io.Writer, s *Store) error {
	if err := s.Validate(); err != nil {
		return err
	}
	f := fileFormat{
		Version:    formatVersion,
		Labels:     s.Labels,
		Embeddings: make([][]float64, len(s.Embeddings)),
	}
	for i, e := range s.Embeddings {
		f.Embeddings[i] = e
	}
	return gob.NewEncoder(w).Encode(&f)
}

// Decode reads a store written by Encode.
func Decode(r io.Reader) (*Store, error) {
	var f fileFormat
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptData, err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("%w: unknown format version %d", types.ErrCorruptData, f.Version)
	}

	s := &Store{
		Labels:     f.Labels,
		Embeddings: make([]types.Embedding, len(f.Embeddings)),
	}
	for i, e := range f.Embeddings {
		s.Embeddings[i] = e
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the store to path, replacing any existing file.
// The parent directory must already exist.
func Save(s *Store, path string) error {
	if err := s.Validate(); err != nil {
		return err
	}

	// Write to a sibling temp file and rename so a failed write never leaves a half store behind.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("save encodings to %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, s); err != nil {
		tmp.Close()
		return fmt.Errorf("save encodings to %s: %w", path, err)
	}
	// CreateTemp uses 0600
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("save encodings to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save encodings to %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save encodings to %s: %w", path, err)
	}
	return nil
}

// Load reads the store at path.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load encodings %s: %w", path, types.ErrNotFound)
		}
		return nil, fmt.Errorf("load encodings %s: %w", path, err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load encodings %s: %w", path, err)
	}
	return s, nil
}

// Exists reports whether a store file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
