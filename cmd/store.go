package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/facevote/internal/config"
	"github.com/andresmejia3/facevote/internal/encodings"
	"github.com/andresmejia3/facevote/internal/store"
	"github.com/dustin/go-humanize"
)

// encodingStore is where trained encodings live: a gob file by default,
// or Postgres when a database URL is configured.
type encodingStore interface {
	Exists(ctx context.Context) (bool, error)
	Save(ctx context.Context, s *encodings.Store) error
	Load(ctx context.Context) (*encodings.Store, error)
	Reset(ctx context.Context) error
	// Describe is a one-line location summary for humans.
	Describe(ctx context.Context) string
	Close()
}

func openStore(ctx context.Context, cfg config.Config) (encodingStore, error) {
	if cfg.DatabaseURL == "" {
		return &fileStore{path: cfg.EncodingsPath}, nil
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &dbStore{db: db}, nil
}

type fileStore struct {
	path string
}

func (f *fileStore) Exists(context.Context) (bool, error) {
	return encodings.Exists(f.path), nil
}

func (f *fileStore) Save(_ context.Context, s *encodings.Store) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}
	return encodings.Save(s, f.path)
}

func (f *fileStore) Load(context.Context) (*encodings.Store, error) {
	return encodings.Load(f.path)
}

func (f *fileStore) Reset(context.Context) error {
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *fileStore) Describe(context.Context) string {
	info, err := os.Stat(f.path)
	if err != nil {
		return f.path
	}
	return fmt.Sprintf("%s (%s, trained %s)", f.path,
		humanize.Bytes(uint64(info.Size())), humanize.RelTime(info.ModTime(), time.Now(), "ago", "from now"))
}

func (f *fileStore) Close() {}

type dbStore struct {
	db *store.Store
}

func (d *dbStore) Exists(ctx context.Context) (bool, error) { return d.db.Exists(ctx) }

func (d *dbStore) Save(ctx context.Context, s *encodings.Store) error { return d.db.Save(ctx, s) }

func (d *dbStore) Load(ctx context.Context) (*encodings.Store, error) { return d.db.Load(ctx) }

func (d *dbStore) Reset(ctx context.Context) error { return d.db.Reset(ctx) }

func (d *dbStore) Describe(context.Context) string { return "PostgreSQL table face_encodings" }

func (d *dbStore) Close() {
	// The command context may already be cancelled (Ctrl+C); closing still needs to reach the server.
	d.db.Close(context.Background())
}
