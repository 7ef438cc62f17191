// Package store persists the encoding database in PostgreSQL using a pgvector column.
package store

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facevote/internal/encodings"
	"github.com/andresmejia3/facevote/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Store manages the PostgreSQL connection and the face_encodings table.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the vector extension and the encodings table if they don't exist.
// embedding is single precision for pgvector; components keeps the exact float64
// values that Load returns.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS face_encodings (
			id BIGSERIAL PRIMARY KEY,
			position INT NOT NULL UNIQUE,
			label TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			components DOUBLE PRECISION[] NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// Save replaces the table contents with enc in a single transaction.
func (s *Store) Save(ctx context.Context, enc *encodings.Store) error {
	if err := enc.Validate(); err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "TRUNCATE face_encodings RESTART IDENTITY"); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, label := range enc.Labels {
		vec := enc.Embeddings[i]
		batch.Queue("INSERT INTO face_encodings (position, label, embedding, components) VALUES ($1, $2, $3, $4)",
			i, label, pgvector.NewVector(toFloat32(vec)), []float64(vec))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert encodings: %w", err)
	}

	return tx.Commit(ctx)
}

// Load reads every encoding back in training order.
// An empty table means nothing has been trained yet.
func (s *Store) Load(ctx context.Context) (*encodings.Store, error) {
	rows, err := s.conn.Query(ctx, "SELECT label, components FROM face_encodings ORDER BY position")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enc := &encodings.Store{}
	dim := -1
	for rows.Next() {
		var label string
		var v []float64
		if err := rows.Scan(&label, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrCorruptData, err)
		}
		if dim < 0 {
			dim = len(v)
		} else if len(v) != dim {
			return nil, fmt.Errorf("%w: embedding %d has %d dimensions, expected %d", types.ErrCorruptData, enc.Len(), len(v), dim)
		}
		enc.Add(types.LabeledEncoding{Label: label, Vec: types.Embedding(v)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if enc.Len() == 0 {
		return nil, fmt.Errorf("face_encodings table is empty: %w", types.ErrNotFound)
	}
	return enc, nil
}

// Exists reports whether any encodings have been saved.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	var ok bool
	err := s.conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM face_encodings)").Scan(&ok)
	return ok, err
}

// Reset drops the encodings table. The next New recreates it empty.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS face_encodings CASCADE")
	return err
}

// pgvector stores single precision values.
func toFloat32(v types.Embedding) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
