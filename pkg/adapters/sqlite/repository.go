// Package sqlite persists embeddings in a SQLite database using the pure-Go
// modernc driver. Vectors are stored as little-endian float32 BLOBs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/aretw0/quipu/pkg/core"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS embeddings (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	namespace TEXT NOT NULL,
	id        TEXT NOT NULL,
	content   TEXT NOT NULL,
	vector    BLOB NOT NULL,
	UNIQUE (namespace, id)
);
CREATE INDEX IF NOT EXISTS idx_embeddings_namespace ON embeddings(namespace);
`

// Repository implements core.VectorRepository.
type Repository struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path.
func Open(path string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Repository{db: db, path: path}, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *Repository) Path() string { return r.path }

// Load implements core.VectorRepository.
func (r *Repository) Load(ctx context.Context) (map[string][]core.Embedding, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT namespace, id, content, vector FROM embeddings ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]core.Embedding)
	for rows.Next() {
		var e core.Embedding
		var blob []byte
		if err := rows.Scan(&e.Namespace, &e.ID, &e.Content, &blob); err != nil {
			return nil, err
		}
		if e.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("embedding %s/%s: %w", e.Namespace, e.ID, err)
		}
		out[e.Namespace] = append(out[e.Namespace], e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert implements core.VectorRepository. The batch is written in one
// transaction.
func (r *Repository) Insert(ctx context.Context, namespace string, batch []core.Embedding) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO embeddings(namespace, id, content, vector) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, namespace, e.ID, e.Content, encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Delete implements core.VectorRepository.
func (r *Repository) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM embeddings WHERE namespace = ? AND id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, namespace, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ComponentType implements introspection.Component.
func (r *Repository) ComponentType() string { return "sqlite" }

func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

var _ core.VectorRepository = (*Repository)(nil)
