package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/vectorindex"
)

var _ vectorindex.Backend = (*DB)(nil)

// Exists reports whether the named index has been created.
func (db *DB) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexes WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: exists: %w", err)
	}
	return n > 0, nil
}

// Create registers a new index. Creating an existing index is an error.
func (db *DB) Create(ctx context.Context, desc models.IndexDescriptor) error {
	if desc.Dimension <= 0 {
		return fmt.Errorf("sqlitestore: invalid dimension %d", desc.Dimension)
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO indexes (name, dimension, metric, cloud, region) VALUES (?, ?, ?, ?, ?)`,
		desc.Name, desc.Dimension, string(desc.Metric), desc.Cloud, desc.Region)
	if err != nil {
		return fmt.Errorf("sqlitestore: create index: %w", err)
	}
	return nil
}

// Delete drops an index and all its vectors.
func (db *DB) Delete(ctx context.Context, name string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM indexes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete index: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlitestore: index %s: %w", name, apperr.ErrNotFound)
	}
	return nil
}

// Upsert inserts or replaces records within a transaction.
func (db *DB) Upsert(ctx context.Context, name string, records []vectorindex.Record) error {
	desc, err := db.descriptor(ctx, name)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (index_name, id, content, metadata, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(index_name, id) DO UPDATE SET
			content    = excluded.content,
			metadata   = excluded.metadata,
			embedding  = excluded.embedding,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("sqlitestore: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if len(r.Vector) != desc.Dimension {
			return fmt.Errorf("sqlitestore: record %s has dimension %d, index expects %d", r.Chunk.ID, len(r.Vector), desc.Dimension)
		}
		meta, err := json.Marshal(r.Chunk.Metadata)
		if err != nil {
			return fmt.Errorf("sqlitestore: encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, name, r.Chunk.ID, r.Chunk.Content, string(meta), float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("sqlitestore: upsert %s: %w", r.Chunk.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

// Query scores every vector of the index against vector and returns the top k.
func (db *DB) Query(ctx context.Context, name string, vector []float32, k int) ([]models.ScoredChunk, error) {
	desc, err := db.descriptor(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != desc.Dimension {
		return nil, fmt.Errorf("sqlitestore: query dimension %d, index expects %d", len(vector), desc.Dimension)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM vectors WHERE index_name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query: %w", err)
	}
	defer rows.Close()

	score := scorer(desc.Metric, vector)
	var hits []models.ScoredChunk
	for rows.Next() {
		var (
			c        models.Chunk
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&c.ID, &c.Content, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		meta, err := decodeMetadata(metaJSON)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: decode metadata %s: %w", c.ID, err)
		}
		c.Metadata = meta
		emb := bytesToFloat32Slice(blob)
		if len(emb) != len(vector) {
			continue
		}
		hits = append(hits, models.ScoredChunk{Chunk: c, Score: score(emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: rows: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// decodeMetadata restores integral JSON numbers as int so values such as a
// page number compare equal to what was upserted.
func decodeMetadata(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return nil, err
	}
	for k, v := range meta {
		meta[k] = normalizeNumber(v)
	}
	return meta, nil
}

func normalizeNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumber(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumber(x[k])
		}
	}
	return v
}

// Count returns the number of vectors in the index.
func (db *DB) Count(ctx context.Context, name string) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE index_name = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitestore: count: %w", err)
	}
	return n, nil
}

func (db *DB) descriptor(ctx context.Context, name string) (models.IndexDescriptor, error) {
	var (
		d      models.IndexDescriptor
		metric string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT name, dimension, metric, cloud, region FROM indexes WHERE name = ?`, name).
		Scan(&d.Name, &d.Dimension, &metric, &d.Cloud, &d.Region)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("sqlitestore: index %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return d, fmt.Errorf("sqlitestore: load index: %w", err)
	}
	d.Metric = models.Metric(metric)
	return d, nil
}

// scorer returns a similarity function where larger is better.
func scorer(metric models.Metric, q []float32) func([]float32) float64 {
	switch metric {
	case models.MetricDotProduct:
		return func(v []float32) float64 { return dot(q, v) }
	case models.MetricEuclidean:
		return func(v []float32) float64 {
			sum := 0.0
			for i := range q {
				d := float64(q[i]) - float64(v[i])
				sum += d * d
			}
			return -math.Sqrt(sum)
		}
	default:
		qNorm := norm(q)
		return func(v []float32) float64 {
			if qNorm == 0 {
				return 0
			}
			vNorm := norm(v)
			if vNorm == 0 {
				return 0
			}
			return dot(q, v) / (qNorm * vNorm)
		}
	}
}

func dot(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
