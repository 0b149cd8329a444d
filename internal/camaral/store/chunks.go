package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// InsertDocument records a source document and returns its row ID. Used by
// the ingest pipeline for re-ingest detection.
func (s *Store) InsertDocument(ctx context.Context, sourcePath, checksum string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (source_path, checksum) VALUES (?, ?)`,
		sourcePath, checksum,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: document id: %w", err)
	}
	return id, nil
}

// InsertChunk persists one knowledge-base chunk. The embedding is stored as a
// JSON-encoded float array; modernc.org/sqlite has no vector extension, and at
// knowledge-base scale (hundreds of chunks) Go-side distance computation over
// all rows is fast enough.
func (s *Store) InsertChunk(ctx context.Context, c Chunk) (int64, error) {
	if c.Content == "" {
		return 0, fmt.Errorf("store: chunk content must not be empty")
	}
	if len(c.Embedding) == 0 {
		return 0, fmt.Errorf("store: chunk embedding must not be empty")
	}

	embJSON, err := json.Marshal(c.Embedding)
	if err != nil {
		return 0, fmt.Errorf("store: marshal embedding: %w", err)
	}

	var docID any
	if c.DocumentID != 0 {
		docID = c.DocumentID
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (document_id, ordinal, content, embedding, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		docID, c.Ordinal, c.Content, embJSON, c.Metadata,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: chunk id: %w", err)
	}
	return id, nil
}

// ChunkCount returns the number of chunks in the knowledge base.
func (s *Store) ChunkCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count chunks: %w", err)
	}
	return n, nil
}

// EmbeddingDim returns the dimension of the stored embeddings, or 0 when the
// knowledge base is empty. All chunks share one dimension; the startup check
// compares this against the configured embedding model.
func (s *Store) EmbeddingDim(ctx context.Context) (int, error) {
	var embJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM chunks ORDER BY id LIMIT 1`,
	).Scan(&embJSON)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read embedding: %w", err)
	}

	var emb []float32
	if err := json.Unmarshal(embJSON, &emb); err != nil {
		return 0, fmt.Errorf("store: unmarshal embedding: %w", err)
	}
	return len(emb), nil
}

// NearestChunks returns the k chunks closest to the query embedding by L2
// distance, ascending. Equal distances keep ingestion order (the scan is
// ordered by id and the sort is stable). An empty knowledge base returns an
// empty slice.
func (s *Store) NearestChunks(ctx context.Context, query []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, content, embedding, metadata, created_at
		FROM chunks
		ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query chunks: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		if len(chunk.Embedding) != len(query) {
			// Dimensions are validated at startup; a mismatch here means the
			// knowledge base was ingested with a different model.
			return nil, fmt.Errorf("store: embedding dimension mismatch: chunk %d has %d, query has %d",
				chunk.ID, len(chunk.Embedding), len(query))
		}
		scored = append(scored, ScoredChunk{
			Chunk:    chunk,
			Distance: l2Distance(query, chunk.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate chunks: %w", err)
	}

	sortByDistance(scored)
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// scanChunk reads a single row from the chunks table.
func scanChunk(rows *sql.Rows) (Chunk, error) {
	var (
		c         Chunk
		docID     sql.NullInt64
		embJSON   []byte
		metadata  sql.NullString
		createdAt sql.NullString
	)
	if err := rows.Scan(&c.ID, &docID, &c.Ordinal, &c.Content, &embJSON, &metadata, &createdAt); err != nil {
		return Chunk{}, fmt.Errorf("store: scan chunk: %w", err)
	}
	if docID.Valid {
		c.DocumentID = docID.Int64
	}
	if metadata.Valid {
		c.Metadata = metadata.String
	}
	if createdAt.Valid {
		if t, err := time.Parse("2006-01-02 15:04:05", createdAt.String); err == nil {
			c.CreatedAt = t
		}
	}
	if err := json.Unmarshal(embJSON, &c.Embedding); err != nil {
		return Chunk{}, fmt.Errorf("store: unmarshal embedding for chunk %d: %w", c.ID, err)
	}
	return c, nil
}

// l2Distance computes the Euclidean distance between two equal-length vectors.
func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// sortByDistance sorts scored chunks by ascending distance. Insertion sort is
// stable, so equal distances preserve the id-ordered scan; fine for the small
// N expected (typically < 1000).
func sortByDistance(items []ScoredChunk) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && items[j].Distance > key.Distance {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
