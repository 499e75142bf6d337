// Package vector stores and searches job-scoped content chunks with
// 1024-dim embeddings, using the pgvector cosine-distance operator.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/scoutline/scoutline/pkg/database"
	"github.com/scoutline/scoutline/pkg/models"
)

// EmbeddingDim is fixed by contract with the embedding model.
const EmbeddingDim = 1024

// DefaultMinChunkLen drops paragraphs shorter than this from indexing.
const DefaultMinChunkLen = 50

// EmbedFunc turns text into a normalised embedding vector.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Store indexes approved report content for RAG retrieval.
type Store struct {
	db          *database.Client
	minChunkLen int
}

// New creates a vector store. minChunkLen <= 0 selects the default.
func New(db *database.Client, minChunkLen int) *Store {
	if minChunkLen <= 0 {
		minChunkLen = DefaultMinChunkLen
	}
	return &Store{db: db, minChunkLen: minChunkLen}
}

// SplitParagraphs breaks text on blank-line boundaries and trims each
// fragment. Empty fragments are dropped.
func SplitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SaveChunks splits the report text into paragraphs, embeds each one, and
// inserts the surviving chunks in a single transaction. Paragraphs below
// the minimum length are skipped; per-paragraph embedding failures are
// logged and skipped without aborting the batch. Returns the number of
// chunks written.
func (s *Store) SaveChunks(ctx context.Context, jobID uuid.UUID, reportText string, embed EmbedFunc) (int, error) {
	type pending struct {
		content   string
		embedding []float32
	}

	var chunks []pending
	for _, paragraph := range SplitParagraphs(reportText) {
		if len(paragraph) < s.minChunkLen {
			continue
		}
		embedding, err := embed(ctx, paragraph)
		if err != nil {
			slog.Warn("Failed to embed chunk, skipping",
				"job_id", jobID, "chunk_len", len(paragraph), "error", err)
			continue
		}
		if len(embedding) != EmbeddingDim {
			slog.Warn("Embedding has wrong dimension, skipping",
				"job_id", jobID, "dim", len(embedding))
			continue
		}
		chunks = append(chunks, pending{content: paragraph, embedding: embedding})
	}

	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range chunks {
		_, err := tx.Exec(ctx,
			`INSERT INTO chunks (id, job_id, content, embedding) VALUES ($1, $2, $3, $4)`,
			uuid.New(), jobID, c.content, pgvector.NewVector(c.embedding))
		if err != nil {
			return 0, fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit chunks: %w", err)
	}
	return len(chunks), nil
}

// Search returns up to limit chunks ordered by cosine distance to the
// query embedding. When maxAgeDays is non-nil, only chunks created at or
// after now − maxAgeDays are eligible (inclusive at the cutoff).
func (s *Store) Search(ctx context.Context, embedding []float32, limit int, maxAgeDays *int) ([]*models.Chunk, error) {
	if len(embedding) != EmbeddingDim {
		return nil, fmt.Errorf("query embedding must have %d dimensions, got %d", EmbeddingDim, len(embedding))
	}

	query := `SELECT id, job_id, content, created_at FROM chunks`
	args := []any{pgvector.NewVector(embedding), limit}
	if maxAgeDays != nil {
		cutoff := time.Now().Add(-time.Duration(*maxAgeDays) * 24 * time.Hour)
		query += ` WHERE created_at >= $3`
		args = append(args, cutoff)
	}
	query += ` ORDER BY embedding <=> $1 LIMIT $2`

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.JobID, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}
