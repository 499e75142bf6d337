package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scoutline/scoutline/pkg/llm"
	"github.com/scoutline/scoutline/pkg/models"
	"github.com/scoutline/scoutline/pkg/vector"
)

const ragSearchSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "The search query to find relevant research chunks."},
		"max_age_days": {"type": "integer", "description": "Only consider chunks retrieved within the last N days."}
	},
	"required": ["query"]
}`

const ragSearchLimit = 3

// ChunkSearcher is the retrieval surface rag_search consumes.
type ChunkSearcher interface {
	Search(ctx context.Context, embedding []float32, limit int, maxAgeDays *int) ([]*models.Chunk, error)
}

// RAGSearch retrieves prior research from the internal vector store.
// Failures come back as error-prefixed text the agent can read, never as
// errors to the pipeline.
type RAGSearch struct {
	store ChunkSearcher
	embed vector.EmbedFunc
	now   func() time.Time
}

// NewRAGSearch creates the rag_search tool.
func NewRAGSearch(store ChunkSearcher, embed vector.EmbedFunc) *RAGSearch {
	if store == nil {
		panic("tools.NewRAGSearch: store must not be nil")
	}
	return &RAGSearch{store: store, embed: embed, now: time.Now}
}

// Name implements Tool.
func (r *RAGSearch) Name() string { return "rag_search" }

// Definition implements Tool.
func (r *RAGSearch) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "rag_search",
		Description: "Search the internal research database for information gathered by previous reports.",
		Parameters:  json.RawMessage(ragSearchSchema),
	}
}

type ragSearchArgs struct {
	Query      string `json:"query"`
	MaxAgeDays *int   `json:"max_age_days"`
}

// Run implements Tool.
func (r *RAGSearch) Run(ctx context.Context, args json.RawMessage) (string, error) {
	var a ragSearchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Sprintf("Error: invalid rag_search arguments: %v", err), nil
	}

	embedding, err := r.embed(ctx, a.Query)
	if err != nil {
		return fmt.Sprintf("Error generating embedding: %v", err), nil
	}

	chunks, err := r.store.Search(ctx, embedding, ragSearchLimit, a.MaxAgeDays)
	if err != nil {
		return fmt.Sprintf("Error searching research database: %v", err), nil
	}

	if len(chunks) == 0 {
		if a.MaxAgeDays != nil {
			return fmt.Sprintf("No relevant information found in the internal database within the last %d days.", *a.MaxAgeDays), nil
		}
		return "No relevant information found in the internal database.", nil
	}

	var b strings.Builder
	b.WriteString("Found the following relevant info:\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "\nResult %d (Retrieved: %s, %s):\n%s\n",
			i+1, chunk.CreatedAt.Format("2006-01-02"), r.age(chunk), chunk.Content)
	}
	return b.String(), nil
}

// age renders how long ago a chunk was stored.
func (r *RAGSearch) age(chunk *models.Chunk) string {
	days := int(r.now().Sub(chunk.CreatedAt).Hours() / 24)
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}
