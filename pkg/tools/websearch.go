package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scoutline/scoutline/pkg/llm"
)

// webSearchDefs is the JSON Schema for web_search arguments.
const webSearchSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "The search query."},
		"depth": {"type": "string", "enum": ["basic", "advanced"], "description": "Search depth. Defaults to advanced."},
		"max_results": {"type": "integer", "description": "Maximum results per query. Defaults to 5."},
		"raw_content": {"type": "boolean", "description": "Include raw page content."},
		"deep": {"type": "boolean", "description": "Fan the query out into sub-queries and merge the results."}
	},
	"required": ["query"]
}`

const maxDeepQueries = 4

// WebSearch searches the web through Tavily. Deep mode asks the model
// for sub-queries and merges the fanned-out results.
type WebSearch struct {
	client        *TavilyClient
	provider      llm.Provider
	maxContentLen int
}

// NewWebSearch creates the web_search tool. provider is only used for
// deep-mode sub-query generation.
func NewWebSearch(client *TavilyClient, provider llm.Provider, maxContentLen int) *WebSearch {
	if client == nil {
		panic("tools.NewWebSearch: client must not be nil")
	}
	return &WebSearch{client: client, provider: provider, maxContentLen: maxContentLen}
}

// Name implements Tool.
func (w *WebSearch) Name() string { return "web_search" }

// Definition implements Tool.
func (w *WebSearch) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web. Best for current events and broad research.",
		Parameters:  json.RawMessage(webSearchSchema),
	}
}

type webSearchArgs struct {
	Query      string `json:"query"`
	Depth      string `json:"depth"`
	MaxResults int    `json:"max_results"`
	RawContent bool   `json:"raw_content"`
	Deep       bool   `json:"deep"`
}

// Run implements Tool. The result is the JSON-encoded SearchResponse.
func (w *WebSearch) Run(ctx context.Context, args json.RawMessage) (string, error) {
	a := webSearchArgs{Depth: "advanced", MaxResults: 5}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid web_search arguments: %w", err)
	}
	if strings.TrimSpace(a.Query) == "" {
		return "", fmt.Errorf("web_search requires a query")
	}

	var resp *SearchResponse
	if a.Deep {
		resp = w.deepSearch(ctx, a)
	} else {
		var err error
		resp, err = w.client.Search(ctx, a.Query, a.Depth, a.MaxResults, a.RawContent)
		if err != nil {
			return "", fmt.Errorf("search failed: %w", err)
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to encode search results: %w", err)
	}
	return string(out), nil
}

// deepSearch fans the query out into model-generated sub-queries and
// merges the results. Per-query failures are skipped; the original query
// alone is the floor, never an error.
func (w *WebSearch) deepSearch(ctx context.Context, a webSearchArgs) *SearchResponse {
	queries := w.subQueries(ctx, a.Query)

	merged := &SearchResponse{}
	seen := make(map[string]bool)
	for _, q := range queries {
		resp, err := w.client.Search(ctx, q, a.Depth, a.MaxResults, a.RawContent)
		if err != nil {
			slog.Warn("Deep search sub-query failed, skipping", "query", q, "error", err)
			continue
		}
		if merged.Answer == "" {
			merged.Answer = resp.Answer
		}
		for _, r := range resp.Results {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			r.Content = w.truncate(r.Content)
			merged.Results = append(merged.Results, r)
		}
	}

	if limit := 2 * a.MaxResults; len(merged.Results) > limit {
		merged.Results = merged.Results[:limit]
	}
	return merged
}

// subQueries asks the model for three sub-queries, one per line, and
// prepends the original. Falls back to the original alone on any failure.
func (w *WebSearch) subQueries(ctx context.Context, query string) []string {
	queries := []string{query}
	if w.provider == nil {
		return queries
	}

	completion, err := w.provider.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You expand a web search query into focused sub-queries. Respond with exactly 3 sub-queries, one per line, no numbering or commentary."},
		{Role: llm.RoleUser, Content: query},
	}, nil, 256)
	if err != nil {
		slog.Warn("Sub-query generation failed, using original query only", "error", err)
		return queries
	}

	seen := map[string]bool{query: true}
	for _, line := range strings.Split(completion.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		queries = append(queries, line)
		if len(queries) == maxDeepQueries {
			break
		}
	}
	return queries
}

// truncate caps result content, marking the cut.
func (w *WebSearch) truncate(content string) string {
	if w.maxContentLen <= 0 || len(content) <= w.maxContentLen {
		return content
	}
	return content[:w.maxContentLen] + "...(truncated)"
}
