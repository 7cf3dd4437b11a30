package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/schema"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	EntityType string `json:"entityType" jsonschema_description:"Index to search: repository_case, shared_step, test_run, session, issue, milestone or project"`
	Query      string `json:"query" jsonschema_description:"Query string (supports field:value, phrases and wildcards)"`
	Limit      int    `json:"limit,omitempty" jsonschema_description:"Maximum number of hits (default 20, max 100)"`
}

// SearchHandler handles the search MCP tool.
type SearchHandler struct {
	registry *schema.Registry
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(registry *schema.Registry) *SearchHandler {
	return &SearchHandler{registry: registry}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if !h.registry.Enabled() {
		return errorResult("Search is not configured"), nil, nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("Query cannot be empty"), nil, nil
	}
	kind, err := domain.ParseEntityKind(args.EntityType)
	if err != nil {
		return errorResult("Invalid entityType: %s", err), nil, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	index := schema.IndexName(kind)
	hits, err := h.registry.Backend().Search(ctx, index, args.Query, limit)
	if err != nil {
		return errorResult("Search failed: %s", err), nil, nil
	}
	if len(hits) == 0 {
		return textResult(fmt.Sprintf("No results found for query: %s", args.Query)), nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d %s for '%s':\n\n", len(hits), kind.Label(), args.Query))
	for i, hit := range hits {
		sb.WriteString(fmt.Sprintf("%d. %s #%s (score %.4f)\n", i+1, kind, hit.ID, hit.Score))
	}
	return textResult(sb.String()), nil, nil
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, registry *schema.Registry) {
	handler := NewSearchHandler(registry)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Run a query-string search against one entity index",
	}, handler.Handle)
}
