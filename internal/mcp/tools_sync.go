package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/indexsync"
	"github.com/testplanit/searchsync/internal/intercept"
	"github.com/testplanit/searchsync/internal/schema"
)

// SyncEntityArgument identifies one entity to resync.
type SyncEntityArgument struct {
	EntityType string `json:"entityType" jsonschema_description:"Entity type: repository_case, shared_step, test_run, session, issue, milestone or project"`
	ID         int64  `json:"id" jsonschema_description:"Entity id"`
}

// SyncStatsArgument takes no parameters.
type SyncStatsArgument struct{}

// SyncHandler handles the single-entity sync tools.
type SyncHandler struct {
	syncer *indexsync.Syncer
	outbox *intercept.Outbox
}

// NewSyncHandler creates a new sync handler. outbox may be nil.
func NewSyncHandler(syncer *indexsync.Syncer, outbox *intercept.Outbox) *SyncHandler {
	return &SyncHandler{syncer: syncer, outbox: outbox}
}

// HandleSync synchronously rebuilds one entity's document.
func (h *SyncHandler) HandleSync(ctx context.Context, req *mcp.CallToolRequest, args SyncEntityArgument) (*mcp.CallToolResult, any, error) {
	if !h.syncer.Enabled() {
		return errorResult("Search is not configured"), nil, nil
	}
	kind, err := domain.ParseEntityKind(args.EntityType)
	if err != nil {
		return errorResult("Invalid entityType: %s", err), nil, nil
	}
	if args.ID <= 0 {
		return errorResult("id must be positive"), nil, nil
	}

	if !h.syncer.Sync(ctx, kind, args.ID) {
		return errorResult("Failed to sync %s %d into %s; see server logs", kind, args.ID, schema.IndexName(kind)), nil, nil
	}
	return textResult(fmt.Sprintf("Synced %s %d into %s", kind, args.ID, schema.IndexName(kind))), nil, nil
}

// HandleStats reports sync counters.
func (h *SyncHandler) HandleStats(ctx context.Context, req *mcp.CallToolRequest, args SyncStatsArgument) (*mcp.CallToolResult, any, error) {
	st := h.syncer.Stats()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Search enabled: %t\n", h.syncer.Enabled()))
	sb.WriteString(fmt.Sprintf("Documents synced: %d\n", st.Synced))
	sb.WriteString(fmt.Sprintf("Documents deleted: %d\n", st.Deleted))
	sb.WriteString(fmt.Sprintf("Documents skipped: %d\n", st.Skipped))
	sb.WriteString(fmt.Sprintf("Failures: %d\n", st.Failed))
	if h.outbox != nil {
		ob := h.outbox.Stats()
		sb.WriteString(fmt.Sprintf("Outbox pending: %d, coalesced: %d, dropped after close: %d\n", ob.Pending, ob.Coalesced, ob.Dropped))
	}
	return textResult(sb.String()), nil, nil
}

// RegisterSyncTools registers sync_entity and sync_stats with an MCP server.
func RegisterSyncTools(server *mcp.Server, syncer *indexsync.Syncer, outbox *intercept.Outbox) {
	handler := NewSyncHandler(syncer, outbox)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_entity",
		Description: "Rebuild and write the search document of a single entity",
	}, handler.HandleSync)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_stats",
		Description: "Show counters of index sync outcomes since the server started",
	}, handler.HandleStats)
}
