package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/jobs"
	"github.com/testplanit/searchsync/internal/reindex"
)

// StartReindexArgument defines reindex job parameters.
type StartReindexArgument struct {
	EntityType string `json:"entityType,omitempty" jsonschema_description:"Entity type to reindex: all (default), repository_case, shared_step, test_run, session, issue, milestone or project"`
	ProjectID  *int64 `json:"projectId,omitempty" jsonschema_description:"Restrict the reindex to one project"`
}

// ReindexStatusArgument selects a reindex job.
type ReindexStatusArgument struct {
	JobID string `json:"jobId,omitempty" jsonschema_description:"Job id returned by start_reindex; omit to list recent jobs"`
}

// ReindexHandler handles the reindex MCP tools.
type ReindexHandler struct {
	queue *jobs.SQLiteQueue
}

// NewReindexHandler creates a new reindex handler.
func NewReindexHandler(queue *jobs.SQLiteQueue) *ReindexHandler {
	return &ReindexHandler{queue: queue}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// HandleStart enqueues a reindex job.
func (h *ReindexHandler) HandleStart(ctx context.Context, req *mcp.CallToolRequest, args StartReindexArgument) (*mcp.CallToolResult, any, error) {
	entityType := strings.TrimSpace(args.EntityType)
	if entityType == "" {
		entityType = domain.SelectAll
	}
	// Reject bad selectors up front instead of failing the job later.
	if _, err := domain.SelectKinds(entityType); err != nil {
		return errorResult("Invalid entityType: %s", err), nil, nil
	}

	rec, err := h.queue.Add(ctx, reindex.JobName, reindex.Payload{EntityType: entityType, ProjectID: args.ProjectID})
	if err != nil {
		return errorResult("Failed to start reindex: %s", err), nil, nil
	}

	scope := "all projects"
	if args.ProjectID != nil {
		scope = fmt.Sprintf("project %d", *args.ProjectID)
	}
	return textResult(fmt.Sprintf("Started reindex of %s for %s.\nJob id: %s", entityType, scope, rec.ID)), nil, nil
}

// HandleStatus reports the progress, logs and result of a job.
func (h *ReindexHandler) HandleStatus(ctx context.Context, req *mcp.CallToolRequest, args ReindexStatusArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.JobID) == "" {
		return h.listRecent(ctx)
	}

	rec, err := h.queue.Get(ctx, args.JobID)
	if errors.Is(err, jobs.ErrUnknownJob) {
		return errorResult("No reindex job with id %s", args.JobID), nil, nil
	}
	if err != nil {
		return errorResult("Failed to read job: %s", err), nil, nil
	}
	return textResult(formatJob(rec)), nil, nil
}

func (h *ReindexHandler) listRecent(ctx context.Context) (*mcp.CallToolResult, any, error) {
	recs, err := h.queue.List(ctx, reindex.JobName, 10)
	if err != nil {
		return errorResult("Failed to list jobs: %s", err), nil, nil
	}
	if len(recs) == 0 {
		return textResult("No reindex jobs found"), nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Recent reindex jobs:\n\n")
	for _, rec := range recs {
		var p reindex.Payload
		_ = rec.Decode(&p)
		sb.WriteString(fmt.Sprintf("- %s %s %s (%d%%), created %s\n",
			rec.ID, selectorOrAll(p.EntityType), rec.State, rec.Progress, rec.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	return textResult(sb.String()), nil, nil
}

func selectorOrAll(s string) string {
	if s == "" {
		return domain.SelectAll
	}
	return s
}

// formatJob renders a job record for MCP responses.
func formatJob(rec *jobs.Record) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("### Job %s\n", rec.ID))
	sb.WriteString(fmt.Sprintf("**State**: %s\n", rec.State))
	sb.WriteString(fmt.Sprintf("**Progress**: %d%%\n", rec.Progress))
	sb.WriteString(fmt.Sprintf("**Attempts**: %d\n", rec.Attempts))
	if rec.Error != "" {
		sb.WriteString(fmt.Sprintf("**Error**: %s\n", rec.Error))
	}

	if len(rec.Result) > 0 && string(rec.Result) != "null" {
		var result reindex.Result
		if err := json.Unmarshal(rec.Result, &result); err == nil {
			sb.WriteString(fmt.Sprintf("**Indexed**: %d", result.Total))
			if result.Failed > 0 {
				sb.WriteString(fmt.Sprintf(" (%d failed)", result.Failed))
			}
			sb.WriteString("\n")
			for _, kind := range domain.AllKinds() {
				if n, ok := result.Counts[kind]; ok {
					sb.WriteString(fmt.Sprintf("- %s: %d\n", kind.Label(), n))
				}
			}
		}
	}

	if len(rec.Logs) > 0 {
		sb.WriteString("\n```\n")
		for _, line := range rec.Logs {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("```\n")
	}
	return sb.String()
}

// RegisterReindexTools registers start_reindex and reindex_status with an MCP server.
func RegisterReindexTools(server *mcp.Server, queue *jobs.SQLiteQueue) {
	handler := NewReindexHandler(queue)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_reindex",
		Description: "Queue a background job that rebuilds the search indices from the database",
	}, handler.HandleStart)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "reindex_status",
		Description: "Show progress, logs and result of a reindex job, or list recent jobs",
	}, handler.HandleStatus)
}
