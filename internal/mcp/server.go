package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/testplanit/searchsync/internal/indexsync"
	"github.com/testplanit/searchsync/internal/intercept"
	"github.com/testplanit/searchsync/internal/jobs"
	"github.com/testplanit/searchsync/internal/schema"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	// Components backing the admin tools. Tools whose component is nil are not registered.
	Queue    *jobs.SQLiteQueue
	Syncer   *indexsync.Syncer
	Registry *schema.Registry
	Outbox   *intercept.Outbox
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Queue != nil {
		RegisterReindexTools(s, cfg.Queue)
	}
	if cfg.Syncer != nil {
		RegisterSyncTools(s, cfg.Syncer, cfg.Outbox)
	}
	if cfg.Registry != nil && cfg.Registry.Enabled() {
		RegisterSearchTool(s, cfg.Registry)
	}

	return s
}
