package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/testplanit/searchsync/internal/config"
	mcputil "github.com/testplanit/searchsync/internal/mcp"
)

// ServerName is the MCP implementation name reported to clients.
const ServerName = "testplanit-search"

// Instance is a created MCP server together with its lifecycle hooks.
type Instance struct {
	Server *mcp.Server
	// Ready backs the /ready endpoint; nil means always ready.
	Ready func(context.Context) error
	// Cleanup releases everything the server depends on; may be nil.
	Cleanup func()
}

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(*Instance, *config.Settings) error
	CreateServer      func(*config.Settings, string) (*Instance, error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
	}
}

// loadSettings loads, validates and applies settings, configuring the default logger.
func loadSettings(load func(*pflag.FlagSet) (*config.Settings, error), validate func(*config.Settings) error, flags *pflag.FlagSet) (*config.Settings, error) {
	settings, err := load(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := validate(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Always log to stderr; stdout carries the stdio transport and CLI output.
	slog.SetDefault(config.NewLogger(settings.Log, os.Stderr))
	return settings, nil
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, err := loadSettings(params.LoadSettings, params.ValidSettings, flags)
	if err != nil {
		return err
	}

	slog.Info("Starting TestPlanIt search server", "version", version)
	config.Log(settings)

	inst, err := params.CreateServer(settings, version)
	if err != nil {
		return err
	}
	if inst.Cleanup != nil {
		defer inst.Cleanup()
	}

	// Start server
	if settings.Transport == "stdio" {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return inst.Server.Run(ctx, transport)
	}
	slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(inst, settings)
}

// CreateMCPServer builds the services, starts their workers and registers the admin tools.
func CreateMCPServer(settings *config.Settings, version string) (*Instance, error) {
	svc, err := NewServices(settings, slog.Default())
	if err != nil {
		return nil, err
	}
	svc.Start(context.Background())

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:     ServerName,
		Version:  version,
		Queue:    svc.Queue,
		Syncer:   svc.Syncer,
		Registry: svc.Registry,
		Outbox:   svc.Outbox,
	})

	return &Instance{
		Server:  server,
		Ready:   svc.Ready,
		Cleanup: svc.closeWithTimeout,
	}, nil
}
