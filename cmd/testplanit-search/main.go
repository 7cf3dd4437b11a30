package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/testplanit/searchsync/internal/app"
	"github.com/testplanit/searchsync/internal/reindex"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "testplanit-search"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "TestPlanIt search sync server",
		Long: "Keeps TestPlanIt search indices in sync with the entity store and serves\n" +
			"admin tools (reindex jobs, single-entity sync, search) over MCP.",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	app.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(newReindexCmd(), newImportCmd())
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

func runWithFlags(flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(context.Background(), app.DefaultRunParams(), flags, version)
}

func newReindexCmd() *cobra.Command {
	var (
		entityType string
		projectID  int64
	)
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild search indices from the entity store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := reindex.Payload{EntityType: entityType}
			if cmd.Flags().Changed("project-id") {
				payload.ProjectID = &projectID
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunReindex(ctx, app.DefaultCommandParams(), cmd.Flags(), payload, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&entityType, "entity-type", "e", "all", "Entity type to reindex, or all")
	cmd.Flags().Int64Var(&projectID, "project-id", 0, "Restrict the reindex to one project")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Load newline-delimited JSON entity records into the store and sync them",
		Long: "Reads records from file, or stdin when file is omitted or \"-\". Each line is one of\n" +
			`  {"op":"upsert","kind":"test_run","entity":{...}}` + "\n" +
			`  {"op":"delete","kind":"test_run","id":7}` + "\n" +
			`  {"op":"folder","folder":{"id":1,"name":"Root","projectId":1}}` + "\n" +
			`  {"op":"config","key":"elasticsearch_replicas","value":"1"}`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunImport(ctx, app.DefaultCommandParams(), cmd.Flags(), in, cmd.OutOrStdout())
		},
	}
}
