package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/testplanit/searchsync/internal/config"
	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/reindex"
)

// CommandParams contains dependencies of the one-shot CLI commands.
type CommandParams struct {
	LoadSettings  func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings func(*config.Settings) error
	NewServices   func(*config.Settings, *slog.Logger) (*Services, error)
}

// DefaultCommandParams returns production dependencies
func DefaultCommandParams() CommandParams {
	return CommandParams{
		LoadSettings:  config.LoadSettingsWithFlags,
		ValidSettings: config.ValidateSettings,
		NewServices:   NewServices,
	}
}

func (p CommandParams) open(flags *pflag.FlagSet) (*Services, error) {
	settings, err := loadSettings(p.LoadSettings, p.ValidSettings, flags)
	if err != nil {
		return nil, err
	}
	return p.NewServices(settings, slog.Default())
}

// writerReporter prints job log lines to a writer.
type writerReporter struct {
	w io.Writer
}

func (r writerReporter) UpdateProgress(_ context.Context, pct int) error {
	slog.Debug("Reindex progress", "progress", pct)
	return nil
}

func (r writerReporter) Log(_ context.Context, msg string) error {
	_, err := fmt.Fprintln(r.w, msg)
	return err
}

// RunReindex runs a reindex in-process, printing its log lines to out.
func RunReindex(ctx context.Context, params CommandParams, flags *pflag.FlagSet, payload reindex.Payload, out io.Writer) error {
	svc, err := params.open(flags)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Error("Failed to close services", "error", err)
		}
	}()

	res, err := svc.Orchestrator.Run(ctx, payload, writerReporter{w: out})
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d documents failed to index", res.Failed)
	}
	return nil
}

// Import operations.
const (
	ImportUpsert = "upsert"
	ImportDelete = "delete"
	ImportFolder = "folder"
	ImportConfig = "config"
)

// ImportRecord is one line of an import stream.
type ImportRecord struct {
	Op     string          `json:"op"`
	Kind   string          `json:"kind,omitempty"`
	ID     int64           `json:"id,omitempty"`
	Entity json.RawMessage `json:"entity,omitempty"`
	Folder *domain.Folder  `json:"folder,omitempty"`
	Key    string          `json:"key,omitempty"`
	Value  string          `json:"value,omitempty"`
}

// ImportStats counts applied import records.
type ImportStats struct {
	Upserted int
	Deleted  int
	Folders  int
	Config   int
}

const maxImportLine = 16 << 20

// Import applies newline-delimited JSON records to the store. Entity writes go
// through the sync outbox, so their documents follow the write.
func Import(ctx context.Context, svc *Services, in io.Reader) (ImportStats, error) {
	var stats ImportStats
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxImportLine)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec ImportRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return stats, fmt.Errorf("line %d: invalid record: %w", line, err)
		}
		if err := applyImport(ctx, svc, rec, &stats); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read import: %w", err)
	}
	return stats, nil
}

func applyImport(ctx context.Context, svc *Services, rec ImportRecord, stats *ImportStats) error {
	switch rec.Op {
	case ImportUpsert, "":
		kind, err := domain.ParseEntityKind(rec.Kind)
		if err != nil {
			return err
		}
		e, err := domain.NewEntity(kind)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(rec.Entity, e); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		if rec.ID != 0 {
			e.SetEntityID(rec.ID)
		}
		if e.EntityID() <= 0 {
			return fmt.Errorf("%s without id", kind)
		}
		if err := svc.Mutator.Upsert(ctx, e); err != nil {
			return err
		}
		stats.Upserted++
	case ImportDelete:
		kind, err := domain.ParseEntityKind(rec.Kind)
		if err != nil {
			return err
		}
		if err := svc.Mutator.Delete(ctx, kind, rec.ID); err != nil {
			return err
		}
		stats.Deleted++
	case ImportFolder:
		if rec.Folder == nil {
			return errors.New("folder record without folder")
		}
		if err := svc.Store.PutFolder(ctx, rec.Folder); err != nil {
			return err
		}
		stats.Folders++
	case ImportConfig:
		if rec.Key == "" {
			return errors.New("config record without key")
		}
		if err := svc.Store.SetConfigValue(ctx, rec.Key, rec.Value); err != nil {
			return err
		}
		stats.Config++
	default:
		return fmt.Errorf("unknown op %q", rec.Op)
	}
	return nil
}

// RunImport loads an import stream and waits for the resulting syncs.
func RunImport(ctx context.Context, params CommandParams, flags *pflag.FlagSet, in io.Reader, out io.Writer) error {
	svc, err := params.open(flags)
	if err != nil {
		return err
	}
	svc.Outbox.Start(ctx)

	stats, importErr := Import(ctx, svc, in)
	// Close drains the outbox before the summary is printed.
	closeErr := svc.Close(context.WithoutCancel(ctx))
	ob := svc.Outbox.Stats()
	sy := svc.Syncer.Stats()

	_, _ = fmt.Fprintf(out, "Imported %d entities, deleted %d, %d folders, %d config values\n",
		stats.Upserted, stats.Deleted, stats.Folders, stats.Config)
	_, _ = fmt.Fprintf(out, "Index sync: %d synced, %d deleted, %d skipped, %d failed, %d coalesced\n",
		sy.Synced, sy.Deleted, sy.Skipped, sy.Failed, ob.Coalesced)

	return errors.Join(importErr, closeErr)
}
