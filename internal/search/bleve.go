package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	// IndexSuffix is the suffix for on-disk index directories
	IndexSuffix = ".bleve"

	defaultAnalyzerName = "testplanit_standard"
)

// DirLockTimeout bounds how long NewBleve waits for another process to
// release the index directory.
var DirLockTimeout = 5 * time.Second

// Bleve is an embedded Backend. With an empty directory every index lives in memory.
type Bleve struct {
	dir    string
	logger *slog.Logger
	lock   *dirLock

	mu      sync.RWMutex
	indexes map[string]bleve.Index
}

// NewBleve creates an embedded backend rooted at dir, or in memory when dir is empty.
func NewBleve(dir string, logger *slog.Logger) (*Bleve, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bleve{dir: dir, logger: logger, indexes: make(map[string]bleve.Index)}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("search: create index directory: %w", err)
		}
		b.lock = newDirLock(dir)
		if err := b.lock.lock(context.Background(), DirLockTimeout); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
	}
	return b, nil
}

func (b *Bleve) Name() string { return "bleve" }

func (b *Bleve) indexPath(name string) string {
	return filepath.Join(b.dir, name+IndexSuffix)
}

// open returns the named index, opening it from disk on first use.
func (b *Bleve) open(name string) (bleve.Index, error) {
	b.mu.RLock()
	idx, ok := b.indexes[name]
	b.mu.RUnlock()
	if ok {
		return idx, nil
	}
	if b.dir == "" {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[name]; ok {
		return idx, nil
	}
	idx, err := bleve.Open(b.indexPath(name))
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
		return nil, fmt.Errorf("search: open index %s: %w", name, err)
	}
	b.indexes[name] = idx
	return idx, nil
}

func (b *Bleve) IndexExists(ctx context.Context, index string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := b.open(index)
	if errors.Is(err, ErrIndexNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *Bleve) CreateIndex(ctx context.Context, def IndexDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if exists, err := b.IndexExists(ctx, def.Name); err != nil || exists {
		return err
	}

	im, err := CreateIndexMapping(def)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.indexes[def.Name]; ok {
		return nil
	}

	var idx bleve.Index
	if b.dir == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		idx, err = bleve.New(b.indexPath(def.Name), im)
	}
	if err != nil {
		return fmt.Errorf("search: create index %s: %w", def.Name, err)
	}
	b.indexes[def.Name] = idx
	b.logger.Debug("Created index", "backend", b.Name(), "index", def.Name)
	return nil
}

func (b *Bleve) IndexDocument(ctx context.Context, index, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := b.open(index)
	if err != nil {
		return err
	}
	fields, err := toFields(doc)
	if err != nil {
		return fmt.Errorf("search: encode document %s: %w", id, err)
	}
	if err := idx.Index(id, fields); err != nil {
		return fmt.Errorf("search: index document %s: %w", id, err)
	}
	return nil
}

func (b *Bleve) DeleteDocument(ctx context.Context, index, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	idx, err := b.open(index)
	if err != nil {
		return false, err
	}
	found, err := documentExists(idx, id)
	if err != nil || !found {
		return false, err
	}
	if err := idx.Delete(id); err != nil {
		return false, fmt.Errorf("search: delete document %s: %w", id, err)
	}
	return true, nil
}

func (b *Bleve) DocumentExists(ctx context.Context, index, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	idx, err := b.open(index)
	if err != nil {
		return false, err
	}
	return documentExists(idx, id)
}

func documentExists(idx bleve.Index, id string) (bool, error) {
	doc, err := idx.Document(id)
	if err != nil {
		return false, fmt.Errorf("search: load document %s: %w", id, err)
	}
	return doc != nil, nil
}

func (b *Bleve) Count(ctx context.Context, index string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	idx, err := b.open(index)
	if err != nil {
		return 0, err
	}
	n, err := idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("search: count %s: %w", index, err)
	}
	return int64(n), nil
}

func (b *Bleve) Search(ctx context.Context, index, query string, size int) ([]Hit, error) {
	idx, err := b.open(index)
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), size, 0, false)
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: query %s: %w", index, err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Bulk applies all operations as a single bleve batch. Documents that cannot be
// encoded are rejected individually; the rest of the batch is still applied.
func (b *Bleve) Bulk(ctx context.Context, index string, ops []BulkOperation) (*BulkResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := b.open(index)
	if err != nil {
		return nil, err
	}

	out := &BulkResponse{Items: make([]BulkItem, 0, len(ops))}
	batch := idx.NewBatch()
	for _, op := range ops {
		item := BulkItem{ID: op.ID, Action: op.Action}
		switch op.Action {
		case ActionIndex:
			fields, err := toFields(op.Document)
			if err == nil {
				err = batch.Index(op.ID, fields)
			}
			if err != nil {
				item.Status = http.StatusBadRequest
				item.Error = &BulkItemError{Type: "mapper_parsing_exception", Reason: err.Error()}
				out.Errors = true
			} else {
				item.Status = http.StatusCreated
			}
		case ActionDelete:
			found, err := documentExists(idx, op.ID)
			if err != nil {
				return nil, err
			}
			item.Status = http.StatusOK
			if !found {
				item.Status = http.StatusNotFound
			}
			batch.Delete(op.ID)
		default:
			item.Status = http.StatusBadRequest
			item.Error = &BulkItemError{Type: "illegal_argument_exception", Reason: fmt.Sprintf("unknown action %q", op.Action)}
			out.Errors = true
		}
		out.Items = append(out.Items, item)
	}

	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("search: apply batch to %s: %w", index, err)
	}
	return out, nil
}

func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for name, idx := range b.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(b.indexes, name)
	}
	if b.lock != nil {
		if err := b.lock.unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// toFields converts a document into the generic map bleve walks, so that
// json tags decide field names exactly as they do for Elasticsearch.
func toFields(doc any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// CreateIndexMapping renders an IndexDefinition as a bleve index mapping.
// Text fields use a standard analyzer with English stopwords.
func CreateIndexMapping(def IndexDefinition) (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(defaultAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []any{lowercase.Name, en.StopName},
	})
	if err != nil {
		return nil, fmt.Errorf("search: register analyzer: %w", err)
	}
	im.DefaultAnalyzer = defaultAnalyzerName
	im.DefaultMapping = documentMapping(def.Properties)
	return im, nil
}

func documentMapping(props map[string]Field) *mapping.DocumentMapping {
	dm := bleve.NewDocumentMapping()
	for name, f := range props {
		if f.Type == TypeNested || f.Type == TypeObject {
			dm.AddSubDocumentMapping(name, documentMapping(f.Properties))
			continue
		}
		fms := []*mapping.FieldMapping{fieldMapping(f)}
		for sub, sf := range f.Fields {
			fm := fieldMapping(sf)
			fm.Name = name + "." + sub
			fms = append(fms, fm)
		}
		dm.AddFieldMappingsAt(name, fms...)
	}
	return dm
}

func fieldMapping(f Field) *mapping.FieldMapping {
	var fm *mapping.FieldMapping
	switch f.Type {
	case TypeKeyword:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
	case TypeLong, TypeDouble:
		fm = bleve.NewNumericFieldMapping()
	case TypeBoolean:
		fm = bleve.NewBooleanFieldMapping()
	case TypeDate:
		fm = bleve.NewDateTimeFieldMapping()
	default:
		// text and search_as_you_type
		fm = bleve.NewTextFieldMapping()
		if f.Analyzer != "" && f.Analyzer != "standard" {
			fm.Analyzer = f.Analyzer
		}
	}
	fm.Store = false
	return fm
}
