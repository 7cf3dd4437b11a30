// Package search abstracts the document index the sync engine writes to.
//
// Two backends implement the same contract: an Elasticsearch cluster client
// and an embedded bleve store used for single-node deployments and tests.
// A nil Backend means search is disabled; callers must treat it as such.
package search

import (
	"context"
	"errors"
)

var (
	// ErrDisabled is returned when no search endpoint is configured.
	ErrDisabled = errors.New("search is disabled")
	// ErrIndexNotFound is returned when writing to an index that was never created.
	ErrIndexNotFound = errors.New("index not found")
)

// FieldType is the storage type of a mapped field.
type FieldType string

const (
	TypeText            FieldType = "text"
	TypeKeyword         FieldType = "keyword"
	TypeLong            FieldType = "long"
	TypeDouble          FieldType = "double"
	TypeBoolean         FieldType = "boolean"
	TypeDate            FieldType = "date"
	TypeNested          FieldType = "nested"
	TypeObject          FieldType = "object"
	TypeSearchAsYouType FieldType = "search_as_you_type"
)

// Field describes one mapped field. Properties are used by nested and object
// fields; Fields declares additional representations (multi-fields) of the
// same source value under "<name>.<subfield>".
type Field struct {
	Type       FieldType
	Analyzer   string
	Properties map[string]Field
	Fields     map[string]Field
}

// Analyzer is the default text analyzer of an index.
type Analyzer struct {
	// Type is the base analyzer, e.g. "standard".
	Type string
	// Stopwords is a predefined stopword list such as "_english_".
	Stopwords string
}

// IndexDefinition is everything needed to create an index.
type IndexDefinition struct {
	Name       string
	Shards     int
	Replicas   int
	Analyzer   Analyzer
	Properties map[string]Field
}

// BulkAction is the kind of write carried by a bulk operation.
type BulkAction string

const (
	ActionIndex  BulkAction = "index"
	ActionDelete BulkAction = "delete"
)

// BulkOperation is one directive of a bulk request. Document is ignored for deletes.
type BulkOperation struct {
	Action   BulkAction
	ID       string
	Document any
}

// BulkItemError is the backend's reason for rejecting one bulk item.
type BulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// BulkItem is the per-operation outcome of a bulk request, in request order.
type BulkItem struct {
	ID     string
	Action BulkAction
	Status int
	Error  *BulkItemError
}

// Failed reports whether the backend rejected the item.
func (i BulkItem) Failed() bool {
	return i.Error != nil
}

// BulkResponse is the result of a bulk request that reached the backend.
type BulkResponse struct {
	Errors bool
	Items  []BulkItem
}

// Failures returns the rejected items.
func (r *BulkResponse) Failures() []BulkItem {
	var out []BulkItem
	for _, item := range r.Items {
		if item.Failed() {
			out = append(out, item)
		}
	}
	return out
}

// Hit is a single search result.
type Hit struct {
	ID    string
	Score float64
}

// Backend is a document index.
type Backend interface {
	// Name identifies the backend implementation in logs.
	Name() string
	IndexExists(ctx context.Context, index string) (bool, error)
	// CreateIndex creates the index. Creating an index that already exists is not an error.
	CreateIndex(ctx context.Context, def IndexDefinition) error
	// IndexDocument stores doc under id, replacing any previous document in full.
	IndexDocument(ctx context.Context, index, id string, doc any) error
	// DeleteDocument removes a document. found is false when it was already absent.
	DeleteDocument(ctx context.Context, index, id string) (found bool, err error)
	// Bulk applies ops in one request. A non-nil error means the request itself
	// failed; per-item rejections are reported in the response.
	Bulk(ctx context.Context, index string, ops []BulkOperation) (*BulkResponse, error)
	DocumentExists(ctx context.Context, index, id string) (bool, error)
	Count(ctx context.Context, index string) (int64, error)
	// Search runs a query-string query and returns at most size hits.
	Search(ctx context.Context, index, query string, size int) ([]Hit, error)
	Close() error
}
