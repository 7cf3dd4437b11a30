package customfield

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/testplanit/searchsync/internal/domain"
)

// BuildDocument projects one custom field assignment into its index sub-document.
// The boolean is false when the resolved value is empty and the field must be
// left out of the owning document.
func BuildDocument(v domain.CustomFieldValue) (domain.CustomFieldDocument, Projection, bool) {
	if v.Value == nil {
		return domain.CustomFieldDocument{}, Projection{}, false
	}
	if s, ok := v.Value.(string); ok && s == "" {
		return domain.CustomFieldDocument{}, Projection{}, false
	}

	ft := NormalizeType(v.FieldType)
	p := Transform(ft, v.Value)

	doc := domain.CustomFieldDocument{
		FieldID:      v.FieldID,
		FieldName:    v.FieldName,
		FieldType:    v.FieldType,
		Value:        p.Value,
		ValueKeyword: p.Keyword,
		ValueBoolean: p.Boolean,
		ValueDate:    p.Date,
		ValueArray:   p.Array,
	}
	// Unparseable numbers project to NaN, which has no JSON encoding (nor do
	// infinities): leave value_numeric unset and keep the string mirror.
	if p.Numeric != nil && !math.IsNaN(*p.Numeric) && !math.IsInf(*p.Numeric, 0) {
		doc.ValueNumeric = p.Numeric
	}

	switch ft {
	case TypeDropdown, TypeMultiSelect:
		var selected []string
		if p.Keyword != nil {
			selected = []string{*p.Keyword}
		} else {
			selected = p.Array
		}
		doc.Options = resolveOptions(v.Options, selected)
		if len(doc.Options) > 0 {
			names := make([]string, 0, len(doc.Options))
			for _, o := range doc.Options {
				names = append(names, o.Name)
			}
			doc.Value = strings.Join(names, " ")
		}
	}

	if doc.Value == "" {
		return domain.CustomFieldDocument{}, p, false
	}
	return doc, p, true
}

// resolveOptions matches selected values against the field's options by id,
// falling back to a name match. Selection order is preserved.
func resolveOptions(options []domain.FieldOption, selected []string) []domain.OptionDocument {
	if len(options) == 0 || len(selected) == 0 {
		return nil
	}
	var out []domain.OptionDocument
	for _, sel := range selected {
		for _, o := range options {
			if strconv.FormatInt(o.ID, 10) == sel || o.Name == sel {
				out = append(out, domain.OptionDocument{
					ID:        o.ID,
					Name:      o.Name,
					Icon:      o.Icon,
					IconColor: o.IconColor,
				})
				break
			}
		}
	}
	return out
}

// BuildDocuments projects every value, dropping empty ones and logging each
// degrade path taken. The returned slice is never nil.
func BuildDocuments(values []domain.CustomFieldValue, logger *slog.Logger, attrs ...any) []domain.CustomFieldDocument {
	if logger == nil {
		logger = slog.Default()
	}
	docs := make([]domain.CustomFieldDocument, 0, len(values))
	for _, v := range values {
		doc, p, ok := BuildDocument(v)
		if p.Fallback != FallbackNone {
			args := append([]any{"field_id", v.FieldID, "field_type", v.FieldType, "reason", string(p.Fallback)}, attrs...)
			logger.Warn("Custom field value degraded", args...)
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	return docs
}

// SearchText returns the textual contribution of custom field documents to
// an entity's searchable content.
func SearchText(docs []domain.CustomFieldDocument) []string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Value)
	}
	return parts
}
