// Package customfield normalizes typed custom field values into a uniform
// multi-typed projection usable for both exact matching and full-text search.
package customfield

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/testplanit/searchsync/internal/richtext"
)

// FieldType is the closed set of custom field kinds.
type FieldType string

const (
	TypeCheckbox    FieldType = "Checkbox"
	TypeDate        FieldType = "Date"
	TypeNumber      FieldType = "Number"
	TypeInteger     FieldType = "Integer"
	TypeMultiSelect FieldType = "Multi-Select"
	TypeDropdown    FieldType = "Dropdown"
	TypeTextString  FieldType = "Text String"
	TypeLink        FieldType = "Link"
	TypeTextLong    FieldType = "Text Long"
	TypeSteps       FieldType = "Steps"
)

// Fallback names the degrade path taken while projecting a value.
type Fallback string

const (
	FallbackNone                Fallback = ""
	FallbackDateUnparsed        Fallback = "date_unparsed"
	FallbackNotANumber          Fallback = "not_a_number"
	FallbackMultiSelectUnparsed Fallback = "multiselect_unparsed"
	FallbackRichTextUnparsed    Fallback = "richtext_unparsed"
	FallbackUnknownType         Fallback = "unknown_type"
	FallbackRecovered           Fallback = "recovered"
)

// Projection is the normalized representation of one field value.
// Value is always set; at most one typed projection accompanies it.
type Projection struct {
	Value    string
	Keyword  *string
	Numeric  *float64
	Boolean  *bool
	Date     *time.Time
	Array    []string
	Fallback Fallback
}

type handler func(raw any) Projection

// handlers has one entry per declared FieldType; Types() and the package
// tests keep the two in lockstep.
var handlers = map[FieldType]handler{
	TypeCheckbox:    checkbox,
	TypeDate:        date,
	TypeNumber:      number,
	TypeInteger:     number,
	TypeMultiSelect: multiSelect,
	TypeDropdown:    keyword,
	TypeTextString:  keyword,
	TypeLink:        keyword,
	TypeTextLong:    textLong,
	TypeSteps:       plain,
}

// Types returns every declared field type.
func Types() []FieldType {
	return []FieldType{
		TypeCheckbox, TypeDate, TypeNumber, TypeInteger, TypeMultiSelect,
		TypeDropdown, TypeTextString, TypeLink, TypeTextLong, TypeSteps,
	}
}

// Handled reports whether t has a dedicated projection.
func Handled(t FieldType) bool {
	_, ok := handlers[t]
	return ok
}

var typeAliases = map[string]FieldType{
	"checkbox":     TypeCheckbox,
	"boolean":      TypeCheckbox,
	"date":         TypeDate,
	"number":       TypeNumber,
	"integer":      TypeInteger,
	"multi-select": TypeMultiSelect,
	"multiselect":  TypeMultiSelect,
	"dropdown":     TypeDropdown,
	"select":       TypeDropdown,
	"text string":  TypeTextString,
	"string":       TypeTextString,
	"link":         TypeLink,
	"text long":    TypeTextLong,
	"rich text":    TypeTextLong,
	"steps":        TypeSteps,
}

// NormalizeType maps a stored field type name onto a FieldType.
// Unrecognized names are returned unchanged and take the default projection.
func NormalizeType(name string) FieldType {
	if t, ok := typeAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return FieldType(name)
}

// Transform projects raw according to t. It never panics.
func Transform(t FieldType, raw any) (p Projection) {
	defer func() {
		if r := recover(); r != nil {
			p = Projection{Value: coerce(raw), Fallback: FallbackRecovered}
		}
	}()

	h, ok := handlers[t]
	if !ok {
		p = plain(raw)
		p.Fallback = FallbackUnknownType
		return p
	}
	return h(raw)
}

func checkbox(raw any) Projection {
	b := truthy(raw)
	return Projection{Value: strconv.FormatBool(b), Boolean: &b}
}

func date(raw any) Projection {
	p := Projection{Value: coerce(raw)}
	if raw == nil {
		return p
	}
	t, ok := parseDate(raw)
	if !ok {
		p.Fallback = FallbackDateUnparsed
		return p
	}
	p.Date = &t
	return p
}

func number(raw any) Projection {
	f := toFloat(raw)
	p := Projection{Value: coerce(raw), Numeric: &f}
	if math.IsNaN(f) {
		p.Fallback = FallbackNotANumber
	}
	return p
}

func multiSelect(raw any) Projection {
	switch v := raw.(type) {
	case []any:
		return arrayProjection(v)
	case []string:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return arrayProjection(items)
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			if items, ok := decoded.([]any); ok {
				return arrayProjection(items)
			}
		}
		return Projection{Value: v, Fallback: FallbackMultiSelectUnparsed}
	}
	return Projection{Value: coerce(raw)}
}

func arrayProjection(items []any) Projection {
	values := make([]string, 0, len(items))
	for _, item := range items {
		values = append(values, coerce(item))
	}
	return Projection{Value: strings.Join(values, " "), Array: values}
}

func keyword(raw any) Projection {
	s := coerce(raw)
	return Projection{Value: s, Keyword: &s}
}

func textLong(raw any) Projection {
	switch v := raw.(type) {
	case nil:
		return Projection{}
	case string:
		text, ok := richtext.Parse(v)
		if !ok {
			return Projection{Value: v, Fallback: FallbackRichTextUnparsed}
		}
		return Projection{Value: text}
	case map[string]any, []any:
		return Projection{Value: richtext.Extract(v)}
	}
	return Projection{Value: coerce(raw), Fallback: FallbackRichTextUnparsed}
}

func plain(raw any) Projection {
	return Projection{Value: coerce(raw)}
}

// coerce renders any decoded JSON value as a string.
func coerce(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	}
	if b, err := json.Marshal(raw); err == nil {
		return string(b)
	}
	return fmt.Sprint(raw)
}

func truthy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
		return v != ""
	case float64:
		return v != 0 && !math.IsNaN(v)
	case int:
		return v != 0
	case int64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	}
	return true
}

func toFloat(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	case float64:
		// epoch milliseconds
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return time.UnixMilli(int64(v)).UTC(), true
		}
	}
	return time.Time{}, false
}
