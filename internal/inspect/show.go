// Package inspect renders language bundles for the CLI: a key/value table,
// line-delimited JSON, or the full bundle view as JSON.
package inspect

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/guidepost/internal/filter"
	"github.com/dyluth/guidepost/internal/publish"
	"github.com/dyluth/guidepost/pkg/bundle"
)

// OutputFormat specifies how bundle contents are written.
type OutputFormat string

const (
	// OutputFormatTable uses a table with truncated values
	OutputFormatTable OutputFormat = "table"

	// OutputFormatJSONL writes one JSON object per key
	OutputFormatJSONL OutputFormat = "jsonl"

	// OutputFormatJSON writes the filtered bundle view as a single JSON document
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a user-supplied format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatTable, OutputFormatJSONL, OutputFormatJSON:
		return OutputFormat(s), nil
	case "":
		return OutputFormatTable, nil
	default:
		return "", fmt.Errorf("invalid output format %q: must be one of table, jsonl, json", s)
	}
}

// BundleReader is the read side of the publish service used for inspection.
type BundleReader interface {
	GetBundle(ctx context.Context, lang bundle.Lang) (*publish.BundleView, error)
}

// ShowBundle reads one language bundle, applies the criteria and writes it in the
// requested format. It returns the number of keys written.
func ShowBundle(ctx context.Context, r BundleReader, lang bundle.Lang, criteria *filter.Criteria, format OutputFormat, w io.Writer) (int, error) {
	view, err := r.GetBundle(ctx, lang)
	if err != nil {
		return 0, err
	}

	data := view.Data
	if criteria != nil && criteria.HasFilters() {
		data = criteria.Apply(data)
	}
	entries := Entries(view.Lang, data)

	switch format {
	case OutputFormatJSONL:
		if err := FormatJSONL(w, entries); err != nil {
			return 0, err
		}
	case OutputFormatJSON:
		filtered := publish.BundleView{Lang: view.Lang, Version: view.Version, Data: data}
		if err := FormatSingleJSON(w, filtered); err != nil {
			return 0, err
		}
	default:
		FormatTable(w, entries, view.Lang, view.Version)
	}

	return len(entries), nil
}
