package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dyluth/guidepost/pkg/bundle"
)

// Entry is one key/value pair of a language bundle.
type Entry struct {
	Lang  bundle.Lang `json:"lang"`
	Key   string      `json:"key"`
	Value string      `json:"value"`
}

// Entries flattens a bundle into entries sorted by key.
func Entries(lang bundle.Lang, b bundle.Bundle) []Entry {
	keys := b.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Lang: lang, Key: k, Value: b[k]})
	}
	return entries
}

// FormatTable writes entries as a formatted table with KEY and VALUE (truncated) columns.
// Returns the number of entries formatted.
func FormatTable(w io.Writer, entries []Entry, lang bundle.Lang, version int64) int {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No keys found in bundle '%s' (content version %d)\n", lang, version)
		return 0
	}

	fmt.Fprintf(w, "Bundle '%s' at content version %d:\n\n", lang, version)

	width := keyColumnWidth(entries)
	fmt.Fprintf(w, "%-*s %s\n", width, "KEY", "VALUE")
	fmt.Fprintf(w, "%-*s %s\n", width, strings.Repeat("-", width), strings.Repeat("-", 40))

	for _, e := range entries {
		fmt.Fprintf(w, "%-*s %s\n", width, formatKey(e.Key), formatValue(e.Value))
	}

	countMsg := "key"
	if len(entries) != 1 {
		countMsg = "keys"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(entries), countMsg)

	return len(entries)
}

// FormatJSONL writes entries as line-delimited JSON, one object per line,
// for processing with tools like jq.
func FormatJSONL(w io.Writer, entries []Entry) error {
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry to JSON: %w", err)
		}

		if _, err := fmt.Fprintf(w, "%s\n", string(data)); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}

	return nil
}

// FormatSingleJSON writes v as pretty-printed JSON followed by a newline.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}

	fmt.Fprintln(w)
	return nil
}

const (
	maxKeyWidth   = 48
	maxValueWidth = 60
)

func keyColumnWidth(entries []Entry) int {
	width := len("KEY")
	for _, e := range entries {
		if n := len(formatKey(e.Key)); n > width {
			width = n
		}
	}
	return width
}

// formatKey keeps the tail of long keys, which is the part that differs.
func formatKey(key string) string {
	if len(key) > maxKeyWidth {
		return "..." + key[len(key)-(maxKeyWidth-3):]
	}
	return key
}

// formatValue truncates a value to its first non-empty line with at most
// maxValueWidth characters. Empty values return "-".
func formatValue(value string) string {
	var firstLine string
	for _, line := range strings.Split(value, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			firstLine = trimmed
			break
		}
	}

	if firstLine == "" {
		return "-"
	}

	runes := []rune(firstLine)
	if len(runes) > maxValueWidth {
		return string(runes[:maxValueWidth-3]) + "..."
	}
	return firstLine
}
