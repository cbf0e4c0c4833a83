package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/catalogsync/importer/internal/domain"
)

// Options controls how an export is opened and mapped
type Options struct {
	// Delimiter is "auto" or a single character; ignored for spreadsheets
	Delimiter string
	// Columns maps logical field names to header names in the export
	Columns map[string]string
	// Sheet selects the worksheet of a spreadsheet; empty means the first one
	Sheet string
}

// Open picks a reader by file extension
func Open(path string, opts Options) (domain.RowReader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return NewXLSXReader(path, opts)
	case ".tsv":
		if opts.Delimiter == "" || opts.Delimiter == "auto" {
			opts.Delimiter = "\t"
		}
		return NewCSVReader(path, opts)
	default:
		return NewCSVReader(path, opts)
	}
}

func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSuffix(strings.TrimSpace(s), " *")
	return strings.ToLower(strings.TrimSpace(s))
}

// mapHeader renames export headers to logical field names.
// Unmapped columns keep their normalized header text.
func mapHeader(raw []string, columns map[string]string) ([]string, error) {
	lookup := make(map[string]string, len(domain.LogicalFields))
	for _, field := range domain.LogicalFields {
		name := field
		if mapped, ok := columns[field]; ok && strings.TrimSpace(mapped) != "" {
			name = mapped
		}
		lookup[normalizeHeader(name)] = field
	}

	header := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, h := range raw {
		norm := normalizeHeader(h)
		if field, ok := lookup[norm]; ok {
			if seen[field] {
				return nil, fmt.Errorf("%w: duplicate column %q", domain.ErrSourceUnreadable, h)
			}
			norm = field
		}
		seen[norm] = true
		header[i] = norm
	}

	if !seen[domain.FieldPrice] {
		return nil, fmt.Errorf("%w: missing price column", domain.ErrSourceUnreadable)
	}
	if !seen[domain.FieldName] && !seen[domain.FieldKey] {
		return nil, fmt.Errorf("%w: missing name or key column", domain.ErrSourceUnreadable)
	}
	return header, nil
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
