package core

// sheets.go loads sheet definitions from the operator-maintained sheets file
// and registers them.
//
// Filter predicates are code, not data, so the file can only express the
// common case: requireColumns lists column labels that must be non-empty for
// a row to be imported. Programmatic callers can still Register definitions
// with arbitrary cellfeed filters.

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sheetfeed/sheetfeed/internal/cellfeed"
)

// SheetSpec is one entry of the sheets file.
type SheetSpec struct {
	Key            string            `json:"key"`
	Group          string            `json:"group"`
	Label          string            `json:"label"`
	FeedKey        string            `json:"feedKey"`
	Worksheet      int               `json:"worksheet"`
	HeaderRow      int               `json:"headerRow"`
	FieldOverrides map[string]string `json:"fieldOverrides"`
	RequireColumns []string          `json:"requireColumns"`
}

type sheetsFile struct {
	Sheets []SheetSpec `json:"sheets"`
}

// LoadSheetSpecs parses the sheets file at path.
func LoadSheetSpecs(path string) ([]SheetSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sheets file: %w", err)
	}

	var file sheetsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sheets file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Sheets))
	for i, spec := range file.Sheets {
		if spec.Key == "" {
			return nil, fmt.Errorf("sheets file %s: entry %d has no key", path, i)
		}
		if seen[spec.Key] {
			return nil, fmt.Errorf("sheets file %s: duplicate sheet key %q", path, spec.Key)
		}
		seen[spec.Key] = true
	}

	return file.Sheets, nil
}

// BuildDefinition turns a SheetSpec into a registrable SheetDefinition,
// constructing its cellfeed source with the given options.
func BuildDefinition(spec SheetSpec, opts ...cellfeed.Option) (SheetDefinition, error) {
	var filters []cellfeed.RowFilter
	for _, col := range spec.RequireColumns {
		filters = append(filters, cellfeed.RequireColumn(col))
	}

	src, err := cellfeed.NewSource(cellfeed.Config{
		FeedKey:        spec.FeedKey,
		WorksheetIndex: spec.Worksheet,
		HeaderRow:      spec.HeaderRow,
		FieldOverrides: spec.FieldOverrides,
		Filters:        filters,
	}, opts...)
	if err != nil {
		return SheetDefinition{}, fmt.Errorf("sheet %q: %w", spec.Key, err)
	}

	label := spec.Label
	if label == "" {
		label = spec.Key
	}

	return SheetDefinition{
		Info: SheetInfo{
			Key:       spec.Key,
			Group:     spec.Group,
			Label:     label,
			FeedKey:   spec.FeedKey,
			Worksheet: src.Config().WorksheetIndex,
		},
		Source: src,
	}, nil
}

// RegisterSheetsFile loads the sheets file and registers every definition.
// Returns the number of sheets registered.
func RegisterSheetsFile(path string, opts ...cellfeed.Option) (int, error) {
	specs, err := LoadSheetSpecs(path)
	if err != nil {
		return 0, err
	}

	for _, spec := range specs {
		def, err := BuildDefinition(spec, opts...)
		if err != nil {
			return 0, err
		}
		Register(def)
	}

	return len(specs), nil
}
