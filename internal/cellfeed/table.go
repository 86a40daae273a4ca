package cellfeed

// table.go reconstructs the two-dimensional table from the unordered cell
// stream and reduces it to the final record list.
//
// Row numbers stay aligned with source numbering through assembly and header
// extraction (the header row can only be located by its source index), and
// are discarded only after filtering, when the survivors are renumbered to a
// contiguous zero-based list.

import (
	"sort"
	"strings"
)

// Record is one fully assembled, filtered row, keyed by field name where the
// header named the column and by column label otherwise.
type Record map[string]string

// RowFilter decides whether a data row is kept. It sees the row keyed by
// column label (the original view, not the field-named one) and returns true
// to keep the row. Filters must be pure with respect to row content: no
// execution order across filters is guaranteed.
type RowFilter func(row map[string]string) bool

// RequireColumn returns a filter that drops rows whose value in the given
// column is empty or missing.
func RequireColumn(column string) RowFilter {
	column = upper(column)
	return func(row map[string]string) bool {
		return strings.TrimSpace(row[column]) != ""
	}
}

// Table is the sparse reconstruction of one worksheet: row number (1-based,
// as labeled by the source) to column label to content. Rows may be missing
// columns the source omitted.
type Table map[int]map[string]string

// warnFunc receives each entry that could not be placed in the table.
type warnFunc func(label string, err error)

// assemble places an unordered sequence of cells into a Table. A later entry
// at the same coordinate overwrites an earlier one (last-write-wins). Entries
// with malformed labels are skipped and counted, never fatal.
func assemble(entries []Entry, warn warnFunc) (Table, int) {
	table := make(Table)
	skipped := 0
	for _, e := range entries {
		col, row, err := ParseAddress(e.Label)
		if err != nil {
			skipped++
			if warn != nil {
				warn(e.Label, err)
			}
			continue
		}
		cells, ok := table[row]
		if !ok {
			cells = make(map[string]string)
			table[row] = cells
		}
		cells[col] = e.Content
	}
	return table, skipped
}

// extractHeader removes the row at headerRow from the table and returns it as
// a column-label to trimmed-field-name map. With headerRow 0, or when the
// table has no such row, the table is untouched and the map is empty. An
// empty header cell yields an empty field name; whether that is usable for
// mapping is the operator's problem, not ours.
func extractHeader(table Table, headerRow int) map[string]string {
	header := make(map[string]string)
	if headerRow <= 0 {
		return header
	}
	row, ok := table[headerRow]
	if !ok {
		return header
	}
	for col, content := range row {
		header[col] = strings.TrimSpace(content)
	}
	delete(table, headerRow)
	return header
}

// applyFilters removes every row for which any filter returns false. Runs
// strictly after header extraction, so filters never see header content.
func applyFilters(table Table, filters []RowFilter) {
	if len(filters) == 0 {
		return
	}
	for num, row := range table {
		for _, keep := range filters {
			if !keep(row) {
				delete(table, num)
				break
			}
		}
	}
}

// flatten renumbers the surviving rows to a contiguous zero-based record
// list, ordered by original row number, rekeying each cell by its header
// field name where one exists.
func flatten(table Table, header map[string]string) []Record {
	nums := make([]int, 0, len(table))
	for num := range table {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	records := make([]Record, 0, len(nums))
	for _, num := range nums {
		rec := make(Record, len(table[num]))
		for col, content := range table[num] {
			key := col
			if name, ok := header[col]; ok {
				key = name
			}
			rec[key] = content
		}
		records = append(records, rec)
	}
	return records
}

// mergeFields builds the published field catalog: header-derived entries
// overlaid with caller overrides, overrides winning on collision.
func mergeFields(header, overrides map[string]string) map[string]string {
	fields := make(map[string]string, len(header)+len(overrides))
	for _, name := range header {
		fields[name] = name
	}
	for name, desc := range overrides {
		fields[name] = desc
	}
	return fields
}
