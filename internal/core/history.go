package core

// history.go reads the imports history table and implements rollback.
//
// Rollback deletes the rows inserted under one import ID and marks the
// history row, mirroring how the records were written in the first place.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ListImports returns the most recent imports for a sheet, newest first.
// With an empty sheetKey, imports across all sheets are returned.
func (s *Service) ListImports(ctx context.Context, sheetKey string, limit int) ([]ImportHistoryEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT id, sheet_key, identity, total_rows, inserted, status, error, started_at, finished_at
	          FROM imports`
	args := []interface{}{}
	if sheetKey != "" {
		query += ` WHERE sheet_key = $1`
		args = append(args, sheetKey)
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT %d`, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var entries []ImportHistoryEntry
	for rows.Next() {
		var (
			e          ImportHistoryEntry
			identity   sql.NullString
			errMsg     sql.NullString
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&e.ImportID, &e.SheetKey, &identity, &e.TotalRows,
			&e.Inserted, &e.Status, &errMsg, &e.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan import row: %w", err)
		}
		e.Identity = identity.String
		e.Error = errMsg.String
		if finishedAt.Valid {
			e.FinishedAt = finishedAt.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}

	return entries, nil
}

// LatestImport returns the most recent completed import for a sheet.
func (s *Service) LatestImport(ctx context.Context, sheetKey string) (ImportHistoryEntry, error) {
	var (
		e          ImportHistoryEntry
		identity   sql.NullString
		errMsg     sql.NullString
		finishedAt sql.NullTime
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, sheet_key, identity, total_rows, inserted, status, error, started_at, finished_at
		 FROM imports
		 WHERE sheet_key = $1 AND status = $2
		 ORDER BY started_at DESC LIMIT 1`,
		sheetKey, StatusComplete,
	).Scan(&e.ImportID, &e.SheetKey, &identity, &e.TotalRows,
		&e.Inserted, &e.Status, &errMsg, &e.StartedAt, &finishedAt)
	if err != nil {
		return ImportHistoryEntry{}, fmt.Errorf("latest import for %s: %w", sheetKey, err)
	}
	e.Identity = identity.String
	e.Error = errMsg.String
	if finishedAt.Valid {
		e.FinishedAt = finishedAt.Time
	}
	return e, nil
}

// SheetRecords returns a page of the records from the sheet's most recent
// completed import, ordered by row index.
func (s *Service) SheetRecords(ctx context.Context, sheetKey string, limit, offset int) ([]StoredRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx,
		`SELECT row_index, fields
		 FROM sheet_records
		 WHERE import_id = (
		     SELECT id FROM imports
		     WHERE sheet_key = $1 AND status = $2
		     ORDER BY started_at DESC LIMIT 1
		 )
		 ORDER BY row_index
		 LIMIT $3 OFFSET $4`,
		sheetKey, StatusComplete, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		var (
			rec    StoredRecord
			fields []byte
		)
		if err := rows.Scan(&rec.RowIndex, &fields); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", rec.RowIndex, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	return records, nil
}

// RollbackImport deletes all rows that were inserted by a specific import
// and marks its history row rolled back.
func (s *Service) RollbackImport(ctx context.Context, importID string) (RollbackResult, error) {
	result := RollbackResult{ImportID: importID}

	var status, sheetKey string
	err := s.db.QueryRow(ctx,
		`SELECT sheet_key, status FROM imports WHERE id = $1`, importID,
	).Scan(&sheetKey, &status)
	if err != nil {
		result.Error = fmt.Sprintf("import not found: %v", err)
		return result, fmt.Errorf("get import: %w", err)
	}
	result.SheetKey = sheetKey

	if status == StatusRolledBack {
		result.Error = "import already rolled back"
		return result, fmt.Errorf("import already rolled back")
	}
	if status == StatusRunning {
		result.Error = "import still running"
		return result, fmt.Errorf("import still running")
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM sheet_records WHERE import_id = $1`, importID)
	if err != nil {
		result.Error = fmt.Sprintf("delete failed: %v", err)
		return result, fmt.Errorf("delete records: %w", err)
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE imports SET status = $2, finished_at = now() WHERE id = $1`,
		importID, StatusRolledBack,
	); err != nil {
		// Rows are already gone; report but don't fail.
		result.Error = fmt.Sprintf("warning: rows deleted but status update failed: %v", err)
	}

	result.RowsDeleted = tag.RowsAffected()
	result.Success = true
	return result, nil
}

// PruneHistory deletes finished history rows older than the retention
// window, along with any stray records still referencing them.
func (s *Service) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	if _, err := s.db.Exec(ctx,
		`DELETE FROM sheet_records WHERE import_id IN (
		     SELECT id FROM imports WHERE status <> $1 AND started_at < $2
		 )`,
		StatusRunning, cutoff,
	); err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM imports WHERE status <> $1 AND started_at < $2`,
		StatusRunning, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune imports: %w", err)
	}
	return tag.RowsAffected(), nil
}
