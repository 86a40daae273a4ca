package core

// import.go runs one import end to end: load the sheet's record source,
// drain it into sheet_records in batches under a fresh import ID, and record
// the outcome in the imports history table.
//
// The record source guarantees a failed load leaves its previous state
// intact; this file guarantees the same for the database: a failed or
// cancelled import deletes whatever partial rows it managed to insert, so
// sheet_records only ever holds complete imports.

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sheetfeed/sheetfeed/internal/cellfeed"
	"github.com/sheetfeed/sheetfeed/internal/logging"
)

// SkippedCellCounter is implemented by sources that track how many malformed
// cells were dropped during load. cellfeed.Source implements it.
type SkippedCellCounter interface {
	SkippedCells() int
}

// processImport drives one import to completion. It always produces a
// Result, closes listeners, and schedules cleanup.
func (s *Service) processImport(ctx context.Context, imp *activeImport, def SheetDefinition) {
	startTime := time.Now()
	logger := logging.WithFields(ctx, "import_id", imp.ID, "sheet", imp.SheetKey)

	defer func() {
		imp.closeListeners()
		close(imp.Done)
		s.cleanup(imp.ID, 5*time.Minute)
	}()

	fail := func(phase ImportPhase, err error) {
		imp.Progress.Phase = phase
		imp.Progress.Error = err.Error()
		imp.notifyProgress()
		imp.Result = &ImportResult{
			ImportID: imp.ID,
			SheetKey: imp.SheetKey,
			Error:    err.Error(),
			Duration: time.Since(startTime),
		}
		logger.Error("import failed", "phase", string(phase), "error", err.Error())
	}

	// Fetch and materialize the worksheet.
	imp.Progress.Phase = PhaseFetching
	imp.notifyProgress()

	src := def.Source
	if err := src.Load(ctx); err != nil {
		fail(PhaseFailed, err)
		s.recordImport(ctx, imp, src, StatusFailed, 0, err)
		return
	}

	total := src.Count()
	imp.Progress.TotalRows = total
	imp.Progress.Phase = PhaseStoring
	imp.notifyProgress()

	if err := s.insertImportRow(ctx, imp.ID, imp.SheetKey, src.Identity(), total); err != nil {
		fail(PhaseFailed, err)
		return
	}

	inserted, err := s.storeRecords(ctx, imp, src)
	if err != nil {
		// Partial rows from this import must not linger.
		s.deleteImportRecords(context.WithoutCancel(ctx), imp.ID)

		phase := PhaseFailed
		status := StatusFailed
		if ctx.Err() != nil {
			phase = PhaseCancelled
			status = StatusCancelled
		}
		fail(phase, err)
		s.finishImportRow(context.WithoutCancel(ctx), imp.ID, status, 0, err)
		return
	}

	if err := s.finishImportRow(ctx, imp.ID, StatusComplete, inserted, nil); err != nil {
		logger.Warn("import finished but history update failed", "error", err.Error())
	}

	skipped := 0
	if counter, ok := src.(SkippedCellCounter); ok {
		skipped = counter.SkippedCells()
	}

	imp.Progress.Phase = PhaseComplete
	imp.Progress.Inserted = inserted
	imp.Progress.CurrentRow = total
	imp.notifyProgress()
	imp.Result = &ImportResult{
		ImportID:     imp.ID,
		SheetKey:     imp.SheetKey,
		Identity:     src.Identity(),
		TotalRows:    total,
		Inserted:     inserted,
		SkippedCells: skipped,
		Duration:     time.Since(startTime),
	}

	logger.Info("import complete",
		"records", inserted,
		"skipped_cells", skipped,
		"identity", src.Identity(),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
}

// storeRecords drains the source into sheet_records in batches.
func (s *Service) storeRecords(ctx context.Context, imp *activeImport, src RecordSource) (int, error) {
	batchSize := s.cfg.Import.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	src.Rewind()
	inserted := 0
	rowIndex := 0
	batch := make([]cellfeed.Record, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.insertRecordBatch(ctx, imp.ID, imp.SheetKey, rowIndex-len(batch), batch); err != nil {
			return err
		}
		inserted += len(batch)
		batch = batch[:0]

		imp.Progress.CurrentRow = rowIndex
		imp.Progress.Inserted = inserted
		imp.notifyProgress()
		return nil
	}

	for rec, ok := src.Next(); ok; rec, ok = src.Next() {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		batch = append(batch, rec)
		rowIndex++
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}

	return inserted, nil
}

// insertRecordBatch inserts one batch with a multi-row VALUES statement.
// firstIndex is the zero-based index of the batch's first record.
func (s *Service) insertRecordBatch(ctx context.Context, importID, sheetKey string, firstIndex int, batch []cellfeed.Record) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO sheet_records (import_id, sheet_key, row_index, fields) VALUES ")

	args := make([]interface{}, 0, len(batch)*4)
	for i, rec := range batch {
		fields, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", firstIndex+i, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, importID, sheetKey, firstIndex+i, fields)
	}

	if _, err := s.db.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	return nil
}

// insertImportRow records the start of an import in the history table.
func (s *Service) insertImportRow(ctx context.Context, importID, sheetKey, identity string, total int) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO imports (id, sheet_key, identity, total_rows, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		importID, sheetKey, identity, total, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("record import start: %w", err)
	}
	return nil
}

// finishImportRow records the outcome of an import.
func (s *Service) finishImportRow(ctx context.Context, importID, status string, inserted int, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(ctx,
		`UPDATE imports
		 SET status = $2, inserted = $3, error = $4, finished_at = now()
		 WHERE id = $1`,
		importID, status, inserted, msg,
	)
	if err != nil {
		return fmt.Errorf("record import finish: %w", err)
	}
	return nil
}

// deleteImportRecords removes all rows inserted under one import ID.
// Best effort: the caller is already on a failure path.
func (s *Service) deleteImportRecords(ctx context.Context, importID string) {
	_, err := s.db.Exec(ctx, `DELETE FROM sheet_records WHERE import_id = $1`, importID)
	if err != nil {
		logging.FromContext(ctx).Warn("cleanup of partial import failed",
			"import_id", importID,
			"error", err.Error(),
		)
	}
}

// recordImport writes a terminal history row for imports that failed before
// the start row was written.
func (s *Service) recordImport(ctx context.Context, imp *activeImport, src RecordSource, status string, inserted int, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO imports (id, sheet_key, identity, total_rows, inserted, status, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		imp.ID, imp.SheetKey, src.Identity(), 0, inserted, status, msg,
	)
	if err != nil {
		logging.FromContext(ctx).Warn("recording failed import failed",
			"import_id", imp.ID,
			"error", err.Error(),
		)
	}
}
