package core

// scheduler.go provides background refresh of registered sheets.
//
// Remote sheets change without notice, so the scheduler periodically
// re-imports every registered sheet to keep sheet_records current. Each
// cycle compares the source's identity against the last completed import
// and skips sheets whose upstream content has not changed.
//
// The scheduler is long-running and context-aware for graceful shutdown.
// It logs per-sheet outcomes but never fails the application when an
// individual refresh fails.

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sheetfeed/sheetfeed/internal/logging"
)

// StartRefreshScheduler starts a background loop that re-imports all
// registered sheets every interval. It runs one cycle immediately on start
// and stops when the context is cancelled. An interval <= 0 disables the
// scheduler.
func (s *Service) StartRefreshScheduler(ctx context.Context, interval time.Duration) {
	logger := logging.FromContext(ctx)
	if interval <= 0 {
		logger.Info("refresh scheduler disabled")
		return
	}

	logger.Info("refresh scheduler started",
		"interval", interval.String(),
		"sheets", SheetCount(),
	)

	s.runRefreshCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.runRefreshCycle(ctx)
		}
	}
}

// runRefreshCycle refreshes each registered sheet in turn.
func (s *Service) runRefreshCycle(ctx context.Context) {
	logger := logging.FromContext(ctx)
	start := time.Now()
	refreshed := 0

	for _, def := range All() {
		if ctx.Err() != nil {
			return
		}
		if s.refreshSheet(ctx, def) {
			refreshed++
		}
	}

	logger.Info("refresh cycle completed",
		"refreshed", refreshed,
		"sheets", SheetCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// refreshSheet re-imports one sheet if its upstream content has changed.
// Runs synchronously so a cycle never stacks imports of the same sheet.
// Returns true if an import ran.
func (s *Service) refreshSheet(ctx context.Context, def SheetDefinition) bool {
	logger := logging.WithFields(ctx, "sheet", def.Info.Key)

	// Skip the cycle instead of queueing behind manual imports.
	if !s.limiter.TryAcquire() {
		logger.Debug("refresh skipped, import slots busy")
		return false
	}
	defer s.limiter.Release()

	if err := def.Source.Load(ctx); err != nil {
		logger.Warn("refresh load failed", "error", err.Error())
		return false
	}

	// Identity is stable while upstream content is unchanged, so a matching
	// identity on the last completed import means there is nothing to do.
	if last, err := s.LatestImport(ctx, def.Info.Key); err == nil &&
		last.Identity != "" && last.Identity == def.Source.Identity() {
		logger.Debug("refresh skipped, content unchanged", "identity", last.Identity)
		return false
	}

	importID := uuid.New().String()
	importCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Import.Timeout)
	defer cancel()

	imp := &activeImport{
		ID:       importID,
		SheetKey: def.Info.Key,
		Cancel:   cancel,
		Progress: ImportProgress{
			ImportID: importID,
			SheetKey: def.Info.Key,
			Phase:    PhaseStarting,
		},
		Done: make(chan struct{}),
	}

	s.mu.Lock()
	s.imports[importID] = imp
	s.mu.Unlock()

	s.processImport(importCtx, imp, def)

	if imp.Result != nil && imp.Result.Error == "" {
		logger.Info("refresh imported", "import_id", importID, "records", imp.Result.Inserted)
		return true
	}
	return false
}
