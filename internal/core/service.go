package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sheetfeed/sheetfeed/internal/config"
)

// Service provides the core business logic for sheet feed imports.
type Service struct {
	db      DBTX
	cfg     *config.Config
	limiter *ImportLimiter

	mu      sync.RWMutex
	imports map[string]*activeImport
}

// activeImport tracks one in-flight (or recently finished) import.
type activeImport struct {
	ID       string
	SheetKey string
	Cancel   context.CancelFunc
	Progress ImportProgress
	Result   *ImportResult
	Done     chan struct{}

	ListenerMu sync.Mutex
	Listeners  []chan ImportProgress
}

// NewService creates a new Service instance.
// db is satisfied by *pgxpool.Pool.
func NewService(db DBTX, cfg *config.Config) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return &Service{
		db:      db,
		cfg:     cfg,
		limiter: NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		imports: make(map[string]*activeImport),
	}, nil
}

// ListSheets returns information about all registered sheets.
func (s *Service) ListSheets() []SheetInfo {
	defs := All()
	infos := make([]SheetInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// ListSheetsByGroup returns sheets organized by group.
func (s *Service) ListSheetsByGroup() map[string][]SheetInfo {
	result := make(map[string][]SheetInfo)
	for _, group := range Groups() {
		for _, def := range ByGroup(group) {
			result[group] = append(result[group], def.Info)
		}
	}
	return result
}

// StartImport begins an asynchronous import of one sheet.
// Returns the import ID immediately; use SubscribeProgress for updates.
// Fails with ErrTooManyImports when no import slot frees up in time.
func (s *Service) StartImport(ctx context.Context, sheetKey string) (string, error) {
	def, ok := Get(sheetKey)
	if !ok {
		return "", fmt.Errorf("unknown sheet: %s", sheetKey)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	importID := uuid.New().String()
	importCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Import.Timeout)

	imp := &activeImport{
		ID:       importID,
		SheetKey: sheetKey,
		Cancel:   cancel,
		Progress: ImportProgress{
			ImportID: importID,
			SheetKey: sheetKey,
			Phase:    PhaseStarting,
		},
		Done: make(chan struct{}),
	}

	s.mu.Lock()
	s.imports[importID] = imp
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		s.processImport(importCtx, imp, def)
	}()

	return importID, nil
}

// SubscribeProgress returns a channel that receives progress updates for an
// import. The channel is closed when the import completes. Returns false if
// the import is not known (it may have been cleaned up already).
func (s *Service) SubscribeProgress(importID string) (<-chan ImportProgress, bool) {
	s.mu.RLock()
	imp, ok := s.imports[importID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	ch := make(chan ImportProgress, 16)

	imp.ListenerMu.Lock()
	select {
	case <-imp.Done:
		// Already finished; deliver the final state and close.
		ch <- imp.Progress
		close(ch)
	default:
		imp.Listeners = append(imp.Listeners, ch)
	}
	imp.ListenerMu.Unlock()

	return ch, true
}

// GetProgress returns the current progress of an import.
func (s *Service) GetProgress(importID string) (ImportProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	imp, ok := s.imports[importID]
	if !ok {
		return ImportProgress{}, false
	}
	return imp.Progress, true
}

// GetResult returns the final result of an import, or false while it is
// still running or after it has been cleaned up.
func (s *Service) GetResult(importID string) (ImportResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	imp, ok := s.imports[importID]
	if !ok || imp.Result == nil {
		return ImportResult{}, false
	}
	return *imp.Result, true
}

// CancelImport requests cancellation of a running import.
func (s *Service) CancelImport(importID string) error {
	s.mu.RLock()
	imp, ok := s.imports[importID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("import not found: %s", importID)
	}

	imp.Cancel()
	return nil
}

// ImportLimiterStatus reports the limiter state for monitoring and shutdown.
func (s *Service) ImportLimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until all active imports complete or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// cleanup drops a finished import from the in-memory map after delay, so
// late progress/result polls still find it for a while.
func (s *Service) cleanup(importID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}

// notifyProgress delivers the current progress to all listeners.
// Slow listeners are skipped rather than blocking the import.
func (imp *activeImport) notifyProgress() {
	imp.ListenerMu.Lock()
	defer imp.ListenerMu.Unlock()

	for _, ch := range imp.Listeners {
		select {
		case ch <- imp.Progress:
		default:
		}
	}
}

// closeListeners delivers the final progress and closes all listener channels.
func (imp *activeImport) closeListeners() {
	imp.ListenerMu.Lock()
	defer imp.ListenerMu.Unlock()

	for _, ch := range imp.Listeners {
		select {
		case ch <- imp.Progress:
		default:
		}
		close(ch)
	}
	imp.Listeners = nil
}
