package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sheetfeed/sheetfeed/internal/cellfeed"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// RecordSource is the capability surface the import pipeline consumes from a
// data-source adapter. cellfeed.Source implements it; tests substitute fakes.
type RecordSource interface {
	// Fields returns the published field catalog (field name -> description)
	// used to validate mapping configuration.
	Fields() map[string]string

	// Load fetches the remote data and materializes the record list.
	// A failed load leaves previously loaded state intact.
	Load(ctx context.Context) error

	// Rewind restarts iteration from the first record.
	Rewind()

	// Next yields the next record; the bool is false at exhaustion.
	Next() (cellfeed.Record, bool)

	// Count reports the number of currently loaded records.
	Count() int

	// Identity is a change-detection key for the loaded content.
	Identity() string

	// WorksheetTitle is the source worksheet's human-readable title.
	WorksheetTitle() string
}

// SheetInfo contains display information about a registered sheet.
type SheetInfo struct {
	Key       string `json:"key"`       // Unique identifier: "crm_contacts"
	Group     string `json:"group"`     // Logical grouping: "CRM"
	Label     string `json:"label"`     // Display name: "Contacts"
	FeedKey   string `json:"feedKey"`   // Remote sheet identifier
	Worksheet int    `json:"worksheet"` // 1-based worksheet index
}

// SheetDefinition pairs a sheet's metadata with its record source.
type SheetDefinition struct {
	Info   SheetInfo
	Source RecordSource
}

// ImportPhase indicates the current stage of import processing.
type ImportPhase string

const (
	PhaseStarting  ImportPhase = "starting"
	PhaseFetching  ImportPhase = "fetching"
	PhaseStoring   ImportPhase = "storing"
	PhaseComplete  ImportPhase = "complete"
	PhaseFailed    ImportPhase = "failed"
	PhaseCancelled ImportPhase = "cancelled"
)

// ImportProgress represents the current state of an import operation.
type ImportProgress struct {
	ImportID   string      `json:"importId"`
	SheetKey   string      `json:"sheetKey"`
	Phase      ImportPhase `json:"phase"`
	TotalRows  int         `json:"totalRows"`
	CurrentRow int         `json:"currentRow"`
	Inserted   int         `json:"inserted"`
	Error      string      `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// Percent returns the progress as a percentage (0-100).
func (p ImportProgress) Percent() int {
	if p.TotalRows > 0 {
		return (p.CurrentRow * 100) / p.TotalRows
	}
	return 0
}

// ImportResult contains the final result of an import operation.
type ImportResult struct {
	ImportID     string        `json:"importId"`
	SheetKey     string        `json:"sheetKey"`
	Identity     string        `json:"identity"`
	TotalRows    int           `json:"totalRows"`
	Inserted     int           `json:"inserted"`
	SkippedCells int           `json:"skippedCells"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"` // Non-empty if import failed
}

// ProgressCallback is called periodically during import processing.
type ProgressCallback func(ImportProgress)

// ImportHistoryEntry is one row of the imports history table.
type ImportHistoryEntry struct {
	ImportID   string    `json:"importId"`
	SheetKey   string    `json:"sheetKey"`
	Identity   string    `json:"identity"`
	TotalRows  int       `json:"totalRows"`
	Inserted   int       `json:"inserted"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Import status values persisted in the imports table.
const (
	StatusRunning    = "running"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusRolledBack = "rolled_back"
)

// RollbackResult contains the result of a rollback operation.
type RollbackResult struct {
	ImportID    string `json:"importId"`
	SheetKey    string `json:"sheetKey"`
	RowsDeleted int64  `json:"rowsDeleted"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// StoredRecord is one imported record as persisted in sheet_records.
type StoredRecord struct {
	RowIndex int               `json:"rowIndex"`
	Fields   map[string]string `json:"fields"`
}
