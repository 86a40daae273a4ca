package cellfeed

// source.go is the adapter surface the hosting pipeline consumes: a field
// catalog for mapping configuration plus a rewindable, countable cursor over
// the loaded records.
//
// Load builds a complete replacement snapshot before publishing it, so a
// failed load can never leave a half-updated table behind and readers never
// observe torn state. Loads on one Source are serialized; the snapshot is
// read-only once published and safe for concurrent readers. The cursor is
// owned by a single consumer and is not synchronized.

import (
	"context"
	"log/slog"
	"sync"
)

// Config describes one worksheet of one remote sheet. Immutable after the
// Source is constructed.
type Config struct {
	// FeedKey identifies the remote sheet. Required.
	FeedKey string

	// WorksheetIndex selects the tab within the sheet, 1-based.
	// Values below 1 default to 1.
	WorksheetIndex int

	// HeaderRow is the 1-based source index of the header row, or 0 for no
	// header row.
	HeaderRow int

	// FieldOverrides adds to or replaces header-derived entries in the
	// published field catalog, keyed by field name.
	FieldOverrides map[string]string

	// Filters is the ordered row filter chain. A row survives only if every
	// filter keeps it.
	Filters []RowFilter
}

// cursor states. Rewind moves to iterating from any state; Next moves to
// exhausted when the record list runs out.
type iterState int

const (
	stateNotStarted iterState = iota
	stateIterating
	stateExhausted
)

// snapshot is the immutable result of one successful load.
type snapshot struct {
	records []Record
	fields  map[string]string
	title   string
	updated string
	skipped int
}

// Source adapts one worksheet's cell feed into a record sequence.
type Source struct {
	cfg     Config
	fetcher Fetcher
	logger  *slog.Logger

	loadMu sync.Mutex   // serializes Load calls
	mu     sync.RWMutex // guards snap
	snap   *snapshot

	// cursor state; single-consumer, reset by Rewind
	cur   []Record
	pos   int
	state iterState
}

// Option customizes a Source.
type Option func(*Source)

// WithFetcher substitutes the feed fetcher. Tests use this to avoid the
// network; the default is an HTTPFetcher with DefaultFetchTimeout.
func WithFetcher(f Fetcher) Option {
	return func(s *Source) { s.fetcher = f }
}

// WithLogger sets the logger used for load diagnostics and skipped-cell
// warnings. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// NewSource validates cfg and creates a Source. An empty FeedKey or a
// negative HeaderRow fails with *ConfigError before any network access.
func NewSource(cfg Config, opts ...Option) (*Source, error) {
	if cfg.FeedKey == "" {
		return nil, &ConfigError{Reason: "feed key is required"}
	}
	if cfg.HeaderRow < 0 {
		return nil, &ConfigError{Reason: "header row must be >= 0"}
	}
	if cfg.WorksheetIndex < 1 {
		cfg.WorksheetIndex = 1
	}

	s := &Source{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = NewHTTPFetcher(DefaultFetchTimeout)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Load fetches the feed and rebuilds the record list, field catalog, and
// identity in one atomic replacement. On any error the previously loaded
// state is left untouched and the error is returned after being logged with
// the sheet key, worksheet index, and transport diagnostics.
func (s *Source) Load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	url := FeedURL(s.cfg.FeedKey, s.cfg.WorksheetIndex)
	feed, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		attrs := []any{
			"feed_key", s.cfg.FeedKey,
			"worksheet", s.cfg.WorksheetIndex,
			"error", err.Error(),
		}
		if fe, ok := err.(*FetchError); ok {
			attrs = append(attrs, "status", fe.Status)
		}
		s.logger.Error("cell feed load failed", attrs...)
		return err
	}

	table, skipped := assemble(feed.Entries, func(label string, err error) {
		s.logger.Warn("skipping malformed cell",
			"feed_key", s.cfg.FeedKey,
			"worksheet", s.cfg.WorksheetIndex,
			"label", label,
		)
	})
	header := extractHeader(table, s.cfg.HeaderRow)
	applyFilters(table, s.cfg.Filters)

	snap := &snapshot{
		records: flatten(table, header),
		fields:  mergeFields(header, s.cfg.FieldOverrides),
		title:   feed.Title,
		updated: feed.Updated,
		skipped: skipped,
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.logger.Info("cell feed loaded",
		"feed_key", s.cfg.FeedKey,
		"worksheet", s.cfg.WorksheetIndex,
		"records", len(snap.records),
		"fields", len(snap.fields),
		"skipped_cells", skipped,
	)
	return nil
}

// Config returns the source's configuration with defaults applied.
func (s *Source) Config() Config {
	return s.cfg
}

// current returns the latest published snapshot, or nil before the first
// successful load.
func (s *Source) current() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Fields returns the published field catalog: field name to description.
// Before the first load it is the configured overrides alone; afterwards it
// is stable until the next successful load.
func (s *Source) Fields() map[string]string {
	snap := s.current()
	if snap == nil {
		return mergeFields(nil, s.cfg.FieldOverrides)
	}
	fields := make(map[string]string, len(snap.fields))
	for k, v := range snap.fields {
		fields[k] = v
	}
	return fields
}

// Count returns the number of records in the currently loaded data. It
// equals the number of records a full Rewind plus drain would yield.
func (s *Source) Count() int {
	snap := s.current()
	if snap == nil {
		return 0
	}
	return len(snap.records)
}

// Rewind restarts iteration from the first record of the currently loaded
// data. Callable any number of times.
func (s *Source) Rewind() {
	snap := s.current()
	if snap == nil {
		s.cur = nil
	} else {
		s.cur = snap.records
	}
	s.pos = 0
	s.state = stateIterating
}

// Next returns the record at the cursor and advances. The second return is
// false once the sequence is exhausted; exhaustion is a normal outcome, not
// an error. The returned record is a copy, so callers cannot mutate the
// loaded snapshot. Calling Next before Rewind starts from the first record.
func (s *Source) Next() (Record, bool) {
	if s.state == stateNotStarted {
		s.Rewind()
	}
	if s.pos >= len(s.cur) {
		s.state = stateExhausted
		return nil, false
	}
	rec := s.cur[s.pos]
	s.pos++

	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, true
}

// Identity returns a change-detection key combining the feed's reported
// title and last-updated stamp. It changes whenever upstream content changes
// and is stable otherwise. Empty before the first successful load.
func (s *Source) Identity() string {
	snap := s.current()
	if snap == nil {
		return ""
	}
	if snap.updated == "" {
		return snap.title
	}
	return snap.title + " (" + snap.updated + ")"
}

// WorksheetTitle returns the worksheet's human-readable title as reported by
// the feed. Empty before the first successful load.
func (s *Source) WorksheetTitle() string {
	snap := s.current()
	if snap == nil {
		return ""
	}
	return snap.title
}

// SkippedCells reports how many entries of the most recent successful load
// were dropped for malformed addresses.
func (s *Source) SkippedCells() int {
	snap := s.current()
	if snap == nil {
		return 0
	}
	return snap.skipped
}
