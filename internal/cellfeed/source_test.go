package cellfeed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
)

// stubFetcher returns a canned feed or error, and records the URLs it was
// asked for.
type stubFetcher struct {
	feed *ParsedFeed
	err  error
	urls []string
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*ParsedFeed, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.feed, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSource(t *testing.T, cfg Config, fetcher Fetcher) *Source {
	t.Helper()
	src, err := NewSource(cfg, WithFetcher(fetcher), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	return src
}

// contactsFeed is a header row at index 2 with {A: Name, B: Email} and data
// rows at indices 3 and 4, delivered out of order.
func contactsFeed() *ParsedFeed {
	return &ParsedFeed{
		Title:   "Contacts",
		Updated: "2024-03-01T10:00:00Z",
		Entries: []Entry{
			{Label: "B4", Content: "grace@example.com"},
			{Label: "A2", Content: "Name"},
			{Label: "A3", Content: "Ada"},
			{Label: "B2", Content: "Email"},
			{Label: "B3", Content: "ada@example.com"},
			{Label: "A4", Content: "Grace"},
		},
	}
}

// ============================================================================
// NewSource Tests
// ============================================================================

func TestNewSource_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid minimal config",
			cfg:  Config{FeedKey: "abc123"},
		},
		{
			name:    "empty feed key",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name:    "negative header row",
			cfg:     Config{FeedKey: "abc123", HeaderRow: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSource(tt.cfg, WithLogger(quietLogger()))
			if tt.wantErr {
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("NewSource() error = %v, want *ConfigError", err)
				}
				return
			}
			if err != nil {
				t.Errorf("NewSource() error = %v", err)
			}
		})
	}
}

func TestNewSource_WorksheetIndexDefaultsToOne(t *testing.T) {
	fetcher := &stubFetcher{feed: &ParsedFeed{}}
	src := newTestSource(t, Config{FeedKey: "key"}, fetcher)

	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := FeedURL("key", 1)
	if len(fetcher.urls) != 1 || fetcher.urls[0] != want {
		t.Errorf("fetched %v, want [%s]", fetcher.urls, want)
	}
}

// ============================================================================
// Load + Fields Tests
// ============================================================================

func TestLoad_HeaderAndRecords(t *testing.T) {
	src := newTestSource(t, Config{FeedKey: "key", HeaderRow: 2}, &stubFetcher{feed: contactsFeed()})

	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	wantFields := map[string]string{"Name": "Name", "Email": "Email"}
	if got := src.Fields(); !reflect.DeepEqual(got, wantFields) {
		t.Errorf("Fields() = %v, want %v", got, wantFields)
	}
	if got := src.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}

	src.Rewind()
	first, ok := src.Next()
	if !ok {
		t.Fatal("Next() exhausted before first record")
	}
	if first["Name"] != "Ada" || first["Email"] != "ada@example.com" {
		t.Errorf("first record = %v", first)
	}
	second, ok := src.Next()
	if !ok {
		t.Fatal("Next() exhausted before second record")
	}
	if second["Name"] != "Grace" || second["Email"] != "grace@example.com" {
		t.Errorf("second record = %v", second)
	}
	if _, ok := src.Next(); ok {
		t.Error("Next() returned a third record, want exhaustion")
	}
}

func TestLoad_NoHeaderRow(t *testing.T) {
	overrides := map[string]string{"A": "First column"}
	src := newTestSource(t, Config{
		FeedKey:        "key",
		HeaderRow:      0,
		FieldOverrides: overrides,
	}, &stubFetcher{feed: contactsFeed()})

	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// With no header row the catalog is exactly the overrides and every
	// fetched row is data.
	if got := src.Fields(); !reflect.DeepEqual(got, overrides) {
		t.Errorf("Fields() = %v, want %v", got, overrides)
	}
	if got := src.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}

	src.Rewind()
	rec, _ := src.Next()
	if rec["A"] != "Name" || rec["B"] != "Email" {
		t.Errorf("first record = %v, want the would-be header row as data", rec)
	}
}

func TestLoad_FieldOverridesWinOverHeader(t *testing.T) {
	src := newTestSource(t, Config{
		FeedKey:        "key",
		HeaderRow:      2,
		FieldOverrides: map[string]string{"Name": "Customer name", "Added": "Synthesized"},
	}, &stubFetcher{feed: contactsFeed()})

	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := map[string]string{
		"Name":  "Customer name",
		"Email": "Email",
		"Added": "Synthesized",
	}
	if got := src.Fields(); !reflect.DeepEqual(got, want) {
		t.Errorf("Fields() = %v, want %v", got, want)
	}
}

func TestLoad_Filters(t *testing.T) {
	// 5 raw data rows, 2 with an empty "A" cell.
	feed := &ParsedFeed{
		Title: "Sheet1",
		Entries: []Entry{
			{Label: "A1", Content: "one"},
			{Label: "A2", Content: ""},
			{Label: "A3", Content: "three"},
			{Label: "B4", Content: "no a cell"},
			{Label: "A5", Content: "five"},
			{Label: "B5", Content: "extra"},
		},
	}
	src := newTestSource(t, Config{
		FeedKey: "key",
		Filters: []RowFilter{RequireColumn("A")},
	}, &stubFetcher{feed: feed})

	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := src.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}

	src.Rewind()
	for rec, ok := src.Next(); ok; rec, ok = src.Next() {
		if rec["A"] == "" {
			t.Errorf("record with empty A survived filtering: %v", rec)
		}
	}
}

func TestLoad_EmptyFeedIsNotAnError(t *testing.T) {
	src := newTestSource(t, Config{FeedKey: "key", HeaderRow: 1},
		&stubFetcher{feed: &ParsedFeed{Title: "Empty"}})

	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := src.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	src.Rewind()
	if _, ok := src.Next(); ok {
		t.Error("Next() on empty load returned a record")
	}
}

func TestLoad_SkipsMalformedCells(t *testing.T) {
	feed := &ParsedFeed{
		Entries: []Entry{
			{Label: "A1", Content: "good"},
			{Label: "??", Content: "bad"},
		},
	}
	src := newTestSource(t, Config{FeedKey: "key"}, &stubFetcher{feed: feed})

	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v, want success despite malformed cell", err)
	}
	if got := src.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	if got := src.SkippedCells(); got != 1 {
		t.Errorf("SkippedCells() = %d, want 1", got)
	}
}

// ============================================================================
// Failure isolation Tests
// ============================================================================

func TestLoad_FetchErrorPreservesPriorState(t *testing.T) {
	fetcher := &stubFetcher{feed: contactsFeed()}
	src := newTestSource(t, Config{FeedKey: "key", HeaderRow: 2}, fetcher)

	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	wantFields := src.Fields()
	wantIdentity := src.Identity()

	// Simulated non-200 response on the next load.
	fetcher.err = &FetchError{Status: 404, Message: "not found"}
	err := src.Load(context.Background())

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Status != 404 {
		t.Fatalf("Load() error = %v, want *FetchError with status 404", err)
	}
	if got := src.Count(); got != 2 {
		t.Errorf("Count() after failed load = %d, want 2", got)
	}
	if got := src.Fields(); !reflect.DeepEqual(got, wantFields) {
		t.Errorf("Fields() changed after failed load: %v", got)
	}
	if got := src.Identity(); got != wantIdentity {
		t.Errorf("Identity() changed after failed load: %q", got)
	}

	src.Rewind()
	if rec, ok := src.Next(); !ok || rec["Name"] != "Ada" {
		t.Errorf("prior records unreadable after failed load: (%v, %v)", rec, ok)
	}
}

func TestLoad_FirstLoadFailureLeavesNotLoaded(t *testing.T) {
	src := newTestSource(t, Config{FeedKey: "key"},
		&stubFetcher{err: &FetchError{Status: 500, Message: "boom"}})

	if err := src.Load(context.Background()); err == nil {
		t.Fatal("Load() = nil, want error")
	}
	if src.Count() != 0 || src.Identity() != "" || src.WorksheetTitle() != "" {
		t.Error("failed first load must leave the source definitively not loaded")
	}
	src.Rewind()
	if _, ok := src.Next(); ok {
		t.Error("Next() yielded a record after a failed first load")
	}
}

// ============================================================================
// Cursor Tests
// ============================================================================

func TestRewindDrainIsIdempotent(t *testing.T) {
	src := newTestSource(t, Config{FeedKey: "key", HeaderRow: 2}, &stubFetcher{feed: contactsFeed()})
	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	drain := func() []Record {
		src.Rewind()
		var out []Record
		for rec, ok := src.Next(); ok; rec, ok = src.Next() {
			out = append(out, rec)
		}
		return out
	}

	first := drain()
	if len(first) != src.Count() {
		t.Fatalf("drained %d records, Count() = %d", len(first), src.Count())
	}
	second := drain()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second drain differs:\nfirst  %v\nsecond %v", first, second)
	}
}

func TestNext_ReturnsCopies(t *testing.T) {
	src := newTestSource(t, Config{FeedKey: "key", HeaderRow: 2}, &stubFetcher{feed: contactsFeed()})
	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	src.Rewind()
	rec, _ := src.Next()
	rec["Name"] = "mutated"

	src.Rewind()
	again, _ := src.Next()
	if again["Name"] != "Ada" {
		t.Errorf("mutating a returned record leaked into the snapshot: %v", again)
	}
}

func TestIdentity(t *testing.T) {
	src := newTestSource(t, Config{FeedKey: "key"}, &stubFetcher{feed: contactsFeed()})
	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := "Contacts (2024-03-01T10:00:00Z)"
	if got := src.Identity(); got != want {
		t.Errorf("Identity() = %q, want %q", got, want)
	}
	if got := src.WorksheetTitle(); got != "Contacts" {
		t.Errorf("WorksheetTitle() = %q, want %q", got, "Contacts")
	}
}
