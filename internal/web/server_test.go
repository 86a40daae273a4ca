package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sheetfeed/sheetfeed/internal/cellfeed"
	"github.com/sheetfeed/sheetfeed/internal/config"
	"github.com/sheetfeed/sheetfeed/internal/core"
)

// ============================================================================
// Test doubles
// ============================================================================

// stubDB satisfies core.DBTX for handler tests. Exec succeeds, queries
// report no rows.
type stubDB struct{}

func (stubDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (stubDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("query not supported by stubDB")
}

func (stubDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return noRow{}
}

type noRow struct{}

func (noRow) Scan(dest ...any) error { return pgx.ErrNoRows }

type stubSource struct {
	records []cellfeed.Record
	pos     int
}

func (s *stubSource) Fields() map[string]string {
	return map[string]string{"Name": "Name", "Email": "Email"}
}

func (s *stubSource) Load(ctx context.Context) error { return nil }
func (s *stubSource) Rewind()                        { s.pos = 0 }

func (s *stubSource) Next() (cellfeed.Record, bool) {
	if s.pos >= len(s.records) {
		return nil, false
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, true
}

func (s *stubSource) Count() int             { return len(s.records) }
func (s *stubSource) Identity() string       { return "Contacts (2026-01-15)" }
func (s *stubSource) WorksheetTitle() string { return "Contacts" }

func testServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	core.Clear()
	t.Cleanup(core.Clear)

	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 30 * time.Second},
		Import: config.ImportConfig{
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			BatchSize:     100,
			Timeout:       time.Minute,
		},
		Rate: config.RateLimitConfig{Enabled: false},
	}
	for _, m := range mutate {
		m(cfg)
	}

	svc, err := core.NewService(stubDB{}, cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	core.Register(core.SheetDefinition{
		Info: core.SheetInfo{
			Key:     "crm_contacts",
			Group:   "CRM",
			Label:   "Contacts",
			FeedKey: "abc123",
		},
		Source: &stubSource{records: []cellfeed.Record{
			{"Name": "Ada", "Email": "ada@example.com"},
			{"Name": "Grace", "Email": "grace@example.com"},
		}},
	})

	return NewServer(svc, cfg)
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

// ============================================================================
// Route Tests
// ============================================================================

func TestHealthz(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestListSheets(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/sheets")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var sheets []core.SheetInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &sheets); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(sheets) != 1 || sheets[0].Key != "crm_contacts" {
		t.Errorf("sheets = %+v, want one crm_contacts entry", sheets)
	}
}

func TestListSheets_GroupFilter(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/sheets?group=Missing")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var sheets []core.SheetInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &sheets); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(sheets) != 0 {
		t.Errorf("got %d sheets for unknown group, want 0", len(sheets))
	}
}

func TestSheetFields(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/sheets/crm_contacts/fields")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var fields map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if fields["Email"] != "Email" {
		t.Errorf("fields = %v, want Email entry", fields)
	}
}

func TestUnknownSheet(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/sheets/bogus/fields")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Code != "IMP002" {
		t.Errorf("error code = %s, want IMP002", resp.Code)
	}
}

func TestStartImport_AndResult(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/sheets/crm_contacts/import")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var started map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	importID := started["import_id"]
	if importID == "" {
		t.Fatal("empty import_id")
	}

	// Poll the result endpoint until the import completes
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = doRequest(t, srv, http.MethodGet, "/api/imports/"+importID+"/result")
		if rec.Code == http.StatusOK {
			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["status"] != "running" {
				if got := body["inserted"]; got != float64(2) {
					t.Errorf("inserted = %v, want 2", got)
				}
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("import did not complete; last status %d: %s", rec.Code, rec.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartImport_UnknownSheet(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/sheets/bogus/import")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestImportResult_NotFound(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/imports/nope/result")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["sheets"] != float64(1) {
		t.Errorf("sheets = %v, want 1", body["sheets"])
	}
}

// ============================================================================
// Middleware Tests
// ============================================================================

func TestAPIKeyAuth(t *testing.T) {
	srv := testServer(t, func(cfg *config.Config) {
		cfg.Security.RequireAPIKey = true
		cfg.Security.APIKeys = []string{"secret-key"}
	})

	// Health endpoint is outside the API key gate
	if rec := doRequest(t, srv, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}

	// Missing key
	if rec := doRequest(t, srv, http.MethodGet, "/api/sheets"); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rec.Code)
	}

	// Wrong key
	req := httptest.NewRequest(http.MethodGet, "/api/sheets", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d, want 403", rec.Code)
	}

	// Correct key
	req = httptest.NewRequest(http.MethodGet, "/api/sheets", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestRateLimiter(t *testing.T) {
	srv := testServer(t, func(cfg *config.Config) {
		cfg.Rate.Enabled = true
		cfg.Rate.RequestsPerMinute = 3
	})

	for i := 0; i < 3; i++ {
		if rec := doRequest(t, srv, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
}
