package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSheetsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sheets.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write sheets file: %v", err)
	}
	return path
}

func TestLoadSheetSpecs(t *testing.T) {
	path := writeSheetsFile(t, `{
		"sheets": [
			{
				"key": "crm_contacts",
				"group": "CRM",
				"label": "Contacts",
				"feedKey": "abc123",
				"worksheet": 2,
				"headerRow": 1,
				"fieldOverrides": {"Email": "Primary email address"},
				"requireColumns": ["A", "B"]
			},
			{
				"key": "sales_orders",
				"group": "Sales",
				"feedKey": "def456"
			}
		]
	}`)

	specs, err := LoadSheetSpecs(path)
	if err != nil {
		t.Fatalf("LoadSheetSpecs failed: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}

	first := specs[0]
	if first.Key != "crm_contacts" || first.Worksheet != 2 || first.HeaderRow != 1 {
		t.Errorf("unexpected first spec: %+v", first)
	}
	if len(first.RequireColumns) != 2 {
		t.Errorf("RequireColumns = %v, want 2 entries", first.RequireColumns)
	}
	if first.FieldOverrides["Email"] != "Primary email address" {
		t.Errorf("FieldOverrides = %v", first.FieldOverrides)
	}
}

func TestLoadSheetSpecs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing key",
			content: `{"sheets": [{"feedKey": "abc"}]}`,
			wantErr: "has no key",
		},
		{
			name: "duplicate key",
			content: `{"sheets": [
				{"key": "dup", "feedKey": "a"},
				{"key": "dup", "feedKey": "b"}
			]}`,
			wantErr: "duplicate sheet key",
		},
		{
			name:    "malformed json",
			content: `{"sheets": [`,
			wantErr: "parse sheets file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSheetsFile(t, tt.content)
			_, err := LoadSheetSpecs(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSheetSpecs_FileMissing(t *testing.T) {
	_, err := LoadSheetSpecs(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "read sheets file") {
		t.Errorf("error = %q, want read sheets file", err)
	}
}

func TestBuildDefinition(t *testing.T) {
	spec := SheetSpec{
		Key:       "crm_contacts",
		Group:     "CRM",
		FeedKey:   "abc123",
		Worksheet: 0, // defaults to 1
		HeaderRow: 1,
	}

	def, err := BuildDefinition(spec)
	if err != nil {
		t.Fatalf("BuildDefinition failed: %v", err)
	}
	if def.Info.Label != "crm_contacts" {
		t.Errorf("Label = %q, want key fallback", def.Info.Label)
	}
	if def.Info.Worksheet != 1 {
		t.Errorf("Worksheet = %d, want default 1", def.Info.Worksheet)
	}
	if def.Source == nil {
		t.Fatal("Source is nil")
	}
}

func TestBuildDefinition_InvalidFeedConfig(t *testing.T) {
	_, err := BuildDefinition(SheetSpec{Key: "broken"})
	if err == nil {
		t.Fatal("expected error for empty feed key")
	}
	if !strings.Contains(err.Error(), `sheet "broken"`) {
		t.Errorf("error = %q, want sheet key context", err)
	}
}

func TestRegisterSheetsFile(t *testing.T) {
	Clear()
	t.Cleanup(Clear)

	path := writeSheetsFile(t, `{
		"sheets": [
			{"key": "one", "group": "A", "feedKey": "k1"},
			{"key": "two", "group": "B", "feedKey": "k2", "requireColumns": ["A"]}
		]
	}`)

	n, err := RegisterSheetsFile(path)
	if err != nil {
		t.Fatalf("RegisterSheetsFile failed: %v", err)
	}
	if n != 2 {
		t.Errorf("registered %d sheets, want 2", n)
	}
	if _, ok := Get("one"); !ok {
		t.Error("sheet one not registered")
	}
	if _, ok := Get("two"); !ok {
		t.Error("sheet two not registered")
	}
}
