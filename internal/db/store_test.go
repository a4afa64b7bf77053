package db

import "testing"

func TestRebind(t *testing.T) {
	sqlite := &Store{dialect: DialectSQLite}
	pg := &Store{dialect: DialectPostgres}

	query := "SELECT * FROM monitors WHERE id = ? AND active = ?"
	if got := sqlite.rebind(query); got != query {
		t.Errorf("sqlite rebind must pass through, got %q", got)
	}
	want := "SELECT * FROM monitors WHERE id = $1 AND active = $2"
	if got := pg.rebind(query); got != want {
		t.Errorf("pg rebind = %q, want %q", got, want)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"up", StatusUp},
		{"down", StatusDown},
		{"maintenance", StatusMaintenance},
		{"paused", StatusPaused},
		{"unknown", StatusUnknown},
		{"degraded", StatusUnknown}, // older schema value
		{"", StatusUnknown},
	}
	for _, tt := range tests {
		if got := ParseStatus(tt.in); got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSettings(t *testing.T) {
	store := newTestStore(t)

	if got := store.GetSettingOr("missing", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	if err := store.SetSetting("rollup_last_day", "1700006400"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if got := store.GetSettingOr("rollup_last_day", ""); got != "1700006400" {
		t.Errorf("got %q", got)
	}
	// Upsert overwrites.
	if err := store.SetSetting("rollup_last_day", "1700092800"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if got := store.GetSettingOr("rollup_last_day", ""); got != "1700092800" {
		t.Errorf("got %q", got)
	}
}

func TestSnapshots(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.GetSnapshot("status")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected no snapshot, got %+v", snap)
	}

	body := []byte(`{"overall_status":"up"}`)
	if err := store.PutSnapshot("status", 1000, body); err != nil {
		t.Fatalf("PutSnapshot failed: %v", err)
	}
	snap, err = store.GetSnapshot("status")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if snap.GeneratedAt != 1000 || string(snap.Body) != string(body) {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	// Write-through replaces.
	if err := store.PutSnapshot("status", 2000, []byte(`{}`)); err != nil {
		t.Fatalf("PutSnapshot failed: %v", err)
	}
	snap, _ = store.GetSnapshot("status")
	if snap.GeneratedAt != 2000 {
		t.Errorf("generated_at = %d, want 2000", snap.GeneratedAt)
	}
}
