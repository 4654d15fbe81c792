package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"postgres://u:p@db:5432/attend", DriverPostgres, "postgres://u:p@db:5432/attend", false},
		{"postgresql://db/attend", DriverPostgres, "postgresql://db/attend", false},
		{"sqlite:///var/lib/attend.db", DriverSQLite, "/var/lib/attend.db" + sqliteDefaults, false},
		{"sqlite://attend.db?mode=ro", DriverSQLite, "attend.db?mode=ro", false},
		{"file:attend.db?cache=shared", DriverSQLite, "file:attend.db?cache=shared", false},
		{"mysql://db/attend", "", "", true},
	}
	for _, tt := range tests {
		driver, dsn, err := ParseURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
		if driver != tt.wantDriver || dsn != tt.wantDSN {
			t.Fatalf("ParseURL(%q) = %q, %q, want %q, %q", tt.url, driver, dsn, tt.wantDriver, tt.wantDSN)
		}
	}
}

func TestNewDBSQLite(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "archive.db")
	db, err := NewDB(context.Background(), url)
	if err != nil {
		t.Fatalf("NewDB() error: %v", err)
	}
	defer db.Close()
	if db.Driver != DriverSQLite {
		t.Fatalf("Driver = %q, want %q", db.Driver, DriverSQLite)
	}
	if !db.Healthy(context.Background()) {
		t.Fatal("Healthy() = false")
	}
}

func TestNilHealth(t *testing.T) {
	var db *DB
	var r *Redis
	if db.Healthy(context.Background()) || r.Healthy(context.Background()) {
		t.Fatal("nil stores should report unhealthy")
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() on nil = %v", err)
	}
}
