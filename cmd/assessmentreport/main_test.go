package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/eledia/assessmentreport/internal/model"
	"github.com/eledia/assessmentreport/internal/store"
)

func TestReportConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		wantErr  bool
		check    func(t *testing.T, cfg model.ReportConfig)
	}{
		{
			name: "defaults",
			settings: map[string]any{
				"db-driver": "sqlite", "db": "x.db", "table-prefix": "mdl_",
			},
			check: func(t *testing.T, cfg model.ReportConfig) {
				if cfg.Lang != "en" || cfg.HostURL != "http://localhost" {
					t.Errorf("defaults not applied: %+v", cfg)
				}
			},
		},
		{
			name: "base path normalized",
			settings: map[string]any{
				"db-driver": "postgres", "db": "postgres://lms", "table-prefix": "m_",
				"host-url": "https://lms.example.org/", "base-path": "reports/", "lang": "de",
			},
			check: func(t *testing.T, cfg model.ReportConfig) {
				if cfg.BasePath != "/reports" {
					t.Errorf("BasePath = %q, want /reports", cfg.BasePath)
				}
				if cfg.HostURL != "https://lms.example.org" {
					t.Errorf("HostURL = %q", cfg.HostURL)
				}
			},
		},
		{
			name:     "unknown driver",
			settings: map[string]any{"db-driver": "mysql", "db": "x", "table-prefix": "mdl_"},
			wantErr:  true,
		},
		{
			name:     "missing dsn",
			settings: map[string]any{"db-driver": "sqlite", "table-prefix": "mdl_"},
			wantErr:  true,
		},
		{
			name:     "unsupported language",
			settings: map[string]any{"db-driver": "sqlite", "db": "x", "table-prefix": "mdl_", "lang": "fr"},
			wantErr:  true,
		},
		{
			name:     "bad host url",
			settings: map[string]any{"db-driver": "sqlite", "db": "x", "table-prefix": "mdl_", "host-url": "not a url"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.settings {
				v.Set(k, val)
			}
			cfg, err := reportConfig(v)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got config %+v", cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("reportConfig: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestImportSnapshots(t *testing.T) {
	s, err := store.New(store.DriverSQLite, ":memory:", "mdl_")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	snap := model.Snapshot{Courses: []model.Course{{ID: 2, ShortName: "MATH1", FullName: "Mathematics I"}}}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := importSnapshots(ctx, s, []string{path}); err != nil {
		t.Fatalf("importSnapshots: %v", err)
	}
	hash, err := s.GetImportedFileHash(ctx, path)
	if err != nil || hash != sha256sum(data) {
		t.Errorf("stored hash = %q, %v", hash, err)
	}
	c, err := s.GetCourse(ctx, 2)
	if err != nil || c == nil {
		t.Fatalf("course not imported: %v", err)
	}

	// Unchanged files are skipped.
	if err := importSnapshots(ctx, s, []string{path}); err != nil {
		t.Errorf("second import: %v", err)
	}

	if err := importSnapshots(ctx, s, []string{filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSeedAdmin(t *testing.T) {
	s, err := store.New(store.DriverSQLite, ":memory:", "mdl_")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := seedAdmin(ctx, s, ""); err == nil {
		t.Error("expected error without a password")
	}
	if err := seedAdmin(ctx, s, "initial-secret"); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	v, err := s.GetViewerByUsername(ctx, "admin")
	if err != nil || v == nil || v.Role != model.ViewerRoleAdmin {
		t.Fatalf("admin not seeded: %+v, %v", v, err)
	}
	// A second run leaves existing viewers alone.
	if err := seedAdmin(ctx, s, ""); err != nil {
		t.Errorf("seedAdmin with existing viewers: %v", err)
	}
}
