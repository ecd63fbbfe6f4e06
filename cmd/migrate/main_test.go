package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTarget(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		url     string
		want    []string
		wantErr bool
	}{
		{name: "sqlite", backend: "sqlite", want: []string{"sqlite", "./data/monitor.db", "sqlite3"}},
		{name: "postgres", backend: "postgres", url: "postgres://db/monitor", want: []string{"pgx", "postgres://db/monitor", "postgres"}},
		{name: "postgres without url", backend: "postgres", wantErr: true},
		{name: "gcs", backend: "gcs", wantErr: true},
		{name: "unknown", backend: "mysql", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, dialect, err := target(tt.backend, "./data/monitor.db", tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s %s %s", driver, dsn, dialect)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, []string{driver, dsn, dialect}); diff != "" {
				t.Errorf("target mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
