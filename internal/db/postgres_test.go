package db

import "testing"

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/dispatch?sslmode=disable", "pgx5://u:p@localhost:5432/dispatch?sslmode=disable"},
		{"postgresql://localhost/dispatch", "pgx5://localhost/dispatch"},
		{"localhost/dispatch", "pgx5://localhost/dispatch"},
	}
	for _, tt := range tests {
		if got := migrationURL(tt.in); got != tt.want {
			t.Errorf("migrationURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
