package migrations

import (
	"testing"

	"github.com/care/emr/internal/platform/db"
)

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migs, err := db.NewMigrator(nil, FS).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migs) != 5 {
		t.Fatalf("expected 5 migrations, got %d", len(migs))
	}
	for i, m := range migs {
		if m.Version != i+1 {
			t.Errorf("migration %s has version %d, want %d", m.Name, m.Version, i+1)
		}
		if m.SQL == "" {
			t.Errorf("migration %s is empty", m.Name)
		}
	}
}
