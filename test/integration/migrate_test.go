package integration

import (
	"context"
	"testing"

	"github.com/neuroscan/neuroscan/internal/platform/db"
)

func TestMigrations_AllApplied(t *testing.T) {
	tdb := requireDB(t)
	ctx := context.Background()

	migrator := db.NewMigrator(tdb.Pool, tdb.MigrationsDir)
	statuses, err := migrator.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("expected migrations")
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %d_%s not applied", s.Version, s.Name)
		}
	}

	n, err := migrator.Up(ctx)
	if err != nil {
		t.Fatalf("second up: %v", err)
	}
	if n != 0 {
		t.Errorf("expected re-running migrations to be a no-op, applied %d", n)
	}
}
