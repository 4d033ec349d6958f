package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

//go:embed migrations
var migrationsFS embed.FS

// applyFunc executes one migration file, in a single transaction where the backend allows.
type applyFunc func(ctx context.Context, name, body string) error

// runMigrations executes the SQL files of a dialect directory in alphabetical order.
// Every file is written to be re-runnable, so all of them run on each start.
func runMigrations(ctx context.Context, dialect string, apply applyFunc) error {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return err
	}
	// ensure deterministic order: 001_..., 002_..., etc.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		body, err := fs.ReadFile(migrationsFS, path.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if err := apply(ctx, e.Name(), string(body)); err != nil {
			return fmt.Errorf("%s/%s: %w", dialect, e.Name(), err)
		}
	}
	return nil
}
