package sqlite

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// applyMigrations runs each embedded .sql file under root at most once,
// tracked by file name in a schema_migrations table. Only the
// "-- +migrate Up" section executes; the Down section exists for manual
// rollback. Each migration runs in its own transaction so a failure leaves
// earlier migrations applied and the failed one unrecorded.
func applyMigrations(db *sql.DB, fsys fs.FS, root string) error {
	if db == nil {
		return fmt.Errorf("sql db is required")
	}

	pattern := "*.sql"
	if root != "" && root != "." {
		pattern = path.Join(root, "*.sql")
	}
	files, err := fs.Glob(fsys, pattern)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
	    name TEXT PRIMARY KEY,
	    applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		applied, err := migrationApplied(db, file)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := strings.TrimSpace(upSection(string(content)))
		if up == "" {
			continue
		}

		if err := runMigration(db, file, up); err != nil {
			return err
		}
	}
	return nil
}

func runMigration(db *sql.DB, name, upSQL string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	if _, err := tx.Exec(upSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
		name, time.Now().UTC().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func migrationApplied(db *sql.DB, name string) (bool, error) {
	var found int
	err := db.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, name).Scan(&found)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// upSection extracts the lines between the Up and Down markers. Files
// without markers run whole.
func upSection(content string) string {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"
	if !strings.Contains(content, upMarker) {
		return content
	}

	var b strings.Builder
	collecting := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, upMarker):
			collecting = true
		case strings.HasPrefix(trimmed, downMarker):
			collecting = false
		case collecting:
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
