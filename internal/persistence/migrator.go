package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ParaCover/internal/observability"

	"github.com/rs/zerolog"
)

const versionTable = "public.cover_schema_migrations"

// migration pairs a version prefix with its up/down SQL files.
// File naming follows the golang-migrate convention:
// {version}_{name}.up.sql and {version}_{name}.down.sql.
type migration struct {
	version string
	upFile  string
}

func (mg migration) downFile() string {
	return strings.Replace(mg.upFile, ".up.sql", ".down.sql", 1)
}

// Migrator applies the SQL files under a migrations directory in
// lexicographic version order, tracking progress in a version table.
type Migrator struct {
	db  *sql.DB
	dir string
	log zerolog.Logger
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir, log: observability.NewLogger("migrator")}
}

// Up applies every migration not yet recorded in the version table.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	pending, err := m.pending(ctx)
	if err != nil {
		return err
	}

	for _, mg := range pending {
		sqlText, err := os.ReadFile(filepath.Join(m.dir, mg.upFile))
		if err != nil {
			return fmt.Errorf("migrator: read %s: %w", mg.upFile, err)
		}

		err = m.inTx(ctx, string(sqlText),
			`INSERT INTO `+versionTable+` (version, filename) VALUES ($1, $2)`,
			mg.version, mg.upFile)
		if err != nil {
			return fmt.Errorf("migrator: apply %s: %w", mg.upFile, err)
		}
		m.log.Info().Str("version", mg.version).Str("file", mg.upFile).Msg("migration applied")
	}
	return nil
}

// Down reverts the most recently applied migration, if any.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	var mg migration
	row := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM `+versionTable+` ORDER BY version DESC LIMIT 1`)
	if err := row.Scan(&mg.version, &mg.upFile); err != nil {
		if err == sql.ErrNoRows {
			m.log.Info().Msg("nothing to roll back")
			return nil
		}
		return fmt.Errorf("migrator: latest version: %w", err)
	}

	down := mg.downFile()
	sqlText, err := os.ReadFile(filepath.Join(m.dir, down))
	if err != nil {
		return fmt.Errorf("migrator: read %s: %w", down, err)
	}

	err = m.inTx(ctx, string(sqlText),
		`DELETE FROM `+versionTable+` WHERE version = $1`, mg.version)
	if err != nil {
		return fmt.Errorf("migrator: revert %s: %w", down, err)
	}
	m.log.Info().Str("version", mg.version).Str("file", down).Msg("migration reverted")
	return nil
}

// Version reports the highest applied migration version, or "" when the
// database is untouched.
func (m *Migrator) Version(ctx context.Context) (string, error) {
	if err := m.ensureVersionTable(ctx); err != nil {
		return "", err
	}
	var v string
	row := m.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), '') FROM `+versionTable)
	if err := row.Scan(&v); err != nil {
		return "", fmt.Errorf("migrator: version: %w", err)
	}
	return v, nil
}

// inTx runs the migration SQL and the bookkeeping statement in one
// transaction so a partially applied file never gets recorded.
func (m *Migrator) inTx(ctx context.Context, migrationSQL, bookkeeping string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, migrationSQL); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+versionTable+` (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("migrator: ensure version table: %w", err)
	}
	return nil
}

// pending returns the up-migrations on disk that are not yet in the
// version table, sorted by version.
func (m *Migrator) pending(ctx context.Context) ([]migration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("migrator: applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("migrator: read dir %s: %w", m.dir, err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migrator: unversioned migration file %q", name)
		}
		if applied[version] {
			continue
		}
		out = append(out, migration{version: version, upFile: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
