package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/chatterm/internal/store/migrations"
)

// SchemaVersion is the migration this build reads and writes.
const SchemaVersion uint = 1

// ErrSchemaDirty means an earlier migration stopped half way. The profile
// database has to be repaired or removed by hand.
var ErrSchemaDirty = errors.New("profile database schema is dirty")

// MigrateResult reports the schema version before and after Migrate. From
// is zero for a new database.
type MigrateResult struct {
	From uint
	To   uint
}

// Applied reports whether any migration ran.
func (r MigrateResult) Applied() bool { return r.From != r.To }

// Migrate brings the schema to SchemaVersion. A database written by a newer
// build is left untouched and reported as an error.
func (db *DB) Migrate() (MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return MigrateResult{}, err
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return MigrateResult{}, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return MigrateResult{From: from, To: from}, fmt.Errorf("%w at version %d", ErrSchemaDirty, from)
	case from > SchemaVersion:
		return MigrateResult{From: from, To: from},
			fmt.Errorf("profile database is at schema %d, this build knows up to %d", from, SchemaVersion)
	}

	if err := m.Migrate(SchemaVersion); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrateResult{From: from, To: from}, fmt.Errorf("migrate %d to %d: %w", from, SchemaVersion, err)
	}
	return MigrateResult{From: from, To: SchemaVersion}, nil
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}
