package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/danthegoodman1/icetier/gologger"
	// ensure "pgx" driver is loaded
	_ "github.com/jackc/pgx/v4/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	//go:embed *.sql
	migrations embed.FS

	ErrMigrationsNotRun = errors.New("not all migrations applied")

	logger = gologger.ForComponent("migrations")
)

const dialect = "postgres"

var set = migrate.MigrationSet{TableName: "icetier_migrations"}

func source() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       ".",
	}
}

func withDB[T any](crdbDsn string, f func(db *sql.DB) (T, error)) (T, error) {
	db, err := sql.Open("pgx", crdbDsn)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("error in sql.Open: %w", err)
	}
	defer db.Close()
	return f(db)
}

// RunMigrations applies every pending migration and returns how many ran.
func RunMigrations(crdbDsn string) (int, error) {
	return withDB(crdbDsn, func(db *sql.DB) (int, error) {
		n, err := set.Exec(db, dialect, source(), migrate.Up)
		if err != nil {
			return n, fmt.Errorf("error in migrate Exec: %w", err)
		}
		logger.Info().Int("applied", n).Msg("ran migrations")
		return n, nil
	})
}

// Pending lists the ids of migrations not yet applied, in apply order.
func Pending(crdbDsn string) ([]string, error) {
	return withDB(crdbDsn, func(db *sql.DB) ([]string, error) {
		planned, _, err := set.PlanMigration(db, dialect, source(), migrate.Up, 0)
		if err != nil {
			return nil, fmt.Errorf("error in PlanMigration: %w", err)
		}
		ids := make([]string, 0, len(planned))
		for _, mig := range planned {
			ids = append(ids, mig.Id)
		}
		return ids, nil
	})
}

// CheckMigrations fails with ErrMigrationsNotRun while any migration is pending.
func CheckMigrations(crdbDsn string) error {
	pending, err := Pending(crdbDsn)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		logger.Warn().Strs("migrationIDs", pending).Msg("missing migrations")
		return fmt.Errorf("%d pending: %w", len(pending), ErrMigrationsNotRun)
	}
	return nil
}
