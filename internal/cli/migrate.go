package cli

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"github.com/navshield/tracer/internal/store/migrations"
)

// NewMigrateCommand exposes the tracked migration set alongside store.Open's
// own idempotent schema application, for operators who want an explicit
// version/status view or need to step through a future non-additive change.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or apply tracked schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "up",
		Short:         "Apply all pending migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open migrator", err)
			}
			defer closeFn()

			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return WrapExitError(ExitCommandError, "migration up failed", err)
			}

			version, dirty, err := m.Version()
			if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
				return WrapExitError(ExitCommandError, "failed to read migration version", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]any{"version": version, "dirty": dirty})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "status",
		Short:         "Show the current migration version",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open migrator", err)
			}
			defer closeFn()

			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				return rootOpts.formatter(cmd).Success(map[string]any{"version": nil, "dirty": false})
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read migration version", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]any{"version": version, "dirty": dirty})
		},
	})

	return cmd
}

// openMigrator opens a dedicated connection to the configured database and
// wires golang-migrate's sqlite3 driver against the embedded migration
// set. The caller must invoke the returned close func, which closes both
// the migrate instance and its underlying connection.
func openMigrator(rootOpts *RootOptions) (*migrate.Migrate, func(), error) {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create sqlite3 migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("open embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return m, func() {
		_, _ = m.Close()
		_ = db.Close()
	}, nil
}
