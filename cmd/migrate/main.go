// Command migrate applies or reverts the schema migrations under
// migrations/ against the configured database.
package main

import (
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/quillforge/quillforge/pkg/config"
	"github.com/quillforge/quillforge/pkg/storage/postgres"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var migrationsPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert quillforge database migrations",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the process config file")
	cmd.PersistentFlags().StringVar(&migrationsPath, "migrations", "migrations", "path to the migrations directory")

	cmd.AddCommand(newUpCommand(&configPath, &migrationsPath))
	cmd.AddCommand(newDownCommand(&configPath, &migrationsPath))
	cmd.AddCommand(newVersionCommand(&configPath, &migrationsPath))

	return cmd
}

func newUpCommand(configPath, migrationsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(*configPath, *migrationsPath)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				return fmt.Errorf("run migrations: %w", err)
			}
			cmd.Println("migrations applied")
			return nil
		},
	}
}

func newDownCommand(configPath, migrationsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Revert the most recently applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(*configPath, *migrationsPath)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := m.Steps(-1); err != nil && err != migrate.ErrNoChange {
				return fmt.Errorf("revert migration: %w", err)
			}
			cmd.Println("last migration reverted")
			return nil
		},
	}
}

func newVersionCommand(configPath, migrationsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeFn, err := openMigrator(*configPath, *migrationsPath)
			if err != nil {
				return err
			}
			defer closeFn()

			version, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("read migration version: %w", err)
			}
			cmd.Printf("version=%d dirty=%v\n", version, dirty)
			return nil
		},
	}
}

func openMigrator(configPath, migrationsPath string) (*migrate.Migrate, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	store, err := postgres.NewStore(postgres.Config{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	driver, err := migratepostgres.WithInstance(store.DB().DB, &migratepostgres.Config{})
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", migrationsPath), "postgres", driver)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return m, func() { store.Close() }, nil
}
