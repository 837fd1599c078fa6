package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rhythm/internal/shared"
)

// SetupConfig writes the bundled config template to --config.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")

	if _, err := os.Stat(path); err == nil {
		if !cmd.Bool("force") {
			return fmt.Errorf("%w: %s already exists (use --force to overwrite)", shared.ErrInvalidInput, path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to replace config file: %w", err)
		}
	}

	if err := shared.CreateConfigFile(path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	r.logger.Info("config file created", "path", path)

	r.writePlain("%s\n", r.palette.OK("Config written to %s", path))
	r.writePlainln("Next steps:")
	r.writePlain("1. Set credentials.spotify client_id and client_secret to resolve Spotify links\n")
	r.writePlain("2. Run 'rhythm setup database' to create the track cache\n")
	r.writePlain("3. Run 'rhythm serve'\n")
	return nil
}

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if cmd.Bool("rollback") {
		r.logger.Info("rolling back latest migration")
		if err := shared.RollbackMigration(db); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		r.writePlain("%s\n", r.palette.OK("Rolled back latest migration"))
		return nil
	}

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	r.writePlain("%s\n", r.palette.OK("Database ready at %s", r.config.Database.Path))
	return nil
}
