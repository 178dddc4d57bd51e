package main

import (
	"embed"
	"flag"
	"fmt"
	"os"

	"github.com/lgulliver/stowaway/pkg/config"
	"github.com/lgulliver/stowaway/pkg/migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	var (
		up     = flag.Bool("up", false, "Run pending migrations")
		down   = flag.Bool("down", false, "Roll back the last migration")
		status = flag.Bool("status", false, "List pending migrations")
	)
	flag.Parse()

	if !*up && !*down && !*status {
		fmt.Printf("Usage: %s [-up | -down | -status]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.Logging.SetupLogging()

	migrator, err := migrate.NewMigrator(&cfg.Database, migrationsFS, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrator")
	}
	defer migrator.Close()

	switch {
	case *status:
		pending, err := migrator.Status()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read migration status")
		}
		if len(pending) == 0 {
			fmt.Println("schema is up to date")
		}
		for _, m := range pending {
			fmt.Printf("pending: %03d_%s\n", m.Version, m.Name)
		}
	case *up:
		if err := migrator.Up(); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations completed successfully")
	case *down:
		if err := migrator.Down(); err != nil {
			log.Fatal().Err(err).Msg("failed to roll back migration")
		}
		log.Info().Msg("rollback completed successfully")
	}
}
