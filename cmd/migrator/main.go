package main

import (
	"database/sql"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	upCmd := flag.Bool("up", false, "Run all up migrations")
	downCmd := flag.Bool("down", false, "Rollback all migrations")
	stepsCmd := flag.Int("steps", 0, "Run +/- steps")
	configPath := flag.String("config", "configs/vigil.yaml", "Config file providing database.dsn")
	dsnFlag := flag.String("dsn", "", "Postgres DSN (overrides config and DATABASE_DSN)")
	source := flag.String("path", "file://db/migrations", "Migration source URL")
	flag.Parse()

	dsn := *dsnFlag
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
	}
	if dsn == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("No -dsn given and config could not be loaded")
		}
		dsn = cfg.Database.DSN
	}
	if dsn == "" {
		log.Fatal().Msg("database DSN is empty")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrate driver")
	}

	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize migrate")
	}

	start := time.Now()
	switch {
	case *upCmd:
		log.Info().Msg("Running UP migrations")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Migration UP failed")
		}
	case *downCmd:
		log.Info().Msg("Running DOWN migrations")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Migration DOWN failed")
		}
	case *stepsCmd != 0:
		log.Info().Int("steps", *stepsCmd).Msg("Running migration steps")
		if err := m.Steps(*stepsCmd); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Migration steps failed")
		}
	default:
		log.Info().Msg("No command specified. Use -up, -down, or -steps.")
	}

	version, dirty, err := m.Version()
	if err != nil {
		log.Info().Msg("No version found (empty db?)")
	} else {
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current schema version")
	}
	log.Info().Dur("took", time.Since(start)).Msg("Done")
}
