package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"ParaCover/internal/observability"
	"ParaCover/internal/persistence"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|version>")
		fmt.Println("  up      - apply all pending migrations")
		fmt.Println("  down    - roll back the last migration")
		fmt.Println("  version - print the highest applied version")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  COVER_POSTGRES_DSN    - Postgres connection string")
		fmt.Println("  COVER_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
		os.Exit(1)
	}

	godotenv.Load()
	log := observability.NewLogger("migrate")

	pgURL := os.Getenv("COVER_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/paracover?sslmode=disable"
	}

	migrationsDir := os.Getenv("COVER_MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrationsDir)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		log.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
		log.Info().Msg("last migration rolled back")

	case "version":
		v, err := migrator.Version(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate version")
		}
		if v == "" {
			fmt.Println("no migrations applied")
		} else {
			fmt.Println(v)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'version')\n", os.Args[1])
		os.Exit(1)
	}
}
