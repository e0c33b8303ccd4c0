package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"storefront-be/internal/db"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	mode := flag.String("mode", "up", "migration mode: up, down, steps or version")
	steps := flag.Int("steps", 1, "number of steps for -mode=steps (negative rolls back)")
	dir := flag.String("dir", "./migrations", "migrations directory")
	flag.Parse()

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("DB_URL not set in environment")
	}

	m, err := db.NewMigrator(*dir, dbURL)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _, _ = m.Close() }()

	if err := run(m, *mode, *steps); err != nil {
		log.Fatal(err)
	}
}

func run(m db.Migrator, mode string, steps int) error {
	var err error
	switch mode {
	case "up":
		err = m.Up()
	case "down":
		// roll back only the latest migration
		err = m.Steps(-1)
	case "steps":
		if steps == 0 {
			return errors.New("steps must not be zero")
		}
		err = m.Steps(steps)
	case "version":
		v, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied.")
			return nil
		}
		if verr != nil {
			return verr
		}
		fmt.Printf("Version %d (dirty=%t)\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown mode: %s (use 'up', 'down', 'steps' or 'version')", mode)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("No change.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", mode, err)
	}

	fmt.Printf("Migration %s applied successfully.\n", mode)
	return nil
}
