package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		env.GetEnv("DB_USER", "payfox"),
		env.GetEnv("DB_PASSWORD", "payfox"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "payfox_db"),
	)

	log.Infof("[Migrate] connecting to %s@%s:%s/%s",
		env.GetEnv("DB_USER", "payfox"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "payfox_db"),
	)

	m, err := migrate.New("file://"+env.GetEnv("MIGRATIONS_DIR", "migrations"), dbURL)
	if err != nil {
		log.Fatalf("[Migrate] init: %v", err)
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Errorf("[Migrate] close: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		err := m.Up()
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info("[Migrate] no change, schema is up to date")
		case err != nil:
			log.Fatalf("[Migrate] up: %v", err)
		default:
			log.Info("[Migrate] migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatalf("[Migrate] rollback: %v", err)
		}
		log.Info("[Migrate] rolled back one migration")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal("[Migrate] goto needs a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("[Migrate] invalid version: %v", err)
		}

		err = m.Migrate(uint(version))
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Infof("[Migrate] already at version %d", version)
		case err != nil:
			log.Fatalf("[Migrate] goto %d: %v", version, err)
		default:
			log.Infof("[Migrate] migrated to version %d", version)
		}

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("[Migrate] no migrations applied yet")
			return
		}
		if err != nil {
			log.Fatalf("[Migrate] version: %v", err)
		}
		dirtyStatus := ""
		if dirty {
			dirtyStatus = " (dirty)"
		}
		log.Infof("[Migrate] current version: %d%s", version, dirtyStatus)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}
