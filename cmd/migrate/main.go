package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"stock_monitor/internal/config"
	"stock_monitor/migrations"
)

func main() {
	backend := flag.String("backend", envOrDefault("STORAGE_BACKEND", config.BackendSQLite), "storage backend: sqlite or postgres")
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/monitor.db"), "path to sqlite database")
	dbURL := flag.String("url", os.Getenv("DATABASE_URL"), "postgres connection url")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-backend sqlite|postgres] [-db path] [-url url] <command>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
		fmt.Fprintln(os.Stderr, "  up-one      Migrate one version up")
		fmt.Fprintln(os.Stderr, "  down        Roll back one version")
		fmt.Fprintln(os.Stderr, "  status      Show migration status")
		fmt.Fprintln(os.Stderr, "  version     Show current version")
		os.Exit(1)
	}

	driver, dsn, dialect, err := target(*backend, *dbPath, *dbURL)
	if err != nil {
		log.Fatal(err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	dir, err := migrations.Setup(dialect)
	if err != nil {
		log.Fatalf("setup migrations: %v", err)
	}

	cmd := args[0]
	switch cmd {
	case "up":
		err = goose.Up(db, dir)
	case "up-one":
		err = goose.UpByOne(db, dir)
	case "down":
		err = goose.Down(db, dir)
	case "status":
		err = goose.Status(db, dir)
	case "version":
		err = goose.Version(db, dir)
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// target resolves the driver, data source and goose dialect of a backend.
func target(backend, path, url string) (driver, dsn, dialect string, err error) {
	switch backend {
	case config.BackendSQLite:
		return "sqlite", path, migrations.DialectSQLite, nil
	case config.BackendPostgres:
		if url == "" {
			return "", "", "", fmt.Errorf("postgres backend needs -url or DATABASE_URL")
		}
		return "pgx", url, migrations.DialectPostgres, nil
	case config.BackendGCS:
		return "", "", "", fmt.Errorf("gcs backend has no schema to migrate")
	default:
		return "", "", "", fmt.Errorf("unknown backend %q", backend)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
