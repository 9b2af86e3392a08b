package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"marketintel/internal/config"
	"marketintel/internal/database"
	"marketintel/internal/models"
)

func main() {
	fmt.Println("🗃️  Market Intel Database Tool")
	fmt.Println("==============================")

	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/migrate/main.go <command>")
		fmt.Println("Commands:")
		fmt.Println("  init          - Create the database and apply every migration")
		fmt.Println("  status        - Show applied and pending migrations and job counts")
		fmt.Println("  backup [dir]  - Copy the SQLite database into <dir>/backups")
		fmt.Println("  fail-stale    - Mark jobs left running by a dead process as failed")
		os.Exit(1)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.DatabaseDriver == database.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0755); err != nil {
			log.Fatal("Failed to create data directory:", err)
		}
	}

	// Open applies pending migrations
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch command := os.Args[1]; command {
	case "init":
		fmt.Printf("✅ Database ready (%s)\n", cfg.DatabaseDriver)
		showStatus(ctx, db, cfg.DatabaseURL)
	case "status":
		showStatus(ctx, db, cfg.DatabaseURL)
	case "backup":
		dir := filepath.Dir(cfg.DatabaseURL)
		if len(os.Args) >= 3 {
			dir = os.Args[2]
		}
		path, err := db.BackupCurrentData(ctx, dir)
		if err != nil {
			log.Fatalf("❌ Backup failed: %v", err)
		}
		fmt.Printf("💾 Backup written to %s\n", path)
	case "fail-stale":
		failStale(ctx, db)
	default:
		log.Fatal("Unknown command:", command)
	}
}

func showStatus(ctx context.Context, db *database.Database, dsn string) {
	fmt.Println("Migration Status Report")
	fmt.Println("=======================")

	applied, pending, err := db.SchemaStatus(ctx)
	if err != nil {
		log.Fatalf("❌ Error checking schema: %v", err)
	}
	for _, m := range applied {
		fmt.Printf("✅ v%d %s (applied %s)\n", m.Version, m.Description, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Printf("⏳ v%d %s (pending)\n", m.Version, m.Description)
	}

	counts, err := db.StatusCounts(ctx)
	if err != nil {
		log.Fatalf("❌ Error counting jobs: %v", err)
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("📋 %s jobs: %d\n", s, counts[s])
	}

	if db.Driver() == database.DriverSQLite {
		if stat, err := os.Stat(dsn); err == nil {
			fmt.Printf("💾 Database size: %.2f KB\n", float64(stat.Size())/1024)
		}
	}
}

func failStale(ctx context.Context, db *database.Database) {
	stale, err := db.ListJobs(ctx, models.JobFilter{Status: models.StatusRunning, Limit: -1})
	if err != nil {
		log.Fatalf("❌ Failed to list running jobs: %v", err)
	}

	failed := 0
	for _, job := range stale {
		_, err := db.Transition(ctx, job.ID, models.StatusFailed, models.TransitionOptions{Error: "interrupted by service restart"})
		if err != nil {
			fmt.Printf("⚠️  %s: %v\n", job.ID, err)
			continue
		}
		failed++
	}
	fmt.Printf("✅ Marked %d of %d running jobs as failed\n", failed, len(stale))
}
