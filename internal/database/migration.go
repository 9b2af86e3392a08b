package database

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Migration is one versioned schema change. SQL is keyed by driver name.
type Migration struct {
	Version     int
	Description string
	SQL         map[string][]string
}

// migrations are applied in order and recorded in schema_migrations.
// Version 1 is the table layout of the original scraper service.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create scraping_jobs and product_data tables",
		SQL: map[string][]string{
			DriverSQLite:   {sqliteSchema},
			DriverPostgres: {postgresSchema},
		},
	},
	{
		Version:     2,
		Description: "Add job priority and product sales rank",
		SQL: map[string][]string{
			DriverSQLite: {
				`ALTER TABLE scraping_jobs ADD COLUMN priority INTEGER NOT NULL DEFAULT 5`,
				`ALTER TABLE product_data ADD COLUMN sales_rank INTEGER`,
			},
			DriverPostgres: {
				`ALTER TABLE scraping_jobs ADD COLUMN IF NOT EXISTS priority INTEGER NOT NULL DEFAULT 5`,
				`ALTER TABLE product_data ADD COLUMN IF NOT EXISTS sales_rank INTEGER`,
			},
		},
	},
	{
		Version:     3,
		Description: "Index job status and product lookups",
		SQL: map[string][]string{
			DriverSQLite: {
				`CREATE INDEX IF NOT EXISTS idx_scraping_jobs_status ON scraping_jobs(status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_product_data_job ON product_data(job_id)`,
				`CREATE INDEX IF NOT EXISTS idx_product_data_marketplace ON product_data(marketplace, scraped_at)`,
			},
			DriverPostgres: {
				`CREATE INDEX IF NOT EXISTS idx_scraping_jobs_status ON scraping_jobs(status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_product_data_job ON product_data(job_id)`,
				`CREATE INDEX IF NOT EXISTS idx_product_data_marketplace ON product_data(marketplace, scraped_at)`,
			},
		},
	},
}

// AppliedMigration is a row of schema_migrations
type AppliedMigration struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Migrate applies every pending migration, each in its own transaction
func (d *Database) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied, err := d.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := d.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (d *Database) applyMigration(ctx context.Context, m Migration) error {
	statements, ok := m.SQL[d.driver]
	if !ok {
		return fmt.Errorf("migration %d has no SQL for driver %s", m.Version, d.driver)
	}

	// Begin transaction
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		d.rebind(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`),
		m.Version, m.Description, d.now())
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}

// SchemaStatus lists applied migrations and the versions still pending
func (d *Database) SchemaStatus(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT version, description, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	seen := make(map[int]bool)
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.Description, &m.AppliedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		seen[m.Version] = true
		applied = append(applied, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var pending []Migration
	for _, m := range migrations {
		if !seen[m.Version] {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

// StatusCounts returns the number of jobs in each status
func (d *Database) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scraping_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// BackupCurrentData writes a consistent copy of a SQLite database into
// dataDir and returns the backup path
func (d *Database) BackupCurrentData(ctx context.Context, dataDir string) (string, error) {
	if d.driver != DriverSQLite {
		return "", fmt.Errorf("backup is only supported for sqlite3, use pg_dump for %s", d.driver)
	}

	backupDir := filepath.Join(dataDir, "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("scraper_%s.db", timestamp))

	// VACUUM INTO produces a consistent snapshot even with WAL enabled
	if _, err := d.db.ExecContext(ctx, `VACUUM INTO ?`, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}

	return backupPath, nil
}
