package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"marketintel/internal/models"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	defaultListLimit = 50
	maxListLimit     = 500
)

const jobColumns = `job_id, status, marketplace, search_query, category, max_pages, priority,
	results_count, error, created_at, updated_at`

const productColumns = `id, job_id, marketplace, title, price, rating, sales_rank, scraped_at`

// Database is the job store. It is the single source of truth for job
// lifecycle queries and the only persistence boundary of the engine.
type Database struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewDatabase opens (or creates) a SQLite database at dbPath
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return Open(DriverSQLite, dbPath)
}

// Open connects with the given driver and brings the schema up to date.
// For sqlite3 dsn is a file path; for pgx it is a Postgres connection string.
func Open(driver, dsn string) (*Database, error) {
	var db *sql.DB
	var err error

	switch driver {
	case DriverSQLite:
		db, err = sql.Open(DriverSQLite, dsn+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_cache_size=10000")
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite works best with single connection
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)
	case DriverPostgres:
		db, err = sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres connection: %w", err)
		}
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := database.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Driver returns the database/sql driver name in use
func (d *Database) Driver() string {
	return d.driver
}

// Ping checks the connection is alive
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for Postgres
func (d *Database) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var category, errMsg sql.NullString

	err := row.Scan(
		&job.ID, &job.Status, &job.Marketplace, &job.SearchQuery, &category, &job.MaxPages,
		&job.Priority, &job.ResultsCount, &errMsg, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Handle nullable fields
	if category.Valid {
		job.Category = category.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()

	return &job, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Job lifecycle methods

// CreateJob persists a new job. The status is always pending and the id is
// freshly generated, whatever the caller passes.
func (d *Database) CreateJob(ctx context.Context, params models.JobParams) (*models.Job, error) {
	now := d.now()
	job := &models.Job{
		ID:          uuid.NewString(),
		Marketplace: params.Marketplace,
		SearchQuery: params.SearchQuery,
		Category:    params.Category,
		MaxPages:    params.MaxPages,
		Priority:    params.Priority,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO scraping_jobs
		(job_id, status, marketplace, search_query, category, max_pages, priority, results_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, d.rebind(query),
		job.ID, job.Status, job.Marketplace, job.SearchQuery, nullString(job.Category),
		job.MaxPages, job.Priority, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return job, nil
}

// GetJob retrieves a job by id
func (d *Database) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scraping_jobs WHERE job_id = ?`

	job, err := scanJob(d.db.QueryRowContext(ctx, d.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Transition moves a job to status to. The status check and the write happen
// in one conditional UPDATE, so concurrent writers cannot move a job backwards.
func (d *Database) Transition(ctx context.Context, id string, to models.JobStatus, opts models.TransitionOptions) (*models.Job, error) {
	from := to.Predecessors()
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: cannot enter %s", models.ErrInvalidTransition, to)
	}

	now := d.now()
	var query string
	var args []interface{}

	switch to {
	case models.StatusCompleted:
		if opts.ResultsCount < 0 {
			return nil, fmt.Errorf("negative results count %d", opts.ResultsCount)
		}
		query = `UPDATE scraping_jobs SET status = ?, results_count = ?, error = NULL, updated_at = ? WHERE job_id = ?`
		args = []interface{}{to, opts.ResultsCount, now, id}
	case models.StatusFailed:
		msg := strings.TrimSpace(opts.Error)
		if msg == "" {
			msg = "unknown error"
		}
		query = `UPDATE scraping_jobs SET status = ?, error = ?, updated_at = ? WHERE job_id = ?`
		args = []interface{}{to, msg, now, id}
	default:
		query = `UPDATE scraping_jobs SET status = ?, updated_at = ? WHERE job_id = ?`
		args = []interface{}{to, now, id}
	}

	placeholders := make([]string, len(from))
	for i, status := range from {
		placeholders[i] = "?"
		args = append(args, status)
	}
	query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`

	result, err := d.db.ExecContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		current, err := d.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current.Status, to)
	}

	return d.GetJob(ctx, id)
}

// AppendResult persists one product record for a job without touching its
// status. The job's updated_at is bumped in the same transaction.
func (d *Database) AppendResult(ctx context.Context, jobID string, rec *models.ProductRecord) error {
	rec.JobID = jobID
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to persist product: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	touched, err := tx.ExecContext(ctx, d.rebind(`UPDATE scraping_jobs SET updated_at = ? WHERE job_id = ?`), d.now(), jobID)
	if err != nil {
		return fmt.Errorf("failed to touch job: %w", err)
	}
	if n, err := touched.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	} else if n == 0 {
		return models.ErrNotFound
	}

	var rating, salesRank interface{}
	if rec.Rating != nil {
		rating = *rec.Rating
	}
	if rec.SalesRank != nil {
		salesRank = *rec.SalesRank
	}

	query := `
		INSERT INTO product_data (job_id, marketplace, title, price, rating, sales_rank, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	args := []interface{}{jobID, rec.Marketplace, rec.Title, rec.Price, rating, salesRank, rec.ScrapedAt.UTC()}

	if d.driver == DriverPostgres {
		// pgx does not implement LastInsertId
		if err := tx.QueryRowContext(ctx, d.rebind(query+" RETURNING id"), args...).Scan(&rec.ID); err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
	} else {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		if rec.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get product ID: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListJobs returns jobs matching filter
func (d *Database) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scraping_jobs WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.OldestFirst {
		query += " ORDER BY created_at ASC, job_id ASC"
	} else {
		query += " ORDER BY created_at DESC, job_id DESC"
	}

	// A negative limit lists everything
	if filter.Limit >= 0 {
		query += " LIMIT ?"
		args = append(args, clampLimit(filter.Limit))
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListProducts returns the records persisted under a job, in insertion order
func (d *Database) ListProducts(ctx context.Context, jobID string, limit int) ([]models.ProductRecord, error) {
	query := `SELECT ` + productColumns + ` FROM product_data WHERE job_id = ? ORDER BY id ASC LIMIT ?`
	return d.queryProducts(ctx, query, jobID, clampLimit(limit))
}

// CountProducts returns how many records are persisted under a job
func (d *Database) CountProducts(ctx context.Context, jobID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, d.rebind(`SELECT COUNT(*) FROM product_data WHERE job_id = ?`), jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

// TrendSummary aggregates persisted records for a marketplace, optionally
// restricted to jobs of one category, and returns the most recent records.
func (d *Database) TrendSummary(ctx context.Context, marketplace models.Marketplace, category string, limit int) (*models.TrendReport, error) {
	where := ` FROM product_data p JOIN scraping_jobs j ON j.job_id = p.job_id WHERE p.marketplace = ?`
	args := []interface{}{marketplace}
	if category != "" {
		where += ` AND j.category = ?`
		args = append(args, category)
	}

	report := &models.TrendReport{
		Marketplace: marketplace,
		Category:    category,
		Products:    []models.ProductRecord{},
		GeneratedAt: d.now(),
	}

	summaryQuery := `SELECT COUNT(*), COALESCE(AVG(p.price), 0), COALESCE(MIN(p.price), 0), COALESCE(MAX(p.price), 0)` + where
	err := d.db.QueryRowContext(ctx, d.rebind(summaryQuery), args...).Scan(
		&report.Summary.Count, &report.Summary.AvgPrice, &report.Summary.MinPrice, &report.Summary.MaxPrice,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize prices: %w", err)
	}

	productQuery := `SELECT p.id, p.job_id, p.marketplace, p.title, p.price, p.rating, p.sales_rank, p.scraped_at` +
		where + ` ORDER BY p.scraped_at DESC, p.id DESC LIMIT ?`
	products, err := d.queryProducts(ctx, productQuery, append(args, clampLimit(limit))...)
	if err != nil {
		return nil, err
	}
	if products != nil {
		report.Products = products
	}

	return report, nil
}

func (d *Database) queryProducts(ctx context.Context, query string, args ...interface{}) ([]models.ProductRecord, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.ProductRecord
	for rows.Next() {
		var p models.ProductRecord
		var rating sql.NullFloat64
		var salesRank sql.NullInt64
		if err := rows.Scan(&p.ID, &p.JobID, &p.Marketplace, &p.Title, &p.Price, &rating, &salesRank, &p.ScrapedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if rating.Valid {
			r := rating.Float64
			p.Rating = &r
		}
		if salesRank.Valid {
			rank := int(salesRank.Int64)
			p.SalesRank = &rank
		}
		p.ScrapedAt = p.ScrapedAt.UTC()
		products = append(products, p)
	}
	return products, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
