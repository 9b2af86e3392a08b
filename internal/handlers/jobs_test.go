package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketintel/internal/browser"
	"marketintel/internal/cache"
	"marketintel/internal/database"
	"marketintel/internal/dispatcher"
	"marketintel/internal/models"
	"marketintel/internal/scraper"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakePool hands out empty browser contexts
type fakePool struct {
	mu         sync.Mutex
	restartErr error
	restarts   int
}

func (p *fakePool) Acquire(ctx context.Context) (*browser.Context, error) {
	return &browser.Context{ID: "ctx"}, nil
}

func (p *fakePool) Release(c *browser.Context) {}

func (p *fakePool) Reinitialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.restartErr != nil {
		return p.restartErr
	}
	p.restarts++
	return nil
}

func (p *fakePool) Stats() browser.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return browser.Stats{Capacity: 3, Healthy: true, Restarts: p.restarts}
}

// pagedStrategy serves fixed pages and optionally blocks in Search
type pagedStrategy struct {
	marketplace models.Marketplace
	pages       [][]scraper.RawListing
	gate        chan struct{}
}

func (s *pagedStrategy) Marketplace() models.Marketplace { return s.marketplace }

func (s *pagedStrategy) Search(ctx context.Context, bctx *browser.Context, query, category string) (*scraper.PageHandle, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &scraper.PageHandle{Number: 1}, nil
}

func (s *pagedStrategy) ExtractListings(ctx context.Context, page *scraper.PageHandle) ([]scraper.RawListing, error) {
	if page.Number > len(s.pages) {
		return nil, nil
	}
	return s.pages[page.Number-1], nil
}

func (s *pagedStrategy) NextPage(ctx context.Context, page *scraper.PageHandle) (*scraper.PageHandle, error) {
	if page.Number >= len(s.pages) {
		return nil, nil
	}
	return &scraper.PageHandle{Number: page.Number + 1}, nil
}

type testServer struct {
	router *gin.Engine
	db     *database.Database
	pool   *fakePool
	trends *cache.TrendCache
}

func setupJobsHandler(t *testing.T, strategy *pagedStrategy, parse scraper.ParseFunc) *testServer {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := log.New(io.Discard, "", 0)
	loop := scraper.NewLoop(0, 0, logger)
	if parse != nil {
		loop.Parse = parse
	}
	registry := scraper.NewRegistry(strategy)
	pool := &fakePool{}
	trends := cache.NewTrendCache(time.Minute)

	d := dispatcher.New(db, pool, registry, loop, dispatcher.Config{
		MaxConcurrent:  3,
		AcquireTimeout: time.Second,
		Logger:         logger,
		OnCompleted:    func(j *models.Job) { trends.Invalidate(j.Marketplace) },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	h := NewJobsHandler(d, db, pool, trends, registry.Marketplaces())

	r := gin.New()
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:job_id", h.GetJob)
	r.GET("/jobs/:job_id/products", h.ListProducts)
	r.POST("/jobs/:job_id/cancel", h.CancelJob)
	r.GET("/trends/:marketplace", h.GetTrends)
	r.GET("/status", h.GetStatus)
	r.GET("/health", h.Health)
	r.POST("/admin/pool/restart", h.RestartPool)

	return &testServer{router: r, db: db, pool: pool, trends: trends}
}

func performJSONRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		payload, _ = json.Marshal(b)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}

func (s *testServer) waitForTerminal(t *testing.T, id string) models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := performJSONRequest(s.router, http.MethodGet, "/jobs/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 polling job, got %d", rec.Code)
		}
		var job models.Job
		decode(t, rec, &job)
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return models.Job{}
}

func twoPages() [][]scraper.RawListing {
	return [][]scraper.RawListing{
		{{Title: "Mouse Gamer RGB", Price: "R$ 89,90", Rating: "4,6"}, {Title: "Mouse Sem Fio", Price: "R$ 49,90"}},
		{{Title: "Mouse Vertical", Price: "R$ 120,00", SalesRank: "2º MAIS VENDIDO"}},
	}
}

func TestCreateJobRunsToCompletion(t *testing.T) {
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceMercadoLivre, pages: twoPages()}, nil)

	rec := performJSONRequest(s.router, http.MethodPost, "/jobs", map[string]interface{}{
		"marketplace":  "mercado_livre",
		"search_query": "mouse gamer",
		"max_pages":    2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created CreateJobResponse
	decode(t, rec, &created)
	if created.Status != models.StatusPending || created.Marketplace != models.MarketplaceMercadoLivre {
		t.Fatalf("unexpected create response %+v", created)
	}
	if _, err := uuid.Parse(created.JobID); err != nil {
		t.Fatalf("expected a UUID job id, got %q", created.JobID)
	}

	job := s.waitForTerminal(t, created.JobID)
	if job.Status != models.StatusCompleted || job.ResultsCount != 3 {
		t.Fatalf("expected completed with 3 results, got %s/%d (%s)", job.Status, job.ResultsCount, job.Error)
	}

	rec = performJSONRequest(s.router, http.MethodGet, "/jobs/"+created.JobID+"/products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for products, got %d", rec.Code)
	}
	var products ProductListResponse
	decode(t, rec, &products)
	if products.Count != job.ResultsCount || products.Total != job.ResultsCount {
		t.Fatalf("results_count %d does not match persisted %d/%d", job.ResultsCount, products.Count, products.Total)
	}
	if products.Products[0].Price != 89.90 {
		t.Errorf("expected first price 89.90, got %v", products.Products[0].Price)
	}
}

func TestCreateJobAppliesDefaults(t *testing.T) {
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceAmazon}, nil)

	rec := performJSONRequest(s.router, http.MethodPost, "/jobs", map[string]interface{}{
		"marketplace":  "AMAZON",
		"search_query": "  kindle  ",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created CreateJobResponse
	decode(t, rec, &created)

	stored, err := s.db.GetJob(context.Background(), created.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if stored.MaxPages != models.DefaultMaxPages || stored.Priority != models.DefaultPriority {
		t.Fatalf("expected defaults, got max_pages=%d priority=%d", stored.MaxPages, stored.Priority)
	}
	if stored.Marketplace != models.MarketplaceAmazon || stored.SearchQuery != "kindle" {
		t.Fatalf("expected normalized params, got %s/%q", stored.Marketplace, stored.SearchQuery)
	}
}

func TestCreateJobRejectsInvalidRequests(t *testing.T) {
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceMercadoLivre}, nil)

	cases := []struct {
		name  string
		body  interface{}
		want  int
		field string
	}{
		{"unknown marketplace", map[string]interface{}{"marketplace": "ebay", "search_query": "x"}, http.StatusUnprocessableEntity, "marketplace"},
		{"max pages zero", map[string]interface{}{"marketplace": "amazon", "search_query": "x", "max_pages": 0}, http.StatusUnprocessableEntity, "max_pages"},
		{"max pages too high", map[string]interface{}{"marketplace": "amazon", "search_query": "x", "max_pages": 51}, http.StatusUnprocessableEntity, "max_pages"},
		{"priority too high", map[string]interface{}{"marketplace": "amazon", "search_query": "x", "priority": 11}, http.StatusUnprocessableEntity, "priority"},
		{"missing query", map[string]interface{}{"marketplace": "amazon"}, http.StatusUnprocessableEntity, "search_query"},
		{"blank query", map[string]interface{}{"marketplace": "amazon", "search_query": "   "}, http.StatusUnprocessableEntity, "search_query"},
		{"wrong type", map[string]interface{}{"marketplace": "amazon", "search_query": "x", "max_pages": "two"}, http.StatusUnprocessableEntity, "max_pages"},
		{"malformed json", `{"marketplace": "amazon",`, http.StatusBadRequest, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := performJSONRequest(s.router, http.MethodPost, "/jobs", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if tc.field != "" && !strings.Contains(rec.Body.String(), `"field":"`+tc.field+`"`) {
				t.Fatalf("expected %s to be reported, got %s", tc.field, rec.Body.String())
			}
		})
	}

	jobs, err := s.db.ListJobs(context.Background(), models.JobFilter{Limit: -1})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected requests must not create jobs, found %d", len(jobs))
	}
}

func TestGetUnknownJobReturns404(t *testing.T) {
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceMercadoLivre}, nil)

	for _, id := range []string{uuid.NewString(), "not-a-uuid", "1"} {
		for _, path := range []string{"/jobs/" + id, "/jobs/" + id + "/products"} {
			if rec := performJSONRequest(s.router, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
				t.Fatalf("GET %s: expected 404, got %d", path, rec.Code)
			}
		}
	}
}

func TestFaultyItemCompletesWithOneLess(t *testing.T) {
	pages := [][]scraper.RawListing{{
		{Title: "Fone Bluetooth", Price: "R$ 99,00"},
		{Title: "explode", Price: "R$ 10,00"},
		{Title: "Fone com Fio", Price: "R$ 29,00"},
	}}
	parse := func(raw scraper.RawListing, jobID string, mp models.Marketplace, at time.Time) (*models.ProductRecord, error) {
		if raw.Title == "explode" {
			panic("stale element")
		}
		return scraper.ParseListing(raw, jobID, mp, at)
	}
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceMercadoLivre, pages: pages}, parse)

	rec := performJSONRequest(s.router, http.MethodPost, "/jobs", map[string]interface{}{
		"marketplace":  "mercado_livre",
		"search_query": "fone",
		"max_pages":    1,
	})
	var created CreateJobResponse
	decode(t, rec, &created)

	job := s.waitForTerminal(t, created.JobID)
	if job.Status != models.StatusCompleted || job.ResultsCount != 2 {
		t.Fatalf("expected completed with 2 results, got %s/%d (%s)", job.Status, job.ResultsCount, job.Error)
	}
}

func TestCancelJob(t *testing.T) {
	gate := make(chan struct{})
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceMercadoLivre, pages: twoPages(), gate: gate}, nil)

	rec := performJSONRequest(s.router, http.MethodPost, "/jobs", map[string]interface{}{
		"marketplace":  "mercado_livre",
		"search_query": "teclado",
	})
	var created CreateJobResponse
	decode(t, rec, &created)

	rec = performJSONRequest(s.router, http.MethodPost, "/jobs/"+created.JobID+"/cancel", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	job := s.waitForTerminal(t, created.JobID)
	if job.Status != models.StatusFailed || !strings.Contains(job.Error, "cancelled") {
		t.Fatalf("expected failed by cancellation, got %s (%s)", job.Status, job.Error)
	}

	// Wait until the dispatcher forgets the job before cancelling it again
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = performJSONRequest(s.router, http.MethodPost, "/jobs/"+created.JobID+"/cancel", nil)
		if rec.Code != http.StatusAccepted || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for finished job, got %d", rec.Code)
	}

	if rec := performJSONRequest(s.router, http.MethodPost, "/jobs/"+uuid.NewString()+"/cancel", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
	close(gate)
}

func TestListJobs(t *testing.T) {
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceMercadoLivre}, nil)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		if _, err := s.db.CreateJob(ctx, models.JobParams{Marketplace: models.MarketplaceShopee, SearchQuery: q, MaxPages: 1, Priority: 5}); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}

	rec := performJSONRequest(s.router, http.MethodGet, "/jobs?status=pending&limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list JobListResponse
	decode(t, rec, &list)
	if list.Count != 2 || len(list.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", list.Count)
	}

	rec = performJSONRequest(s.router, http.MethodGet, "/jobs?status=completed", nil)
	decode(t, rec, &list)
	if list.Count != 0 || list.Jobs == nil {
		t.Fatalf("expected empty non-null list, got %+v", list)
	}

	if rec := performJSONRequest(s.router, http.MethodGet, "/jobs?status=paused", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown status, got %d", rec.Code)
	}
	if rec := performJSONRequest(s.router, http.MethodGet, "/jobs?limit=-1", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad limit, got %d", rec.Code)
	}
}

func TestTrendsAreCachedUntilNextCompletion(t *testing.T) {
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceMercadoLivre, pages: twoPages()}, nil)

	rec := performJSONRequest(s.router, http.MethodGet, "/trends/mercado_livre", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected uncached 200, got %d/%s", rec.Code, rec.Header().Get("X-Cache"))
	}
	var report models.TrendReport
	decode(t, rec, &report)
	if report.Summary.Count != 0 || report.Products == nil {
		t.Fatalf("expected empty report, got %+v", report)
	}

	rec = performJSONRequest(s.router, http.MethodGet, "/trends/mercado_livre", nil)
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Fatal("expected second read to be served from cache")
	}
	if rec.Header().Get("Age") == "" {
		t.Error("expected cached read to carry an Age header")
	}

	rec = performJSONRequest(s.router, http.MethodGet, "/status", nil)
	var status StatusResponse
	decode(t, rec, &status)
	if status.TrendsCached != 1 {
		t.Fatalf("expected one cached trend report, got %d", status.TrendsCached)
	}

	rec = performJSONRequest(s.router, http.MethodPost, "/jobs", map[string]interface{}{
		"marketplace":  "mercado_livre",
		"search_query": "mouse",
	})
	var created CreateJobResponse
	decode(t, rec, &created)
	s.waitForTerminal(t, created.JobID)

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = performJSONRequest(s.router, http.MethodGet, "/trends/mercado_livre", nil)
		decode(t, rec, &report)
		if report.Summary.Count == 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if report.Summary.Count != 3 || report.Summary.MinPrice != 49.90 || report.Summary.MaxPrice != 120 {
		t.Fatalf("expected fresh summary after completion, got %+v", report.Summary)
	}

	if rec := performJSONRequest(s.router, http.MethodGet, "/trends/ebay", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown marketplace, got %d", rec.Code)
	}
}

func TestStatusAndHealth(t *testing.T) {
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceMercadoLivre}, nil)

	rec := performJSONRequest(s.router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", rec.Code)
	}

	rec = performJSONRequest(s.router, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status StatusResponse
	decode(t, rec, &status)
	if status.Dispatcher.Ceiling != 3 || !status.Pool.Healthy {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Marketplaces) != 1 || status.Marketplaces[0] != models.MarketplaceMercadoLivre {
		t.Fatalf("expected registered marketplaces, got %v", status.Marketplaces)
	}

	_ = s.db.Close()
	if rec := performJSONRequest(s.router, http.MethodGet, "/health", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with closed database, got %d", rec.Code)
	}
}

func TestRestartPool(t *testing.T) {
	s := setupJobsHandler(t, &pagedStrategy{marketplace: models.MarketplaceMercadoLivre}, nil)

	rec := performJSONRequest(s.router, http.MethodPost, "/admin/pool/restart", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if s.pool.Stats().Restarts != 1 {
		t.Fatal("expected pool to be reinitialized")
	}

	s.pool.mu.Lock()
	s.pool.restartErr = errors.New("chrome not found")
	s.pool.mu.Unlock()
	if rec := performJSONRequest(s.router, http.MethodPost, "/admin/pool/restart", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when restart fails, got %d", rec.Code)
	}
}
