package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"marketintel/internal/browser"
	"marketintel/internal/cache"
	"marketintel/internal/config"
	"marketintel/internal/dispatcher"
	"marketintel/internal/handlers"
	"marketintel/internal/middleware"
	"marketintel/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubJobs struct{}

func (stubJobs) Submit(ctx context.Context, p models.JobParams) (*models.Job, error) {
	return &models.Job{ID: uuid.NewString(), Status: models.StatusPending, Marketplace: p.Marketplace, SearchQuery: p.SearchQuery}, nil
}

func (stubJobs) GetStatus(ctx context.Context, id string) (*models.Job, error) {
	return nil, models.ErrNotFound
}

func (stubJobs) Cancel(ctx context.Context, id string) error { return nil }

func (stubJobs) Stats() dispatcher.Stats { return dispatcher.Stats{Ceiling: 3} }

type stubStore struct{}

func (stubStore) ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error) {
	return nil, nil
}

func (stubStore) ListProducts(ctx context.Context, jobID string, limit int) ([]models.ProductRecord, error) {
	return nil, nil
}

func (stubStore) CountProducts(ctx context.Context, jobID string) (int, error) {
	return 0, nil
}

func (stubStore) TrendSummary(ctx context.Context, m models.Marketplace, category string, limit int) (*models.TrendReport, error) {
	return &models.TrendReport{Marketplace: m, Products: []models.ProductRecord{}}, nil
}

func (stubStore) StatusCounts(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

func (stubStore) Ping(ctx context.Context) error { return nil }

type stubPool struct{}

func (stubPool) Reinitialize(ctx context.Context) error { return nil }

func (stubPool) Stats() browser.Stats { return browser.Stats{Capacity: 3, Healthy: true} }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash key: %v", err)
	}

	cfg := config.FromEnv()
	cfg.AdminKeyHash = string(hash)
	cfg.RestartWait = time.Hour

	limiter := middleware.NewRateLimiter(rate.Limit(1), 2)
	t.Cleanup(limiter.Stop)

	h := handlers.NewJobsHandler(stubJobs{}, stubStore{}, stubPool{}, cache.NewTrendCache(time.Minute), []models.Marketplace{models.MarketplaceAmazon})
	return setupRouter(cfg, h, limiter)
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJobCreationIsRateLimited(t *testing.T) {
	r := newTestRouter(t)
	body := `{"marketplace":"amazon","search_query":"kindle"}`

	for i := 0; i < 2; i++ {
		if rec := do(r, http.MethodPost, "/jobs", body, nil); rec.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i+1, rec.Code)
		}
	}
	if rec := do(r, http.MethodPost, "/jobs", body, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected burst to be exhausted, got %d", rec.Code)
	}

	// Reads are not limited
	for i := 0; i < 5; i++ {
		if rec := do(r, http.MethodGet, "/jobs", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("expected listing to stay available, got %d", rec.Code)
		}
	}
}

func TestCancelRequiresAdminKey(t *testing.T) {
	r := newTestRouter(t)
	path := "/jobs/" + uuid.NewString() + "/cancel"

	if rec := do(r, http.MethodPost, path, "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, path, "", map[string]string{"X-Admin-Key": "admin-secret"}); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with key, got %d", rec.Code)
	}
}

func TestPoolRestartCooldown(t *testing.T) {
	r := newTestRouter(t)
	key := map[string]string{"X-Admin-Key": "admin-secret"}

	if rec := do(r, http.MethodPost, "/admin/pool/restart", "", key); rec.Code != http.StatusAccepted {
		t.Fatalf("expected first restart to be accepted, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/admin/pool/restart", "", key); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected cooldown, got %d", rec.Code)
	}
}

func TestRouterRejectsOtherMethods(t *testing.T) {
	r := newTestRouter(t)
	if rec := do(r, http.MethodDelete, "/jobs", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestSwaggerIsServed(t *testing.T) {
	r := newTestRouter(t)
	rec := do(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected swagger document, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"/jobs"`)) {
		t.Fatal("expected swagger document to describe /jobs")
	}
}
