package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"marketintel/internal/browser"
	"marketintel/internal/cache"
	"marketintel/internal/dispatcher"
	"marketintel/internal/models"
	"marketintel/internal/util"
	"marketintel/internal/validation"
)

const (
	defaultTrendLimit = 20
	maxTrendLimit     = 100
)

// JobService admits and tracks scraping jobs
type JobService interface {
	Submit(ctx context.Context, params models.JobParams) (*models.Job, error)
	GetStatus(ctx context.Context, id string) (*models.Job, error)
	Cancel(ctx context.Context, id string) error
	Stats() dispatcher.Stats
}

// ResultStore serves the read-only views over persisted jobs and products
type ResultStore interface {
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
	ListProducts(ctx context.Context, jobID string, limit int) ([]models.ProductRecord, error)
	CountProducts(ctx context.Context, jobID string) (int, error)
	TrendSummary(ctx context.Context, marketplace models.Marketplace, category string, limit int) (*models.TrendReport, error)
	StatusCounts(ctx context.Context) (map[string]int, error)
	Ping(ctx context.Context) error
}

// PoolController exposes the browser pool to the admin endpoints
type PoolController interface {
	Reinitialize(ctx context.Context) error
	Stats() browser.Stats
}

// JobsHandler serves the job API
type JobsHandler struct {
	jobs      JobService
	store     ResultStore
	pool      PoolController
	trends    *cache.TrendCache
	supported []models.Marketplace

	// RestartTimeout bounds a pool re-initialisation requested over HTTP
	RestartTimeout time.Duration
}

// CreateJobRequest is the body of POST /jobs. max_pages and priority are
// pointers so an explicit zero is rejected instead of defaulted.
type CreateJobRequest struct {
	Marketplace string `json:"marketplace" binding:"required" example:"mercado_livre"`
	SearchQuery string `json:"search_query" binding:"required" example:"mouse gamer"`
	Category    string `json:"category" example:"informatica"`
	MaxPages    *int   `json:"max_pages" binding:"omitempty,min=1,max=50" example:"5"`
	Priority    *int   `json:"priority" binding:"omitempty,min=1,max=10" example:"5"`
}

// CreateJobResponse is returned when a job is accepted
type CreateJobResponse struct {
	JobID       string             `json:"job_id"`
	Status      models.JobStatus   `json:"status"`
	Marketplace models.Marketplace `json:"marketplace"`
	SearchQuery string             `json:"search_query"`
	CreatedAt   time.Time          `json:"created_at"`
	Message     string             `json:"message"`
}

// JobListResponse wraps a job listing
type JobListResponse struct {
	Count int           `json:"count"`
	Jobs  []*models.Job `json:"jobs"`
}

// ProductListResponse wraps the records persisted for one job
type ProductListResponse struct {
	JobID    string                 `json:"job_id"`
	Status   models.JobStatus       `json:"status"`
	Count    int                    `json:"count"`
	Total    int                    `json:"total"`
	Products []models.ProductRecord `json:"products"`
}

// StatusResponse describes the engine's current load
type StatusResponse struct {
	Dispatcher   dispatcher.Stats     `json:"dispatcher"`
	Pool         browser.Stats        `json:"pool"`
	Jobs         map[string]int       `json:"jobs"`
	Marketplaces []models.Marketplace `json:"marketplaces"`
	TrendsCached int                  `json:"trends_cached"`
}

var registerFieldNames sync.Once

// NewJobsHandler wires the dispatcher, the result store and the browser pool
// used by the job API. supported lists marketplaces with a registered strategy.
func NewJobsHandler(jobs JobService, store ResultStore, pool PoolController, trends *cache.TrendCache, supported []models.Marketplace) *JobsHandler {
	registerFieldNames.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonFieldName)
		}
	})
	if trends == nil {
		trends = cache.NewTrendCache(cache.DefaultTTL)
	}
	return &JobsHandler{
		jobs:           jobs,
		store:          store,
		pool:           pool,
		trends:         trends,
		supported:      supported,
		RestartTimeout: 60 * time.Second,
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// CreateJob godoc
// @Summary Submit a scraping job
// @Description Validates the request, persists a pending job and queues it. Rate limited per IP.
// @Tags jobs
// @Accept json
// @Produce json
// @Param job body CreateJobRequest true "Job parameters"
// @Success 201 {object} CreateJobResponse
// @Failure 400 {object} map[string]interface{} "Malformed JSON"
// @Failure 422 {object} map[string]interface{} "Validation failure"
// @Failure 429 {object} map[string]interface{} "Rate limited"
// @Failure 503 {object} map[string]interface{} "Shutting down"
// @Router /jobs [post]
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindErrorResponse(c, err)
		return
	}

	params := models.JobParams{
		Marketplace: models.Marketplace(req.Marketplace),
		SearchQuery: req.SearchQuery,
		Category:    req.Category,
	}
	if req.MaxPages != nil {
		params.MaxPages = *req.MaxPages
	}
	if req.Priority != nil {
		params.Priority = *req.Priority
	}
	validation.ApplyDefaults(&params)

	job, err := h.jobs.Submit(c.Request.Context(), params)
	if err != nil {
		var verr *models.ValidationError
		switch {
		case errors.As(err, &verr):
			util.ValidationErrorResponse(c, err)
		case errors.Is(err, dispatcher.ErrShuttingDown):
			util.SafeErrorResponse(c, http.StatusServiceUnavailable, "Service is shutting down", err)
		default:
			util.SafeErrorResponse(c, http.StatusInternalServerError, "Failed to create job", err)
		}
		return
	}

	c.JSON(http.StatusCreated, CreateJobResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Marketplace: job.Marketplace,
		SearchQuery: job.SearchQuery,
		CreatedAt:   job.CreatedAt,
		Message:     "Job created and queued",
	})
}

// GetJob godoc
// @Summary Get a job
// @Description Returns the full job record including status, results_count and error
// @Tags jobs
// @Produce json
// @Param job_id path string true "Job ID"
// @Success 200 {object} models.Job
// @Failure 404 {object} map[string]interface{} "Job not found"
// @Router /jobs/{job_id} [get]
func (h *JobsHandler) GetJob(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs godoc
// @Summary List recent jobs
// @Tags jobs
// @Produce json
// @Param status query string false "Filter by status" Enums(pending, running, completed, failed)
// @Param limit query int false "Maximum jobs to return (default 50, max 500)"
// @Success 200 {object} JobListResponse
// @Failure 422 {object} map[string]interface{} "Invalid filter"
// @Router /jobs [get]
func (h *JobsHandler) ListJobs(c *gin.Context) {
	verr := &models.ValidationError{}

	status, ok := validation.ValidateStatusFilter(c.Query("status"))
	if !ok {
		verr.Add("status", "unknown status %q", c.Query("status"))
	}
	limit, ok := queryLimit(c, 0)
	if !ok {
		verr.Add("limit", "must be a positive integer")
	}
	if err := verr.OrNil(); err != nil {
		util.ValidationErrorResponse(c, err)
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), models.JobFilter{Status: status, Limit: limit})
	if err != nil {
		util.SafeErrorResponse(c, http.StatusInternalServerError, "Failed to list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	c.JSON(http.StatusOK, JobListResponse{Count: len(jobs), Jobs: jobs})
}

// ListProducts godoc
// @Summary List the products collected by a job
// @Tags jobs
// @Produce json
// @Param job_id path string true "Job ID"
// @Param limit query int false "Maximum records to return (default 50, max 500)"
// @Success 200 {object} ProductListResponse
// @Failure 404 {object} map[string]interface{} "Job not found"
// @Router /jobs/{job_id}/products [get]
func (h *JobsHandler) ListProducts(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	limit, ok := queryLimit(c, 0)
	if !ok {
		verr := &models.ValidationError{}
		verr.Add("limit", "must be a positive integer")
		util.ValidationErrorResponse(c, verr)
		return
	}

	products, err := h.store.ListProducts(c.Request.Context(), job.ID, limit)
	if err != nil {
		util.SafeErrorResponse(c, http.StatusInternalServerError, "Failed to list products", err)
		return
	}
	if products == nil {
		products = []models.ProductRecord{}
	}
	total, err := h.store.CountProducts(c.Request.Context(), job.ID)
	if err != nil {
		util.SafeErrorResponse(c, http.StatusInternalServerError, "Failed to count products", err)
		return
	}

	c.JSON(http.StatusOK, ProductListResponse{
		JobID:    job.ID,
		Status:   job.Status,
		Count:    len(products),
		Total:    total,
		Products: products,
	})
}

// CancelJob godoc
// @Summary Cancel a job
// @Description Requests cancellation of a pending or running job. The job ends failed at its next safe point.
// @Tags jobs
// @Produce json
// @Param job_id path string true "Job ID"
// @Param X-Admin-Key header string true "Admin key"
// @Success 202 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{} "Admin access required"
// @Failure 404 {object} map[string]interface{} "Job not found"
// @Failure 409 {object} map[string]interface{} "Job already finished"
// @Router /jobs/{job_id}/cancel [post]
func (h *JobsHandler) CancelJob(c *gin.Context) {
	id := c.Param("job_id")
	if !validation.ValidateJobID(id) {
		util.SafeErrorResponse(c, http.StatusNotFound, "Job not found", nil)
		return
	}

	err := h.jobs.Cancel(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"job_id":  id,
			"message": "Cancellation requested",
		})
	case errors.Is(err, models.ErrNotFound):
		util.SafeErrorResponse(c, http.StatusNotFound, "Job not found", nil)
	case errors.Is(err, models.ErrInvalidTransition):
		util.SafeErrorResponse(c, http.StatusConflict, "Job has already finished", err)
	default:
		util.SafeErrorResponse(c, http.StatusInternalServerError, "Failed to cancel job", err)
	}
}

// GetTrends godoc
// @Summary Price trends for a marketplace
// @Description Aggregates persisted products for a marketplace. Responses are cached briefly.
// @Tags trends
// @Produce json
// @Param marketplace path string true "Marketplace" Enums(amazon, mercado_livre, shopee, b2w, magalu)
// @Param category query string false "Restrict to jobs of this category"
// @Param limit query int false "Recent products to include (default 20, max 100)"
// @Success 200 {object} models.TrendReport
// @Failure 422 {object} map[string]interface{} "Unknown marketplace"
// @Router /trends/{marketplace} [get]
func (h *JobsHandler) GetTrends(c *gin.Context) {
	verr := &models.ValidationError{}

	marketplace := models.Marketplace(strings.ToLower(c.Param("marketplace")))
	if !marketplace.Valid() {
		verr.Add("marketplace", "unknown marketplace %q", c.Param("marketplace"))
	}
	limit, ok := queryLimit(c, defaultTrendLimit)
	if !ok {
		verr.Add("limit", "must be a positive integer")
	}
	if err := verr.OrNil(); err != nil {
		util.ValidationErrorResponse(c, err)
		return
	}
	if limit > maxTrendLimit {
		limit = maxTrendLimit
	}
	category := validation.NormalizeText(c.Query("category"))

	key := cache.Key(marketplace, category, limit)
	if report, ok := h.trends.Get(key); ok {
		c.Header("X-Cache", "HIT")
		if age, ok := h.trends.Age(key); ok {
			c.Header("Age", strconv.Itoa(int(age.Seconds())))
		}
		c.JSON(http.StatusOK, report)
		return
	}

	report, err := h.store.TrendSummary(c.Request.Context(), marketplace, category, limit)
	if err != nil {
		util.SafeErrorResponse(c, http.StatusInternalServerError, "Failed to compute trends", err)
		return
	}
	h.trends.Put(key, report)

	c.Header("X-Cache", "MISS")
	c.JSON(http.StatusOK, report)
}

// GetStatus godoc
// @Summary Engine status
// @Description Dispatcher load, browser pool state and job counts per status
// @Tags system
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /status [get]
func (h *JobsHandler) GetStatus(c *gin.Context) {
	counts, err := h.store.StatusCounts(c.Request.Context())
	if err != nil {
		util.SafeErrorResponse(c, http.StatusInternalServerError, "Failed to read job counts", err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Dispatcher:   h.jobs.Stats(),
		Pool:         h.pool.Stats(),
		Jobs:         counts,
		Marketplaces: h.supported,
		TrendsCached: h.trends.Len(),
	})
}

// Health godoc
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]interface{} "Database unreachable"
// @Router /health [get]
func (h *JobsHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		util.SafeErrorResponse(c, http.StatusServiceUnavailable, "Database unreachable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RestartPool godoc
// @Summary Restart the browser
// @Description Kills and relaunches the shared browser process. Admin only, with a cooldown.
// @Tags admin
// @Produce json
// @Param X-Admin-Key header string true "Admin key"
// @Success 202 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{} "Admin access required"
// @Failure 429 {object} map[string]interface{} "Cooldown active"
// @Failure 503 {object} map[string]interface{} "Browser could not be started"
// @Router /admin/pool/restart [post]
func (h *JobsHandler) RestartPool(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.RestartTimeout)
	defer cancel()

	if err := h.pool.Reinitialize(ctx); err != nil {
		util.SafeErrorResponse(c, http.StatusServiceUnavailable, "Browser could not be restarted", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Browser pool restarted",
		"pool":    h.pool.Stats(),
	})
}

// lookupJob resolves the :job_id path parameter, answering 404 itself
func (h *JobsHandler) lookupJob(c *gin.Context) (*models.Job, bool) {
	id := c.Param("job_id")
	if !validation.ValidateJobID(id) {
		util.SafeErrorResponse(c, http.StatusNotFound, "Job not found", nil)
		return nil, false
	}

	job, err := h.jobs.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			util.SafeErrorResponse(c, http.StatusNotFound, "Job not found", nil)
		} else {
			util.SafeErrorResponse(c, http.StatusInternalServerError, "Failed to load job", err)
		}
		return nil, false
	}
	return job, true
}

// queryLimit parses ?limit=. A missing value yields fallback.
func queryLimit(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// bindErrorResponse maps a binding failure to 422 when a field is at fault
// and 400 when the body is not JSON at all
func bindErrorResponse(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		verr := &models.ValidationError{}
		for _, fe := range fieldErrs {
			switch fe.Tag() {
			case "required":
				verr.Add(fe.Field(), "is required")
			case "min":
				verr.Add(fe.Field(), "must be at least %s", fe.Param())
			case "max":
				verr.Add(fe.Field(), "must be at most %s", fe.Param())
			default:
				verr.Add(fe.Field(), "failed %s check", fe.Tag())
			}
		}
		util.ValidationErrorResponse(c, verr)
		return
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		verr := &models.ValidationError{}
		verr.Add(typeErr.Field, "has the wrong type, expected %s", typeErr.Type)
		util.ValidationErrorResponse(c, verr)
		return
	}

	util.SafeErrorResponse(c, http.StatusBadRequest, "Malformed JSON body", err)
}
