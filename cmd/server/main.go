// Marketplace scraping job engine
// @title Market Intel Scraping API
// @version 1.0
// @description Submits and tracks product scraping jobs against Brazilian marketplaces and serves price trends over the collected data.
// @host localhost:8001
// @BasePath /

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	_ "marketintel/docs"
	"marketintel/internal/browser"
	"marketintel/internal/cache"
	"marketintel/internal/config"
	"marketintel/internal/database"
	"marketintel/internal/dispatcher"
	"marketintel/internal/handlers"
	"marketintel/internal/middleware"
	"marketintel/internal/models"
	"marketintel/internal/scraper"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	if cfg.DatabaseDriver == database.DriverSQLite {
		if dir := filepath.Dir(cfg.DatabaseURL); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("❌ Failed to create data directory: %v", err)
			}
		}
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()
	log.Printf("🗃️  Job store ready (%s)", cfg.DatabaseDriver)

	pool := browser.NewPool(browser.Options{
		Capacity:      cfg.MaxBrowserContexts,
		Headless:      cfg.Headless,
		Bin:           cfg.BrowserBin,
		NoSandbox:     cfg.NoSandbox,
		ProxyServer:   cfg.Proxy.Server(),
		ProxyUsername: cfg.Proxy.Username,
		ProxyPassword: cfg.Proxy.Password,
		Logger:        log.New(os.Stderr, "[browser] ", log.LstdFlags),
	})
	startCtx, cancelStart := context.WithTimeout(context.Background(), 60*time.Second)
	if err := pool.Start(startCtx); err != nil {
		// Jobs fail with pool exhausted until the dispatcher's recovery succeeds
		log.Printf("⚠️  Browser did not start, continuing degraded: %v", err)
	}
	cancelStart()
	defer pool.Close()

	scraperLog := log.New(os.Stderr, "[scraper] ", log.LstdFlags)
	registry := scraper.DefaultRegistry(cfg.NavigationTimeout, scraperLog)
	loop := scraper.NewLoop(cfg.JitterMin, cfg.JitterMax, scraperLog)
	trends := cache.NewTrendCache(cfg.TrendsCacheTTL)

	d := dispatcher.New(db, pool, registry, loop, dispatcher.Config{
		MaxConcurrent:  cfg.MaxConcurrentJobs,
		AcquireTimeout: cfg.AcquireTimeout,
		Logger:         log.New(os.Stderr, "[dispatcher] ", log.LstdFlags),
		OnCompleted: func(job *models.Job) {
			trends.Invalidate(job.Marketplace)
		},
	})

	resumeCtx, cancelResume := context.WithTimeout(context.Background(), 30*time.Second)
	if err := d.Resume(resumeCtx); err != nil {
		log.Printf("⚠️  Failed to resume previous jobs: %v", err)
	}
	cancelResume()

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	defer limiter.Stop()

	h := handlers.NewJobsHandler(d, db, pool, trends, registry.Marketplaces())
	r := setupRouter(cfg, h, limiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("🚀 Server starting on port %s (max %d concurrent jobs)", cfg.Port, cfg.MaxConcurrentJobs)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP shutdown: %v", err)
	}
	if err := d.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  %v", err)
	}
	log.Println("👋 Bye")
}
