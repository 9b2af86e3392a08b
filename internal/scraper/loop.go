package scraper

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"marketintel/internal/browser"
	"marketintel/internal/models"
)

// Sink receives every parsed record as soon as it is extracted
type Sink interface {
	AppendResult(ctx context.Context, jobID string, rec *models.ProductRecord) error
}

// ParseFunc turns a raw card into a record
type ParseFunc func(raw RawListing, jobID string, marketplace models.Marketplace, scrapedAt time.Time) (*models.ProductRecord, error)

// Loop drives a strategy through search and pagination for one job
type Loop struct {
	JitterMin time.Duration
	JitterMax time.Duration
	Logger    *log.Logger
	Parse     ParseFunc
	Now       func() time.Time
	// StoreTimeout bounds each sink write, which outlives cancellation of
	// the job so a page is always persisted whole
	StoreTimeout time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLoop creates a loop that waits between jitterMin and jitterMax before
// each page transition
func NewLoop(jitterMin, jitterMax time.Duration, logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		JitterMin: jitterMin,
		JitterMax: jitterMax,
		Logger:    logger,
		Parse:     ParseListing,
		Now:       func() time.Time { return time.Now().UTC() },
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),

		StoreTimeout: DefaultStoreTimeout,
	}
}

// DefaultStoreTimeout bounds a single record write
const DefaultStoreTimeout = 10 * time.Second

// Run extracts up to job.MaxPages pages and returns how many records reached
// the sink. Bad cards and unreadable pages are logged and skipped; only
// navigation failures, cancellation and sink errors are returned.
// Cancellation is observed between pages, never while a page is being saved.
func (l *Loop) Run(ctx context.Context, s Strategy, bctx *browser.Context, job *models.Job, sink Sink) (int, error) {
	handle, err := s.Search(ctx, bctx, job.SearchQuery, job.Category)
	if err != nil {
		return 0, err
	}

	persisted := 0
	pages := 0
	for {
		listings, err := s.ExtractListings(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return persisted, ctx.Err()
			}
			l.Logger.Printf("[job %s] ⚠️  Page %d unreadable, treating as empty: %v", job.ID, handle.Number, err)
			listings = nil
		}

		pageCount := 0
		for i, raw := range listings {
			rec, err := l.parseItem(raw, job, handle.Number, i)
			if err != nil {
				l.Logger.Printf("[job %s] ⚠️  Skipping item: %v", job.ID, err)
				continue
			}
			if err := l.store(ctx, sink, job.ID, rec); err != nil {
				return persisted, fmt.Errorf("failed to persist product: %w", err)
			}
			persisted++
			pageCount++
		}

		pages++
		l.Logger.Printf("[job %s] ✅ Page %d: %d/%d listings saved (total %d)",
			job.ID, handle.Number, pageCount, len(listings), persisted)

		if pages >= job.MaxPages {
			return persisted, nil
		}

		if err := l.pause(ctx); err != nil {
			return persisted, err
		}

		next, err := s.NextPage(ctx, handle)
		if err != nil {
			return persisted, err
		}
		if next == nil {
			l.Logger.Printf("[job %s] 🏁 No more pages after page %d", job.ID, handle.Number)
			return persisted, nil
		}
		handle = next
	}
}

// store writes one record on a context detached from the job's cancellation
func (l *Loop) store(ctx context.Context, sink Sink, jobID string, rec *models.ProductRecord) error {
	timeout := l.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return sink.AppendResult(wctx, jobID, rec)
}

// parseItem parses one card, converting a panic into an item error
func (l *Loop) parseItem(raw RawListing, job *models.Job, pageNum, index int) (rec *models.ProductRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = &ExtractionItemError{Page: pageNum, Index: index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	rec, err = l.Parse(raw, job.ID, job.Marketplace, l.Now())
	if err != nil {
		return nil, &ExtractionItemError{Page: pageNum, Index: index, Err: err}
	}
	return rec, nil
}

// pause sleeps for a random jitter, returning early when ctx ends
func (l *Loop) pause(ctx context.Context) error {
	d := l.jitter()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Loop) jitter() time.Duration {
	spread := l.JitterMax - l.JitterMin
	if spread <= 0 {
		return l.JitterMin
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rng == nil {
		l.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return l.JitterMin + time.Duration(l.rng.Int63n(int64(spread)+1))
}
