package scraper

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"marketintel/internal/browser"
	"marketintel/internal/models"
)

// PageHandle is a results page loaded inside a job's browser context
type PageHandle struct {
	Page   *rod.Page
	Number int
	URL    string
}

// RawListing is the unparsed text of one result card
type RawListing struct {
	Title         string
	Price         string
	PriceFraction string
	Rating        string
	SalesRank     string
}

// Strategy knows how to search and paginate one marketplace. Implementations
// hold no per-job state; everything a job touches lives in its Context.
type Strategy interface {
	Marketplace() models.Marketplace
	// Search opens the first results page. Failures are *NavigationError.
	Search(ctx context.Context, bctx *browser.Context, query, category string) (*PageHandle, error)
	// ExtractListings returns the cards on the page. A page without any
	// recognizable cards yields an empty slice, not an error.
	ExtractListings(ctx context.Context, page *PageHandle) ([]RawListing, error)
	// NextPage follows pagination. It returns nil, nil on the last page.
	NextPage(ctx context.Context, page *PageHandle) (*PageHandle, error)
}

// Registry maps marketplaces to their strategies
type Registry struct {
	mu         sync.RWMutex
	strategies map[models.Marketplace]Strategy
}

// NewRegistry creates a registry holding the given strategies
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[models.Marketplace]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in strategy
func DefaultRegistry(navTimeout time.Duration, logger *log.Logger) *Registry {
	return NewRegistry(
		NewAmazonStrategy(navTimeout, logger),
		NewMercadoLivreStrategy(navTimeout, logger),
	)
}

// Register adds or replaces the strategy for s.Marketplace()
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Marketplace()] = s
}

// Lookup returns the strategy for m or *models.UnsupportedMarketplaceError
func (r *Registry) Lookup(m models.Marketplace) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[m]
	if !ok {
		return nil, &models.UnsupportedMarketplaceError{Marketplace: m}
	}
	return s, nil
}

// Marketplaces lists the marketplaces with a registered strategy
func (r *Registry) Marketplaces() []models.Marketplace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Marketplace, 0, len(r.strategies))
	for m := range r.strategies {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
