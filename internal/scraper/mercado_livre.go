package scraper

import (
	"context"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"marketintel/internal/browser"
	"marketintel/internal/models"
)

const mercadoLivreBaseURL = "https://lista.mercadolivre.com.br"

// MercadoLivreStrategy scrapes lista.mercadolivre.com.br search results
type MercadoLivreStrategy struct {
	BaseURL           string
	NavigationTimeout time.Duration
	Logger            *log.Logger
}

// NewMercadoLivreStrategy creates a Mercado Livre strategy
func NewMercadoLivreStrategy(navTimeout time.Duration, logger *log.Logger) *MercadoLivreStrategy {
	if logger == nil {
		logger = log.Default()
	}
	return &MercadoLivreStrategy{
		Logger:            logger,
		BaseURL:           mercadoLivreBaseURL,
		NavigationTimeout: navTimeout,
	}
}

func (s *MercadoLivreStrategy) Marketplace() models.Marketplace {
	return models.MarketplaceMercadoLivre
}

// SearchURL builds the first results page URL. Mercado Livre takes the query
// as a dash-separated path slug, optionally under a category slug.
func (s *MercadoLivreStrategy) SearchURL(query, category string) string {
	path := "/" + slugify(query)
	if c := slugify(category); c != "" {
		path = "/" + c + path
	}
	return s.BaseURL + path
}

func slugify(text string) string {
	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		words[i] = url.PathEscape(w)
	}
	return strings.Join(words, "-")
}

func (s *MercadoLivreStrategy) Search(ctx context.Context, bctx *browser.Context, query, category string) (*PageHandle, error) {
	target := s.SearchURL(query, category)
	s.Logger.Printf("[mercado_livre] 📍 Navigating to %s", target)

	page, err := openPage(ctx, bctx, target, s.NavigationTimeout)
	if err != nil {
		return nil, err
	}
	return &PageHandle{Page: page, Number: 1, URL: target}, nil
}

func (s *MercadoLivreStrategy) ExtractListings(ctx context.Context, handle *PageHandle) ([]RawListing, error) {
	page := handle.Page.Context(ctx)

	elements, err := cards(page,
		".ui-search-layout__item",
		".poly-card",
		".ui-search-result",
	)
	if err != nil {
		return nil, err
	}

	listings := make([]RawListing, 0, len(elements))
	for _, el := range elements {
		whole, cents := mercadoLivrePrice(el)
		listings = append(listings, RawListing{
			Title:         textOf(el, ".poly-component__title", ".ui-search-item__title", "h2", "h3"),
			Price:         whole,
			PriceFraction: cents,
			Rating:        textOf(el, ".poly-reviews__rating", ".ui-search-reviews__rating-number"),
			SalesRank:     textOf(el, ".poly-component__highlight", ".ui-search-item__highlight-label"),
		})
	}
	return listings, nil
}

// mercadoLivrePrice reads the current price, skipping the struck-through
// original price that precedes it on discounted items
func mercadoLivrePrice(el *rod.Element) (string, string) {
	for _, container := range []string{".poly-price__current", ".ui-search-price__second-line", ".ui-search-price"} {
		has, price, err := el.Has(container)
		if err != nil || !has {
			continue
		}
		whole := textOf(price, ".andes-money-amount__fraction")
		if whole != "" {
			return whole, textOf(price, ".andes-money-amount__cents")
		}
	}
	return textOf(el, ".andes-money-amount__fraction"), textOf(el, ".andes-money-amount__cents")
}

func (s *MercadoLivreStrategy) NextPage(ctx context.Context, handle *PageHandle) (*PageHandle, error) {
	href, err := nextHref(handle.Page.Context(ctx),
		".andes-pagination__button--next a",
		"a.andes-pagination__link[title='Seguinte']",
	)
	if err != nil || href == "" {
		return nil, err
	}

	s.Logger.Printf("[mercado_livre] 📍 Page %d: %s", handle.Number+1, href)
	if err := navigate(ctx, handle.Page, href, s.NavigationTimeout); err != nil {
		return nil, err
	}
	return &PageHandle{Page: handle.Page, Number: handle.Number + 1, URL: href}, nil
}
