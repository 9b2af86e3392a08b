package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"marketintel/internal/browser"
	"marketintel/internal/models"
)

const amazonBaseURL = "https://www.amazon.com.br"

// amazonSearchAliases maps category names to Amazon's i= search aliases
var amazonSearchAliases = map[string]string{
	"informatica":      "computers",
	"eletronicos":      "electronics",
	"celulares":        "electronics",
	"games":            "videogames",
	"livros":           "stripbooks",
	"casa":             "kitchen",
	"cozinha":          "kitchen",
	"brinquedos":       "toys",
	"esportes":         "sports",
	"beleza":           "beauty",
	"ferramentas":      "tools",
	"automotivo":       "automotive",
	"moda":             "fashion",
	"eletrodomesticos": "appliances",
}

// AmazonStrategy scrapes amazon.com.br search results
type AmazonStrategy struct {
	BaseURL           string
	NavigationTimeout time.Duration
	Logger            *log.Logger
}

// NewAmazonStrategy creates an Amazon strategy
func NewAmazonStrategy(navTimeout time.Duration, logger *log.Logger) *AmazonStrategy {
	if logger == nil {
		logger = log.Default()
	}
	return &AmazonStrategy{
		Logger:            logger,
		BaseURL:           amazonBaseURL,
		NavigationTimeout: navTimeout,
	}
}

func (s *AmazonStrategy) Marketplace() models.Marketplace {
	return models.MarketplaceAmazon
}

// SearchURL builds the first results page URL
func (s *AmazonStrategy) SearchURL(query, category string) string {
	params := url.Values{}
	params.Set("k", query)
	if alias, ok := amazonSearchAliases[strings.ToLower(strings.TrimSpace(category))]; ok {
		params.Set("i", alias)
	}
	return s.BaseURL + "/s?" + params.Encode()
}

func (s *AmazonStrategy) Search(ctx context.Context, bctx *browser.Context, query, category string) (*PageHandle, error) {
	target := s.SearchURL(query, category)
	s.Logger.Printf("[amazon] 📍 Navigating to %s", target)

	page, err := openPage(ctx, bctx, target, s.NavigationTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.checkBlocked(page, target); err != nil {
		return nil, err
	}
	return &PageHandle{Page: page, Number: 1, URL: target}, nil
}

// checkBlocked turns Amazon's captcha interstitial into a navigation failure
func (s *AmazonStrategy) checkBlocked(page *rod.Page, target string) error {
	has, _, err := page.Has("form[action*='validateCaptcha']")
	if err == nil && has {
		return &NavigationError{URL: target, Err: fmt.Errorf("captcha challenge served")}
	}
	return nil
}

func (s *AmazonStrategy) ExtractListings(ctx context.Context, handle *PageHandle) ([]RawListing, error) {
	page := handle.Page.Context(ctx)

	elements, err := cards(page,
		`[data-component-type="s-search-result"]`,
		`div.s-result-item[data-asin]`,
	)
	if err != nil {
		return nil, err
	}

	listings := make([]RawListing, 0, len(elements))
	for _, el := range elements {
		listings = append(listings, RawListing{
			Title:         textOf(el, "h2 a span", "h2 span", "h2"),
			Price:         amazonPrice(el),
			PriceFraction: textOf(el, ".a-price .a-price-fraction"),
			Rating:        textOf(el, ".a-icon-alt"),
			SalesRank:     textOf(el, ".a-badge-text"),
		})
	}
	return listings, nil
}

// amazonPrice prefers the screen-reader price, which carries the full amount
func amazonPrice(el *rod.Element) string {
	if offscreen := textOf(el, ".a-price .a-offscreen"); offscreen != "" {
		return offscreen
	}
	return textOf(el, ".a-price .a-price-whole", ".a-price-whole")
}

func (s *AmazonStrategy) NextPage(ctx context.Context, handle *PageHandle) (*PageHandle, error) {
	href, err := nextHref(handle.Page.Context(ctx), "a.s-pagination-next:not(.s-pagination-disabled)")
	if err != nil || href == "" {
		return nil, err
	}

	s.Logger.Printf("[amazon] 📍 Page %d: %s", handle.Number+1, href)
	if err := navigate(ctx, handle.Page, href, s.NavigationTimeout); err != nil {
		return nil, err
	}
	if err := s.checkBlocked(handle.Page, href); err != nil {
		return nil, err
	}
	return &PageHandle{Page: handle.Page, Number: handle.Number + 1, URL: href}, nil
}
