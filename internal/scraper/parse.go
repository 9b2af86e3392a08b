package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"marketintel/internal/models"
)

var (
	numberRegex    = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	thousandsRegex = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	integerRegex   = regexp.MustCompile(`\d+`)
	// "1º", "2ª", "Nº 3", "No. 4" and "#5"; bare numbers are not ranks
	rankRegex      = regexp.MustCompile(`(?i)(\d+)\s*[º°ª]|\bn(?:[º°]|o\.)\s*(\d+)|#\s*(\d+)`)
)

// ExtractionItemError is a single card that could not be turned into a
// product record. The loop logs it and moves on.
type ExtractionItemError struct {
	Page  int
	Index int
	Err   error
}

func (e *ExtractionItemError) Error() string {
	return fmt.Sprintf("page %d item %d: %v", e.Page, e.Index, e.Err)
}

func (e *ExtractionItemError) Unwrap() error {
	return e.Err
}

// ParseListing turns a raw card into a validated product record
func ParseListing(raw RawListing, jobID string, marketplace models.Marketplace, scrapedAt time.Time) (*models.ProductRecord, error) {
	title := strings.Join(strings.Fields(raw.Title), " ")
	if title == "" {
		return nil, fmt.Errorf("missing title")
	}

	price, err := ParsePrice(raw.Price, raw.PriceFraction)
	if err != nil {
		return nil, err
	}

	rating, err := ParseRating(raw.Rating)
	if err != nil {
		return nil, err
	}

	rank, err := ParseSalesRank(raw.SalesRank)
	if err != nil {
		return nil, err
	}

	rec := &models.ProductRecord{
		JobID:       jobID,
		Marketplace: marketplace,
		Title:       title,
		Price:       price,
		Rating:      rating,
		SalesRank:   rank,
		ScrapedAt:   scrapedAt.UTC(),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ParsePrice normalizes a BRL price. It accepts a full amount ("R$ 1.234,56")
// or an integer part and a separate cents part ("1.234", "56").
func ParsePrice(text, fraction string) (float64, error) {
	whole := numberRegex.FindString(text)
	if whole == "" {
		return 0, fmt.Errorf("missing price in %q", text)
	}

	var normalized string
	switch {
	case strings.Contains(whole, ","):
		// 1.234,56: dots group thousands, the comma is the decimal mark
		normalized = strings.ReplaceAll(whole, ".", "")
		normalized = strings.Replace(normalized, ",", ".", 1)
	case thousandsRegex.MatchString(whole):
		normalized = strings.ReplaceAll(whole, ".", "")
	default:
		normalized = whole
	}

	if cents := integerRegex.FindString(fraction); cents != "" && !strings.Contains(normalized, ".") {
		normalized += "." + cents
	}

	price, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", text, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive price %q", text)
	}
	return price, nil
}

// ParseRating reads the first number of texts like "4,5 de 5 estrelas".
// Empty text means the card has no rating.
func ParseRating(text string) (*float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	match := numberRegex.FindString(text)
	if match == "" {
		return nil, nil
	}
	rating, err := strconv.ParseFloat(strings.Replace(match, ",", ".", 1), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rating %q: %w", text, err)
	}
	if rating < 0 || rating > 5 {
		return nil, fmt.Errorf("rating %q outside 0-5", text)
	}
	return &rating, nil
}

// ParseSalesRank reads the position from badges like "1º MAIS VENDIDO" or
// "Nº 3 em Mouses". A badge without an ordinal is treated as no rank.
func ParseSalesRank(text string) (*int, error) {
	match := ""
	if groups := rankRegex.FindStringSubmatch(text); groups != nil {
		for _, g := range groups[1:] {
			if g != "" {
				match = g
				break
			}
		}
	}
	if match == "" {
		return nil, nil
	}
	rank, err := strconv.Atoi(match)
	if err != nil {
		return nil, fmt.Errorf("invalid sales rank %q: %w", text, err)
	}
	if rank < 1 {
		return nil, fmt.Errorf("sales rank %q is not positive", text)
	}
	return &rank, nil
}
