package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ProductRecord is one scraped marketplace listing
type ProductRecord struct {
	ID          int64       `json:"id,omitempty"`
	JobID       string      `json:"job_id"`
	Marketplace Marketplace `json:"marketplace"`
	Title       string      `json:"title"`
	Price       float64     `json:"price"`
	Rating      *float64    `json:"rating,omitempty"`
	SalesRank   *int        `json:"sales_rank,omitempty"`
	ScrapedAt   time.Time   `json:"scraped_at"`
}

// Validate checks the fixed record shape before it is persisted
func (p *ProductRecord) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("product record has no job id")
	}
	if !p.Marketplace.Valid() {
		return fmt.Errorf("product record has unknown marketplace %q", p.Marketplace)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("product record has empty title")
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price <= 0 {
		return fmt.Errorf("product record has invalid price %v", p.Price)
	}
	if p.Rating != nil && (*p.Rating < 0 || *p.Rating > 5) {
		return fmt.Errorf("product record has rating %v outside 0-5", *p.Rating)
	}
	if p.SalesRank != nil && *p.SalesRank < 1 {
		return fmt.Errorf("product record has non-positive sales rank %d", *p.SalesRank)
	}
	if p.ScrapedAt.IsZero() {
		return fmt.Errorf("product record has no scrape time")
	}
	return nil
}

// PriceSummary aggregates prices of persisted records
type PriceSummary struct {
	Count    int     `json:"count"`
	AvgPrice float64 `json:"avg_price"`
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`
}

// TrendReport is the read-only view served by the trends endpoint
type TrendReport struct {
	Marketplace Marketplace     `json:"marketplace"`
	Category    string          `json:"category,omitempty"`
	Summary     PriceSummary    `json:"summary"`
	Products    []ProductRecord `json:"products"`
	GeneratedAt time.Time       `json:"generated_at"`
}
