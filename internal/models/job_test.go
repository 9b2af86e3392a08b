package models

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestPredecessors(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusRunning, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := slices.Contains(tc.to.Predecessors(), tc.from); got != tc.want {
			t.Fatalf("%s -> %s allowed = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestMarketplaceAndStatusEnums(t *testing.T) {
	if !MarketplaceMercadoLivre.Valid() || !MarketplaceAmazon.Valid() {
		t.Fatal("expected built-in marketplaces to be valid")
	}
	if Marketplace("ebay").Valid() {
		t.Fatal("expected ebay to be rejected")
	}
	if JobStatus("paused").Valid() {
		t.Fatal("expected unknown status to be rejected")
	}
	if !StatusFailed.Terminal() || StatusRunning.Terminal() {
		t.Fatal("unexpected terminal classification")
	}
}

func TestProductRecordValidate(t *testing.T) {
	rating := 4.5
	rank := 2
	valid := ProductRecord{
		JobID:       "job",
		Marketplace: MarketplaceAmazon,
		Title:       "Mouse Gamer",
		Price:       199.9,
		Rating:      &rating,
		SalesRank:   &rank,
		ScrapedAt:   time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid record, got %v", err)
	}

	badRating := 7.0
	zeroRank := 0
	mutations := map[string]func(p *ProductRecord){
		"empty title":   func(p *ProductRecord) { p.Title = "  " },
		"zero price":    func(p *ProductRecord) { p.Price = 0 },
		"rating range":  func(p *ProductRecord) { p.Rating = &badRating },
		"rank":          func(p *ProductRecord) { p.SalesRank = &zeroRank },
		"marketplace":   func(p *ProductRecord) { p.Marketplace = "ebay" },
		"missing job":   func(p *ProductRecord) { p.JobID = "" },
		"missing stamp": func(p *ProductRecord) { p.ScrapedAt = time.Time{} },
	}
	for name, mutate := range mutations {
		rec := valid
		mutate(&rec)
		if err := rec.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidationErrorMessage(t *testing.T) {
	verr := &ValidationError{}
	if verr.OrNil() != nil {
		t.Fatal("expected empty validation error to be nil")
	}
	verr.Add("max_pages", "must be between %d and %d", MinMaxPages, MaxMaxPages)
	err := verr.OrNil()
	if err == nil {
		t.Fatal("expected error")
	}
	var target *ValidationError
	if !errors.As(err, &target) || len(target.Fields) != 1 {
		t.Fatalf("expected ValidationError with one field, got %v", err)
	}
	if !strings.Contains(err.Error(), "max_pages") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
