package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"marketintel/internal/models"
)

func TestValidateJobParamsAcceptsDefaults(t *testing.T) {
	p := models.JobParams{Marketplace: " Mercado_Livre ", SearchQuery: "  mouse \t gamer "}
	ApplyDefaults(&p)
	if err := ValidateJobParams(&p); err != nil {
		t.Fatalf("expected valid params, got %v", err)
	}
	if p.Marketplace != models.MarketplaceMercadoLivre {
		t.Fatalf("expected normalized marketplace, got %q", p.Marketplace)
	}
	if p.SearchQuery != "mouse gamer" {
		t.Fatalf("expected normalized query, got %q", p.SearchQuery)
	}
	if p.MaxPages != models.DefaultMaxPages || p.Priority != models.DefaultPriority {
		t.Fatalf("expected defaults, got max_pages=%d priority=%d", p.MaxPages, p.Priority)
	}
}

func TestValidateJobParamsRejections(t *testing.T) {
	tests := []struct {
		name  string
		p     models.JobParams
		field string
	}{
		{"unknown marketplace", models.JobParams{Marketplace: "ebay", SearchQuery: "x", MaxPages: 1, Priority: 1}, "marketplace"},
		{"empty query", models.JobParams{Marketplace: "amazon", SearchQuery: "   ", MaxPages: 1, Priority: 1}, "search_query"},
		{"long query", models.JobParams{Marketplace: "amazon", SearchQuery: strings.Repeat("a", MaxSearchQueryLength+1), MaxPages: 1, Priority: 1}, "search_query"},
		{"long category", models.JobParams{Marketplace: "amazon", SearchQuery: "x", Category: strings.Repeat("c", MaxCategoryLength+1), MaxPages: 1, Priority: 1}, "category"},
		{"zero pages", models.JobParams{Marketplace: "amazon", SearchQuery: "x", MaxPages: 0, Priority: 1}, "max_pages"},
		{"too many pages", models.JobParams{Marketplace: "amazon", SearchQuery: "x", MaxPages: 51, Priority: 1}, "max_pages"},
		{"negative pages", models.JobParams{Marketplace: "amazon", SearchQuery: "x", MaxPages: -3, Priority: 1}, "max_pages"},
		{"priority high", models.JobParams{Marketplace: "amazon", SearchQuery: "x", MaxPages: 1, Priority: 11}, "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			err := ValidateJobParams(&p)
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, f := range verr.Fields {
				if f.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected failure on %s, got %+v", tt.field, verr.Fields)
			}
		})
	}
}

func TestValidateJobParamsBoundaries(t *testing.T) {
	for _, pages := range []int{1, 50} {
		p := models.JobParams{Marketplace: "amazon", SearchQuery: "notebook", MaxPages: pages, Priority: 10}
		if err := ValidateJobParams(&p); err != nil {
			t.Fatalf("max_pages=%d should be accepted: %v", pages, err)
		}
	}
}

func TestValidateJobID(t *testing.T) {
	if !ValidateJobID(uuid.NewString()) {
		t.Fatal("expected uuid to be accepted")
	}
	for _, bad := range []string{"", "123", "not-a-uuid", "../../etc/passwd"} {
		if ValidateJobID(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestValidateStatusFilter(t *testing.T) {
	if s, ok := ValidateStatusFilter("RUNNING"); !ok || s != models.StatusRunning {
		t.Fatalf("expected running, got %q ok=%v", s, ok)
	}
	if _, ok := ValidateStatusFilter(""); !ok {
		t.Fatal("expected empty filter to be accepted")
	}
	if _, ok := ValidateStatusFilter("paused"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}
