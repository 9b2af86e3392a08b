package validation

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"marketintel/internal/models"
)

const (
	MaxSearchQueryLength = 200
	MaxCategoryLength    = 100
)

var (
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	controlCharsRegex = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// NormalizeText collapses whitespace and strips control characters
func NormalizeText(s string) string {
	s = controlCharsRegex.ReplaceAllString(s, " ")
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ApplyDefaults fills zero-valued optional fields with their defaults
func ApplyDefaults(p *models.JobParams) {
	if p.MaxPages == 0 {
		p.MaxPages = models.DefaultMaxPages
	}
	if p.Priority == 0 {
		p.Priority = models.DefaultPriority
	}
}

// ValidateJobParams normalizes the text fields of p in place and checks every
// field. All failures are reported together.
func ValidateJobParams(p *models.JobParams) error {
	verr := &models.ValidationError{}

	p.Marketplace = models.Marketplace(strings.ToLower(strings.TrimSpace(string(p.Marketplace))))
	if !p.Marketplace.Valid() {
		verr.Add("marketplace", "unknown marketplace %q", p.Marketplace)
	}

	p.SearchQuery = NormalizeText(p.SearchQuery)
	if p.SearchQuery == "" {
		verr.Add("search_query", "must not be empty")
	} else if len(p.SearchQuery) > MaxSearchQueryLength {
		verr.Add("search_query", "must be at most %d characters", MaxSearchQueryLength)
	}

	p.Category = NormalizeText(p.Category)
	if len(p.Category) > MaxCategoryLength {
		verr.Add("category", "must be at most %d characters", MaxCategoryLength)
	}

	if p.MaxPages < models.MinMaxPages || p.MaxPages > models.MaxMaxPages {
		verr.Add("max_pages", "must be between %d and %d", models.MinMaxPages, models.MaxMaxPages)
	}

	if p.Priority < models.MinPriority || p.Priority > models.MaxPriority {
		verr.Add("priority", "must be between %d and %d", models.MinPriority, models.MaxPriority)
	}

	return verr.OrNil()
}

// ValidateJobID reports whether id is a well-formed job identifier
func ValidateJobID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// ValidateStatusFilter accepts an empty filter or a known status
func ValidateStatusFilter(status string) (models.JobStatus, bool) {
	if status == "" {
		return "", true
	}
	s := models.JobStatus(strings.ToLower(status))
	return s, s.Valid()
}
