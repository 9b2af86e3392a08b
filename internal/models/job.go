package models

import "time"

// Marketplace identifies a supported e-commerce site
type Marketplace string

const (
	MarketplaceAmazon       Marketplace = "amazon"
	MarketplaceMercadoLivre Marketplace = "mercado_livre"
	MarketplaceShopee       Marketplace = "shopee"
	MarketplaceB2W          Marketplace = "b2w"
	MarketplaceMagalu       Marketplace = "magalu"
)

// Marketplaces lists every value accepted at job creation. Having a value here
// does not mean a scraping strategy is registered for it.
var Marketplaces = []Marketplace{
	MarketplaceAmazon,
	MarketplaceMercadoLivre,
	MarketplaceShopee,
	MarketplaceB2W,
	MarketplaceMagalu,
}

// Valid reports whether m is a known marketplace
func (m Marketplace) Valid() bool {
	for _, known := range Marketplaces {
		if m == known {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a scraping job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Predecessors returns the statuses a job may be in immediately before
// entering s. Transitions only move forward: pending -> running ->
// completed|failed.
func (s JobStatus) Predecessors() []JobStatus {
	switch s {
	case StatusRunning:
		return []JobStatus{StatusPending}
	case StatusCompleted, StatusFailed:
		return []JobStatus{StatusRunning}
	}
	return nil
}

const (
	DefaultMaxPages = 5
	MinMaxPages     = 1
	MaxMaxPages     = 50

	DefaultPriority = 5
	MinPriority     = 1
	MaxPriority     = 10
)

// JobParams are the caller-supplied parameters of a scraping job
type JobParams struct {
	Marketplace Marketplace `json:"marketplace"`
	SearchQuery string      `json:"search_query"`
	Category    string      `json:"category,omitempty"`
	MaxPages    int         `json:"max_pages"`
	Priority    int         `json:"priority"`
}

// Job is the durable record of one scraping request
type Job struct {
	ID           string      `json:"job_id"`
	Marketplace  Marketplace `json:"marketplace"`
	SearchQuery  string      `json:"search_query"`
	Category     string      `json:"category,omitempty"`
	MaxPages     int         `json:"max_pages"`
	Priority     int         `json:"priority"`
	Status       JobStatus   `json:"status"`
	ResultsCount int         `json:"results_count"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TransitionOptions carries the fields written alongside a status change.
// ResultsCount is only persisted with a transition to completed; Error only
// with a transition to failed.
type TransitionOptions struct {
	Error        string
	ResultsCount int
}

// JobFilter narrows a job listing. Results are newest first unless
// OldestFirst is set.
type JobFilter struct {
	Status      JobStatus
	Limit       int
	OldestFirst bool
}
