// Package propertymodel defines the corpus record schema shared by the
// enrichment pipeline, the match engine, and the corpus store. Properties are
// represented as a single flat struct with optional fields rather than a
// dynamic map, per the "avoid mirroring per-call dynamic shape checks" design
// note: every field the match engine or enrichment pipeline can read is named
// here, and absence is represented with Go zero values / pointers, not by
// probing a map for a key.
package propertymodel

import "time"

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusSold    Status = "sold"
)

// DealQuality is a precomputed deal-quality tag, when the upstream feed
// supplies one.
type DealQuality string

const (
	DealQualityHot  DealQuality = "HOT"
	DealQualityGood DealQuality = "GOOD"
	DealQualityFair DealQuality = "FAIR"
)

// Enrichment holds owner-intelligence fields merged in by the enrichment
// pipeline. A zero-value Enrichment means "no enrichment data available" —
// callers must treat every field here as optional regardless of whether the
// struct itself is present.
type Enrichment struct {
	OwnerName        string
	OwnerMailingAddr string
	OwnerMailingZip  string
	PreviousOwners   []string

	AbsenteeOwner   bool
	InvestorOwned   bool
	FlipHistory     bool
	MotivatedSeller bool
}

// Property is a single corpus record. All fields except StreetAddress and
// PostalCode are optional; a field's absence must never be treated as an
// error by a reader.
type Property struct {
	StreetAddress string
	City          string
	State         string
	PostalCode    string

	ListPrice    int64 // consistent unit repo-wide: whole dollars
	Bedrooms     *float64
	Bathrooms    *float64 // may be half-integral, e.g. 2.5
	SquareFeet   *int64
	DaysOnMarket *int64

	PropertyType string
	Status       Status
	DealQuality  DealQuality // "" if not precomputed upstream

	OpportunityScore *int64 // precomputed upstream score, if any

	Enrichment *Enrichment // nil if no enrichment data merged in
}

// Snapshot is an immutable view of the corpus at a point in time. Callers
// must never mutate Properties or any Property within it after construction;
// the corpus store relies on this to provide torn-read-free swaps.
type Snapshot struct {
	Properties []Property
	Timestamp  time.Time
}
