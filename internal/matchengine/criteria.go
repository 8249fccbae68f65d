package matchengine

import (
	"fmt"

	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

// DefaultMinScore is the default Criteria.MinScore used by the HTTP layer
// when a request omits min_score entirely.
const DefaultMinScore = 70

// Criteria is the immutable filter + scoring configuration owned by an
// agent. Once attached to an agent it is never mutated in place; a
// re-configured agent owns a new Criteria row.
type Criteria struct {
	ID string

	Locations     []string // postal codes
	PriceMin      *int64
	PriceMax      *int64
	BedroomsMin   *float64
	BathroomsMin  *float64
	PropertyTypes []string
	DealQualities []propertymodel.DealQuality
	MinScore      int // [0,100], default DefaultMinScore
	InvestmentType string
}

// Validate applies Criteria's data-model invariants and returns
// InvalidCriteriaError on violation.
func (c *Criteria) Validate() error {
	if len(c.Locations) == 0 {
		return &InvalidCriteriaError{Field: "locations", Reason: "must contain at least one postal code"}
	}
	for _, loc := range c.Locations {
		if loc == "" {
			return &InvalidCriteriaError{Field: "locations", Reason: "postal code must not be empty"}
		}
	}
	if c.PriceMin != nil && *c.PriceMin < 0 {
		return &InvalidCriteriaError{Field: "price_min", Reason: "must be non-negative"}
	}
	if c.PriceMax != nil && *c.PriceMax < 0 {
		return &InvalidCriteriaError{Field: "price_max", Reason: "must be non-negative"}
	}
	if c.PriceMin != nil && c.PriceMax != nil && *c.PriceMin > *c.PriceMax {
		return &InvalidCriteriaError{Field: "price_min/price_max", Reason: "price_min must be <= price_max"}
	}
	if c.BedroomsMin != nil && *c.BedroomsMin < 0 {
		return &InvalidCriteriaError{Field: "bedrooms_min", Reason: "must be non-negative"}
	}
	if c.BathroomsMin != nil && *c.BathroomsMin < 0 {
		return &InvalidCriteriaError{Field: "bathrooms_min", Reason: "must be non-negative"}
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return &InvalidCriteriaError{Field: "min_score", Reason: "must be within [0,100]"}
	}
	for _, dq := range c.DealQualities {
		switch dq {
		case propertymodel.DealQualityHot, propertymodel.DealQualityGood, propertymodel.DealQualityFair:
		default:
			return &InvalidCriteriaError{Field: "deal_quality", Reason: fmt.Sprintf("unknown tag %q", dq)}
		}
	}
	return nil
}

// Note: MinScore's default (DefaultMinScore) must be resolved by the caller
// before Validate, from an *int in the request DTO — an explicit min_score=0
// is a valid value ("min_score = 0 admits all candidates that pass the
// filter") and must not be conflated with "omitted", so defaulting cannot
// live here against a plain int zero value.

func (c *Criteria) locationSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Locations))
	for _, l := range c.Locations {
		set[l] = struct{}{}
	}
	return set
}
