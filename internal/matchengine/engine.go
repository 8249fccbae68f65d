// Package matchengine implements the Match Engine (C3): filtering and
// scoring of properties against per-agent Criteria, with deduplication and
// price-drop detection across runs.
//
// Grounded on internal/threat's Scorer/Report shape (a fixed rule set that
// accumulates findings into a score), generalized here from a 0-100 risk
// score over registration text to a 0-100 fit score over property fields.
package matchengine

import (
	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

// ExistingMatch is the minimal data the engine needs about a previously
// persisted Match row to perform dedup and price-drop detection.
type ExistingMatch struct {
	PropertyKey   string
	CapturedPrice int64
}

// NewMatch is emitted for a candidate property with no prior Match row for
// (agent, property_key).
type NewMatch struct {
	PropertyKey string
	Score       int
	Reasons     []string
	Property    propertymodel.Property // captured value, not a reference
}

// PriceDrop is emitted when an already-matched property's list price has
// strictly decreased since the captured Match.
type PriceDrop struct {
	PropertyKey string
	OldPrice    int64
	NewPrice    int64
}

// Result is the output of a single Evaluate call.
type Result struct {
	NewMatches []NewMatch
	PriceDrops []PriceDrop
}

// Evaluate filters and scores every property in snapshot against criteria,
// then classifies each passing candidate as a NewMatch, a PriceDrop, or
// nothing, per the existing match set for the owning agent. Candidates are
// evaluated in snapshot iteration order and outputs are emitted in that
// same order as they appear in the snapshot. Returns InvalidCriteriaError and emits
// nothing if criteria fails validation.
func Evaluate(criteria Criteria, snapshot propertymodel.Snapshot, existing map[string]ExistingMatch) (*Result, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	locs := criteria.locationSet()
	result := &Result{}

	for _, p := range snapshot.Properties {
		if !passesFilter(criteria, locs, p) {
			continue
		}

		score, reasons := scoreCandidate(criteria, p)
		if score < criteria.MinScore {
			continue
		}

		key := propertymodel.PropertyKey(p.StreetAddress, p.PostalCode)
		if prior, ok := existing[key]; ok {
			if p.ListPrice > 0 && prior.CapturedPrice > 0 && p.ListPrice < prior.CapturedPrice {
				result.PriceDrops = append(result.PriceDrops, PriceDrop{
					PropertyKey: key,
					OldPrice:    prior.CapturedPrice,
					NewPrice:    p.ListPrice,
				})
			}
			continue
		}

		result.NewMatches = append(result.NewMatches, NewMatch{
			PropertyKey: key,
			Score:       score,
			Reasons:     reasons,
			Property:    p,
		})
	}

	return result, nil
}

// passesFilter applies the candidate filter.
func passesFilter(c Criteria, locs map[string]struct{}, p propertymodel.Property) bool {
	if p.Status != propertymodel.StatusActive {
		return false
	}
	if _, ok := locs[p.PostalCode]; !ok {
		return false
	}
	if (c.PriceMin != nil || c.PriceMax != nil) && p.ListPrice <= 0 {
		return false
	}
	if c.PriceMin != nil && p.ListPrice < *c.PriceMin {
		return false
	}
	if c.PriceMax != nil && p.ListPrice > *c.PriceMax {
		return false
	}
	if c.BedroomsMin != nil {
		if p.Bedrooms == nil || *p.Bedrooms < *c.BedroomsMin {
			return false
		}
	}
	if c.BathroomsMin != nil {
		if p.Bathrooms == nil || *p.Bathrooms < *c.BathroomsMin {
			return false
		}
	}
	if len(c.PropertyTypes) > 0 && !containsString(c.PropertyTypes, p.PropertyType) {
		return false
	}
	if len(c.DealQualities) > 0 && !containsDealQuality(c.DealQualities, p.DealQuality) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsDealQuality(list []propertymodel.DealQuality, v propertymodel.DealQuality) bool {
	for _, dq := range list {
		if dq == v {
			return true
		}
	}
	return false
}
