package matchengine

import (
	"fmt"

	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

const (
	baseScore = 50
	minScore  = 0
	maxScore  = 100
)

// scoreCandidate computes the clamped fit score and ordered, deterministic
// list of positive-contributing reasons for a property that has already
// passed the filter.
func scoreCandidate(c Criteria, p propertymodel.Property) (int, []string) {
	var reasons []string
	score := baseScore

	usingUpstreamScore := p.OpportunityScore != nil
	if usingUpstreamScore {
		score = int(*p.OpportunityScore)
		reasons = append(reasons, fmt.Sprintf("upstream opportunity score %d", *p.OpportunityScore))
	} else {
		// Location match: the filter already guarantees p.PostalCode is one
		// of c.Locations, so this always applies when no upstream score.
		score += 30
		reasons = append(reasons, fmt.Sprintf("exact postal match %s", p.PostalCode))

		priceDelta, priceReason := priceFitDelta(c, p)
		score += priceDelta
		if priceReason != "" {
			reasons = append(reasons, priceReason)
		}

		sizeDelta, sizeReason := sizeFitDelta(c, p)
		score += sizeDelta
		if sizeReason != "" {
			reasons = append(reasons, sizeReason)
		}

		domDelta, domReason := daysOnMarketDelta(p)
		score += domDelta
		if domReason != "" {
			reasons = append(reasons, domReason)
		}
	}

	// Enrichment bonuses stack regardless of whether an upstream opportunity
	// score replaced the base ("replace base, allow
	// enrichment bonuses").
	if p.Enrichment != nil {
		if p.Enrichment.AbsenteeOwner {
			score += 10
			reasons = append(reasons, "absentee owner")
		}
		if p.Enrichment.InvestorOwned {
			score += 5
			reasons = append(reasons, "investor-owned")
		}
		if p.Enrichment.FlipHistory {
			score += 5
			reasons = append(reasons, "flip history")
		}
		if p.Enrichment.MotivatedSeller {
			score += 5
			reasons = append(reasons, "motivated seller")
		}
	}

	if score < minScore {
		score = minScore
	}
	if score > maxScore {
		score = maxScore
	}
	return score, reasons
}

// priceFitDelta implements the "Price fit" row of the scoring table.
func priceFitDelta(c Criteria, p propertymodel.Property) (int, string) {
	if c.PriceMax != nil && p.ListPrice > *c.PriceMax {
		overBy := p.ListPrice - *c.PriceMax
		if overBy*100 <= 10*(*c.PriceMax) {
			return 0, ""
		}
		return -20, ""
	}
	if c.PriceMin != nil && p.ListPrice <= *c.PriceMin {
		return 20, "better than budget"
	}
	return 10, "within budget"
}

// sizeFitDelta implements the "Size" row: it measures how far bedrooms and
// bathrooms exceed their respective minima, using the smaller of the two
// excesses so "exceeds both by N" reads literally — a property that beats
// one minimum by a wide margin but only just meets the other is scored by
// the one it only just meets.
func sizeFitDelta(c Criteria, p propertymodel.Property) (int, string) {
	var excesses []float64
	if c.BedroomsMin != nil && p.Bedrooms != nil {
		excesses = append(excesses, *p.Bedrooms-*c.BedroomsMin)
	}
	if c.BathroomsMin != nil && p.Bathrooms != nil {
		excesses = append(excesses, *p.Bathrooms-*c.BathroomsMin)
	}
	if len(excesses) == 0 {
		return 0, ""
	}
	min := excesses[0]
	for _, e := range excesses[1:] {
		if e < min {
			min = e
		}
	}
	switch {
	case min < 0:
		return -10, ""
	case min == 0:
		return 0, ""
	case min < 2:
		return 5, "exceeds size requirements"
	default:
		return 10, "comfortably exceeds size requirements"
	}
}

// daysOnMarketDelta implements the "Days-on-market" row.
func daysOnMarketDelta(p propertymodel.Property) (int, string) {
	if p.DaysOnMarket == nil {
		return 0, ""
	}
	dom := *p.DaysOnMarket
	switch {
	case dom >= 60:
		return 5, "on market 60+ days"
	case dom >= 30:
		return 3, "on market 30+ days"
	default:
		return 0, ""
	}
}
