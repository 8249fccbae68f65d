package crmsync

import (
	"fmt"
	"strings"

	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

// Opportunity is the external CRM representation of a match or price-drop
// event, ready to be JSON-encoded and POSTed.
type Opportunity struct {
	Name         string            `json:"name"`
	Value        int64             `json:"value"`
	PipelineID   string            `json:"pipeline_id"`
	StageID      string            `json:"stage_id"`
	Note         string            `json:"note"`
	CustomFields map[string]string `json:"custom_fields"`
}

// PipelineConfig names the destination pipeline and initial stage every
// opportunity is created in.
type PipelineConfig struct {
	PipelineID string
	StageID    string
}

// TransformNewMatch converts a new-match event into an Opportunity using the
// configured field mapping and pipeline/stage identifiers.
func TransformNewMatch(p propertymodel.Property, score int, reasons []string, mapping FieldMapping, pipeline PipelineConfig) Opportunity {
	return Opportunity{
		Name:         opportunityName(p, score),
		Value:        p.ListPrice,
		PipelineID:   pipeline.PipelineID,
		StageID:      pipeline.StageID,
		Note:         newMatchNote(score, reasons),
		CustomFields: customFields(p, score, mapping),
	}
}

// TransformPriceDrop converts a price-drop event into an Opportunity. The
// opportunity's monetary value reflects the new, lower price.
func TransformPriceDrop(p propertymodel.Property, oldPrice, newPrice int64, mapping FieldMapping, pipeline PipelineConfig) Opportunity {
	return Opportunity{
		Name:         opportunityName(p, 0),
		Value:        newPrice,
		PipelineID:   pipeline.PipelineID,
		StageID:      pipeline.StageID,
		Note:         priceDropNote(oldPrice, newPrice),
		CustomFields: customFields(p, 0, mapping),
	}
}

func opportunityName(p propertymodel.Property, score int) string {
	if score > 0 {
		return fmt.Sprintf("%s (score %d)", p.StreetAddress, score)
	}
	return p.StreetAddress
}

func newMatchNote(score int, reasons []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score: %d\n", score)
	b.WriteString("Reasons:\n")
	for _, r := range reasons {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return b.String()
}

func priceDropNote(oldPrice, newPrice int64) string {
	return fmt.Sprintf("Price drop: %d -> %d", oldPrice, newPrice)
}

func customFields(p propertymodel.Property, score int, m FieldMapping) map[string]string {
	fields := map[string]string{
		m.PropertyAddr: p.StreetAddress,
		m.ListPrice:    fmt.Sprintf("%d", p.ListPrice),
	}
	if score > 0 {
		fields[m.DealScore] = fmt.Sprintf("%d", score)
	}
	if p.SquareFeet != nil && *p.SquareFeet > 0 {
		fields[m.PricePerSqft] = fmt.Sprintf("%.2f", float64(p.ListPrice)/float64(*p.SquareFeet))
	}
	if p.DaysOnMarket != nil {
		fields[m.DaysOnMarket] = fmt.Sprintf("%d", *p.DaysOnMarket)
	}
	if p.DealQuality != "" {
		fields[m.DealQuality] = string(p.DealQuality)
	}
	if p.OpportunityScore != nil {
		fields[m.EstimatedARV] = fmt.Sprintf("%d", *p.OpportunityScore)
	}
	return fields
}
