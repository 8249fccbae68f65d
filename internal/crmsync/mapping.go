package crmsync

import (
	"fmt"

	"github.com/spf13/viper"
)

// FieldMapping is the fixed bidirectional mapping between internal field
// names and external CRM field keys, loaded from a runtime configuration
// file rather than compiled in: changing an external field name is a
// configuration change, not a code change.
type FieldMapping struct {
	DealScore     string
	PropertyAddr  string
	ListPrice     string
	EstProfit     string
	MLSID         string
	PricePerSqft  string
	BelowMarket   string
	DaysOnMarket  string
	DealQuality   string
	EstimatedARV  string
}

// defaultFieldMapping matches the external field keys named in the field
// mapping reference table when no override file is present.
func defaultFieldMapping() FieldMapping {
	return FieldMapping{
		DealScore:    "dealscore",
		PropertyAddr: "propertyaddress",
		ListPrice:    "list_price",
		EstProfit:    "estprofit",
		MLSID:        "mls_id",
		PricePerSqft: "price_per_sqft",
		BelowMarket:  "below_market_pct",
		DaysOnMarket: "days_on_market",
		DealQuality:  "deal_quality",
		EstimatedARV: "estimated_arv",
	}
}

// LoadFieldMapping reads the field mapping from a YAML or JSON file via
// viper, the same configuration library cmd/*/main.go uses for the rest of
// the process's settings. An empty path falls back to the documented
// default mapping; a path whose file cannot be read is an error.
func LoadFieldMapping(path string) (FieldMapping, error) {
	mapping := defaultFieldMapping()
	if path == "" {
		return mapping, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return mapping, fmt.Errorf("read field mapping %s: %w", path, err)
	}

	set := func(key string, dst *string) {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}
	set("deal_score", &mapping.DealScore)
	set("property_address", &mapping.PropertyAddr)
	set("list_price", &mapping.ListPrice)
	set("est_profit", &mapping.EstProfit)
	set("mls_id", &mapping.MLSID)
	set("price_per_sqft", &mapping.PricePerSqft)
	set("below_market_pct", &mapping.BelowMarket)
	set("days_on_market", &mapping.DaysOnMarket)
	set("deal_quality", &mapping.DealQuality)
	set("estimated_arv", &mapping.EstimatedARV)

	return mapping, nil
}
