// Package enrichment implements the Enrichment Pipeline (C2): it parses the
// auxiliary owner-intelligence feed, computes ownership signals, and
// merges the result into the current Corpus Snapshot by address key.
//
// The feed is plain CSV with a header row; the standard library's
// encoding/csv is used because no CSV or struct-mapping library appears
// anywhere in the retrieval pack (see SPEC_FULL.md's DOMAIN STACK section).
package enrichment

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// requiredColumns is the fixed set of expected feed columns, normalized to
// lower-case for case-insensitive header matching.
var requiredColumns = []string{
	"street", "city", "state", "zip", "price", "sq ft", "price/sq ft",
	"beds", "baths", "lot size", "year built", "property type", "status",
	"days on market", "# of units",
	"owner 1 first name", "owner 1 last name", "owner 1 business name",
	"owner 2 first name", "owner 2 last name",
	"owner mailing street", "owner mailing city", "owner mailing state", "owner mailing zip",
	"previous owner 1", "previous owner 2",
}

// FeedRecord is one parsed, validated row of the auxiliary feed.
type FeedRecord struct {
	Street  string
	City    string
	State   string
	Zip     string
	Price   int64
	SqFt    int64
	Beds    float64
	Baths   float64
	DaysOnMarket int64
	PropertyType string
	Status       string

	OwnerBusinessName string
	OwnerFirstName    string
	OwnerLastName     string

	MailingStreet string
	MailingCity   string
	MailingState  string
	MailingZip    string

	PreviousOwner1 string
	PreviousOwner2 string
}

// RowError describes a single skipped feed row.
type RowError struct {
	Row    int // 1-based, counting the header as row 0
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// ParseReport is the row-level result of parsing a feed.
type ParseReport struct {
	Records []FeedRecord
	Skipped []RowError
}

// ParseFeed reads a CSV auxiliary feed and returns every record with a
// parseable address and postal code; records missing either are skipped and
// reported rather than causing ParseFeed to fail.
func ParseFeed(r io.Reader) (*ParseReport, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // tolerate ragged rows; validated per-column below
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	report := &ParseReport{}
	rowNum := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rowNum+1, err)
		}
		rowNum++

		rec, rerr := parseRow(row, idx, rowNum)
		if rerr != nil {
			report.Skipped = append(report.Skipped, *rerr)
			continue
		}
		report.Records = append(report.Records, *rec)
	}
	return report, nil
}

// columnIndex maps normalized (lower-case, trimmed) column names from the
// header to their position, and verifies every required column is present.
func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("feed missing required columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func col(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRow(row []string, idx map[string]int, rowNum int) (*FeedRecord, *RowError) {
	street := col(row, idx, "street")
	zip := col(row, idx, "zip")
	if street == "" {
		return nil, &RowError{Row: rowNum, Reason: "missing street address"}
	}
	if zip == "" {
		return nil, &RowError{Row: rowNum, Reason: "missing zip"}
	}

	rec := &FeedRecord{
		Street:            street,
		City:              col(row, idx, "city"),
		State:             col(row, idx, "state"),
		Zip:               zip,
		PropertyType:      col(row, idx, "property type"),
		Status:            col(row, idx, "status"),
		OwnerFirstName:    col(row, idx, "owner 1 first name"),
		OwnerLastName:     col(row, idx, "owner 1 last name"),
		OwnerBusinessName: col(row, idx, "owner 1 business name"),
		MailingStreet:     col(row, idx, "owner mailing street"),
		MailingCity:       col(row, idx, "owner mailing city"),
		MailingState:      col(row, idx, "owner mailing state"),
		MailingZip:        col(row, idx, "owner mailing zip"),
		PreviousOwner1:    col(row, idx, "previous owner 1"),
		PreviousOwner2:    col(row, idx, "previous owner 2"),
	}

	rec.Price = parseInt(col(row, idx, "price"))
	rec.SqFt = parseInt(col(row, idx, "sq ft"))
	rec.Beds = parseFloat(col(row, idx, "beds"))
	rec.Baths = parseFloat(col(row, idx, "baths"))
	rec.DaysOnMarket = parseInt(col(row, idx, "days on market"))

	return rec, nil
}

// parseInt and parseFloat tolerate formatting noise ($, commas) common in
// real estate export feeds; an unparseable value yields zero rather than
// failing the row: only address and zip are load-bearing for a feed row.
func parseInt(s string) int64 {
	s = strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(v)
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// OwnerDisplayName joins the business name (if present) or first+last name
// into a single string for token matching in signals.go.
func (r FeedRecord) OwnerDisplayName() string {
	if r.OwnerBusinessName != "" {
		return r.OwnerBusinessName
	}
	return strings.TrimSpace(r.OwnerFirstName + " " + r.OwnerLastName)
}
