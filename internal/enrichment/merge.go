package enrichment

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

// MergeResult is the structured outcome of merging a parsed feed into a
// snapshot. It is pure given its inputs: no network I/O, no
// partial swap — the caller decides whether and how to install Snapshot via
// corpus.Store.Swap.
type MergeResult struct {
	Snapshot      propertymodel.Snapshot
	SkippedRows   []RowError
	MatchedCount  int // feed records that found a snapshot property to augment
	UnmatchedRows int // feed records with no corresponding snapshot property
}

// Merge parses feed, computes ownership signals per record, and merges them
// into current by normalized-address+postal-code key. Only ownership-signal
// fields are overridden by the feed; price, size, and status always come
// from the snapshot; the feed never overrides price, size, or status.
func Merge(feedData []byte, current propertymodel.Snapshot, now time.Time) (*MergeResult, error) {
	report, err := ParseFeed(bytes.NewReader(feedData))
	if err != nil {
		return nil, fmt.Errorf("enrichment: parse feed: %w", err)
	}

	byKey := make(map[string]FeedRecord, len(report.Records))
	for _, rec := range report.Records {
		key := propertymodel.PropertyKey(rec.Street, rec.Zip)
		byKey[key] = rec
	}

	matched := make(map[string]bool, len(byKey))
	merged := make([]propertymodel.Property, len(current.Properties))
	for i, p := range current.Properties {
		key := propertymodel.PropertyKey(p.StreetAddress, p.PostalCode)
		if rec, ok := byKey[key]; ok {
			signals := ComputeSignals(rec, p.StreetAddress, p.PostalCode)
			p.Enrichment = &signals
			matched[key] = true
		}
		merged[i] = p
	}

	unmatched := 0
	for key := range byKey {
		if !matched[key] {
			unmatched++
		}
	}

	return &MergeResult{
		Snapshot:      propertymodel.Snapshot{Properties: merged, Timestamp: now},
		SkippedRows:   report.Skipped,
		MatchedCount:  len(matched),
		UnmatchedRows: unmatched,
	}, nil
}
