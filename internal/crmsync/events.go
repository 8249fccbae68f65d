package crmsync

import "github.com/jmerrifield20/propwatch/internal/agent/model"

// NewMatchEvent is the outbox payload for a "new_match" event: the full
// persisted match row, including the property snapshot captured at match
// time.
type NewMatchEvent struct {
	Match model.Match `json:"match"`
}

// PriceDropEvent is the outbox payload for a "price_drop" event: the match
// row as it stood before the drop, plus the old and new list price.
type PriceDropEvent struct {
	Match    model.Match `json:"match"`
	OldPrice int64       `json:"old_price"`
	NewPrice int64       `json:"new_price"`
}
