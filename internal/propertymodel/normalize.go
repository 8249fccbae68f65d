package propertymodel

import "strings"

// NormalizeAddress upper-cases, collapses whitespace runs, and strips
// non-alphanumeric characters from a street address. It is used both for
// the match engine's property_key dedup key and for the enrichment
// pipeline's merge-by-address key.
func NormalizeAddress(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevSpace = false
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !prevSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			prevSpace = true
		default:
			// punctuation: stripped entirely, not replaced with a space
		}
	}
	return strings.TrimSpace(b.String())
}

// PropertyKey returns the canonical dedup key for a property: normalized
// street address, then postal code, joined with "|". Stable across
// snapshots as long as the address and postal code themselves don't change.
func PropertyKey(streetAddress, postalCode string) string {
	return NormalizeAddress(streetAddress) + "|" + strings.TrimSpace(postalCode)
}
