package enrichment

import (
	"strings"

	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

// investorTokens are the case-insensitive tokens that mark an owner or
// previous-owner name as a business entity.
var investorTokens = []string{
	"LLC", "TRUST", "INC", "CORP", "LP", "VENTURES", "PROPERTIES", "HOLDINGS", "INVESTMENTS",
}

func containsInvestorToken(name string) bool {
	upper := strings.ToUpper(name)
	for _, tok := range investorTokens {
		if matchesToken(upper, tok) {
			return true
		}
	}
	return false
}

// matchesToken checks for tok as a whole word within s, so "INC" doesn't
// match inside "INCLINE" or similar innocuous substrings.
func matchesToken(s, tok string) bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9')
	})
	for _, f := range fields {
		if f == tok {
			return true
		}
	}
	return false
}

// ComputeSignals derives the ownership signals for a
// feed record given the snapshot property it will be merged into.
func ComputeSignals(rec FeedRecord, propStreet, propZip string) propertymodel.Enrichment {
	normMailingStreet := propertymodel.NormalizeAddress(rec.MailingStreet)
	normPropStreet := propertymodel.NormalizeAddress(propStreet)

	absentee := rec.MailingZip != "" && rec.MailingZip != propZip
	if !absentee && rec.MailingStreet != "" {
		absentee = normMailingStreet != normPropStreet
	}

	ownerName := rec.OwnerDisplayName()
	investor := containsInvestorToken(ownerName)

	flip := containsInvestorToken(rec.PreviousOwner1) || containsInvestorToken(rec.PreviousOwner2)

	motivated := rec.DaysOnMarket >= 60

	var previousOwners []string
	for _, p := range []string{rec.PreviousOwner1, rec.PreviousOwner2} {
		if p != "" {
			previousOwners = append(previousOwners, p)
		}
	}

	return propertymodel.Enrichment{
		OwnerName:        ownerName,
		OwnerMailingAddr: rec.MailingStreet,
		OwnerMailingZip:  rec.MailingZip,
		PreviousOwners:   previousOwners,
		AbsenteeOwner:    absentee,
		InvestorOwned:    investor,
		FlipHistory:      flip,
		MotivatedSeller:  motivated,
	}
}
