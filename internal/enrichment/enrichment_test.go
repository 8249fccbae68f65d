package enrichment

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/propwatch/internal/propertymodel"
)

const testFeedHeader = "Street,City,State,Zip,Price,Sq Ft,Price/Sq Ft,Beds,Baths,Lot Size,Year Built,Property Type,Status,Days on Market,# of Units,Owner 1 First Name,Owner 1 Last Name,Owner 1 Business Name,Owner 2 First Name,Owner 2 Last Name,Owner Mailing Street,Owner Mailing City,Owner Mailing State,Owner Mailing Zip,Previous Owner 1,Previous Owner 2\n"

func TestParseFeedSkipsMissingAddressOrZip(t *testing.T) {
	data := testFeedHeader +
		"123 Main St,San Diego,CA,92128,900000,1500,600,3,2,,2000,single_family,active,65,1,Jane,Doe,,,,999 Away Rd,Elsewhere,CA,90001,ABC LLC,\n" +
		",San Diego,CA,92128,900000,1500,600,3,2,,2000,single_family,active,10,1,Jane,Doe,,,,,,,,\n" +
		"456 Oak Ave,San Diego,CA,,900000,1500,600,3,2,,2000,single_family,active,10,1,Jane,Doe,,,,,,,,\n"

	report, err := ParseFeed(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	if len(report.Records) != 1 {
		t.Fatalf("expected 1 valid record, got %d", len(report.Records))
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("expected 2 skipped rows, got %d: %+v", len(report.Skipped), report.Skipped)
	}
}

func TestComputeSignalsAbsenteeInvestorFlipMotivated(t *testing.T) {
	rec := FeedRecord{
		Street:            "123 Main St",
		Zip:               "92128",
		OwnerBusinessName: "Sunrise Ventures LLC",
		MailingStreet:     "999 Away Rd",
		MailingZip:        "90001",
		PreviousOwner1:    "Acme Holdings Trust",
		DaysOnMarket:      65,
	}
	sig := ComputeSignals(rec, "123 Main St", "92128")
	if !sig.AbsenteeOwner {
		t.Error("expected AbsenteeOwner true")
	}
	if !sig.InvestorOwned {
		t.Error("expected InvestorOwned true")
	}
	if !sig.FlipHistory {
		t.Error("expected FlipHistory true")
	}
	if !sig.MotivatedSeller {
		t.Error("expected MotivatedSeller true (dom=65)")
	}
}

func TestComputeSignalsOwnerOccupiedIndividual(t *testing.T) {
	rec := FeedRecord{
		Street:         "123 Main St",
		Zip:            "92128",
		OwnerFirstName: "Jane",
		OwnerLastName:  "Doe",
		MailingStreet:  "123 Main St",
		MailingZip:     "92128",
		DaysOnMarket:   10,
	}
	sig := ComputeSignals(rec, "123 Main St", "92128")
	if sig.AbsenteeOwner || sig.InvestorOwned || sig.FlipHistory || sig.MotivatedSeller {
		t.Errorf("expected no signals triggered, got %+v", sig)
	}
}

func testSnapshot() propertymodel.Snapshot {
	return propertymodel.Snapshot{
		Properties: []propertymodel.Property{
			{StreetAddress: "123 Main St", PostalCode: "92128", ListPrice: 900000, Status: propertymodel.StatusActive},
		},
	}
}

func testFeed() []byte {
	return []byte(testFeedHeader +
		"123 Main St,San Diego,CA,92128,900000,1500,600,3,2,,2000,single_family,active,65,1,,,Sunrise Ventures LLC,,,999 Away Rd,Elsewhere,CA,90001,Acme Holdings Trust,\n")
}

func TestMergeOverridesOnlyOwnershipFields(t *testing.T) {
	now := time.Unix(1000, 0).UTC()
	result, err := Merge(testFeed(), testSnapshot(), now)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(result.Snapshot.Properties) != 1 {
		t.Fatalf("expected 1 property, got %d", len(result.Snapshot.Properties))
	}
	p := result.Snapshot.Properties[0]
	if p.ListPrice != 900000 {
		t.Errorf("price should come from snapshot, got %d", p.ListPrice)
	}
	if p.Enrichment == nil || !p.Enrichment.InvestorOwned {
		t.Fatalf("expected enrichment to be merged in: %+v", p.Enrichment)
	}
	if result.MatchedCount != 1 {
		t.Errorf("expected MatchedCount=1, got %d", result.MatchedCount)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	now := time.Unix(1000, 0).UTC()
	snap := testSnapshot()

	first, err := Merge(testFeed(), snap, now)
	if err != nil {
		t.Fatalf("first Merge: %v", err)
	}
	second, err := Merge(testFeed(), first.Snapshot, now)
	if err != nil {
		t.Fatalf("second Merge: %v", err)
	}

	if len(first.Snapshot.Properties) != len(second.Snapshot.Properties) {
		t.Fatalf("property count changed across repeated merges")
	}
	p1, p2 := first.Snapshot.Properties[0], second.Snapshot.Properties[0]
	if !reflect.DeepEqual(*p1.Enrichment, *p2.Enrichment) {
		t.Fatalf("merge is not idempotent: %+v vs %+v", p1.Enrichment, p2.Enrichment)
	}
}
