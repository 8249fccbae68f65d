package crmsync_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/propwatch/internal/crmsync"
)

func TestLoadFieldMappingDefaultsWhenPathEmpty(t *testing.T) {
	mapping, err := crmsync.LoadFieldMapping("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapping.PropertyAddr != "propertyaddress" {
		t.Fatalf("default property address key = %q", mapping.PropertyAddr)
	}
	if mapping.DealScore != "dealscore" {
		t.Fatalf("default deal score key = %q", mapping.DealScore)
	}
}

func TestLoadFieldMappingOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	contents := "property_address: addr\nlist_price: price\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	mapping, err := crmsync.LoadFieldMapping(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapping.PropertyAddr != "addr" {
		t.Fatalf("property address = %q, want override", mapping.PropertyAddr)
	}
	if mapping.ListPrice != "price" {
		t.Fatalf("list price = %q, want override", mapping.ListPrice)
	}
	// Unset keys keep their defaults.
	if mapping.DealScore != "dealscore" {
		t.Fatalf("deal score = %q, want unchanged default", mapping.DealScore)
	}
}

func TestLoadFieldMappingMissingFileErrors(t *testing.T) {
	_, err := crmsync.LoadFieldMapping(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatalf("expected an error for a missing mapping file")
	}
}
