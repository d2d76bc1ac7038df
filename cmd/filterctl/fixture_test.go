package main

import "testing"

func TestLoadFixture(t *testing.T) {
	h, err := loadFixture("testdata/fixture.json")
	if err != nil {
		t.Fatal(err)
	}
	if h.Layer("parcels") == nil {
		t.Fatal("expected parcels layer to load")
	}
	if len(h.Layer("parcels").Feats) != 2 {
		t.Fatalf("got %d features, want 2", len(h.Layer("parcels").Feats))
	}
	if h.Layer("flood_zones") == nil {
		t.Fatal("expected flood_zones layer to load")
	}
}

func TestParsePredicatesRejectsUnknown(t *testing.T) {
	if _, err := parsePredicates([]string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown predicate")
	}
}

func TestParsePredicatesAcceptsKnown(t *testing.T) {
	preds, err := parsePredicates([]string{"Intersects", "within"})
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) != 2 {
		t.Fatalf("got %d predicates", len(preds))
	}
}
