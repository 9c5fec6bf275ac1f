package main

import (
	"testing"

	"findmyway/locator"
)

func TestGroupScans(t *testing.T) {
	records := []locator.SurveyRecord{
		{ScanID: "1", APID: "aa", Signal: -40, Location: "Kitchen"},
		{ScanID: "2", APID: "bb", Signal: -50, Location: "kitchen "},
		{ScanID: "1", APID: "cc", Signal: -60, Location: "Hall"},
	}

	perLocation := groupScans(records, false, "dev")
	if len(perLocation) != 2 {
		t.Fatalf("expected 2 scans, got %d", len(perLocation))
	}
	if perLocation[0].expected != "hall" || perLocation[1].expected != "kitchen" {
		t.Fatalf("unexpected order: %+v", perLocation)
	}
	if got := len(perLocation[1].request.Readings); got != 2 {
		t.Fatalf("expected kitchen to merge 2 readings, got %d", got)
	}
	if perLocation[0].request.Device != "dev" {
		t.Fatalf("expected device to be set, got %q", perLocation[0].request.Device)
	}

	if perScan := groupScans(records, true, "dev"); len(perScan) != 3 {
		t.Fatalf("expected 3 scans when grouping by scan, got %d", len(perScan))
	}
}
