package main

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"findmyway/db"
	"findmyway/locator"
)

func TestPublishRetrainsFromWholeStore(t *testing.T) {
	store, err := db.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.AppendSurveyRecords(ctx, []locator.SurveyRecord{
		{APID: "ee:ff", Signal: -50, Location: "garage"},
	}); err != nil {
		t.Fatalf("AppendSurveyRecords returned error: %v", err)
	}

	csvRecords := []locator.SurveyRecord{
		{Row: 1, APID: "aa:bb", Signal: -40, Location: "kitchen"},
		{Row: 2, APID: "aa:bb", Signal: -90, Location: "hall"},
		{Row: 3, APID: "cc:dd", Signal: -45, Location: "hall"},
	}

	for run := 0; run < 2; run++ {
		if _, _, err := publish(ctx, store, csvRecords, 1, locator.PerReading); err != nil {
			t.Fatalf("publish run %d returned error: %v", run, err)
		}
	}

	count, err := store.CountSurveyRecords(ctx)
	if err != nil {
		t.Fatalf("CountSurveyRecords returned error: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 stored records after two publishes, got %d", count)
	}

	blob, err := store.LoadModel(ctx)
	if err != nil {
		t.Fatalf("LoadModel returned error: %v", err)
	}
	model, err := locator.DecodeModel(blob)
	if err != nil {
		t.Fatalf("DecodeModel returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"garage", "hall", "kitchen"}, model.Labels()); diff != "" {
		t.Fatalf("published labels mismatch (-want +got):\n%s", diff)
	}
	if got := model.Predict(locator.Scan{{APID: "ee:ff", Signal: -52}}).Location; got != "garage" {
		t.Fatalf("expected garage, got %s", got)
	}
}
