package locator

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEvaluateGroupsByLocation(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t, kitchenSurvey(), PerReading, 3)
	model, err := classifier.Model()
	if err != nil {
		t.Fatalf("Model returned error: %v", err)
	}

	held := []SurveyRecord{
		{APID: "aa:bb", Signal: -43, Location: "Kitchen"},
		{APID: "cc:dd", Signal: -51, Location: "hall"},
		{APID: "cc:dd", Signal: -52, Location: "hall"},
		{APID: "ee:ff", Signal: -30, Location: "garage"},
	}

	report, err := Evaluate(model, held)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if report.Total != 3 {
		t.Fatalf("expected 3 grouped scans, got %d", report.Total)
	}
	if diff := cmp.Diff([]string{"garage"}, report.MissingLabels); diff != "" {
		t.Fatalf("missing labels mismatch (-want +got):\n%s", diff)
	}

	byActual := map[string]string{}
	for _, result := range report.Results {
		byActual[result.Actual] = result.Predicted
	}
	if byActual["kitchen"] != "kitchen" {
		t.Errorf("expected kitchen to be predicted correctly, got %s", byActual["kitchen"])
	}
	if byActual["garage"] == "garage" {
		t.Errorf("garage cannot be predicted by a model that never saw it")
	}
	if report.Accuracy != float64(report.Correct)/3 {
		t.Errorf("accuracy %.3f does not match %d/3", report.Accuracy, report.Correct)
	}
}

func TestEvaluateRejectsEmptyAndMalformedInput(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t, kitchenSurvey(), PerReading, 3)
	model, _ := classifier.Model()

	if _, err := Evaluate(model, nil); !errors.Is(err, ErrEmptyTrainingSet) {
		t.Fatalf("expected ErrEmptyTrainingSet, got %v", err)
	}

	_, err := Evaluate(model, []SurveyRecord{{APID: "aa:bb", Signal: -40}})
	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) || malformed.Field != FieldLocation || malformed.Row != 1 {
		t.Fatalf("expected location MalformedRecordError at row 1, got %v", err)
	}
}
