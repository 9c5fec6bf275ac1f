package locator

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func kitchenSurvey() []SurveyRecord {
	return []SurveyRecord{
		{APID: "aa:bb", Signal: -40, Location: "kitchen"},
		{APID: "aa:bb", Signal: -41, Location: "kitchen"},
		{APID: "aa:bb", Signal: -90, Location: "hall"},
		{APID: "aa:bb", Signal: -90, Location: "office"},
		{APID: "cc:dd", Signal: -50, Location: "hall"},
		{APID: "ee:ff", Signal: -55, Location: "office"},
	}
}

func TestClassifierPredictsStrongestMatch(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t, kitchenSurvey(), PerReading, 3)

	label, err := classifier.Predict(Scan{{APID: "aa:bb", Signal: -42}})
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if label != "kitchen" {
		t.Fatalf("expected kitchen, got %s", label)
	}
}

func TestClassifierPredictBeforeFit(t *testing.T) {
	t.Parallel()

	classifier, err := NewClassifier(DefaultNeighbors)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}
	if _, err := classifier.Predict(Scan{{APID: "aa:bb", Signal: -40}}); !errors.Is(err, ErrModelNotTrained) {
		t.Fatalf("expected ErrModelNotTrained, got %v", err)
	}
	if _, err := classifier.Stats(); !errors.Is(err, ErrModelNotTrained) {
		t.Fatalf("expected ErrModelNotTrained from Stats, got %v", err)
	}
}

func TestNewClassifierRejectsInvalidK(t *testing.T) {
	t.Parallel()

	if _, err := NewClassifier(0); err == nil {
		t.Fatal("expected error for k=0")
	}
}

func TestClassifierEmptyScanReturnsKnownLabel(t *testing.T) {
	t.Parallel()

	records := []SurveyRecord{
		{APID: "aa:bb", Signal: -40, Location: "kitchen"},
		{APID: "aa:bb", Signal: -45, Location: "kitchen"},
		{APID: "cc:dd", Signal: -60, Location: "hall"},
		{APID: "cc:dd", Signal: -62, Location: "hall"},
	}
	classifier := newTestClassifier(t, records, PerReading, 3)

	prediction, err := classifier.PredictDetailed(nil)
	if err != nil {
		t.Fatalf("PredictDetailed returned error: %v", err)
	}
	if prediction.Location != "kitchen" && prediction.Location != "hall" {
		t.Fatalf("expected a known label, got %q", prediction.Location)
	}
	if !prediction.LowConfidence {
		t.Fatal("expected empty scan to be flagged low confidence")
	}
	if prediction.KnownAPs != 0 {
		t.Fatalf("expected no known access points, got %d", prediction.KnownAPs)
	}
}

func TestClassifierUnknownAccessPointIsIgnored(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t, kitchenSurvey(), PerReading, 3)

	base := Scan{{APID: "aa:bb", Signal: -60}, {APID: "cc:dd", Signal: -58}}
	withUnknown := append(Scan{{APID: "ZZ:ZZ", Signal: -30}}, base...)

	want, err := classifier.PredictDetailed(base)
	if err != nil {
		t.Fatalf("PredictDetailed returned error: %v", err)
	}
	got, err := classifier.PredictDetailed(withUnknown)
	if err != nil {
		t.Fatalf("PredictDetailed returned error: %v", err)
	}

	if diff := cmp.Diff([]string{"zz:zz"}, got.IgnoredAPs); diff != "" {
		t.Fatalf("ignored mismatch (-want +got):\n%s", diff)
	}
	got.IgnoredAPs = nil
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unknown access point changed the prediction (-want +got):\n%s", diff)
	}
}

func TestClassifierPredictIsIdempotent(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t, kitchenSurvey(), PerReading, 3)
	scan := Scan{{APID: "cc:dd", Signal: -70}, {APID: "ee:ff", Signal: -70}}

	first, err := classifier.Predict(scan)
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := classifier.Predict(scan)
		if err != nil {
			t.Fatalf("Predict returned error: %v", err)
		}
		if again != first {
			t.Fatalf("prediction changed between calls: %s then %s", first, again)
		}
	}
}

func TestClassifierTieBreakByMeanDistanceThenLabel(t *testing.T) {
	t.Parallel()

	// one vote each; alpha is closer
	closer := newTestClassifier(t, []SurveyRecord{
		{APID: "aa:bb", Signal: -60, Location: "beta"},
		{APID: "aa:bb", Signal: -50, Location: "alpha"},
	}, PerReading, 2)
	label, err := closer.Predict(Scan{{APID: "aa:bb", Signal: -52}})
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if label != "alpha" {
		t.Fatalf("expected alpha by mean distance, got %s", label)
	}

	// one vote each at identical distance, in both training orders
	for _, records := range [][]SurveyRecord{
		{{APID: "aa:bb", Signal: -50, Location: "beta"}, {APID: "aa:bb", Signal: -60, Location: "alpha"}},
		{{APID: "aa:bb", Signal: -60, Location: "alpha"}, {APID: "aa:bb", Signal: -50, Location: "beta"}},
	} {
		classifier := newTestClassifier(t, records, PerReading, 2)
		label, err := classifier.Predict(Scan{{APID: "aa:bb", Signal: -55}})
		if err != nil {
			t.Fatalf("Predict returned error: %v", err)
		}
		if label != "alpha" {
			t.Fatalf("expected alpha by lexical order, got %s", label)
		}
	}
}

func TestClassifierClampsKToTrainingSize(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t, []SurveyRecord{
		{APID: "aa:bb", Signal: -40, Location: "kitchen"},
		{APID: "aa:bb", Signal: -80, Location: "hall"},
	}, PerReading, 5)

	prediction, err := classifier.PredictDetailed(Scan{{APID: "aa:bb", Signal: -41}})
	if err != nil {
		t.Fatalf("PredictDetailed returned error: %v", err)
	}
	if len(prediction.Neighbors) != 2 {
		t.Fatalf("expected 2 neighbours, got %d", len(prediction.Neighbors))
	}
	if prediction.Location != "kitchen" {
		t.Fatalf("expected kitchen, got %s", prediction.Location)
	}
}

func TestClassifierRetrainReplacesPreviousGeneration(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t, kitchenSurvey(), PerReading, 1)
	first, err := classifier.Model()
	if err != nil {
		t.Fatalf("Model returned error: %v", err)
	}

	second := []SurveyRecord{
		{APID: "aa:bb", Signal: -40, Location: "lobby"},
		{APID: "11:22", Signal: -45, Location: "stairs"},
	}
	set, err := mustBuilder(t, PerReading).Build(second)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	model, err := classifier.Fit(set)
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if model.Generation() == first.Generation() {
		t.Fatal("expected a new generation id after retraining")
	}

	for _, scan := range []Scan{
		{{APID: "aa:bb", Signal: -40}},
		{{APID: "cc:dd", Signal: -50}},
		{{APID: "ee:ff", Signal: -55}},
		nil,
	} {
		label, err := classifier.Predict(scan)
		if err != nil {
			t.Fatalf("Predict returned error: %v", err)
		}
		if label != "lobby" && label != "stairs" {
			t.Fatalf("label %q from the previous generation returned after retraining", label)
		}
	}
}

func TestClassifierConcurrentPredictDuringRetrain(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t, kitchenSurvey(), PerReading, 3)
	next, err := mustBuilder(t, PerReading).Build([]SurveyRecord{
		{APID: "aa:bb", Signal: -42, Location: "lobby"},
	})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	valid := map[string]bool{"kitchen": true, "lobby": true}
	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				label, err := classifier.Predict(Scan{{APID: "aa:bb", Signal: -42}})
				if err != nil || !valid[label] {
					errs <- label
					return
				}
			}
		}()
	}
	if _, err := classifier.Fit(next); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	wg.Wait()
	close(errs)

	for label := range errs {
		t.Errorf("unexpected prediction %q during retrain", label)
	}
}

func TestModelStats(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t, kitchenSurvey(), PerReading, 3)
	stats, err := classifier.Stats()
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.APCount != 3 || stats.SampleCount != 6 || stats.K != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	want := []LabelStat{{"hall", 2}, {"kitchen", 2}, {"office", 2}}
	if diff := cmp.Diff(want, stats.Labels); diff != "" {
		t.Fatalf("label stats mismatch (-want +got):\n%s", diff)
	}
}

func newTestClassifier(t *testing.T, records []SurveyRecord, policy SamplingPolicy, k int) *Classifier {
	t.Helper()

	set, err := mustBuilder(t, policy).Build(records)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	classifier, err := NewClassifier(k)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}
	if _, err := classifier.Fit(set); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	return classifier
}
