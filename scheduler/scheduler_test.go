package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"findmyway/locator"
)

type countingRetrainer struct {
	calls atomic.Int32
	err   error
}

func (r *countingRetrainer) Retrain(context.Context) (*locator.Model, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	set, err := kitchenSet()
	if err != nil {
		return nil, err
	}
	return locator.NewModel(set, 1)
}

func kitchenSet() (locator.TrainingSet, error) {
	builder, err := locator.NewBuilder(locator.PerReading)
	if err != nil {
		return locator.TrainingSet{}, err
	}
	return builder.Build([]locator.SurveyRecord{{APID: "aa:bb", Signal: -40, Location: "kitchen"}})
}

func TestSchedulerRunsRetrain(t *testing.T) {
	for name, retrainer := range map[string]*countingRetrainer{
		"success": {},
		"failure": {err: errors.New("store down")},
	} {
		t.Run(name, func(t *testing.T) {
			s := New(50*time.Millisecond, retrainer)
			if err := s.Start(); err != nil {
				t.Fatalf("Start returned error: %v", err)
			}
			defer s.Stop()

			deadline := time.Now().Add(3 * time.Second)
			for retrainer.calls.Load() < 2 {
				if time.Now().After(deadline) {
					t.Fatalf("expected at least 2 retrains, got %d", retrainer.calls.Load())
				}
				time.Sleep(10 * time.Millisecond)
			}
		})
	}
}

func TestSchedulerDisabled(t *testing.T) {
	retrainer := &countingRetrainer{}
	s := New(0, retrainer)
	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if n := retrainer.calls.Load(); n != 0 {
		t.Fatalf("expected no retrains, got %d", n)
	}
}
