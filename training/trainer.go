package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"
	"github.com/sony/gobreaker"

	"findmyway/db"
	"findmyway/locator"
	"findmyway/survey"
	"findmyway/utils"
)

// ErrStoreUnavailable is returned while the store circuit is open.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the part of db.Store the trainer needs.
type Store interface {
	locator.ArtifactStore
	AppendSurveyRecords(ctx context.Context, records []locator.SurveyRecord) error
	LoadSurveyRecords(ctx context.Context) ([]locator.SurveyRecord, error)
	CountSurveyRecords(ctx context.Context) (int, error)
}

// Trainer rebuilds the classifier's model from the stored survey.
type Trainer struct {
	store      Store
	classifier *locator.Classifier
	builder    *locator.Builder
	circuit    *gobreaker.CircuitBreaker
	logger     *slog.Logger

	mu sync.Mutex
}

func NewTrainer(store Store, classifier *locator.Classifier, policy locator.SamplingPolicy) (*Trainer, error) {
	builder, err := locator.NewBuilder(policy)
	if err != nil {
		return nil, err
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, db.ErrNotFound)
		},
	})

	return &Trainer{
		store:      store,
		classifier: classifier,
		builder:    builder,
		circuit:    cb,
		logger:     utils.GetLogger(),
	}, nil
}

func (t *Trainer) call(fn func() (interface{}, error)) (interface{}, error) {
	result, err := t.circuit.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return result, err
}

// Retrain builds a new generation from every stored survey record, saves its
// artifact and publishes it. On failure the current generation keeps serving.
func (t *Trainer) Retrain(ctx context.Context) (*locator.Model, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	result, err := t.call(func() (interface{}, error) {
		return t.store.LoadSurveyRecords(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("loading survey records: %w", err)
	}
	records, _ := result.([]locator.SurveyRecord)

	set, err := t.builder.Build(records)
	if err != nil {
		return nil, err
	}
	model, err := locator.NewModel(set, t.classifier.K())
	if err != nil {
		return nil, err
	}

	blob, err := model.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := t.call(func() (interface{}, error) {
		return nil, t.store.SaveModel(ctx, blob)
	}); err != nil {
		return nil, fmt.Errorf("saving model: %w", err)
	}

	t.classifier.Publish(model)
	t.logger.InfoContext(ctx, "retrained model",
		slog.String("generation", model.Generation()),
		slog.Int("records", len(records)),
		slog.Int("samples", len(set.Pairs)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return model, nil
}

// Restore publishes the latest saved generation. It returns db.ErrNotFound
// when nothing has been saved yet.
func (t *Trainer) Restore(ctx context.Context) (*locator.Model, error) {
	result, err := t.call(func() (interface{}, error) {
		return t.classifier.Restore(ctx, t.store)
	})
	if err != nil {
		return nil, err
	}
	model, _ := result.(*locator.Model)
	return model, nil
}

// Seed loads the survey CSV at path into an empty store. It returns the number
// of records added, which is zero when the store already holds a survey.
func (t *Trainer) Seed(ctx context.Context, path string) (int, error) {
	count, err := t.store.CountSurveyRecords(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	records, err := survey.LoadRecords(path)
	if err != nil {
		return 0, err
	}
	if err := t.store.AppendSurveyRecords(ctx, records); err != nil {
		return 0, err
	}
	t.logger.InfoContext(ctx, "seeded survey", slog.String("path", path), slog.Int("records", len(records)))
	return len(records), nil
}

// Import appends the records the store does not already hold. Records are
// compared on scan id, AP-ID, signal and location after normalization, so
// importing the same survey twice adds nothing the second time.
func (t *Trainer) Import(ctx context.Context, records []locator.SurveyRecord) (int, error) {
	result, err := t.call(func() (interface{}, error) {
		return t.store.LoadSurveyRecords(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("loading survey records: %w", err)
	}
	stored, _ := result.([]locator.SurveyRecord)

	seen := make(map[string]struct{}, len(stored)+len(records))
	for _, rec := range stored {
		seen[recordKey(rec)] = struct{}{}
	}

	fresh := make([]locator.SurveyRecord, 0, len(records))
	for _, rec := range records {
		key := recordKey(rec)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, rec)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if _, err := t.call(func() (interface{}, error) {
		return nil, t.store.AppendSurveyRecords(ctx, fresh)
	}); err != nil {
		return 0, fmt.Errorf("storing survey records: %w", err)
	}
	t.logger.InfoContext(ctx, "imported survey records",
		slog.Int("added", len(fresh)),
		slog.Int("skipped", len(records)-len(fresh)),
	)
	return len(fresh), nil
}

func recordKey(rec locator.SurveyRecord) string {
	return strings.Join([]string{
		strings.TrimSpace(rec.ScanID),
		locator.NormalizeID(rec.APID),
		strconv.FormatFloat(rec.Signal, 'g', -1, 64),
		locator.NormalizeID(rec.Location),
	}, "\x00")
}

// Bootstrap makes a model available at startup: it restores the latest saved
// generation or, when there is none, seeds from surveyCSV and retrains.
func (t *Trainer) Bootstrap(ctx context.Context, surveyCSV string) error {
	model, err := t.Restore(ctx)
	if err == nil {
		t.logger.InfoContext(ctx, "restored model", slog.String("generation", model.Generation()))
		return nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		t.logger.WarnContext(ctx, "failed to restore model", slog.Any("error", xerrors.New(err)))
	}

	if surveyCSV != "" {
		if _, err := t.Seed(ctx, surveyCSV); err != nil {
			return fmt.Errorf("seeding survey: %w", err)
		}
	}

	if _, err := t.Retrain(ctx); err != nil {
		return err
	}
	return nil
}
