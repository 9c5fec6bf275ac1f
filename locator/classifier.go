package locator

// Location classifier
//
// A Classifier owns the currently published model generation. Fit builds a new
// immutable Model from a TrainingSet and swaps it in atomically; predictions
// read whichever generation is current when they start, so a retrain never
// exposes a half-built model and readers never take a lock.
//
// Scans are encoded over the generation's canonical access point ordering.
// Access points the model has never seen are dropped before the distance is
// computed and reported as a warning.

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"findmyway/utils"
)

// Classifier serves predictions from the current model generation.
type Classifier struct {
	k       int
	current atomic.Pointer[Model]
	logger  *slog.Logger
}

// NewClassifier returns an untrained classifier that fits models with k neighbours.
func NewClassifier(k int) (*Classifier, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", k)
	}
	return &Classifier{k: k, logger: utils.GetLogger()}, nil
}

// K is the neighbour count used by Fit.
func (c *Classifier) K() int {
	return c.k
}

// Fit trains a new generation from set and publishes it, replacing any previous one.
func (c *Classifier) Fit(set TrainingSet) (*Model, error) {
	model, err := NewModel(set, c.k)
	if err != nil {
		return nil, err
	}
	c.Publish(model)
	return model, nil
}

// Publish makes model the generation served by Predict.
func (c *Classifier) Publish(model *Model) {
	if model == nil {
		return
	}
	previous := c.current.Swap(model)

	attrs := []any{
		slog.String("generation", model.Generation()),
		slog.String("policy", string(model.Policy())),
		slog.Int("k", model.K()),
		slog.Int("apCount", model.Space().Dim()),
		slog.Int("samples", len(model.vectors)),
	}
	if previous != nil {
		attrs = append(attrs, slog.String("previous", previous.Generation()))
	}
	c.logger.Info("published model generation", attrs...)
}

// Model returns the current generation.
func (c *Classifier) Model() (*Model, error) {
	model := c.current.Load()
	if model == nil {
		return nil, ErrModelNotTrained
	}
	return model, nil
}

// Predict returns the most likely location label for scan.
func (c *Classifier) Predict(scan Scan) (string, error) {
	prediction, err := c.PredictDetailed(scan)
	if err != nil {
		return "", err
	}
	return prediction.Location, nil
}

// PredictDetailed returns the full prediction including neighbours and confidence.
func (c *Classifier) PredictDetailed(scan Scan) (Prediction, error) {
	model, err := c.Model()
	if err != nil {
		return Prediction{}, err
	}

	prediction := model.Predict(scan)
	if len(prediction.IgnoredAPs) > 0 {
		c.logger.Warn("UnknownApIdIgnored",
			slog.String("generation", model.Generation()),
			slog.Any("bssids", prediction.IgnoredAPs),
		)
	}
	if prediction.LowConfidence {
		c.logger.Debug("scan has no known access points",
			slog.Int("readings", len(scan)),
			slog.String("location", prediction.Location),
		)
	}
	return prediction, nil
}

// Stats describes the current generation.
func (c *Classifier) Stats() (ModelStats, error) {
	model, err := c.Model()
	if err != nil {
		return ModelStats{}, err
	}
	return model.Stats(), nil
}

// Restore publishes the latest generation held by store.
func (c *Classifier) Restore(ctx context.Context, store ArtifactStore) (*Model, error) {
	blob, err := store.LoadModel(ctx)
	if err != nil {
		return nil, err
	}
	model, err := DecodeModel(blob)
	if err != nil {
		return nil, err
	}
	c.Publish(model)
	return model, nil
}
