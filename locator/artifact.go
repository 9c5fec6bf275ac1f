package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const artifactFormat = 1

// ArtifactStore persists serialized model generations.
type ArtifactStore interface {
	SaveModel(ctx context.Context, blob []byte) error
	LoadModel(ctx context.Context) ([]byte, error)
}

type artifact struct {
	Format     int            `json:"format"`
	Generation string         `json:"generation"`
	TrainedAt  time.Time      `json:"trainedAt"`
	Policy     SamplingPolicy `json:"policy"`
	K          int            `json:"k"`
	APIDs      []string       `json:"apIds"`
	Vectors    [][]float64    `json:"vectors"`
	Labels     []string       `json:"labels"`
}

// Encode serializes the model into an opaque artifact.
func (m *Model) Encode() ([]byte, error) {
	data, err := json.Marshal(artifact{
		Format:     artifactFormat,
		Generation: m.generation,
		TrainedAt:  m.trainedAt,
		Policy:     m.policy,
		K:          m.k,
		APIDs:      m.space.IDs(),
		Vectors:    m.vectors,
		Labels:     m.labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model: %w", err)
	}
	return data, nil
}

// DecodeModel restores a model produced by Encode.
func DecodeModel(data []byte) (*Model, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unable to parse model artifact: %w", err)
	}
	if a.Format != artifactFormat {
		return nil, fmt.Errorf("unsupported model artifact format %d", a.Format)
	}
	if a.K <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", a.K)
	}
	if len(a.Vectors) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(a.Vectors) != len(a.Labels) {
		return nil, fmt.Errorf("model artifact has %d vectors but %d labels", len(a.Vectors), len(a.Labels))
	}

	space := NewSpace(a.APIDs)
	if !sameOrdering(space.ids, a.APIDs) {
		return nil, errors.New("model artifact access point ordering is not canonical")
	}
	for i, vec := range a.Vectors {
		if len(vec) != space.Dim() {
			return nil, fmt.Errorf("model artifact vector %d has %d entries, expected %d", i, len(vec), space.Dim())
		}
	}
	if !a.Policy.Valid() {
		return nil, fmt.Errorf("unknown sampling policy %q", a.Policy)
	}

	return &Model{
		generation: a.Generation,
		trainedAt:  a.TrainedAt,
		policy:     a.Policy,
		k:          a.K,
		space:      space,
		vectors:    a.Vectors,
		labels:     a.Labels,
	}, nil
}

func sameOrdering(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FileArtifactStore keeps the latest artifact in a single file.
type FileArtifactStore struct {
	Path string
}

// SaveModel writes to a temporary file first and renames it into place.
func (s FileArtifactStore) SaveModel(_ context.Context, blob []byte) error {
	if s.Path == "" {
		return errors.New("model path not set")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := s.Path + ".tmp"
	if err := os.WriteFile(tempPath, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tempPath, s.Path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s FileArtifactStore) LoadModel(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(s.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to load model (%s): %w", s.Path, err)
	}
	return data, nil
}
