package locator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Model is one trained generation. It is never mutated after construction,
// so a single instance may serve concurrent predictions.
type Model struct {
	generation string
	trainedAt  time.Time
	policy     SamplingPolicy
	k          int
	space      *Space
	vectors    [][]float64
	labels     []string
}

type distancePair struct {
	index    int
	distance float64
}

// NewModel fits a nearest-neighbour model over set.
func NewModel(set TrainingSet, k int) (*Model, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", k)
	}
	if len(set.Pairs) == 0 || set.Space == nil {
		return nil, ErrEmptyTrainingSet
	}

	dim := set.Space.Dim()
	vectors := make([][]float64, len(set.Pairs))
	labels := make([]string, len(set.Pairs))
	for i, pair := range set.Pairs {
		if len(pair.Vector) != dim {
			return nil, fmt.Errorf("training vector %d has %d entries, expected %d", i, len(pair.Vector), dim)
		}
		if pair.Label == "" {
			return nil, fmt.Errorf("training vector %d has no label", i)
		}
		vectors[i] = append([]float64(nil), pair.Vector...)
		labels[i] = pair.Label
	}

	policy := set.Policy
	if policy == "" {
		policy = PerReading
	}

	return &Model{
		generation: uuid.NewString(),
		trainedAt:  time.Now().UTC(),
		policy:     policy,
		k:          k,
		space:      set.Space,
		vectors:    vectors,
		labels:     labels,
	}, nil
}

// Generation is the unique id assigned when the model was fitted.
func (m *Model) Generation() string { return m.generation }

// TrainedAt is the UTC time the model was fitted.
func (m *Model) TrainedAt() time.Time { return m.trainedAt }

// Policy is the sampling policy the training set was built with.
func (m *Model) Policy() SamplingPolicy { return m.policy }

// K is the neighbour count used by Predict.
func (m *Model) K() int { return m.k }

// Space is the canonical AP-ID ordering frozen at training.
func (m *Model) Space() *Space { return m.space }

// Labels returns the distinct locations the model can predict, sorted.
func (m *Model) Labels() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, label := range m.labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Stats summarises the generation for status endpoints.
func (m *Model) Stats() ModelStats {
	counts := make(map[string]int)
	for _, label := range m.labels {
		counts[label]++
	}
	labels := make([]LabelStat, 0, len(counts))
	for label, n := range counts {
		labels = append(labels, LabelStat{Label: label, Samples: n})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Label < labels[j].Label })

	return ModelStats{
		Generation:  m.generation,
		TrainedAt:   m.trainedAt,
		Policy:      m.policy,
		K:           m.k,
		APCount:     m.space.Dim(),
		SampleCount: len(m.vectors),
		Labels:      labels,
	}
}

// Predict classifies scan by majority vote among its k nearest training vectors.
//
// Neighbours at equal distance are taken in training order. When several labels
// receive the same number of votes the one with the smallest mean neighbour
// distance wins, and remaining ties go to the lexically smaller label.
func (m *Model) Predict(scan Scan) Prediction {
	query, known, ignored := m.space.Vectorize(scan)

	distances := make([]distancePair, len(m.vectors))
	for i, vec := range m.vectors {
		distances[i] = distancePair{index: i, distance: euclidean(query, vec)}
	}
	sort.Slice(distances, func(i, j int) bool {
		if distances[i].distance != distances[j].distance {
			return distances[i].distance < distances[j].distance
		}
		return distances[i].index < distances[j].index
	})

	k := m.k
	if k > len(distances) {
		k = len(distances)
	}

	type labelScore struct {
		votes   int
		distSum float64
	}
	scores := make(map[string]*labelScore)
	neighbors := make([]Neighbor, 0, k)
	for _, pair := range distances[:k] {
		label := m.labels[pair.index]
		score, ok := scores[label]
		if !ok {
			score = &labelScore{}
			scores[label] = score
		}
		score.votes++
		score.distSum += pair.distance
		neighbors = append(neighbors, Neighbor{Index: pair.index, Label: label, Distance: pair.distance})
	}

	var (
		best      string
		bestVotes int
		bestMean  float64
	)
	for label, score := range scores {
		mean := score.distSum / float64(score.votes)
		switch {
		case best == "",
			score.votes > bestVotes,
			score.votes == bestVotes && mean < bestMean,
			score.votes == bestVotes && mean == bestMean && label < best:
			best, bestVotes, bestMean = label, score.votes, mean
		}
	}

	return Prediction{
		Location:      best,
		Votes:         bestVotes,
		Confidence:    float64(bestVotes) / float64(k),
		MeanDistance:  bestMean,
		Neighbors:     neighbors,
		KnownAPs:      known,
		IgnoredAPs:    ignored,
		LowConfidence: known == 0,
		Generation:    m.generation,
	}
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
