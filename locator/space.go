package locator

import (
	"sort"
	"strings"
)

// NormalizeID trims and lower-cases an access point id or location label.
// Training and inference must both go through it.
func NormalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Space is the canonical, sorted access point ordering a model was trained on.
type Space struct {
	ids   []string
	index map[string]int
}

// NewSpace normalizes, deduplicates and sorts ids. Empty ids are skipped.
func NewSpace(ids []string) *Space {
	seen := make(map[string]struct{}, len(ids))
	canonical := make([]string, 0, len(ids))
	for _, id := range ids {
		id = NormalizeID(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		canonical = append(canonical, id)
	}
	sort.Strings(canonical)

	index := make(map[string]int, len(canonical))
	for i, id := range canonical {
		index[id] = i
	}
	return &Space{ids: canonical, index: index}
}

// IDs returns a copy of the canonical ordering.
func (s *Space) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Dim is the fingerprint vector length.
func (s *Space) Dim() int {
	return len(s.ids)
}

// Vectorize encodes a scan over the canonical ordering. Readings for ids outside
// the space are returned in ignored and do not touch the vector. When an id
// repeats within the scan the last reading wins.
func (s *Space) Vectorize(scan Scan) (vector []float64, known int, ignored []string) {
	vector = make([]float64, len(s.ids))
	for i := range vector {
		vector[i] = Sentinel
	}

	observed := make([]bool, len(s.ids))
	seen := make(map[string]struct{})
	for _, reading := range scan {
		id := NormalizeID(reading.APID)
		idx, ok := s.index[id]
		if !ok {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ignored = append(ignored, id)
			}
			continue
		}
		vector[idx] = reading.Signal
		if !observed[idx] {
			observed[idx] = true
			known++
		}
	}
	return vector, known, ignored
}
