package locator

import (
	"fmt"
	"math"
	"strconv"
)

// Builder turns survey records into labelled fingerprint vectors.
type Builder struct {
	Policy SamplingPolicy
}

// NewBuilder returns a Builder using policy, or PerReading when policy is empty.
func NewBuilder(policy SamplingPolicy) (*Builder, error) {
	if policy == "" {
		policy = PerReading
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown sampling policy %q", policy)
	}
	return &Builder{Policy: policy}, nil
}

// Build derives the canonical access point space from every record and emits one
// training pair per sample, grouped according to the builder's policy.
func (b *Builder) Build(records []SurveyRecord) (TrainingSet, error) {
	if len(records) == 0 {
		return TrainingSet{}, ErrEmptyTrainingSet
	}

	normalized := make([]SurveyRecord, len(records))
	ids := make([]string, 0, len(records))
	for i, rec := range records {
		row := rec.Row
		if row == 0 {
			row = i + 1
		}
		rec.Row = row
		rec.APID = NormalizeID(rec.APID)
		rec.Location = NormalizeID(rec.Location)
		rec.ScanID = NormalizeID(rec.ScanID)

		if err := b.validate(rec); err != nil {
			return TrainingSet{}, err
		}
		normalized[i] = rec
		ids = append(ids, rec.APID)
	}

	space := NewSpace(ids)
	var pairs []TrainingPair

	switch b.Policy {
	case PerLocation:
		pairs = groupPairs(space, normalized, func(rec SurveyRecord) string {
			return rec.Location
		})
	case PerScan:
		pairs = groupPairs(space, normalized, func(rec SurveyRecord) string {
			return rec.Location + "\x00" + rec.ScanID
		})
	default:
		pairs = make([]TrainingPair, 0, len(normalized))
		for _, rec := range normalized {
			vector, _, _ := space.Vectorize(Scan{{APID: rec.APID, Signal: rec.Signal}})
			pairs = append(pairs, TrainingPair{Vector: vector, Label: rec.Location})
		}
	}

	return TrainingSet{Space: space, Policy: b.Policy, Pairs: pairs}, nil
}

func (b *Builder) validate(rec SurveyRecord) error {
	switch {
	case rec.APID == "":
		return &MalformedRecordError{Row: rec.Row, Field: FieldAPID}
	case rec.Location == "":
		return &MalformedRecordError{Row: rec.Row, Field: FieldLocation}
	case math.IsNaN(rec.Signal) || math.IsInf(rec.Signal, 0):
		return &MalformedRecordError{Row: rec.Row, Field: FieldSignal, Value: strconv.FormatFloat(rec.Signal, 'g', -1, 64)}
	case b.Policy == PerScan && rec.ScanID == "":
		return &MalformedRecordError{Row: rec.Row, Field: FieldScanID}
	}
	return nil
}

// groupPairs merges records sharing a key into one scan. Groups keep the order
// in which their first record appeared.
func groupPairs(space *Space, records []SurveyRecord, key func(SurveyRecord) string) []TrainingPair {
	var order []string
	scans := make(map[string]Scan)
	labels := make(map[string]string)

	for _, rec := range records {
		k := key(rec)
		if _, ok := scans[k]; !ok {
			order = append(order, k)
			labels[k] = rec.Location
		}
		scans[k] = append(scans[k], Reading{APID: rec.APID, Signal: rec.Signal})
	}

	pairs := make([]TrainingPair, 0, len(order))
	for _, k := range order {
		vector, _, _ := space.Vectorize(scans[k])
		pairs = append(pairs, TrainingPair{Vector: vector, Label: labels[k]})
	}
	return pairs
}
