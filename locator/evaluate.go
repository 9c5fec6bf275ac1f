package locator

import "sort"

// EvaluationResult pairs a held-out location with what the model predicted for it.
type EvaluationResult struct {
	Actual     string     `json:"actual"`
	Predicted  string     `json:"predicted"`
	Prediction Prediction `json:"prediction"`
}

// EvaluationReport summarises a grouped evaluation run.
type EvaluationReport struct {
	Generation    string             `json:"generation"`
	Total         int                `json:"total"`
	Correct       int                `json:"correct"`
	Accuracy      float64            `json:"accuracy"`
	Results       []EvaluationResult `json:"results"`
	MissingLabels []string           `json:"missingLabels,omitempty"`
}

// Evaluate merges held-out records into one scan per location, the way a device
// would observe them live, and predicts each. Locations the model was never
// trained on are listed in MissingLabels; they still count towards Total.
func Evaluate(model *Model, records []SurveyRecord) (EvaluationReport, error) {
	if len(records) == 0 {
		return EvaluationReport{}, ErrEmptyTrainingSet
	}

	scans := make(map[string]Scan)
	for i, rec := range records {
		location := NormalizeID(rec.Location)
		if location == "" {
			row := rec.Row
			if row == 0 {
				row = i + 1
			}
			return EvaluationReport{}, &MalformedRecordError{Row: row, Field: FieldLocation}
		}
		scans[location] = append(scans[location], Reading{APID: rec.APID, Signal: rec.Signal})
	}

	locations := make([]string, 0, len(scans))
	for location := range scans {
		locations = append(locations, location)
	}
	sort.Strings(locations)

	known := make(map[string]struct{})
	for _, label := range model.Labels() {
		known[label] = struct{}{}
	}

	report := EvaluationReport{Generation: model.Generation(), Total: len(locations)}
	for _, location := range locations {
		prediction := model.Predict(scans[location])
		if prediction.Location == location {
			report.Correct++
		}
		if _, ok := known[location]; !ok {
			report.MissingLabels = append(report.MissingLabels, location)
		}
		report.Results = append(report.Results, EvaluationResult{
			Actual:     location,
			Predicted:  prediction.Location,
			Prediction: prediction,
		})
	}
	report.Accuracy = float64(report.Correct) / float64(report.Total)

	return report, nil
}
