package locator

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTrainingSet is returned when a build or fit receives no survey data.
	ErrEmptyTrainingSet = errors.New("empty training set")

	// ErrModelNotTrained is returned when predicting before any model generation was published.
	ErrModelNotTrained = errors.New("model not trained")
)

// Field names reported by MalformedRecordError. They match the JSON names of SurveyRecord.
const (
	FieldAPID     = "bssid"
	FieldSignal   = "signal"
	FieldLocation = "location"
	FieldScanID   = "scanId"
)

// MalformedRecordError reports a survey record that lacks a required field.
// Row is the 1-based data row of the record in its source.
type MalformedRecordError struct {
	Row   int
	Field string
	Value string
}

func (e *MalformedRecordError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("malformed survey record at row %d: field %q has invalid value %q", e.Row, e.Field, e.Value)
	}
	return fmt.Sprintf("malformed survey record at row %d: missing field %q", e.Row, e.Field)
}
