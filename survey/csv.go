package survey

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"findmyway/locator"
)

// Column names used by the survey export.
const (
	ColumnBSSID     = "BSSID"
	ColumnLocation  = "Location"
	ColumnSignal    = "Signal Strength dBm"
	ColumnScanID    = "Scan ID"
	ColumnBandwidth = "Bandwidth MHz"
	ColumnDistance  = "Estimated Distance m"
	ColumnFrequency = "Frequency MHz"
)

var numericColumns = []string{ColumnBandwidth, ColumnDistance, ColumnFrequency, ColumnSignal}

// Row is one CSV data row keyed by header. Numeric columns hold an int64 or
// float64 when they parse, and the raw string otherwise.
type Row map[string]any

// ReadFile opens path and reads it with ReadRows.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadRows(f)
}

// ReadRows parses a survey CSV without rejecting rows: values are trimmed,
// BSSID and Location are lower-cased and numeric columns are coerced when possible.
func ReadRows(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv has no header")
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []Row
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		row := make(Row, len(header))
		for i, name := range header {
			value := ""
			if i < len(rec) {
				value = strings.TrimSpace(rec[i])
			}
			row[name] = value
		}
		for _, name := range []string{ColumnBSSID, ColumnLocation} {
			if v, ok := row[name].(string); ok {
				row[name] = strings.ToLower(v)
			}
		}
		for _, name := range numericColumns {
			if v, ok := row[name].(string); ok && v != "" {
				row[name] = coerceNumber(v)
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// coerceNumber prefers an integer when the value has no decimal point.
func coerceNumber(raw string) any {
	if !strings.Contains(raw, ".") {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return raw
	}
	return f
}

// Records converts rows into survey records. Row numbers are 1-based data rows.
func Records(rows []Row) ([]locator.SurveyRecord, error) {
	records := make([]locator.SurveyRecord, 0, len(rows))
	for i, row := range rows {
		rowNum := i + 1

		bssid := row.String(ColumnBSSID)
		if bssid == "" {
			return nil, &locator.MalformedRecordError{Row: rowNum, Field: locator.FieldAPID}
		}
		location := row.String(ColumnLocation)
		if location == "" {
			return nil, &locator.MalformedRecordError{Row: rowNum, Field: locator.FieldLocation}
		}

		var signal float64
		switch v := row[ColumnSignal].(type) {
		case int64:
			signal = float64(v)
		case float64:
			signal = v
		case string:
			if v == "" {
				return nil, &locator.MalformedRecordError{Row: rowNum, Field: locator.FieldSignal}
			}
			return nil, &locator.MalformedRecordError{Row: rowNum, Field: locator.FieldSignal, Value: v}
		default:
			return nil, &locator.MalformedRecordError{Row: rowNum, Field: locator.FieldSignal}
		}

		records = append(records, locator.SurveyRecord{
			Row:      rowNum,
			ScanID:   row.String(ColumnScanID),
			APID:     bssid,
			Signal:   signal,
			Location: location,
		})
	}
	return records, nil
}

// LoadRecords reads a survey CSV file straight into records.
func LoadRecords(path string) ([]locator.SurveyRecord, error) {
	rows, err := ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read survey %s: %w", path, err)
	}
	return Records(rows)
}

// String returns the column as text, formatting coerced numbers back.
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
