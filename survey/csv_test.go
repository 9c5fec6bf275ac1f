package survey

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"findmyway/locator"
)

const sampleCSV = "\ufeffSSID,BSSID,Signal Strength dBm,Frequency MHz,Estimated Distance m,Location\n" +
	"lab, AA:BB:CC:00:11:22 ,-45,2412,3.5, Kitchen \n" +
	"lab,aa:bb:cc:00:11:33,-71.5,5180,n/a,Hall\n" +
	"lab,aa:bb:cc:00:11:44,weak,,inf,hall\n"

func TestReadRowsCoercesPermissively(t *testing.T) {
	t.Parallel()

	rows, err := ReadRows(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadRows returned error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	want := Row{
		"SSID":                 "lab",
		"BSSID":                "aa:bb:cc:00:11:22",
		"Signal Strength dBm":  int64(-45),
		"Frequency MHz":        int64(2412),
		"Estimated Distance m": 3.5,
		"Location":             "kitchen",
	}
	if diff := cmp.Diff(want, rows[0]); diff != "" {
		t.Fatalf("row 1 mismatch (-want +got):\n%s", diff)
	}

	if got := rows[1]["Signal Strength dBm"]; got != -71.5 {
		t.Errorf("expected float signal -71.5, got %#v", got)
	}
	if got := rows[1]["Estimated Distance m"]; got != "n/a" {
		t.Errorf("expected raw value kept for unparseable number, got %#v", got)
	}
	if got := rows[2]["Estimated Distance m"]; got != "inf" {
		t.Errorf("expected non-finite value kept raw, got %#v", got)
	}
	if got := rows[2]["Frequency MHz"]; got != "" {
		t.Errorf("expected empty value left empty, got %#v", got)
	}
}

func TestRecordsReportsMalformedSignal(t *testing.T) {
	t.Parallel()

	rows, err := ReadRows(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadRows returned error: %v", err)
	}

	_, err = Records(rows)
	var malformed *locator.MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	if malformed.Row != 3 || malformed.Field != locator.FieldSignal || malformed.Value != "weak" {
		t.Fatalf("unexpected malformed record: %+v", malformed)
	}

	records, err := Records(rows[:2])
	if err != nil {
		t.Fatalf("Records returned error: %v", err)
	}
	want := []locator.SurveyRecord{
		{Row: 1, APID: "aa:bb:cc:00:11:22", Signal: -45, Location: "kitchen"},
		{Row: 2, APID: "aa:bb:cc:00:11:33", Signal: -71.5, Location: "hall"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordsMissingColumns(t *testing.T) {
	t.Parallel()

	rows, err := ReadRows(strings.NewReader("BSSID,Signal Strength dBm\naa:bb,-40\n"))
	if err != nil {
		t.Fatalf("ReadRows returned error: %v", err)
	}
	_, err = Records(rows)
	var malformed *locator.MalformedRecordError
	if !errors.As(err, &malformed) || malformed.Field != locator.FieldLocation || malformed.Row != 1 {
		t.Fatalf("expected missing Location at row 1, got %v", err)
	}
}

func TestLoadRecordsWithScanID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "train.csv")
	data := "Scan ID,BSSID,Signal Strength dBm,Location\n7,aa:bb,-40,kitchen\n7,cc:dd,-60,kitchen\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("LoadRecords returned error: %v", err)
	}
	if len(records) != 2 || records[0].ScanID != "7" {
		t.Fatalf("unexpected records: %+v", records)
	}

	if _, err := LoadRecords(filepath.Join(t.TempDir(), "missing.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}
