package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"findmyway/locator"
	"findmyway/models"
	"findmyway/survey"
)

// replay is one scan sent to the server together with the location it was surveyed at.
type replay struct {
	expected string
	request  models.ScanRequest
}

func main() {
	csvPath := flag.String("csv", "test.csv", "Survey CSV whose scans are replayed")
	endpoint := flag.String("url", "http://localhost:5000/api/locate", "Locate endpoint")
	byScan := flag.Bool("by-scan", false, "Send one request per Scan ID instead of one per location")
	device := flag.String("device", "mock-scanner", "Device ID reported with each scan")
	delay := flag.Duration("delay", 500*time.Millisecond, "Delay between requests")
	flag.Parse()

	records, err := survey.LoadRecords(*csvPath)
	if err != nil {
		log.Fatalf("failed to load %s: %v", *csvPath, err)
	}

	replays := groupScans(records, *byScan, *device)
	if len(replays) == 0 {
		log.Fatalf("no scans found in %s", *csvPath)
	}

	fmt.Printf("Replaying %d scan(s) against %s\n\n", len(replays), *endpoint)
	correct := 0
	for idx, r := range replays {
		prediction, err := sendScan(*endpoint, r)
		if err != nil {
			log.Printf("locate failed for %s: %v\n", r.expected, err)
		} else if prediction.Location == r.expected {
			correct++
		}

		if idx < len(replays)-1 && *delay > 0 {
			time.Sleep(*delay)
		}
	}
	fmt.Printf("\n%d/%d located at the surveyed location\n", correct, len(replays))
}

func groupScans(records []locator.SurveyRecord, byScan bool, device string) []replay {
	grouped := make(map[string]*replay)
	keys := make([]string, 0)
	for _, rec := range records {
		location := locator.NormalizeID(rec.Location)
		key := location
		if byScan && rec.ScanID != "" {
			key = location + "\x00" + rec.ScanID
		}
		r, ok := grouped[key]
		if !ok {
			r = &replay{expected: location, request: models.ScanRequest{Device: device}}
			grouped[key] = r
			keys = append(keys, key)
		}
		r.request.Readings = append(r.request.Readings, locator.Reading{APID: rec.APID, Signal: rec.Signal})
	}
	sort.Strings(keys)

	replays := make([]replay, 0, len(keys))
	for _, key := range keys {
		replays = append(replays, *grouped[key])
	}
	return replays
}

func sendScan(endpoint string, r replay) (locator.Prediction, error) {
	fmt.Printf("→ %s (%d readings)\n", r.expected, len(r.request.Readings))

	var prediction locator.Prediction
	payload, err := json.Marshal(r.request)
	if err != nil {
		return prediction, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return prediction, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return prediction, fmt.Errorf("post locate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return prediction, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return prediction, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, &prediction); err != nil {
		return prediction, fmt.Errorf("decode locate response: %w", err)
	}

	fmt.Printf("   predicted=%s votes=%d confidence=%.2f knownAps=%d\n",
		prediction.Location, prediction.Votes, prediction.Confidence, prediction.KnownAPs)
	if prediction.LowConfidence {
		fmt.Println("   low confidence")
	}
	return prediction, nil
}
