package models

import (
	"time"

	"findmyway/locator"
)

// LocationMarker is a named point placed on a floor map.
type LocationMarker struct {
	ID    string  `json:"id" bson:"-"`
	Floor string  `json:"floor,omitempty" bson:"floor"`
	Name  string  `json:"name" bson:"name" validate:"required"`
	X     float64 `json:"x" bson:"x"`
	Y     float64 `json:"y" bson:"y"`
}

// FloorMap is the uploaded plan image of a floor.
type FloorMap struct {
	Floor       string    `json:"floor"`
	ContentType string    `json:"contentType"`
	Data        []byte    `json:"-"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// ScanRequest is the payload of a locate request.
type ScanRequest struct {
	Device   string            `json:"device,omitempty"`
	Readings []locator.Reading `json:"readings" validate:"dive"`
}

// Fix is a served prediction kept for history.
type Fix struct {
	ID            int64     `json:"id" bson:"fix_id"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	Device        string    `json:"device,omitempty" bson:"device,omitempty"`
	Source        string    `json:"source" bson:"source"`
	Location      string    `json:"location" bson:"location"`
	Confidence    float64   `json:"confidence" bson:"confidence"`
	Readings      int       `json:"readings" bson:"readings"`
	KnownAPs      int       `json:"knownAps" bson:"known_aps"`
	LowConfidence bool      `json:"lowConfidence" bson:"low_confidence"`
	Generation    string    `json:"generation" bson:"generation"`
	LatencyMs     float64   `json:"latencyMs" bson:"latency_ms"`
}

// NewFix records prediction as served from source.
func NewFix(source, device string, readings int, prediction locator.Prediction, latency time.Duration) Fix {
	return Fix{
		Timestamp:     time.Now().UTC(),
		Device:        device,
		Source:        source,
		Location:      prediction.Location,
		Confidence:    prediction.Confidence,
		Readings:      readings,
		KnownAPs:      prediction.KnownAPs,
		LowConfidence: prediction.LowConfidence,
		Generation:    prediction.Generation,
		LatencyMs:     float64(latency.Microseconds()) / 1000,
	}
}
