package locator

import "time"

// Sentinel is the signal assigned to access points not observed in a scan.
const Sentinel = -100.0

// DefaultNeighbors is the neighbour count used when none is configured.
const DefaultNeighbors = 3

// Reading is a single access point observation.
type Reading struct {
	APID   string  `json:"bssid" validate:"required"`
	Signal float64 `json:"signal"`
}

// Scan is an unordered set of readings captured at one place and time.
type Scan []Reading

// SurveyRecord is one labelled reading from a site survey.
type SurveyRecord struct {
	Row      int     `json:"row,omitempty" bson:"row,omitempty"`
	ScanID   string  `json:"scanId,omitempty" bson:"scan_id,omitempty"`
	APID     string  `json:"bssid" bson:"bssid"`
	Signal   float64 `json:"signal" bson:"signal"`
	Location string  `json:"location" bson:"location"`
}

// SamplingPolicy decides how survey records are grouped into training samples.
type SamplingPolicy string

const (
	// PerReading builds one sample per survey record.
	PerReading SamplingPolicy = "per-reading"
	// PerLocation merges every record of a location into a single sample.
	PerLocation SamplingPolicy = "per-location"
	// PerScan groups records by (location, scan id).
	PerScan SamplingPolicy = "per-scan"
)

// Valid reports whether p is one of the known sampling policies.
func (p SamplingPolicy) Valid() bool {
	switch p {
	case PerReading, PerLocation, PerScan:
		return true
	}
	return false
}

// TrainingPair is a fingerprint vector and the location it was surveyed at.
type TrainingPair struct {
	Vector []float64
	Label  string
}

// TrainingSet is the output of the Builder.
type TrainingSet struct {
	Space  *Space
	Policy SamplingPolicy
	Pairs  []TrainingPair
}

// Neighbor is one of the k nearest training samples.
type Neighbor struct {
	Index    int     `json:"index"`
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

// Prediction is the outcome of classifying a scan.
type Prediction struct {
	Location      string     `json:"location"`
	Votes         int        `json:"votes"`
	Confidence    float64    `json:"confidence"`
	MeanDistance  float64    `json:"meanDistance"`
	Neighbors     []Neighbor `json:"neighbors"`
	KnownAPs      int        `json:"knownAps"`
	IgnoredAPs    []string   `json:"ignoredAps,omitempty"`
	LowConfidence bool       `json:"lowConfidence"`
	Generation    string     `json:"generation"`
}

// ModelStats summarises a model generation.
type ModelStats struct {
	Generation  string         `json:"generation"`
	TrainedAt   time.Time      `json:"trainedAt"`
	Policy      SamplingPolicy `json:"policy"`
	K           int            `json:"k"`
	APCount     int            `json:"apCount"`
	SampleCount int            `json:"sampleCount"`
	Labels      []LabelStat    `json:"labels"`
}

// LabelStat counts training samples per location.
type LabelStat struct {
	Label   string `json:"label"`
	Samples int    `json:"samples"`
}
