package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"
	"github.com/mdobak/go-xerrors"

	"findmyway/locator"
	"findmyway/models"
	"findmyway/utils"
)

const source = "mqtt"

// Locator serves predictions for incoming scans.
type Locator interface {
	PredictDetailed(scan locator.Scan) (locator.Prediction, error)
}

// FixRecorder keeps served predictions.
type FixRecorder interface {
	StoreFix(ctx context.Context, fix *models.Fix) error
}

// PubSub is the subset of the paho client used by the bridge.
type PubSub interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// BridgeConfig names the topics the bridge works on.
type BridgeConfig struct {
	ScanTopic     string // e.g. "findmyway/scans/+"
	LocationTopic string // e.g. "findmyway/locations", device id is appended
}

// LocationMessage is published for every located scan.
type LocationMessage struct {
	Device        string    `json:"device"`
	Location      string    `json:"location"`
	Confidence    float64   `json:"confidence"`
	KnownAPs      int       `json:"knownAps"`
	LowConfidence bool      `json:"lowConfidence"`
	Generation    string    `json:"generation"`
	Timestamp     time.Time `json:"timestamp"`
}

// Bridge locates scans published by devices and answers on a per-device topic.
type Bridge struct {
	client   PubSub
	config   BridgeConfig
	locator  Locator
	fixes    FixRecorder
	validate *validator.Validate
	logger   *slog.Logger
}

func NewBridge(client PubSub, config BridgeConfig, loc Locator, fixes FixRecorder) *Bridge {
	return &Bridge{
		client:   client,
		config:   config,
		locator:  loc,
		fixes:    fixes,
		validate: validator.New(),
		logger:   utils.GetLogger(),
	}
}

// Start subscribes to the scan topic.
func (b *Bridge) Start() error {
	token := b.client.Subscribe(b.config.ScanTopic, 1, b.handleScan)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.config.ScanTopic, token.Error())
	}
	b.logger.Info("mqtt: subscribed", slog.String("topic", b.config.ScanTopic))
	return nil
}

func (b *Bridge) Close() {
	b.client.Disconnect(250)
}

func (b *Bridge) handleScan(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := b.locate(ctx, msg.Topic(), msg.Payload())
	if err != nil {
		b.logger.WarnContext(ctx, "mqtt: failed to locate scan",
			slog.String("topic", msg.Topic()),
			slog.Any("error", xerrors.New(err)),
		)
		return
	}

	payload, err := json.Marshal(out)
	if err != nil {
		b.logger.ErrorContext(ctx, "mqtt: failed to encode location", slog.Any("error", xerrors.New(err)))
		return
	}

	topic := b.config.LocationTopic + "/" + out.Device
	token := b.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		b.logger.ErrorContext(ctx, "mqtt: failed to publish location",
			slog.String("topic", topic),
			slog.Any("error", xerrors.New(token.Error())),
		)
	}
}

func (b *Bridge) locate(ctx context.Context, topic string, payload []byte) (LocationMessage, error) {
	start := time.Now()

	var req models.ScanRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return LocationMessage{}, fmt.Errorf("invalid scan payload: %w", err)
	}
	if err := b.validate.Struct(req); err != nil {
		return LocationMessage{}, fmt.Errorf("invalid scan payload: %w", err)
	}
	if req.Device == "" {
		req.Device = extractDeviceID(topic)
	}
	if req.Device == "" {
		return LocationMessage{}, errors.New("no device id in payload or topic")
	}

	prediction, err := b.locator.PredictDetailed(locator.Scan(req.Readings))
	if err != nil {
		return LocationMessage{}, err
	}

	fix := models.NewFix(source, req.Device, len(req.Readings), prediction, time.Since(start))
	if err := b.fixes.StoreFix(ctx, &fix); err != nil {
		b.logger.WarnContext(ctx, "mqtt: failed to store fix", slog.Any("error", xerrors.New(err)))
	}

	return LocationMessage{
		Device:        req.Device,
		Location:      prediction.Location,
		Confidence:    prediction.Confidence,
		KnownAPs:      prediction.KnownAPs,
		LowConfidence: prediction.LowConfidence,
		Generation:    prediction.Generation,
		Timestamp:     fix.Timestamp,
	}, nil
}

// extractDeviceID returns the last segment of topics like findmyway/scans/{device}.
func extractDeviceID(topic string) string {
	parts := strings.Split(strings.TrimSuffix(topic, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}
