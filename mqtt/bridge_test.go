package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"findmyway/locator"
	"findmyway/models"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakePubSub struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []published
}

func (f *fakePubSub) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]mqtt.MessageHandler{}
	}
	f.handlers[topic] = callback
	return doneToken{}
}

func (f *fakePubSub) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, payload: payload.([]byte)})
	return doneToken{}
}

func (f *fakePubSub) Disconnect(uint) {}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fixLog struct {
	mu    sync.Mutex
	fixes []models.Fix
}

func (l *fixLog) StoreFix(_ context.Context, fix *models.Fix) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fixes = append(l.fixes, *fix)
	return nil
}

func newTestBridge(t *testing.T) (*Bridge, *fakePubSub, *fixLog) {
	t.Helper()

	builder, err := locator.NewBuilder(locator.PerReading)
	if err != nil {
		t.Fatalf("NewBuilder returned error: %v", err)
	}
	set, err := builder.Build([]locator.SurveyRecord{
		{APID: "aa:bb", Signal: -40, Location: "kitchen"},
		{APID: "cc:dd", Signal: -45, Location: "hall"},
	})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	classifier, err := locator.NewClassifier(1)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}
	if _, err := classifier.Fit(set); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}

	client := &fakePubSub{}
	fixes := &fixLog{}
	bridge := NewBridge(client, BridgeConfig{
		ScanTopic:     "findmyway/scans/+",
		LocationTopic: "findmyway/locations",
	}, classifier, fixes)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	return bridge, client, fixes
}

func deliver(t *testing.T, client *fakePubSub, topic, payload string) {
	t.Helper()
	handler, ok := client.handlers["findmyway/scans/+"]
	if !ok {
		t.Fatal("bridge did not subscribe to the scan topic")
	}
	handler(nil, fakeMessage{topic: topic, payload: []byte(payload)})
}

func TestBridgePublishesLocationForTopicDevice(t *testing.T) {
	_, client, fixes := newTestBridge(t)

	deliver(t, client, "findmyway/scans/phone-1", `{"readings":[{"bssid":"CC:DD","signal":-46}]}`)

	if len(client.published) != 1 {
		t.Fatalf("expected one published message, got %d", len(client.published))
	}
	msg := client.published[0]
	if msg.topic != "findmyway/locations/phone-1" {
		t.Fatalf("unexpected topic %s", msg.topic)
	}

	var out LocationMessage
	if err := json.Unmarshal(msg.payload, &out); err != nil {
		t.Fatalf("failed to decode location message: %v", err)
	}
	if out.Device != "phone-1" || out.Location != "hall" || out.KnownAPs != 1 {
		t.Fatalf("unexpected location message: %+v", out)
	}

	if len(fixes.fixes) != 1 || fixes.fixes[0].Source != "mqtt" || fixes.fixes[0].Device != "phone-1" {
		t.Fatalf("unexpected fixes: %+v", fixes.fixes)
	}
}

func TestBridgePrefersPayloadDevice(t *testing.T) {
	_, client, _ := newTestBridge(t)

	deliver(t, client, "findmyway/scans/gateway", `{"device":"badge-7","readings":[{"bssid":"aa:bb","signal":-41}]}`)

	if len(client.published) != 1 || client.published[0].topic != "findmyway/locations/badge-7" {
		t.Fatalf("unexpected published messages: %+v", client.published)
	}
}

func TestBridgeDropsInvalidPayloads(t *testing.T) {
	_, client, fixes := newTestBridge(t)

	for _, payload := range []string{
		`not json`,
		`{"readings":[{"bssid":"","signal":-40}]}`,
	} {
		deliver(t, client, "findmyway/scans/phone-1", payload)
	}

	if len(client.published) != 0 {
		t.Fatalf("expected nothing published, got %+v", client.published)
	}
	if len(fixes.fixes) != 0 {
		t.Fatalf("expected no fixes, got %+v", fixes.fixes)
	}
}

func TestExtractDeviceID(t *testing.T) {
	cases := map[string]string{
		"findmyway/scans/phone-1":  "phone-1",
		"findmyway/scans/phone-1/": "phone-1",
		"scans":                    "",
	}
	for topic, want := range cases {
		if got := extractDeviceID(topic); got != want {
			t.Errorf("extractDeviceID(%q) = %q, want %q", topic, got, want)
		}
	}
}
