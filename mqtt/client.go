package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mdobak/go-xerrors"

	"findmyway/utils"
)

// ClientConfig holds MQTT connection settings.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewClient connects to the broker and returns the paho client.
func NewClient(config ClientConfig) (mqtt.Client, error) {
	logger := utils.GetLogger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt: connection established", slog.String("broker", config.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt: connection lost", slog.Any("error", xerrors.New(err)))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}
