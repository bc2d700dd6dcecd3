// internal/notifications/mqtt.go - Publish alert records to an MQTT broker
package notifications

import (
    "context"
    "encoding/json"
    "fmt"
    "strings"
    "time"

    mqtt "github.com/eclipse/paho.mqtt.golang"
    "github.com/sirupsen/logrus"

    "netwatch/internal/cache"
    "netwatch/internal/config"
)

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
    Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
    Disconnect(quiesce uint)
}

type MQTTSink struct {
    client   publisher
    topic    string
    qos      byte
    retained bool
}

type mqttPayload struct {
    cache.Record
    Source string `json:"source"`
}

// NewMQTTSink connects to the configured broker. Reconnects are handled by
// the client library.
func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
    opts := mqtt.NewClientOptions()
    opts.AddBroker(cfg.Broker)
    opts.SetClientID(cfg.ClientID)
    opts.SetUsername(cfg.Username)
    opts.SetPassword(cfg.Password)
    opts.SetAutoReconnect(true)
    opts.SetKeepAlive(60 * time.Second)
    opts.SetPingTimeout(10 * time.Second)
    opts.SetConnectTimeout(cfg.ConnectTimeout)
    opts.SetOnConnectHandler(func(mqtt.Client) {
        logrus.WithField("broker", cfg.Broker).Info("MQTT client connected")
    })
    opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
        logrus.WithError(err).Warn("MQTT connection lost")
    })

    client := mqtt.NewClient(opts)
    if token := client.Connect(); token.Wait() && token.Error() != nil {
        return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
    }

    return newMQTTSink(client, cfg), nil
}

func newMQTTSink(client publisher, cfg config.MQTTConfig) *MQTTSink {
    return &MQTTSink{
        client:   client,
        topic:    cfg.Topic,
        qos:      cfg.QoS,
        retained: cfg.Retained,
    }
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(ctx context.Context, record cache.Record) error {
    payload, err := json.Marshal(mqttPayload{Record: record, Source: "netwatch"})
    if err != nil {
        return fmt.Errorf("failed to marshal alert: %w", err)
    }

    topic := formatTopic(s.topic, record.DeviceID)
    token := s.client.Publish(topic, s.qos, s.retained, payload)

    select {
    case <-token.Done():
    case <-ctx.Done():
        return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
    }
    if err := token.Error(); err != nil {
        return fmt.Errorf("failed to publish alert to %s: %w", topic, err)
    }

    logrus.WithFields(logrus.Fields{
        "topic":    topic,
        "alert_id": record.AlertID,
    }).Debug("Published alert to MQTT")
    return nil
}

func (s *MQTTSink) Close() {
    s.client.Disconnect(250)
    logrus.Info("MQTT client disconnected")
}

func formatTopic(pattern, deviceID string) string {
    if deviceID == "" {
        deviceID = "unknown"
    }
    return strings.ReplaceAll(pattern, "{device_id}", deviceID)
}
