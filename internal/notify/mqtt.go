package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dental-bot/internal/config"
	"dental-bot/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPublishTimeout bounds the wait for a publish acknowledgement.
const DefaultPublishTimeout = 5 * time.Second

// Publisher is the part of an MQTT client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// MQTTClient MQTT客户端封装
type MQTTClient struct {
	client         mqtt.Client
	publishTimeout time.Duration
	logger         *zap.Logger
}

// NewMQTTClient connects to the broker. The client ID gets a random suffix so
// two bot instances never kick each other off the broker.
func NewMQTTClient(cfg *config.MQTTConfig, logger *zap.Logger) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTClient{client: client, publishTimeout: DefaultPublishTimeout, logger: logger}, nil
}

// Publish 发布消息. While the client is reconnecting paho queues QoS>0
// messages and the token stays pending, so the wait is bounded by ctx and the
// publish timeout; the message may still go out after reconnect.
func (c *MQTTClient) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)

	ctx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to publish to topic %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Disconnect 断开连接
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}

// MQTTNotifier publishes VisitRecordedEvent JSON to a topic.
type MQTTNotifier struct {
	publisher Publisher
	topic     string
	qos       byte
}

func NewMQTTNotifier(publisher Publisher, topic string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{publisher: publisher, topic: topic, qos: qos}
}

func (n *MQTTNotifier) VisitRecorded(ctx context.Context, visit models.PatientVisit) error {
	payload, err := json.Marshal(newVisitRecordedEvent(visit))
	if err != nil {
		return fmt.Errorf("failed to marshal visit event: %w", err)
	}
	return n.publisher.Publish(ctx, n.topic, n.qos, false, payload)
}
