// Package mqtt pushes live state onto an MQTT broker so home-automation
// systems can react to calls and registrations.
package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Publisher defines the interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
	Close() error
}

// Options configures the broker connection.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// PahoPublisher wraps a Paho MQTT client. The broker marks us offline via
// the will message if the process dies.
type PahoPublisher struct {
	client paho.Client
	qos    byte
}

// NewPahoPublisher creates and connects a publisher.
func NewPahoPublisher(opts Options) (*PahoPublisher, error) {
	statusTopic := opts.TopicPrefix + "/bridge/status"

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetWill(statusTopic, "offline", opts.QoS, true).
		SetOnConnectHandler(func(c paho.Client) {
			c.Publish(statusTopic, opts.QoS, true, "online")
		})

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return &PahoPublisher{client: client, qos: opts.QoS}, nil
}

func (p *PahoPublisher) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	token := p.client.Publish(topic, p.qos, retain, payload)
	token.Wait()
	return token.Error()
}

func (p *PahoPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
