package mirror

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	settingsdomain "trailwatch/backend/internal/tenantsettings/domain"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 10 * time.Second
	disconnectQuiesce = 250
)

// MQTTPublisher publishes to channels/<channelID>/publish on a ThingSpeak-style broker.
// Each publish uses a short-lived connection authenticated with the channel write key.
type MQTTPublisher struct {
	Broker    string
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTPublisher returns a publisher for broker (e.g. tcp://mqtt3.thingspeak.com:1883).
func NewMQTTPublisher(broker string) *MQTTPublisher {
	return &MQTTPublisher{Broker: broker, newClient: mqtt.NewClient}
}

// Topic returns the publish topic for a channel.
func Topic(channelID string) string {
	return fmt.Sprintf("channels/%s/publish", channelID)
}

func (p *MQTTPublisher) Publish(ctx context.Context, s settingsdomain.MirrorSettings, u Update) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.Broker)
	opts.SetClientID("trailwatch-" + uuid.NewString()[:8])
	opts.SetUsername(s.ChannelID)
	opts.SetPassword(s.WriteKey)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(connectTimeout)

	client := p.newClient(opts)
	if err := wait(ctx, client.Connect(), connectTimeout); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer client.Disconnect(disconnectQuiesce)

	token := client.Publish(Topic(s.ChannelID), 0, false, u.Values().Encode())
	if err := wait(ctx, token, publishTimeout); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// wait blocks on token until it completes, max elapses, or ctx is done.
func wait(ctx context.Context, token mqtt.Token, max time.Duration) error {
	timer := time.NewTimer(max)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", max)
	case <-ctx.Done():
		return ctx.Err()
	}
}
