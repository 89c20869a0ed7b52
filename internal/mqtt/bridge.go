package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
	"github.com/oshokin/tuya-alarm/internal/store"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	retryInterval  = 5 * time.Second
	quiesceMillis  = 1000
)

var (
	errConnectTimeout = errors.New("mqtt connect timeout")
	errUnknownPayload = errors.New("unknown alarm payload")
)

// StateSource exposes the published device state.
type StateSource interface {
	Current() store.Snapshot
	Subscribe() (<-chan store.Snapshot, func())
}

// Commander issues commands to the panel.
type Commander interface {
	RequestArm(ctx context.Context, actor *alarm.Actor, mode alarm.Mode) (*alarm.CommandRecord, error)
	RequestDisarm(ctx context.Context, actor *alarm.Actor) (*alarm.CommandRecord, error)
	SetOption(ctx context.Context, actor *alarm.Actor, code string, raw any) (*alarm.CommandRecord, error)
}

// client is the part of pahomqtt.Client the bridge uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge mirrors the store to MQTT with Home Assistant discovery and
// routes commands received on MQTT to the panel.
type Bridge struct {
	client          client
	deviceID        string
	discoveryPrefix string
	topics          topics
	actor           *alarm.Actor
	state           StateSource
	commander       Commander

	// ctx is the bridge lifetime; commands and publishes log through it.
	ctx    context.Context //nolint:containedctx // Paho callbacks carry no context.
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// reconnected asks the publishing goroutine to resend everything retained.
	reconnected chan struct{}

	mu            sync.Mutex
	discoveredKey string
	stopped       bool
}

// Connect dials the broker and returns a bridge that is not yet publishing.
// The broker connection retries in the background after the first success.
func Connect(
	ctx context.Context,
	cfg config.MQTT,
	deviceID string,
	state StateSource,
	commander Commander,
) (*Bridge, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "tuya-alarm-" + deviceID
	}

	b := newBridge(ctx, cfg, clientID, deviceID, state, commander)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetWill(b.topics.availability, payloadOffline, qos, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			logger.Info(b.ctx, "MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			logger.WarnKV(b.ctx, "MQTT connection lost", "error", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	pahoClient := pahomqtt.NewClient(opts)
	b.client = pahoClient

	token := pahoClient.Connect()
	if !token.WaitTimeout(connectTimeout) {
		b.cancel()
		pahoClient.Disconnect(0)

		return nil, errConnectTimeout
	}

	if err := token.Error(); err != nil {
		b.cancel()

		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return b, nil
}

func newBridge(
	ctx context.Context,
	cfg config.MQTT,
	clientID, deviceID string,
	state StateSource,
	commander Commander,
) *Bridge {
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lifetime = logger.WithKV(logger.WithName(lifetime, "mqtt"), "device_id", deviceID)

	return &Bridge{
		deviceID:        deviceID,
		discoveryPrefix: cfg.DiscoveryPrefix,
		topics:          newTopics(cfg.TopicPrefix, deviceID),
		actor:           &alarm.Actor{Hostname: clientID, Username: "mqtt"},
		state:           state,
		commander:       commander,
		ctx:             lifetime,
		cancel:          cancel,
		reconnected:     make(chan struct{}, 1),
	}
}

// Start publishes every snapshot until Stop is called.
func (b *Bridge) Start() {
	updates, unsubscribe := b.state.Subscribe()

	b.wg.Go(func() {
		defer unsubscribe()

		for {
			select {
			case <-b.ctx.Done():
				return
			case <-b.reconnected:
				snapshot := b.state.Current()

				b.publishDiscovery(snapshot, true)
				b.publishSnapshot(snapshot)
			case snapshot, ok := <-updates:
				if !ok {
					return
				}

				b.publishSnapshot(snapshot)
			}
		}
	})

	logger.InfoKV(b.ctx, "MQTT bridge started", "topic", b.topics.base)
}

// Stop publishes the offline state, waits for running commands and disconnects.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	b.publish(b.topics.availability, []byte(payloadOffline), true)
	b.client.Disconnect(quiesceMillis)

	logger.Info(b.ctx, "MQTT bridge stopped")
}

// onConnect runs on every (re)connection: retained messages may have been lost.
// State is only ever published from the Start goroutine, so an older snapshot
// cannot overwrite a newer one.
func (b *Bridge) onConnect() {
	b.client.Subscribe(b.topics.commands, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleMessage(msg.Topic(), msg.Payload())
	})

	select {
	case b.reconnected <- struct{}{}:
	default:
	}
}

func (b *Bridge) publishSnapshot(snapshot store.Snapshot) {
	b.publishDiscovery(snapshot, false)

	availability := payloadOffline
	if snapshot.Available {
		availability = payloadOnline
	}

	b.publish(b.topics.availability, []byte(availability), true)
	b.publish(b.topics.state, mustJSON(snapshot), true)

	if state, ok := haAlarmState(snapshot.Alarm); ok {
		b.publish(b.topics.alarm, []byte(state), true)
	}
}

// publishDiscovery sends the discovery messages when the entity set changed.
func (b *Bridge) publishDiscovery(snapshot store.Snapshot, force bool) {
	key := discoveryKey(snapshot)

	b.mu.Lock()
	changed := force || key != b.discoveredKey
	b.discoveredKey = key
	b.mu.Unlock()

	if !changed {
		return
	}

	msgs := buildDiscovery(b.discoveryPrefix, b.topics, b.deviceID, snapshot)
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
	}

	logger.DebugKV(b.ctx, "Published HA discovery", "entities", len(msgs))
}

// handleMessage routes a command. Commands run in their own goroutine because
// arm and disarm block until the verification ends.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	target, ok := b.topics.parseCommand(topic)
	if !ok {
		logger.WarnKV(b.ctx, "Ignoring message on unexpected topic", "topic", topic)

		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	b.wg.Go(func() {
		var err error

		if target == alarmComponent {
			err = b.alarmCommand(string(payload))
		} else {
			_, err = b.commander.SetOption(b.ctx, b.actor, target, parsePayload(payload))
		}

		if err != nil {
			logger.WarnKV(b.ctx, "MQTT command failed", "target", target, "error", err)
		}
	})
}

func (b *Bridge) alarmCommand(payload string) error {
	var err error

	switch strings.ToUpper(strings.TrimSpace(payload)) {
	case payloadDisarm:
		_, err = b.commander.RequestDisarm(b.ctx, b.actor)
	case payloadArmAway:
		_, err = b.commander.RequestArm(b.ctx, b.actor, alarm.ModeAway)
	case payloadArmHome:
		_, err = b.commander.RequestArm(b.ctx, b.actor, alarm.ModeHome)
	default:
		return fmt.Errorf("%w: %q", errUnknownPayload, payload)
	}

	return err
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, qos, retained, payload)

	go func() {
		if !token.WaitTimeout(publishTimeout) {
			logger.WarnKV(b.ctx, "MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			logger.WarnKV(b.ctx, "MQTT publish error", "topic", topic, "error", err)
		}
	}()
}

// parsePayload decodes JSON scalars and falls back to the raw text.
func parsePayload(payload []byte) any {
	payload = bytes.TrimSpace(payload)

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err == nil && !decoder.More() {
		switch value.(type) {
		case bool, string, json.Number:
			return value
		}
	}

	return string(payload)
}
