package adapters

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pinpilot-telemetry/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout   = 30 * time.Second
	MQTTDefaultSendTimeout      = 5 * time.Second
	MQTTDefaultSubscribeTimeout = 5 * time.Second
	MQTTDefaultKeepAlive        = 30 * time.Second
	MQTTDefaultInboundQueueSize = 64

	mqttDisconnectQuiesceMs = 250
)

var (
	ErrMQTTNotConnected     = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout   = fmt.Errorf("connect timeout")
	ErrMQTTSendTimeout      = fmt.Errorf("send timeout")
	ErrMQTTSubscribeTimeout = fmt.Errorf("subscribe timeout")
)

// CredentialsSource supplies broker credentials at connect time, so
// short-lived tokens are minted fresh for every handshake.
type CredentialsSource interface {
	Credentials() (username string, password string)
}

type MQTTTransportParams struct {
	BrokerURL string
	Username  string
	Password  string

	// Credentials overrides Username and Password when set.
	Credentials CredentialsSource

	// StatusTopic carries the availability announcement. Sends to it
	// are retained and the broker-side will publishes the offline
	// payload there on an unclean disconnect.
	StatusTopic string

	QoS byte

	ConnectTimeout   time.Duration
	SendTimeout      time.Duration
	SubscribeTimeout time.Duration
	KeepAlive        time.Duration
	InboundQueueSize int

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTTransportParams) EnsureDefaults() {
	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.SendTimeout == 0 {
		m.SendTimeout = MQTTDefaultSendTimeout
	}

	if m.SubscribeTimeout == 0 {
		m.SubscribeTimeout = MQTTDefaultSubscribeTimeout
	}

	if m.KeepAlive == 0 {
		m.KeepAlive = MQTTDefaultKeepAlive
	}

	if m.InboundQueueSize == 0 {
		m.InboundQueueSize = MQTTDefaultInboundQueueSize
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTTransport adapts a paho client to the session's transport
// contract. Automatic reconnects are disabled: the session manager owns
// the reconnect policy, the client only reports loss through the
// connected flag. Each Open builds a fresh clean-session client.
type MQTTTransport struct {
	params MQTTTransportParams

	client mqtt.Client

	connected uint64

	mu        sync.Mutex
	inbound   []application.InboundMessage
	inDropped uint64

	log zerolog.Logger
}

func NewMQTTTransport(params MQTTTransportParams) *MQTTTransport {
	params.EnsureDefaults()
	return &MQTTTransport{params: params, log: params.Log}
}

func (m *MQTTTransport) Open(clientID string) error {
	if atomic.LoadUint64(&m.connected) == 1 {
		return nil
	}

	m.mu.Lock()
	m.inbound = nil
	m.mu.Unlock()

	m.client = m.newMqttClient(clientID)

	tc := time.NewTimer(m.params.ConnectTimeout)

	token := m.client.Connect()
	select {
	case <-tc.C:
		return ErrMQTTConnectTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}

	atomic.StoreUint64(&m.connected, 1)
	return nil
}

func (m *MQTTTransport) Send(topic string, payload []byte) error {
	if atomic.LoadUint64(&m.connected) == 0 {
		return ErrMQTTNotConnected
	}

	retained := m.params.StatusTopic != "" && topic == m.params.StatusTopic

	tc := time.NewTimer(m.params.SendTimeout)

	token := m.client.Publish(topic, m.params.QoS, retained, payload)
	select {
	case <-tc.C:
		return ErrMQTTSendTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}

	return nil
}

func (m *MQTTTransport) Subscribe(topic string) error {
	if atomic.LoadUint64(&m.connected) == 0 {
		return ErrMQTTNotConnected
	}

	tc := time.NewTimer(m.params.SubscribeTimeout)

	token := m.client.Subscribe(topic, m.params.QoS, m.PublishHandler)
	select {
	case <-tc.C:
		return ErrMQTTSubscribeTimeout
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	}

	return nil
}

// Poll reports liveness and hands over messages queued by the paho
// callbacks since the previous call.
func (m *MQTTTransport) Poll() ([]application.InboundMessage, error) {
	if atomic.LoadUint64(&m.connected) == 0 {
		return nil, ErrMQTTNotConnected
	}

	m.mu.Lock()
	msgs := m.inbound
	m.inbound = nil
	m.mu.Unlock()
	return msgs, nil
}

func (m *MQTTTransport) Close() error {
	if m.client == nil {
		return nil
	}
	m.client.Disconnect(mqttDisconnectQuiesceMs)
	atomic.StoreUint64(&m.connected, 0)
	return nil
}

func (m *MQTTTransport) IsConnected() bool {
	return atomic.LoadUint64(&m.connected) == 1
}

// InboundDropped returns the number of inbound messages evicted because
// the queue was not polled fast enough.
func (m *MQTTTransport) InboundDropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inDropped
}

// PublishHandler queues every delivered message, both routed and stray,
// for the next Poll. Payloads are copied; paho owns the originals.
func (m *MQTTTransport) PublishHandler(client mqtt.Client, msg mqtt.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inbound = append(m.inbound, application.InboundMessage{
		Topic:   msg.Topic(),
		Payload: append([]byte(nil), msg.Payload()...),
	})
	if len(m.inbound) > m.params.InboundQueueSize {
		m.inbound = m.inbound[1:]
		m.inDropped++
		m.log.Warn().Str("topic", msg.Topic()).Msg("inbound queue full, oldest dropped")
	}
}

func (m *MQTTTransport) OnConnect(client mqtt.Client) {
	m.log.Info().Msgf("connected")
	atomic.StoreUint64(&m.connected, 1)
}

func (m *MQTTTransport) OnConnectionLost(client mqtt.Client, err error) {
	m.log.Info().Msgf("connection lost: %v", err)
	atomic.StoreUint64(&m.connected, 0)
}

func (m *MQTTTransport) newMqttClient(clientID string) mqtt.Client {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(m.params.BrokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(m.params.KeepAlive)
	opts.SetConnectTimeout(m.params.ConnectTimeout)

	if m.params.Credentials != nil {
		opts.SetCredentialsProvider(m.params.Credentials.Credentials)
	} else {
		opts.SetUsername(m.params.Username)
		opts.SetPassword(m.params.Password)
	}

	if m.params.StatusTopic != "" {
		opts.SetWill(m.params.StatusTopic, application.StatusOffline, m.params.QoS, true)
	}

	opts.SetDefaultPublishHandler(m.PublishHandler)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost

	return m.params.NewClientFunc(opts)
}

var _ application.BrokerTransport = &MQTTTransport{}
