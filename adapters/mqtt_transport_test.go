package adapters

import (
	"fmt"
	"testing"
	"time"

	"pinpilot-telemetry/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubCreds struct{}

func (stubCreds) Credentials() (string, string) { return "dev-1", "tok-abc" }

func TestMQTTTransport_Open(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL: "tcp://localhost:1883",
		Username:  "admin",
		Password:  "password",
		QoS:       1,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(nil).Once()

	err := transport.Open("pinpilot-1")
	require.NoError(t, err)
	assert.Equal(t, true, transport.IsConnected())

	// opening an open transport is a no-op
	err = transport.Open("pinpilot-1")
	require.NoError(t, err)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTTransport_Open_Error(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL: "tcp://localhost:1883",
		QoS:       1,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(fmt.Errorf("connection refused")).Twice()

	err := transport.Open("pinpilot-1")
	require.Error(t, err)
	assert.Equal(t, false, transport.IsConnected())

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTTransport_Open_Timeout(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{block: true}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL:      "tcp://localhost:1883",
		QoS:            1,
		ConnectTimeout: 50 * time.Millisecond,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	mClient.On("Connect").Return(mToken).Once()

	err := transport.Open("pinpilot-1")
	require.Error(t, err)
	require.Equal(t, ErrMQTTConnectTimeout, err)
	assert.Equal(t, false, transport.IsConnected())

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTTransport_Send(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL: "tcp://localhost:1883",
		QoS:       1,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(nil).Twice()

	err := transport.Open("pinpilot-1")
	require.NoError(t, err)

	mClient.On("Publish", "pinpilot/heartbeat", byte(1), false, []byte("pinpilot_device")).Return(mToken).Once()

	err = transport.Send("pinpilot/heartbeat", []byte("pinpilot_device"))
	require.NoError(t, err)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTTransport_Send_NotConnected(t *testing.T) {
	mClient := &MockMQTTClient{}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL: "tcp://localhost:1883",
		QoS:       1,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	err := transport.Send("pinpilot/heartbeat", []byte("pinpilot_device"))
	require.Error(t, err)
	require.Equal(t, ErrMQTTNotConnected, err)

	mClient.AssertExpectations(t)
}

func TestMQTTTransport_Send_RetainsStatusTopic(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL:   "tcp://localhost:1883",
		StatusTopic: "pinpilot/status",
		QoS:         1,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(nil).Times(3)

	err := transport.Open("pinpilot-1")
	require.NoError(t, err)

	mClient.On("Publish", "pinpilot/status", byte(1), true, []byte(application.StatusOnline)).Return(mToken).Once()
	require.NoError(t, transport.Send("pinpilot/status", []byte(application.StatusOnline)))

	mClient.On("Publish", "pinpilot/heartbeat", byte(1), false, []byte("pinpilot_device")).Return(mToken).Once()
	require.NoError(t, transport.Send("pinpilot/heartbeat", []byte("pinpilot_device")))

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTTransport_SubscribeAndPoll(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL: "tcp://localhost:1883",
		QoS:       1,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(nil).Twice()

	err := transport.Open("pinpilot-1")
	require.NoError(t, err)

	mClient.On("Subscribe", "pinpilot/cmd/#", byte(1), mock.Anything).Return(mToken).Once()
	require.NoError(t, transport.Subscribe("pinpilot/cmd/#"))

	transport.PublishHandler(mClient, fakeMessage{topic: "pinpilot/cmd/reboot", payload: []byte("now")})
	transport.PublishHandler(mClient, fakeMessage{topic: "pinpilot/cmd/blink", payload: []byte("3")})

	msgs, err := transport.Poll()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "pinpilot/cmd/reboot", msgs[0].Topic)
	assert.Equal(t, []byte("now"), msgs[0].Payload)
	assert.Equal(t, "pinpilot/cmd/blink", msgs[1].Topic)

	msgs, err = transport.Poll()
	require.NoError(t, err)
	assert.Empty(t, msgs)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTTransport_Poll_NotConnected(t *testing.T) {
	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL: "tcp://localhost:1883",
	})

	_, err := transport.Poll()
	require.Error(t, err)
	require.Equal(t, ErrMQTTNotConnected, err)
}

func TestMQTTTransport_PollAfterConnectionLost(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL: "tcp://localhost:1883",
		QoS:       1,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(nil).Once()

	err := transport.Open("pinpilot-1")
	require.NoError(t, err)

	transport.OnConnectionLost(mClient, fmt.Errorf("keepalive timeout"))
	assert.Equal(t, false, transport.IsConnected())

	_, err = transport.Poll()
	require.Error(t, err)
	require.Equal(t, ErrMQTTNotConnected, err)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTTransport_InboundQueueDropsOldest(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL:        "tcp://localhost:1883",
		QoS:              1,
		InboundQueueSize: 2,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(nil).Once()
	require.NoError(t, transport.Open("pinpilot-1"))

	for i := 1; i <= 3; i++ {
		transport.PublishHandler(mClient, fakeMessage{
			topic:   "pinpilot/cmd/reboot",
			payload: []byte(fmt.Sprintf("m%d", i)),
		})
	}

	msgs, err := transport.Poll()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("m2"), msgs[0].Payload)
	assert.Equal(t, []byte("m3"), msgs[1].Payload)
	assert.Equal(t, uint64(1), transport.InboundDropped())

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTTransport_Close(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL: "tcp://localhost:1883",
		QoS:       1,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			return mClient
		},
	})

	// closing before any open is a no-op
	require.NoError(t, transport.Close())

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(nil).Once()
	require.NoError(t, transport.Open("pinpilot-1"))

	mClient.On("Disconnect", uint(250)).Once()
	require.NoError(t, transport.Close())
	assert.Equal(t, false, transport.IsConnected())

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}

func TestMQTTTransport_ClientOptions(t *testing.T) {
	mClient := &MockMQTTClient{}
	mToken := &MockToken{}

	var captured *mqtt.ClientOptions
	transport := NewMQTTTransport(MQTTTransportParams{
		BrokerURL:   "tcp://localhost:1883",
		StatusTopic: "pinpilot/status",
		Credentials: stubCreds{},
		QoS:         1,
		// for testing
		NewClientFunc: func(options *mqtt.ClientOptions) mqtt.Client {
			captured = options
			return mClient
		},
	})

	mClient.On("Connect").Return(mToken).Once()
	mToken.On("Error").Return(nil).Once()
	require.NoError(t, transport.Open("pinpilot-1"))

	require.NotNil(t, captured)
	assert.Equal(t, "pinpilot-1", captured.ClientID)
	assert.Equal(t, true, captured.CleanSession)
	assert.Equal(t, false, captured.AutoReconnect)
	assert.Equal(t, false, captured.ConnectRetry)

	assert.Equal(t, true, captured.WillEnabled)
	assert.Equal(t, "pinpilot/status", captured.WillTopic)
	assert.Equal(t, []byte(application.StatusOffline), captured.WillPayload)
	assert.Equal(t, true, captured.WillRetained)

	require.NotNil(t, captured.CredentialsProvider)
	username, password := captured.CredentialsProvider()
	assert.Equal(t, "dev-1", username)
	assert.Equal(t, "tok-abc", password)

	mClient.AssertExpectations(t)
	mToken.AssertExpectations(t)
}
