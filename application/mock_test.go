package application

import (
	"github.com/stretchr/testify/mock"
)

type MockLinkProvider struct {
	mock.Mock
}

func (m *MockLinkProvider) BeginAssociation() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLinkProvider) AssociationStatus() LinkStatus {
	args := m.Called()
	return args.Get(0).(LinkStatus)
}

type MockBrokerTransport struct {
	mock.Mock
}

func (m *MockBrokerTransport) Open(clientID string) error {
	args := m.Called(clientID)
	return args.Error(0)
}

func (m *MockBrokerTransport) Send(topic string, payload []byte) error {
	args := m.Called(topic, payload)
	return args.Error(0)
}

func (m *MockBrokerTransport) Subscribe(topic string) error {
	args := m.Called(topic)
	return args.Error(0)
}

func (m *MockBrokerTransport) Poll() ([]InboundMessage, error) {
	args := m.Called()
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]InboundMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBrokerTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

// stubLink is a settable LinkStateSource for session tests.
type stubLink struct {
	state LinkState
}

func (s *stubLink) State() LinkState {
	return s.state
}
