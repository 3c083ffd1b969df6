package application

import "time"

// LinkState is the wireless association state owned by LinkManager.
type LinkState int

const (
	LinkDisassociated LinkState = iota
	LinkAssociating
	LinkAssociated
	LinkFailed
)

func (s LinkState) String() string {
	switch s {
	case LinkDisassociated:
		return "disassociated"
	case LinkAssociating:
		return "associating"
	case LinkAssociated:
		return "associated"
	case LinkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionState is the broker session state owned by SessionManager.
type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
	SessionBackoff
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// LinkStatus is what the platform link provider reports when polled.
type LinkStatus int

const (
	LinkStatusDown LinkStatus = iota
	LinkStatusPending
	LinkStatusUp
)

// LinkEventType distinguishes link-up from link-down notifications.
type LinkEventType int

const (
	LinkUp LinkEventType = iota
	LinkDown
)

// LinkEvent is delivered by the platform link provider on association
// success or loss. At is the provider's observation time; a zero At is
// replaced with the current time on receipt.
type LinkEvent struct {
	Type LinkEventType
	At   time.Time
	Err  error
}

// PublishOutcome reports how SessionManager handled a publish.
type PublishOutcome int

const (
	PublishSent PublishOutcome = iota
	PublishBuffered
)

func (o PublishOutcome) String() string {
	switch o {
	case PublishSent:
		return "sent"
	case PublishBuffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// Session status payloads published to the status topic. The offline
// payload is registered as the broker-side will so peers see it even on
// an unclean disconnect.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// OutboundMessage is one pending publish. Immutable once enqueued; the
// Outbox owns it until it is dequeued for a send attempt.
type OutboundMessage struct {
	Topic      string
	Payload    []byte
	EnqueuedAt time.Time
}

// InboundMessage is one message received from the broker.
type InboundMessage struct {
	Topic   string
	Payload []byte
}

// InboundHandler consumes messages delivered for a subscription. It is
// called from SessionManager.Tick, never concurrently with itself.
type InboundHandler func(msg InboundMessage)

// LinkProvider is the platform network layer. Credentials are bound
// into the provider at construction and never cross this interface.
type LinkProvider interface {
	// BeginAssociation starts an association attempt. It must not block;
	// progress is observed via AssociationStatus and link events.
	BeginAssociation() error
	AssociationStatus() LinkStatus
}

// LinkStateSource is the read-only view of the link that SessionManager
// gates its connect attempts on.
type LinkStateSource interface {
	State() LinkState
}

// BrokerTransport is the platform broker connection. Broker address and
// credentials are bound at construction; every call completes within a
// bounded timeout enforced by the implementation.
type BrokerTransport interface {
	Open(clientID string) error
	Send(topic string, payload []byte) error
	Subscribe(topic string) error
	// Poll maintains protocol liveness and returns messages received
	// since the last call. It returns an error when the connection is
	// no longer usable.
	Poll() ([]InboundMessage, error)
	Close() error
}

// SessionStats is a point-in-time snapshot of SessionManager counters.
type SessionStats struct {
	State         SessionState
	Sent          uint64
	Buffered      int
	Dropped       uint64
	Reconnects    uint64
	LastConnectAt time.Time
}

// Stats is the combined snapshot reported by TelemetryCore.
type Stats struct {
	Link    LinkState
	Session SessionStats
}
