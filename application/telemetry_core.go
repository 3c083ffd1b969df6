package application

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultDeviceID       = "pinpilot_device"
	DefaultStatusTopic    = "pinpilot/status"
	DefaultHeartbeatTopic = "pinpilot/heartbeat"
)

type TelemetryCoreParams struct {
	Link      *LinkManager
	Session   *SessionManager
	Heartbeat *HeartbeatScheduler

	DeviceID       string
	HeartbeatTopic string

	Log zerolog.Logger
}

func (p *TelemetryCoreParams) EnsureDefaults() {
	if p.DeviceID == "" {
		p.DeviceID = DefaultDeviceID
	}
	if p.HeartbeatTopic == "" {
		p.HeartbeatTopic = DefaultHeartbeatTopic
	}
}

// TelemetryCore composes the link, session and heartbeat state machines
// behind a single Tick. One call advances everything exactly one step:
// link first, then session, then the heartbeat publish. Nothing here
// blocks; the host decides the tick cadence.
type TelemetryCore struct {
	params TelemetryCoreParams

	log zerolog.Logger
}

func NewTelemetryCore(params TelemetryCoreParams) (*TelemetryCore, error) {
	if params.Link == nil {
		return nil, fmt.Errorf("Link is nil")
	}
	if params.Session == nil {
		return nil, fmt.Errorf("Session is nil")
	}
	if params.Heartbeat == nil {
		return nil, fmt.Errorf("Heartbeat is nil")
	}
	params.EnsureDefaults()

	params.Link.Subscribe(params.Session.HandleLinkState)

	return &TelemetryCore{params: params, log: params.Log}, nil
}

// Tick advances the device by one step at the given instant.
func (c *TelemetryCore) Tick(now time.Time) {
	if st := c.params.Link.State(); st != LinkAssociated && st != LinkFailed {
		c.params.Link.Tick(now)
	}

	c.params.Session.Tick(now)

	if c.params.Heartbeat.Tick(now) {
		outcome, err := c.params.Session.Publish(c.params.HeartbeatTopic, []byte(c.params.DeviceID), now)
		if err != nil {
			c.log.Warn().Err(err).Msg("heartbeat publish failed")
			return
		}
		c.log.Debug().Str("outcome", outcome.String()).Msg("heartbeat")
	}
}

// Stats returns a combined snapshot of link and session state.
func (c *TelemetryCore) Stats() Stats {
	return Stats{
		Link:    c.params.Link.State(),
		Session: c.params.Session.Stats(),
	}
}

// DeviceID returns the identifier published as the heartbeat payload.
func (c *TelemetryCore) DeviceID() string {
	return c.params.DeviceID
}
