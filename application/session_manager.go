package application

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

type SessionManagerParams struct {
	Transport BrokerTransport
	Link      LinkStateSource
	Outbox    *Outbox

	ClientID string
	// StatusTopic receives a StatusOnline publish on every connect.
	// Empty disables the announcement.
	StatusTopic string

	Backoff BackoffConfig
	Rand    *rand.Rand

	Log zerolog.Logger
}

func (p *SessionManagerParams) EnsureDefaults() {
	if p.Backoff.InitialDelay == 0 {
		p.Backoff.InitialDelay = 2 * time.Second
	}
	if p.Backoff.Multiplier == 0 {
		p.Backoff.Multiplier = 2.0
	}
	if p.Backoff.MaxDelay == 0 {
		p.Backoff.MaxDelay = 60 * time.Second
	}
}

type subscription struct {
	topic   string
	handler InboundHandler
}

type delivery struct {
	handler InboundHandler
	msg     InboundMessage
}

// SessionManager owns the broker session lifecycle. It never attempts a
// connect unless the link is associated, buffers publishes while the
// session is down, and replays the buffer in FIFO order after each
// reconnect. All session work happens inside Tick; Publish and
// Subscribe are safe to call from other goroutines.
type SessionManager struct {
	params SessionManagerParams

	mu            sync.Mutex
	state         SessionState
	retry         backoff
	subs          []subscription
	sent          uint64
	reconnects    uint64
	lastConnectAt time.Time

	log zerolog.Logger
}

func NewSessionManager(params SessionManagerParams) (*SessionManager, error) {
	if params.Transport == nil {
		return nil, fmt.Errorf("Transport is nil")
	}
	if params.Link == nil {
		return nil, fmt.Errorf("Link is nil")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("Outbox is nil")
	}
	params.EnsureDefaults()

	return &SessionManager{
		params: params,
		state:  SessionDisconnected,
		retry:  backoff{cfg: params.Backoff, rng: params.Rand},
		log:    params.Log,
	}, nil
}

// State returns the current session state.
func (s *SessionManager) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of session counters.
func (s *SessionManager) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		State:         s.state,
		Sent:          s.sent,
		Buffered:      s.params.Outbox.Len(),
		Dropped:       s.params.Outbox.Dropped(),
		Reconnects:    s.reconnects,
		LastConnectAt: s.lastConnectAt,
	}
}

// Publish sends payload to topic on the live session, or buffers it
// when no session is up. A send failure buffers the message, tears the
// session down and returns the failure alongside PublishBuffered.
func (s *SessionManager) Publish(topic string, payload []byte, now time.Time) (PublishOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionConnected {
		s.params.Outbox.Enqueue(OutboundMessage{Topic: topic, Payload: payload, EnqueuedAt: now})
		return PublishBuffered, nil
	}

	if err := s.params.Transport.Send(topic, payload); err != nil {
		err = fmt.Errorf("%w: %v", ErrTransportWriteFailure, err)
		s.params.Outbox.Enqueue(OutboundMessage{Topic: topic, Payload: payload, EnqueuedAt: now})
		s.toBackoffLocked(now, err)
		return PublishBuffered, err
	}
	s.sent++
	return PublishSent, nil
}

// Subscribe registers handler for topic, with MQTT-style + and #
// wildcard matching. Registrations survive reconnects: every topic is
// re-issued to the transport after each successful connect. When a
// session is live the subscription is also issued immediately; an
// issue failure is returned but the registration is kept.
func (s *SessionManager) Subscribe(topic string, handler InboundHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.subs {
		if s.subs[i].topic == topic {
			s.subs[i].handler = handler
			found = true
			break
		}
	}
	if !found {
		s.subs = append(s.subs, subscription{topic: topic, handler: handler})
	}

	if s.state == SessionConnected {
		if err := s.params.Transport.Subscribe(topic); err != nil {
			return fmt.Errorf("subscribe %q: %w", topic, err)
		}
	}
	return nil
}

// HandleLinkState reacts to link transitions. Loss of association tears
// the session down immediately; restoration is picked up by the next
// Tick so that all connect work stays on the tick goroutine.
func (s *SessionManager) HandleLinkState(st LinkState) {
	if st == LinkAssociated {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionDisconnected {
		return
	}
	s.disconnectLocked(st)
}

// Tick drives the session state machine: connect when the link permits,
// retry when backoff expires, and poll the live session for liveness
// and inbound messages.
func (s *SessionManager) Tick(now time.Time) {
	s.mu.Lock()
	var deliveries []delivery
	switch s.state {
	case SessionDisconnected:
		if s.params.Link.State() == LinkAssociated {
			s.connectLocked(now)
		}
	case SessionBackoff:
		if s.params.Link.State() != LinkAssociated {
			s.disconnectLocked(s.params.Link.State())
		} else if s.retry.Ready(now) {
			s.connectLocked(now)
		}
	case SessionConnected:
		msgs, err := s.params.Transport.Poll()
		if err != nil {
			s.toBackoffLocked(now, err)
			break
		}
		deliveries = s.matchLocked(msgs)
	case SessionConnecting:
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		d := d
		if rec := panics.Try(func() { d.handler(d.msg) }); rec != nil {
			s.log.Error().
				Err(rec.AsError()).
				Str("topic", d.msg.Topic).
				Msg("inbound handler panicked")
		}
	}
}

// connectLocked runs one full connect attempt: handshake, status
// announcement, subscription re-issue, then outbox drain. Any failure
// along the way moves the session to Backoff.
func (s *SessionManager) connectLocked(now time.Time) {
	s.state = SessionConnecting
	if err := s.params.Transport.Open(s.params.ClientID); err != nil {
		s.toBackoffLocked(now, fmt.Errorf("%w: %v", ErrHandshakeFailure, err))
		return
	}
	s.state = SessionConnected
	s.reconnects++
	s.lastConnectAt = now
	s.retry.Reset()
	s.log.Info().Str("client_id", s.params.ClientID).Msg("session connected")

	// The status announcement is re-issued on every connect, so a lost
	// one is not buffered for replay.
	if s.params.StatusTopic != "" {
		if err := s.params.Transport.Send(s.params.StatusTopic, []byte(StatusOnline)); err != nil {
			s.toBackoffLocked(now, fmt.Errorf("%w: %v", ErrTransportWriteFailure, err))
			return
		}
		s.sent++
	}

	for _, sub := range s.subs {
		if err := s.params.Transport.Subscribe(sub.topic); err != nil {
			s.toBackoffLocked(now, fmt.Errorf("subscribe %q: %v", sub.topic, err))
			return
		}
	}

	s.drainLocked(now)
}

// drainLocked replays buffered messages in FIFO order. On a send
// failure the failed message and everything behind it go back to the
// front of the outbox, still in order.
func (s *SessionManager) drainLocked(now time.Time) {
	msgs := s.params.Outbox.DequeueAll()
	for i, msg := range msgs {
		if err := s.params.Transport.Send(msg.Topic, msg.Payload); err != nil {
			s.params.Outbox.Requeue(msgs[i:])
			s.toBackoffLocked(now, fmt.Errorf("%w: %v", ErrTransportWriteFailure, err))
			return
		}
		s.sent++
	}
	if len(msgs) > 0 {
		s.log.Debug().Int("count", len(msgs)).Msg("outbox drained")
	}
}

func (s *SessionManager) matchLocked(msgs []InboundMessage) []delivery {
	var out []delivery
	for _, msg := range msgs {
		for _, sub := range s.subs {
			if TopicMatches(sub.topic, msg.Topic) {
				out = append(out, delivery{handler: sub.handler, msg: msg})
			}
		}
	}
	return out
}

func (s *SessionManager) toBackoffLocked(now time.Time, err error) {
	_ = s.params.Transport.Close()
	s.state = SessionBackoff
	d := s.retry.Fail(now)
	s.log.Warn().Err(err).Dur("retry_in", d).Msg("session down")
}

func (s *SessionManager) disconnectLocked(link LinkState) {
	_ = s.params.Transport.Close()
	s.state = SessionDisconnected
	s.retry.Reset()
	s.log.Warn().Str("link", link.String()).Msg("session closed, link not associated")
}
