package application

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultLinkMaxRetries = 10

type LinkManagerParams struct {
	Provider   LinkProvider
	Backoff    BackoffConfig
	MaxRetries int
	Rand       *rand.Rand

	// OnFailed fires once when the retry budget is exhausted. The host
	// observes LinkFailed and decides what to do (reboot policy etc.).
	OnFailed func()

	Log zerolog.Logger
}

func (p *LinkManagerParams) EnsureDefaults() {
	if p.Backoff.InitialDelay == 0 {
		p.Backoff.InitialDelay = 250 * time.Millisecond
	}
	if p.Backoff.Multiplier == 0 {
		p.Backoff.Multiplier = 2.0
	}
	if p.Backoff.MaxDelay == 0 {
		p.Backoff.MaxDelay = 5 * time.Second
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultLinkMaxRetries
	}
}

// LinkManager owns the wireless association lifecycle. All transitions
// happen here; the platform provider only reports. State lives behind a
// mutex because providers deliver events from their own goroutines.
type LinkManager struct {
	params LinkManagerParams

	mu    sync.Mutex
	state LinkState
	retry backoff
	subs  []func(LinkState)

	log zerolog.Logger
}

func NewLinkManager(params LinkManagerParams) (*LinkManager, error) {
	if params.Provider == nil {
		return nil, fmt.Errorf("Provider is nil")
	}
	params.EnsureDefaults()

	return &LinkManager{
		params: params,
		state:  LinkDisassociated,
		retry:  backoff{cfg: params.Backoff, rng: params.Rand},
		log:    params.Log,
	}, nil
}

// State returns the current link state.
func (m *LinkManager) State() LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a state-change observer. Observers are called
// outside the manager's lock, on whichever goroutine drove the change.
func (m *LinkManager) Subscribe(fn func(LinkState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// RequestAssociation begins association unless one is already active or
// established; idempotent. Calling it from LinkFailed clears the retry
// budget, so it doubles as the external intervention that re-arms the
// manager.
func (m *LinkManager) RequestAssociation(now time.Time) {
	m.mu.Lock()
	if m.state == LinkAssociated || m.state == LinkAssociating {
		m.mu.Unlock()
		return
	}
	if m.state == LinkFailed {
		m.retry.Reset()
	}
	changes := m.beginLocked(now)
	m.mu.Unlock()
	m.notify(changes)
}

// Tick advances retry logic: due retries begin, in-flight attempts are
// resolved against the provider's reported status, and an established
// link that the provider no longer reports Up is torn down.
func (m *LinkManager) Tick(now time.Time) {
	m.mu.Lock()
	var changes []LinkState
	switch m.state {
	case LinkDisassociated:
		if m.retry.Ready(now) {
			changes = m.beginLocked(now)
		}
	case LinkAssociating:
		switch m.params.Provider.AssociationStatus() {
		case LinkStatusUp:
			changes = m.associatedLocked()
		case LinkStatusDown:
			changes = m.failLocked(now, nil)
		}
	case LinkAssociated:
		if m.params.Provider.AssociationStatus() == LinkStatusDown {
			changes = m.lostLocked(nil)
		}
	case LinkFailed:
	}
	m.mu.Unlock()
	m.notify(changes)
}

// OnLinkEvent is invoked by the platform link provider on association
// success or loss.
func (m *LinkManager) OnLinkEvent(ev LinkEvent) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	m.mu.Lock()
	var changes []LinkState
	switch ev.Type {
	case LinkUp:
		if m.state != LinkAssociated {
			changes = m.associatedLocked()
		}
	case LinkDown:
		switch m.state {
		case LinkAssociated:
			changes = m.lostLocked(ev.Err)
		case LinkAssociating:
			changes = m.failLocked(at, ev.Err)
		default:
			m.log.Debug().Err(ev.Err).Msg("link down event while not associated")
		}
	}
	m.mu.Unlock()
	m.notify(changes)
}

// Retries returns the consecutive failed attempt count.
func (m *LinkManager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retry.Attempts()
}

func (m *LinkManager) beginLocked(now time.Time) []LinkState {
	if err := m.params.Provider.BeginAssociation(); err != nil {
		m.log.Warn().Err(err).Msg("begin association failed")
		return m.failLocked(now, err)
	}
	m.state = LinkAssociating
	m.log.Info().Msg("associating")
	return []LinkState{LinkAssociating}
}

func (m *LinkManager) associatedLocked() []LinkState {
	m.state = LinkAssociated
	m.retry.Reset()
	m.log.Info().Msg("link associated")
	return []LinkState{LinkAssociated}
}

func (m *LinkManager) lostLocked(err error) []LinkState {
	m.state = LinkDisassociated
	m.log.Warn().Err(err).Msg("link lost")
	return []LinkState{LinkDisassociated}
}

func (m *LinkManager) failLocked(now time.Time, err error) []LinkState {
	delay := m.retry.Fail(now)
	if m.retry.Attempts() >= m.params.MaxRetries {
		m.state = LinkFailed
		m.log.Error().Err(err).Int("attempts", m.retry.Attempts()).Msg("association retries exhausted")
		return []LinkState{LinkFailed}
	}
	m.state = LinkDisassociated
	m.log.Warn().Err(err).
		Int("attempt", m.retry.Attempts()).
		Dur("retry_in", delay).
		Msg("association failed")
	return []LinkState{LinkDisassociated}
}

func (m *LinkManager) notify(states []LinkState) {
	if len(states) == 0 {
		return
	}
	m.mu.Lock()
	subs := make([]func(LinkState), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, st := range states {
		for _, fn := range subs {
			fn(st)
		}
		if st == LinkFailed && m.params.OnFailed != nil {
			m.params.OnFailed()
		}
	}
}
