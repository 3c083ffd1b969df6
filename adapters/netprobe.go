package adapters

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"pinpilot-telemetry/application"

	"github.com/rs/zerolog"
)

const (
	NetProbeDefaultTimeout         = 5 * time.Second
	NetProbeDefaultRecheckInterval = 60 * time.Second
)

const (
	netProbeDown uint64 = iota
	netProbePending
	netProbeUp
)

type NetProbeParams struct {
	// Addr is the host:port whose reachability stands in for the
	// network being usable, typically the broker itself or the gateway.
	Addr string

	Timeout time.Duration
	// RecheckInterval is the cadence at which Watch re-probes an
	// established link.
	RecheckInterval time.Duration

	// OnEvent receives up and down transitions from the probe
	// goroutine.
	OnEvent func(ev application.LinkEvent)

	DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

	Log zerolog.Logger
}

func (p *NetProbeParams) EnsureDefaults() {
	if p.Timeout == 0 {
		p.Timeout = NetProbeDefaultTimeout
	}

	if p.RecheckInterval == 0 {
		p.RecheckInterval = NetProbeDefaultRecheckInterval
	}

	if p.DialFunc == nil {
		p.DialFunc = net.DialTimeout
	}
}

// NetProbe implements the link provider on top of a TCP reachability
// probe. BeginAssociation starts a dial on its own goroutine and
// reports through the status flag and the event callback.
type NetProbe struct {
	params NetProbeParams

	status uint64

	log zerolog.Logger
}

func NewNetProbe(params NetProbeParams) (*NetProbe, error) {
	if params.Addr == "" {
		return nil, fmt.Errorf("Addr is empty")
	}
	params.EnsureDefaults()
	return &NetProbe{params: params, log: params.Log}, nil
}

func (n *NetProbe) BeginAssociation() error {
	if !atomic.CompareAndSwapUint64(&n.status, netProbeDown, netProbePending) {
		// a probe is already in flight or the link is already up
		return nil
	}
	go n.probe()
	return nil
}

func (n *NetProbe) AssociationStatus() application.LinkStatus {
	switch atomic.LoadUint64(&n.status) {
	case netProbeUp:
		return application.LinkStatusUp
	case netProbePending:
		return application.LinkStatusPending
	default:
		return application.LinkStatusDown
	}
}

// Watch re-probes an established link until the context ends, so that a
// silently dead network is noticed between association attempts.
func (n *NetProbe) Watch(ctx context.Context) error {
	ticker := time.NewTicker(n.params.RecheckInterval)
	defer ticker.Stop()

WatchLoop:
	for {
		select {
		case <-ctx.Done():
			break WatchLoop
		case <-ticker.C:
			if atomic.LoadUint64(&n.status) != netProbeUp {
				continue
			}
			conn, err := n.params.DialFunc("tcp", n.params.Addr, n.params.Timeout)
			if err != nil {
				n.markDown(err)
				continue
			}
			_ = conn.Close()
		}
	}

	return nil
}

func (n *NetProbe) probe() {
	conn, err := n.params.DialFunc("tcp", n.params.Addr, n.params.Timeout)
	if err != nil {
		n.markDown(err)
		return
	}
	_ = conn.Close()

	atomic.StoreUint64(&n.status, netProbeUp)
	n.log.Info().Str("addr", n.params.Addr).Msg("probe ok, link up")
	n.emit(application.LinkEvent{Type: application.LinkUp, At: time.Now()})
}

func (n *NetProbe) markDown(err error) {
	atomic.StoreUint64(&n.status, netProbeDown)
	n.log.Warn().Err(err).Str("addr", n.params.Addr).Msg("probe failed, link down")
	n.emit(application.LinkEvent{
		Type: application.LinkDown,
		At:   time.Now(),
		Err:  fmt.Errorf("%w: %v", application.ErrLinkFailure, err),
	})
}

func (n *NetProbe) emit(ev application.LinkEvent) {
	if n.params.OnEvent != nil {
		n.params.OnEvent(ev)
	}
}

var _ application.LinkProvider = &NetProbe{}
