package adapters

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"pinpilot-telemetry/application"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	net.Conn
}

func (fakeConn) Close() error { return nil }

func waitEvent(t *testing.T, events <-chan application.LinkEvent) application.LinkEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no link event")
		return application.LinkEvent{}
	}
}

func TestNetProbe_AssociateSuccess(t *testing.T) {
	events := make(chan application.LinkEvent, 2)

	probe, err := NewNetProbe(NetProbeParams{
		Addr:    "192.168.1.10:1883",
		OnEvent: func(ev application.LinkEvent) { events <- ev },
		// for testing
		DialFunc: func(network, addr string, timeout time.Duration) (net.Conn, error) {
			return fakeConn{}, nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, application.LinkStatusDown, probe.AssociationStatus())

	require.NoError(t, probe.BeginAssociation())

	ev := waitEvent(t, events)
	assert.Equal(t, application.LinkUp, ev.Type)
	assert.Equal(t, application.LinkStatusUp, probe.AssociationStatus())
}

func TestNetProbe_AssociateFailure(t *testing.T) {
	events := make(chan application.LinkEvent, 2)

	probe, err := NewNetProbe(NetProbeParams{
		Addr:    "192.168.1.10:1883",
		OnEvent: func(ev application.LinkEvent) { events <- ev },
		// for testing
		DialFunc: func(network, addr string, timeout time.Duration) (net.Conn, error) {
			return nil, fmt.Errorf("no route to host")
		},
	})
	require.NoError(t, err)

	require.NoError(t, probe.BeginAssociation())

	ev := waitEvent(t, events)
	assert.Equal(t, application.LinkDown, ev.Type)
	assert.ErrorIs(t, ev.Err, application.ErrLinkFailure)
	assert.Equal(t, application.LinkStatusDown, probe.AssociationStatus())
}

func TestNetProbe_BeginAssociationSingleFlight(t *testing.T) {
	events := make(chan application.LinkEvent, 2)
	gate := make(chan struct{})
	var dials int32

	probe, err := NewNetProbe(NetProbeParams{
		Addr:    "192.168.1.10:1883",
		OnEvent: func(ev application.LinkEvent) { events <- ev },
		// for testing
		DialFunc: func(network, addr string, timeout time.Duration) (net.Conn, error) {
			atomic.AddInt32(&dials, 1)
			<-gate
			return fakeConn{}, nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, probe.BeginAssociation())
	require.Equal(t, application.LinkStatusPending, probe.AssociationStatus())

	// further begins while the probe is in flight do not dial again
	require.NoError(t, probe.BeginAssociation())
	require.NoError(t, probe.BeginAssociation())

	close(gate)
	waitEvent(t, events)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
	assert.Equal(t, application.LinkStatusUp, probe.AssociationStatus())

	// and an established link is left alone too
	require.NoError(t, probe.BeginAssociation())
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestNetProbe_WatchMarksLinkDown(t *testing.T) {
	events := make(chan application.LinkEvent, 2)
	var failing int32

	probe, err := NewNetProbe(NetProbeParams{
		Addr:            "192.168.1.10:1883",
		RecheckInterval: 10 * time.Millisecond,
		OnEvent:         func(ev application.LinkEvent) { events <- ev },
		// for testing
		DialFunc: func(network, addr string, timeout time.Duration) (net.Conn, error) {
			if atomic.LoadInt32(&failing) == 1 {
				return nil, fmt.Errorf("network is unreachable")
			}
			return fakeConn{}, nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, probe.BeginAssociation())
	ev := waitEvent(t, events)
	require.Equal(t, application.LinkUp, ev.Type)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- probe.Watch(ctx) }()

	atomic.StoreInt32(&failing, 1)

	ev = waitEvent(t, events)
	assert.Equal(t, application.LinkDown, ev.Type)
	assert.Equal(t, application.LinkStatusDown, probe.AssociationStatus())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}
