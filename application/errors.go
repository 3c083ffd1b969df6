package application

import "fmt"

var (
	// ErrLinkFailure classifies association attempts that did not reach
	// the Associated state.
	ErrLinkFailure = fmt.Errorf("link association failure")

	// ErrHandshakeFailure classifies broker connects that were refused
	// or timed out before a session was established.
	ErrHandshakeFailure = fmt.Errorf("session handshake failure")

	// ErrTransportWriteFailure classifies sends that failed on an
	// established session. The session is torn down when it occurs.
	ErrTransportWriteFailure = fmt.Errorf("transport write failure")

	// ErrBufferOverflowDrop classifies outbox overflow. It is recorded,
	// never returned: enqueue succeeds by dropping the oldest message.
	ErrBufferOverflowDrop = fmt.Errorf("outbox overflow, oldest dropped")
)
