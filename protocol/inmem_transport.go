package protocol

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// errUnreachable is what an InmemTransport returns while its peer is cut off.
var errUnreachable = errors.New("peer unreachable")

// InmemTransport Implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network.
// A transport can be cut off, or told to drop informs only, to simulate partitions.
type InmemTransport struct {
	Node *Node

	mu          sync.RWMutex
	down        bool
	dropInforms bool
}

// NewInmemTransport returns a transport that delivers straight to n.
func NewInmemTransport(n *Node) *InmemTransport {
	return &InmemTransport{Node: n}
}

// SetDown makes every call fail with an error while down is true.
func (it *InmemTransport) SetDown(down bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.down = down
}

// DropInforms silently discards informs while drop is true.
func (it *InmemTransport) DropInforms(drop bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.dropInforms = drop
}

func (it *InmemTransport) reachable(ctx context.Context) error {
	it.mu.RLock()
	defer it.mu.RUnlock()
	if it.down {
		return errUnreachable
	}
	return ctx.Err()
}

// TransportHeartbeat implements the Transport interface.
func (it *InmemTransport) TransportHeartbeat(ctx context.Context, from NodeID) (bool, error) {
	if err := it.reachable(ctx); err != nil {
		return false, err
	}
	return it.Node.Heartbeat(from)
}

// TransportPrepare implements the Transport interface.
func (it *InmemTransport) TransportPrepare(ctx context.Context, b Ballot) (Promise, error) {
	if err := it.reachable(ctx); err != nil {
		return Promise{}, err
	}
	return it.Node.Prepare(b)
}

// TransportAccept implements the Transport interface.
func (it *InmemTransport) TransportAccept(ctx context.Context, b Ballot, v Value) (bool, error) {
	if err := it.reachable(ctx); err != nil {
		return false, err
	}
	return it.Node.Accept(b, v)
}

// TransportInform implements the Transport interface.
func (it *InmemTransport) TransportInform(ctx context.Context, b Ballot, v Value) error {
	if err := it.reachable(ctx); err != nil {
		return err
	}
	it.mu.RLock()
	drop := it.dropInforms
	it.mu.RUnlock()
	if drop {
		return nil
	}
	return it.Node.Inform(b, v)
}

// TransportGetLeader implements the Transport interface.
func (it *InmemTransport) TransportGetLeader(ctx context.Context) (NodeID, error) {
	if err := it.reachable(ctx); err != nil {
		return Unknown, err
	}
	return it.Node.LeaderID(), nil
}

// TransportGetLog implements the Transport interface.
func (it *InmemTransport) TransportGetLog(ctx context.Context, fromSlot int) (map[int]SlotState, error) {
	if err := it.reachable(ctx); err != nil {
		return nil, err
	}
	return it.Node.GetLog(fromSlot)
}
