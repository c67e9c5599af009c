package protocol

import "context"

// Promise is an acceptor's answer to a prepare.
// Valid is false when the prepare was rejected; AcceptedBallot and AcceptedValue are filled in either way.
type Promise struct {
	Ballot         Ballot
	AcceptedBallot Ballot
	AcceptedValue  Value
	Valid          bool
}

// Transport provides an interface for network transports
// to allow a node to talk to one remote peer.
// Implementations must honour ctx; the node uses it to bound every call.
type Transport interface {
	TransportHeartbeat(ctx context.Context, from NodeID) (bool, error)
	TransportPrepare(ctx context.Context, b Ballot) (Promise, error)
	TransportAccept(ctx context.Context, b Ballot, v Value) (bool, error)
	TransportInform(ctx context.Context, b Ballot, v Value) error
	TransportGetLeader(ctx context.Context) (NodeID, error)
	TransportGetLog(ctx context.Context, fromSlot int) (map[int]SlotState, error)
}
