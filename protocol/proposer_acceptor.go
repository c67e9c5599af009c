package protocol

import "context"

// Acceptor is the surface a node exposes to its peers.
type Acceptor interface {
	Heartbeat(from NodeID) (bool, error)
	Prepare(b Ballot) (Promise, error)
	Accept(b Ballot, v Value) (bool, error)
	Inform(b Ballot, v Value) error
	LeaderID() NodeID
	GetLog(fromSlot int) (map[int]SlotState, error)
}

// Proposer is the surface a node exposes to clients.
// Every proposal returns the leader the client should talk to, or Unknown.
type Proposer interface {
	Buy(ctx context.Context, count, clientID int) NodeID
	ConfigChange(ctx context.Context, a, b NodeID) NodeID
	Show() string
}

// ProposerAcceptor is an entity that is both a proposer and an acceptor.
type ProposerAcceptor interface {
	Proposer
	Acceptor
}

var _ ProposerAcceptor = (*Node)(nil)
