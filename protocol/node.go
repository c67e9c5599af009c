/*
Package protocol is a Multi-Paxos implementation of a replicated ticket office.

A fixed set of nodes agree, slot by slot, on a log of commands: ticket sales and
cluster membership changes. Every Node is a proposer, an acceptor and a learner.
A node that wins a slot becomes leader, keeps its leadership alive with heartbeats
and skips the prepare phase for subsequent slots while its lease holds.

Example usage:

	package main

	import (
		"context"
		"fmt"

		"github.com/komuw/ticketpaxos/protocol"
	)

	func main() {
		nodes := make([]*protocol.Node, 3)
		for i := range nodes {
			n, err := protocol.NewNode(protocol.NodeID(i), protocol.NewInmemStore(), nil)
			if err != nil {
				panic(err)
			}
			nodes[i] = n
		}
		protocol.MingleNodes(nodes...)

		leader := nodes[0].Buy(context.Background(), 40, 7)
		fmt.Println("leader:", leader)
		fmt.Print(nodes[0].Show())
	}
*/
package protocol

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/sanity-io/litter"
)

var (
	// ErrSlotCommitted is returned when a proposal targets a slot that is already decided.
	ErrSlotCommitted = errors.New("slot already committed")
	// ErrNoQuorum is returned when a phase did not collect a majority.
	ErrNoQuorum = errors.New("no quorum")
	// ErrPreempted is returned when phase 1 ran into a value accepted elsewhere and adopted it.
	ErrPreempted = errors.New("preempted by an already accepted value")
	// ErrNoLeader is returned when an operation needs a known leader and there is none.
	ErrNoLeader = errors.New("no known leader")
	// ErrConsistencyViolation means two different values were decided for one slot.
	ErrConsistencyViolation = errors.New("consistency violation")
	// ErrNodeHalted is returned by every operation of a node that detected a consistency violation.
	ErrNodeHalted = errors.New("node halted")
)

// Node is both a proposer and an acceptor for every slot of the log.
// All mutable state is guarded by one mutex; the mutex is never held across a call to a peer.
type Node struct {
	// ID should be unique to each node in the cluster.
	ID NodeID

	conf   Config
	logger hclog.Logger

	// proposeMu serialises proposals from this node: one slot, one ballot, one value at a time.
	proposeMu sync.Mutex

	mu    sync.Mutex
	log   *ReplicatedLog
	state AppliedState
	store StableStore
	peers map[NodeID]Transport

	currentLeader NodeID
	lastHeartbeat time.Time
	heartbeating  bool
	catchingUp    bool
	halted        bool
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node, reloading whatever log store holds from a previous run.
// A nil conf means DefaultConfig.
func NewNode(ID NodeID, store StableStore, conf *Config) (*Node, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := conf.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	c := *conf
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.OnFatal == nil {
		c.OnFatal = func(err error) { panic(err) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		ID:            ID,
		conf:          c,
		logger:        c.Logger.Named("node").With("id", int(ID)),
		log:           NewReplicatedLog(),
		store:         store,
		peers:         map[NodeID]Transport{},
		currentLeader: Unknown,
		ctx:           ctx,
		cancel:        cancel,
	}
	if err := n.claimStore(); err != nil {
		cancel()
		return nil, err
	}
	if err := n.loadLog(); err != nil {
		cancel()
		return nil, err
	}
	return n, nil
}

// claimStore makes sure store was not written by a different node.
// ids are stored off by one so that an absent key and node 0 can be told apart.
func (n *Node) claimStore() error {
	owner, err := n.store.GetUint64(nodeIDKey)
	if err != nil && !isNotFound(err) {
		return errors.Wrapf(err, "unable to read owner of store for node:%v", n.ID)
	}
	if err == nil && owner != 0 && owner != uint64(n.ID)+1 {
		return errors.Wrapf(errBadNode, "store owned by node:%v, not node:%v", owner-1, n.ID)
	}
	if err := n.store.SetUint64(nodeIDKey, uint64(n.ID)+1); err != nil {
		return errors.Wrapf(err, "unable to claim store for node:%v", n.ID)
	}
	return nil
}

func (n *Node) loadLog() error {
	data, err := n.store.Get(logKey)
	if isNotFound(err) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "unable to load log of node:%v", n.ID)
	}
	if err := n.log.UnmarshalBinary(data); err != nil {
		return errors.Wrapf(err, "unable to load log of node:%v", n.ID)
	}
	applied := n.state.replay(n.log)
	n.logger.Info("loaded log", "slots", n.log.Len(), "applied", applied, "sold", n.state.SoldTickets)
	if n.logger.IsTrace() {
		n.logger.Trace("log contents", "records", litter.Sdump(n.log.Records()))
	}
	return nil
}

// persistLocked writes the whole log to stable storage.
func (n *Node) persistLocked() error {
	data, err := n.log.MarshalBinary()
	if err != nil {
		return err
	}
	if err := n.store.Set(logKey, data); err != nil {
		return errors.Wrapf(err, "unable to flush log of node:%v to disk", n.ID)
	}
	return nil
}

// putLocked stores st for slot and persists it, rolling back the in-memory change if that fails.
func (n *Node) putLocked(slot int, st SlotState) error {
	existed := n.log.Has(slot)
	prev := n.log.Get(slot)
	n.log.Put(slot, st)
	if err := n.persistLocked(); err != nil {
		if existed {
			n.log.Put(slot, prev)
		} else {
			n.log.Delete(slot)
		}
		return err
	}
	return nil
}

// AddPeer registers the transport used to reach node id. Adding an id twice keeps the first transport.
func (n *Node) AddPeer(id NodeID, t Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id == n.ID {
		return
	}
	if _, ok := n.peers[id]; ok {
		return
	}
	n.peers[id] = t
}

// peer looks up the transport of id. Unknown ids are reported, never dereferenced.
func (n *Node) peer(id NodeID) (Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.peers[id]
	return t, ok
}

// MingleNodes lets each in-process node know about the others through an InmemTransport.
func MingleNodes(nodes ...*Node) {
	for _, n := range nodes {
		for _, other := range nodes {
			if other.ID != n.ID {
				n.AddPeer(other.ID, NewInmemTransport(other))
			}
		}
	}
}

// peersLocked returns the nodes, other than n, that take part in slot.
func (n *Node) peersLocked(slot int) []NodeID {
	return n.state.Peers(n.ID, n.conf.BaseMembers, n.conf.ActivationDelay, slot)
}

// Peers returns the nodes, other than n, that take part in slot.
func (n *Node) Peers(slot int) []NodeID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peersLocked(slot)
}

// spawn runs f in a goroutine that Close waits for. It does nothing once the node is closed.
func (n *Node) spawn(f func(ctx context.Context)) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.spawnLocked(f)
}

func (n *Node) spawnLocked(f func(ctx context.Context)) bool {
	if n.closed {
		return false
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		f(n.ctx)
	}()
	return true
}

// haltLocked stops the node from taking part in consensus. The caller reports err via fatal once unlocked.
func (n *Node) haltLocked(err error) error {
	n.halted = true
	n.logger.Error("halting node", "error", err)
	return err
}

// fatal hands consistency violations to Config.OnFatal.
func (n *Node) fatal(err error) {
	if errors.Cause(err) == ErrConsistencyViolation {
		n.conf.OnFatal(err)
	}
}

// Halted reports whether the node stopped after a consistency violation.
func (n *Node) Halted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.halted
}

// State returns a copy of the applied state.
func (n *Node) State() AppliedState {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.state
	s.Changes = append([]AppliedChange(nil), n.state.Changes...)
	return s
}

// Slot returns a copy of the consensus state of slot.
func (n *Node) Slot(slot int) SlotState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.log.Get(slot)
}

// Close stops the heartbeat loop and any background catch-up and waits for them to exit.
// The store is left open; it belongs to the caller.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()
	n.logger.Info("node stopped")
	return nil
}

// sortedSlots returns the keys of entries in increasing order.
func sortedSlots(entries map[int]SlotState) []int {
	slots := make([]int, 0, len(entries))
	for s := range entries {
		slots = append(slots, s)
	}
	sort.Ints(slots)
	return slots
}
