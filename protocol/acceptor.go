package protocol

import (
	"github.com/pkg/errors"
)

// Prepare handles the prepare RPC for an acceptor(node).
// An acceptor promises b if b outranks every ballot it has promised for b.Slot and the slot is not yet decided.
// Either way it answers with what it has accepted so far, so that a proposer can adopt it.
func (n *Node) Prepare(b Ballot) (Promise, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.halted {
		return Promise{}, ErrNodeHalted
	}
	n.touchLeaderLocked(b.NodeID)
	return n.prepareLocked(b)
}

func (n *Node) prepareLocked(b Ballot) (Promise, error) {
	st := n.log.Get(b.Slot)
	p := Promise{Ballot: b, AcceptedBallot: st.Accepted, AcceptedValue: st.Value}
	if st.Committed || !b.GreaterThan(st.Promised) {
		n.logger.Debug("rejecting prepare", "slot", b.Slot, "ballot", b, "promised", st.Promised, "committed", st.Committed)
		return p, nil
	}
	st.Promised = b
	if err := n.putLocked(b.Slot, st); err != nil {
		return p, err
	}
	n.logger.Debug("promised", "slot", b.Slot, "ballot", b, "accepted", st.Value)
	p.Valid = true
	return p, nil
}

// Accept handles the accept RPC for an acceptor(node).
// On success the sender of b becomes this node's believed leader.
func (n *Node) Accept(b Ballot, v Value) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.halted {
		return false, ErrNodeHalted
	}
	n.touchLeaderLocked(b.NodeID)
	ok, err := n.acceptLocked(b, v)
	if ok {
		n.currentLeader = b.NodeID
		n.lastHeartbeat = n.conf.Now()
	}
	return ok, err
}

// acceptLocked records (b, v) as accepted for b.Slot.
// A ticket sale that is empty or would oversell the inventory is refused whatever its ballot.
func (n *Node) acceptLocked(b Ballot, v Value) (bool, error) {
	if v.Type == TicketSaleValue && v.Sale.TicketCount <= 0 {
		n.logger.Info("refusing sale of no tickets", "slot", b.Slot, "value", v)
		return false, nil
	}
	if v.Type == TicketSaleValue && n.state.SoldTickets+v.Sale.TicketCount > n.conf.TicketCapacity {
		n.logger.Info("refusing sale over capacity", "slot", b.Slot, "value", v, "sold", n.state.SoldTickets)
		return false, nil
	}
	st := n.log.Get(b.Slot)
	if st.Committed || !b.GreaterThanOrEqual(st.Promised) {
		n.logger.Debug("rejecting accept", "slot", b.Slot, "ballot", b, "promised", st.Promised, "committed", st.Committed)
		return false, nil
	}
	st.Accepted = b
	st.Value = v
	if b.GreaterThan(st.Promised) {
		st.Promised = b
	}
	if err := n.putLocked(b.Slot, st); err != nil {
		return false, err
	}
	n.logger.Info("accepted", "slot", b.Slot, "value", v, "ballot", b)
	return true, nil
}

// Inform handles the inform RPC: the slot b.Slot is decided with value v.
// Learning a different value than the one decided before is a consistency violation and halts the node.
func (n *Node) Inform(b Ballot, v Value) error {
	n.mu.Lock()
	var err error
	if n.halted {
		err = ErrNodeHalted
	} else {
		n.touchLeaderLocked(b.NodeID)
		err = n.informLocked(b, v)
	}
	n.mu.Unlock()
	n.fatal(err)
	return err
}

func (n *Node) informLocked(b Ballot, v Value) error {
	st := n.log.Get(b.Slot)
	if conflicts(st, b, v) {
		err := errors.Wrapf(ErrConsistencyViolation,
			"slot:%v informed of %v at %v but holds %v at %v (committed:%v)", b.Slot, v, b, st.Value, st.Accepted, st.Committed)
		return n.haltLocked(err)
	}
	if st.Committed {
		return nil
	}
	if !st.Value.Equal(v) {
		// this node missed the winning accept; take the decision as is.
		st.Accepted = b
		st.Value = v
	}
	if st.Accepted.GreaterThan(st.Promised) {
		st.Promised = st.Accepted
	}
	st.Committed = true
	if err := n.putLocked(b.Slot, st); err != nil {
		return err
	}
	applied := n.state.replay(n.log)
	n.logger.Info("decided", "slot", b.Slot, "value", v, "ballot", b, "applied", applied, "sold", n.state.SoldTickets)
	if n.state.LastApplied < b.Slot {
		n.scheduleCatchUpLocked()
	}
	return nil
}

// conflicts reports whether learning (b, v) contradicts what st already holds:
// a different decided value, or a different value accepted under the very same ballot.
func conflicts(st SlotState, b Ballot, v Value) bool {
	if st.Value.IsEmpty() || st.Value.Equal(v) {
		return false
	}
	if st.Committed {
		return true
	}
	return st.Accepted == b
}

// GetLog returns every committed slot at or after fromSlot.
func (n *Node) GetLog(fromSlot int) (map[int]SlotState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.halted {
		return nil, ErrNodeHalted
	}
	return n.log.CommittedFrom(fromSlot), nil
}
