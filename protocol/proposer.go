package protocol

import (
	"context"

	"github.com/pkg/errors"
)

// Proposal is the outcome of phase 1: the ballot to use and the value phase 2 must propose with it.
type Proposal struct {
	Ballot Ballot
	Value  Value
}

// PhaseOne runs the prepare phase for slot, proposing v unless an already accepted value has to win.
// The proposer generates a fresh Ballot, promises it locally and sends "prepare" messages to the slot's members.
// Proposer waits for a majority of promises.
// If all promises carry the empty value, v is used; otherwise the value accepted under the highest ballot is.
//
// A rejection that carries an accepted value means this proposer is stale:
// the value is adopted as decided locally and ErrPreempted is returned.
// Every error means "no result"; the caller may retry later with a fresh ballot.
func (n *Node) PhaseOne(ctx context.Context, v Value, slot int) (Proposal, error) {
	n.mu.Lock()
	if n.halted {
		n.mu.Unlock()
		return Proposal{}, ErrNodeHalted
	}
	st := n.log.Get(slot)
	if st.Committed {
		n.mu.Unlock()
		return Proposal{}, ErrSlotCommitted
	}
	b := Ballot{Number: st.Promised.Number + 1, NodeID: n.ID, Slot: slot}
	st.Promised = b
	if err := n.putLocked(slot, st); err != nil {
		n.mu.Unlock()
		return Proposal{}, err
	}
	promises := []Promise{{Ballot: b, AcceptedBallot: st.Accepted, AcceptedValue: st.Value, Valid: true}}
	peers := n.peersLocked(slot)
	n.mu.Unlock()

	n.logger.Debug("phase one", "slot", slot, "ballot", b, "peers", peers)

	type prepareResult struct {
		promise Promise
		err     error
	}
	prepareResultChan := make(chan prepareResult, len(peers))
	for _, id := range peers {
		go func(id NodeID) {
			t, ok := n.peer(id)
			if !ok {
				prepareResultChan <- prepareResult{err: errors.Errorf("no transport for node:%v", id)}
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, n.conf.CallTimeout)
			defer cancel()
			p, err := t.TransportPrepare(callCtx, b)
			prepareResultChan <- prepareResult{p, err}
		}(id)
	}

	for i := 0; i < len(peers); i++ {
		res := <-prepareResultChan
		if res.err != nil {
			n.logger.Debug("prepare failed", "slot", slot, "error", res.err)
			continue
		}
		if !res.promise.Valid {
			if res.promise.AcceptedValue.IsEmpty() {
				continue
			}
			n.adopt(res.promise.AcceptedBallot, res.promise.AcceptedValue)
			return Proposal{}, ErrPreempted
		}
		promises = append(promises, res.promise)
	}

	if len(promises) <= len(peers)/2 {
		n.logger.Info("phase one without quorum", "slot", slot, "ballot", b, "promises", len(promises), "peers", len(peers))
		return Proposal{}, ErrNoQuorum
	}
	return Proposal{Ballot: b, Value: chooseValue(promises, v)}, nil
}

// chooseValue keeps v only if no promise reports an accepted value.
// Otherwise the value accepted under the highest ballot wins.
func chooseValue(promises []Promise, v Value) Value {
	var (
		found bool
		best  Promise
	)
	for _, p := range promises {
		if p.AcceptedValue.IsEmpty() {
			continue
		}
		if !found || p.AcceptedBallot.GreaterThan(best.AcceptedBallot) {
			best = p
			found = true
		}
	}
	if !found {
		return v
	}
	return best.AcceptedValue
}

// adopt replays a decision discovered at a peer: accept it locally, then learn it.
func (n *Node) adopt(b Ballot, v Value) {
	n.mu.Lock()
	var err error
	if _, err = n.acceptLocked(b, v); err == nil {
		err = n.informLocked(b, v)
	}
	n.mu.Unlock()
	if err != nil {
		n.logger.Error("unable to adopt accepted value", "slot", b.Slot, "value", v, "error", err)
	}
	n.fatal(err)
}

// PhaseTwo sends "accept" for p to the slot's members and applies it locally.
// With a majority of acceptances the value is decided: inform is broadcast without waiting for stragglers,
// and this node becomes leader and starts heartbeating.
// Without a majority ErrNoQuorum is returned and the caller may retry phase 1 with a fresh ballot.
func (n *Node) PhaseTwo(ctx context.Context, p Proposal) error {
	b, v := p.Ballot, p.Value

	n.mu.Lock()
	if n.halted {
		n.mu.Unlock()
		return ErrNodeHalted
	}
	peers := n.peersLocked(b.Slot)
	localOK, err := n.acceptLocked(b, v)
	n.mu.Unlock()
	if err != nil {
		n.logger.Error("local accept failed", "slot", b.Slot, "error", err)
	}

	type acceptResult struct {
		ok  bool
		err error
	}
	acceptResultChan := make(chan acceptResult, len(peers))
	for _, id := range peers {
		go func(id NodeID) {
			t, ok := n.peer(id)
			if !ok {
				acceptResultChan <- acceptResult{err: errors.Errorf("no transport for node:%v", id)}
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, n.conf.CallTimeout)
			defer cancel()
			accepted, err := t.TransportAccept(callCtx, b, v)
			acceptResultChan <- acceptResult{accepted, err}
		}(id)
	}

	count := 0
	if localOK {
		count++
	}
	for i := 0; i < len(peers); i++ {
		res := <-acceptResultChan
		if res.err != nil {
			n.logger.Debug("accept failed", "slot", b.Slot, "error", res.err)
			continue
		}
		if res.ok {
			count++
		}
	}

	if count < len(peers)/2+1 {
		n.logger.Info("phase two without quorum", "slot", b.Slot, "ballot", b, "accepted", count, "peers", len(peers))
		return ErrNoQuorum
	}

	for _, id := range peers {
		t, ok := n.peer(id)
		if !ok {
			continue
		}
		n.spawn(func(ctx context.Context) {
			callCtx, cancel := context.WithTimeout(ctx, n.conf.CallTimeout)
			defer cancel()
			if err := t.TransportInform(callCtx, b, v); err != nil {
				n.logger.Debug("inform failed", "slot", b.Slot, "error", err)
			}
		})
	}
	if err := n.Inform(b, v); err != nil {
		return err
	}

	n.mu.Lock()
	n.currentLeader = n.ID
	n.lastHeartbeat = n.conf.Now()
	n.startHeartbeatsLocked()
	n.mu.Unlock()
	return nil
}
