package protocol

import (
	"context"

	"github.com/pkg/errors"
)

// DiscoverLeader asks the members of the next slot who they think leads.
// Unreachable members vote Unknown. The first candidate, Unknown included, to collect votes from half
// of the members wins; with this node's own voice that is a majority of the membership.
func (n *Node) DiscoverLeader(ctx context.Context) NodeID {
	n.mu.Lock()
	peers := n.peersLocked(n.log.LastCommitted() + 1)
	n.mu.Unlock()
	if len(peers) == 0 {
		return Unknown
	}
	needed := len(peers) / 2
	if needed < 1 {
		needed = 1
	}

	type leaderResult struct {
		id  NodeID
		err error
	}
	results := make(chan leaderResult, len(peers))
	for _, id := range peers {
		go func(id NodeID) {
			t, ok := n.peer(id)
			if !ok {
				results <- leaderResult{err: errors.Errorf("no transport for node:%v", id)}
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, n.conf.CallTimeout)
			defer cancel()
			leader, err := t.TransportGetLeader(callCtx)
			results <- leaderResult{leader, err}
		}(id)
	}

	votes := map[NodeID]int{}
	for i := 0; i < len(peers); i++ {
		res := <-results
		candidate := res.id
		if res.err != nil {
			candidate = Unknown
		}
		votes[candidate]++
		n.logger.Debug("discovering leader", "vote", int(candidate), "votes", votes[candidate], "needed", needed)
		if votes[candidate] >= needed {
			return candidate
		}
	}
	return Unknown
}

// LearnLog pulls the committed slots from the believed leader, merges them and replays the applied state.
// It returns ErrNoLeader when no remote leader is known; the local committed prefix is replayed regardless.
func (n *Node) LearnLog(ctx context.Context) error {
	leader, id, ok := n.leaderPeer()
	if !ok {
		n.mu.Lock()
		n.state.replay(n.log)
		n.mu.Unlock()
		return ErrNoLeader
	}

	n.mu.Lock()
	from := n.state.LastApplied
	n.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, n.conf.CallTimeout)
	defer cancel()
	entries, err := leader.TransportGetLog(callCtx, from)
	if err != nil {
		return errors.Wrapf(err, "unable to get log from leader:%v", id)
	}

	n.mu.Lock()
	err = n.mergeLocked(entries)
	n.mu.Unlock()
	n.fatal(err)
	return err
}

// mergeLocked stores committed entries learned from another node, persists and replays.
func (n *Node) mergeLocked(entries map[int]SlotState) error {
	if n.halted {
		return ErrNodeHalted
	}
	merged := 0
	for _, slot := range sortedSlots(entries) {
		remote := entries[slot]
		if !remote.Committed {
			continue
		}
		local := n.log.Get(slot)
		if local.Committed {
			if !local.Value.Equal(remote.Value) {
				err := errors.Wrapf(ErrConsistencyViolation,
					"slot:%v learned %v but decided %v", slot, remote.Value, local.Value)
				return n.haltLocked(err)
			}
			continue
		}
		n.log.Put(slot, remote)
		merged++
	}
	applied := n.state.replay(n.log)
	if merged > 0 {
		if err := n.persistLocked(); err != nil {
			return err
		}
	}
	n.logger.Info("learned log", "merged", merged, "applied", applied, "last_applied", n.state.LastApplied)
	return nil
}

// DetectLeader discovers the leader, catches up from it and persists the result.
// It runs at startup and whenever leadership looks stale.
func (n *Node) DetectLeader(ctx context.Context) NodeID {
	leader := n.DiscoverLeader(ctx)

	n.mu.Lock()
	n.currentLeader = leader
	n.lastHeartbeat = n.conf.Now()
	n.mu.Unlock()
	n.logger.Info("detected leader", "leader", int(leader))

	if err := n.LearnLog(ctx); err != nil && errors.Cause(err) != ErrNoLeader {
		n.logger.Warn("unable to catch up", "leader", int(leader), "error", err)
	}

	n.mu.Lock()
	if err := n.persistLocked(); err != nil {
		n.logger.Error("unable to persist log", "error", err)
	}
	n.mu.Unlock()
	return leader
}

// scheduleCatchUpLocked pulls missing slots in the background; one catch-up runs at a time.
func (n *Node) scheduleCatchUpLocked() {
	if n.catchingUp {
		return
	}
	started := n.spawnLocked(func(ctx context.Context) {
		err := n.LearnLog(ctx)
		if err != nil && errors.Cause(err) != ErrNoLeader {
			n.logger.Warn("background catch up failed", "error", err)
		}
		n.mu.Lock()
		n.catchingUp = false
		n.mu.Unlock()
	})
	n.catchingUp = started
}
