package protocol

import (
	"context"
	"time"
)

// touchLeaderLocked refreshes the heartbeat timestamp when a message comes from the believed leader.
func (n *Node) touchLeaderLocked(from NodeID) {
	if from == n.currentLeader && from != n.ID {
		n.lastHeartbeat = n.conf.Now()
	}
}

// Heartbeat handles the heartbeat RPC. It is only accepted from the believed leader.
func (n *Node) Heartbeat(from NodeID) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.halted {
		return false, ErrNodeHalted
	}
	if from != n.currentLeader {
		return false, nil
	}
	n.lastHeartbeat = n.conf.Now()
	return true, nil
}

// AmILeader is true while this node believes it leads and its lease has not run out.
func (n *Node) AmILeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.amILeaderLocked()
}

func (n *Node) amILeaderLocked() bool {
	if n.conf.Now().Sub(n.lastHeartbeat) > n.conf.LeaderLease {
		return false
	}
	return n.currentLeader == n.ID
}

// LeaderID returns this node if it leads, the believed leader if it was heard from recently, and Unknown otherwise.
func (n *Node) LeaderID() NodeID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderIDLocked()
}

func (n *Node) leaderIDLocked() NodeID {
	if n.amILeaderLocked() {
		return n.ID
	}
	if n.conf.Now().Sub(n.lastHeartbeat) < n.conf.LeaderStaleAfter {
		return n.currentLeader
	}
	return Unknown
}

// leaderPeer returns the transport of a recently heard-from remote leader.
func (n *Node) leaderPeer() (Transport, NodeID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.currentLeader == Unknown || n.conf.Now().Sub(n.lastHeartbeat) > n.conf.LeaderStaleAfter {
		return nil, Unknown, false
	}
	t, ok := n.peers[n.currentLeader]
	return t, n.currentLeader, ok
}

// SendHeartbeats broadcasts a heartbeat to the members of the latest committed slot.
// If at least half of them answer, the leader's own lease is renewed.
func (n *Node) SendHeartbeats(ctx context.Context) bool {
	n.mu.Lock()
	if n.halted || !n.amILeaderLocked() {
		n.mu.Unlock()
		return false
	}
	peers := n.peersLocked(n.log.LastCommitted())
	n.mu.Unlock()

	results := make(chan bool, len(peers))
	for _, id := range peers {
		go func(id NodeID) {
			t, ok := n.peer(id)
			if !ok {
				results <- false
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, n.conf.HeartbeatTimeout)
			defer cancel()
			ok, err := t.TransportHeartbeat(callCtx, n.ID)
			results <- err == nil && ok
		}(id)
	}
	count := 0
	for i := 0; i < len(peers); i++ {
		if <-results {
			count++
		}
	}

	if count < len(peers)/2 {
		n.logger.Debug("heartbeat quorum lost", "acks", count, "peers", len(peers))
		return false
	}
	n.mu.Lock()
	n.lastHeartbeat = n.conf.Now()
	n.mu.Unlock()
	return true
}

// startHeartbeatsLocked starts the heartbeat loop unless it already runs.
func (n *Node) startHeartbeatsLocked() {
	if n.heartbeating {
		return
	}
	if n.spawnLocked(n.heartbeatLoop) {
		n.heartbeating = true
	}
}

// heartbeatLoop sends heartbeats every HeartbeatInterval, minus the time the previous round took,
// for as long as this node leads. It exits when the node is closed.
func (n *Node) heartbeatLoop(ctx context.Context) {
	n.logger.Info("heartbeat loop started")
	defer n.logger.Info("heartbeat loop stopped")

	// the win that started the loop just renewed the lease, so the first round waits a full interval.
	timer := time.NewTimer(n.conf.HeartbeatInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		began := time.Now()
		if n.AmILeader() {
			n.SendHeartbeats(ctx)
		}
		wait := n.conf.HeartbeatInterval - time.Since(began)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}
