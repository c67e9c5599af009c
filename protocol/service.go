package protocol

import (
	"context"
	"fmt"
	"strings"
)

// NextSlot is the slot the next command goes to: the first one above the applied prefix.
func (n *Node) NextSlot() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.LastApplied + 1
}

// Buy proposes selling count tickets to clientID and returns the leader the client should talk to.
func (n *Node) Buy(ctx context.Context, count, clientID int) NodeID {
	return n.Propose(ctx, NewTicketSale(clientID, count))
}

// ConfigChange proposes adding nodes a and b to the membership and returns the leader the client should talk to.
func (n *Node) ConfigChange(ctx context.Context, a, b NodeID) NodeID {
	return n.Propose(ctx, NewConfigChange(a, b))
}

// Propose puts v into the next slot.
// A leader goes straight to phase 2, a node that knows of no leader runs both phases,
// and a node that knows of another leader proposes nothing so the client can be redirected.
// The returned id is the leader after the attempt, or Unknown.
// Proposals from one node run one after the other, so concurrent callers never share a slot.
func (n *Node) Propose(ctx context.Context, v Value) NodeID {
	n.proposeMu.Lock()
	defer n.proposeMu.Unlock()

	slot := n.NextSlot()
	_, _, otherLeader := n.leaderPeer()

	switch {
	case n.AmILeader():
		n.logger.Info("proposing on the fast path", "slot", slot, "value", v)
		if err := n.PhaseTwo(ctx, n.fastProposal(slot, v)); err != nil {
			n.logger.Info("fast path failed", "slot", slot, "error", err)
		}
	case !otherLeader:
		n.logger.Info("proposing on the slow path", "slot", slot, "value", v)
		p, err := n.PhaseOne(ctx, v, slot)
		if err != nil {
			n.logger.Info("phase one gave no result", "slot", slot, "error", err)
			break
		}
		if err := n.PhaseTwo(ctx, p); err != nil {
			n.logger.Info("phase two failed", "slot", slot, "error", err)
		}
	default:
		n.logger.Debug("redirecting proposal to leader", "slot", slot)
	}
	return n.LeaderID()
}

// fastProposal builds a phase-2-ready proposal without a prepare round.
func (n *Node) fastProposal(slot int, v Value) Proposal {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := n.log.Get(slot)
	return Proposal{Ballot: Ballot{Number: st.Promised.Number + 1, NodeID: n.ID, Slot: slot}, Value: v}
}

// Show renders the current leader, the sold ticket count and every committed slot.
func (n *Node) Show() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("##### SHOW #####\n")
	fmt.Fprintf(&sb, "Current leader: %d\n", n.leaderIDLocked())
	fmt.Fprintf(&sb, "Sold Tickets: %d\n", n.state.SoldTickets)
	for _, r := range n.log.Records() {
		if !r.State.Committed {
			continue
		}
		fmt.Fprintf(&sb, "Log %d : %v\n", r.Slot, r.State.Value)
	}
	return sb.String()
}
