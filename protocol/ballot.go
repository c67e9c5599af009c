package protocol

import "fmt"

// NodeID identifies a node in the cluster. Ids are the node's index in the topology file.
type NodeID int

// Unknown is returned whenever a node has no idea who the leader is.
const Unknown NodeID = 0xFF

// noProposer marks a ballot that no node has ever issued.
const noProposer NodeID = -1

// Ballot is a proposal number for a single log slot.
// To generate it a proposer combines its numerical ID with a per-slot increasing counter: (Number, NodeID).
// Ballots are only comparable within the same slot.
type Ballot struct {
	Number int
	NodeID NodeID
	Slot   int
}

// initialBallot is what every slot starts out with, it is lower than any issued ballot.
func initialBallot(slot int) Ballot {
	return Ballot{Number: 0, NodeID: noProposer, Slot: slot}
}

// GreaterThan reports whether b outranks other.
// NB: this is an inclusive-or of the two components and not a lexicographic comparison;
// a ballot with a lower Number but a higher NodeID also compares greater.
// Peers have to agree on this ordering, so it must not be changed on one node alone.
func (b Ballot) GreaterThan(other Ballot) bool {
	return b.Number > other.Number || b.NodeID > other.NodeID
}

// GreaterThanOrEqual is the loose counterpart of GreaterThan used by acceptors on accept.
func (b Ballot) GreaterThanOrEqual(other Ballot) bool {
	return b.Number >= other.Number || b.NodeID >= other.NodeID
}

func (b Ballot) String() string {
	return fmt.Sprintf("<%d, %d>", b.Number, b.NodeID)
}
