package protocol

// AppliedChange is a configuration change and the slot it was committed in.
type AppliedChange struct {
	ActivationSlot int
	Change         ConfigChange
}

// AppliedState is the result of replaying the committed prefix of the log in slot order.
// It only ever moves forward.
type AppliedState struct {
	LastApplied int
	SoldTickets int
	Changes     []AppliedChange
}

// apply folds the value committed at slot into the state.
// Anything but the slot directly after LastApplied is ignored.
func (s *AppliedState) apply(slot int, v Value) bool {
	if s.LastApplied+1 != slot {
		return false
	}
	switch v.Type {
	case TicketSaleValue:
		s.SoldTickets += v.Sale.TicketCount
	case ConfigChangeValue:
		s.Changes = append(s.Changes, AppliedChange{ActivationSlot: slot, Change: v.Change})
	}
	s.LastApplied = slot
	return true
}

// replay applies committed slots starting at LastApplied+1 and stops at the first gap.
// It returns the number of slots applied.
func (s *AppliedState) replay(l *ReplicatedLog) int {
	applied := 0
	for {
		slot := s.LastApplied + 1
		st := l.Get(slot)
		if !l.Has(slot) || !st.Committed {
			return applied
		}
		s.apply(slot, st.Value)
		applied++
	}
}

// Members returns every node taking part in consensus for slot:
// the base members plus both nodes of each change committed at least delay slots earlier.
func (s *AppliedState) Members(base []NodeID, delay, slot int) []NodeID {
	seen := map[NodeID]bool{}
	var res []NodeID
	add := func(id NodeID) {
		if !seen[id] {
			seen[id] = true
			res = append(res, id)
		}
	}
	for _, id := range base {
		add(id)
	}
	for _, c := range s.Changes {
		if c.ActivationSlot+delay <= slot {
			add(c.Change.NewNodeA)
			add(c.Change.NewNodeB)
		}
	}
	return res
}

// Peers is Members without self; it is what a node fans out to for slot.
func (s *AppliedState) Peers(self NodeID, base []NodeID, delay, slot int) []NodeID {
	var res []NodeID
	for _, id := range s.Members(base, delay, slot) {
		if id != self {
			res = append(res, id)
		}
	}
	return res
}
