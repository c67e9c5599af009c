package protocol

import (
	"reflect"
	"testing"
)

func TestAppliedStateReplay(t *testing.T) {
	l := NewReplicatedLog()
	l.Put(1, committedState(1, 0, 1, NewTicketSale(1, 10)))
	l.Put(2, committedState(1, 0, 2, NewConfigChange(3, 4)))
	l.Put(4, committedState(1, 0, 4, NewTicketSale(2, 5)))

	var s AppliedState
	if n := s.replay(l); n != 2 {
		t.Errorf("\nreplay() up to the gap \ngot = %#+v, \nwanted = %#+v", n, 2)
	}
	want := AppliedState{
		LastApplied: 2,
		SoldTickets: 10,
		Changes:     []AppliedChange{{ActivationSlot: 2, Change: ConfigChange{NewNodeA: 3, NewNodeB: 4}}},
	}
	if !reflect.DeepEqual(s, want) {
		t.Errorf("\nreplay() \ngot = %#+v, \nwanted = %#+v", s, want)
	}

	// replaying again with nothing new changes nothing.
	if n := s.replay(l); n != 0 || !reflect.DeepEqual(s, want) {
		t.Errorf("\nsecond replay() applied %d \ngot = %#+v, \nwanted = %#+v", n, s, want)
	}

	l.Put(3, committedState(1, 0, 3, NewTicketSale(3, 1)))
	if n := s.replay(l); n != 2 {
		t.Errorf("\nreplay() after filling the gap \ngot = %#+v, \nwanted = %#+v", n, 2)
	}
	if s.LastApplied != 4 || s.SoldTickets != 16 {
		t.Errorf("\nreplay() after filling the gap \ngot = %#+v", s)
	}
}

func TestAppliedStateApply(t *testing.T) {
	s := AppliedState{LastApplied: 3, SoldTickets: 7}
	if s.apply(3, NewTicketSale(1, 1)) || s.apply(5, NewTicketSale(1, 1)) {
		t.Error("apply() accepted a slot other than LastApplied+1")
	}
	if !s.apply(4, EmptyValue()) || s.LastApplied != 4 || s.SoldTickets != 7 {
		t.Errorf("\napply() of an empty value \ngot = %#+v", s)
	}
}

func TestAppliedStateMembers(t *testing.T) {
	base := []NodeID{0, 1, 2}
	s := AppliedState{
		LastApplied: 5,
		Changes: []AppliedChange{
			{ActivationSlot: 2, Change: ConfigChange{NewNodeA: 3, NewNodeB: 4}},
			{ActivationSlot: 5, Change: ConfigChange{NewNodeA: 4, NewNodeB: 5}},
		},
	}

	tests := []struct {
		name      string
		slot      int
		wantAll   []NodeID
		wantPeers []NodeID
	}{
		{name: "before any activation", slot: 4, wantAll: []NodeID{0, 1, 2}, wantPeers: []NodeID{0, 2}},
		{name: "first change active", slot: 5, wantAll: []NodeID{0, 1, 2, 3, 4}, wantPeers: []NodeID{0, 2, 3, 4}},
		{name: "second change still pending", slot: 7, wantAll: []NodeID{0, 1, 2, 3, 4}, wantPeers: []NodeID{0, 2, 3, 4}},
		{name: "both changes active", slot: 8, wantAll: []NodeID{0, 1, 2, 3, 4, 5}, wantPeers: []NodeID{0, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Members(base, 3, tt.slot); !reflect.DeepEqual(got, tt.wantAll) {
				t.Errorf("\nMembers(%d) \ngot = %#+v, \nwanted = %#+v", tt.slot, got, tt.wantAll)
			}
			if got := s.Peers(1, base, 3, tt.slot); !reflect.DeepEqual(got, tt.wantPeers) {
				t.Errorf("\nPeers(%d) \ngot = %#+v, \nwanted = %#+v", tt.slot, got, tt.wantPeers)
			}
		})
	}
}
