package protocol

import (
	"bytes"
	"encoding/gob"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/pkg/errors"
)

// SlotState is the consensus state an acceptor keeps for one log slot.
// Accepted never outranks Promised, and once Committed is set neither Accepted nor Value change again.
type SlotState struct {
	Promised  Ballot
	Accepted  Ballot
	Value     Value
	Committed bool
}

func newSlotState(slot int) SlotState {
	return SlotState{
		Promised: initialBallot(slot),
		Accepted: initialBallot(slot),
		Value:    EmptyValue(),
	}
}

// LogRecord is a slot together with its state, in slot order.
type LogRecord struct {
	Slot  int
	State SlotState
}

// ReplicatedLog maps slot index to SlotState, ordered by slot.
// It is not safe for concurrent use; the owning Node serialises access.
type ReplicatedLog struct {
	slots *treemap.Map
}

// NewReplicatedLog returns an empty log.
func NewReplicatedLog() *ReplicatedLog {
	return &ReplicatedLog{slots: treemap.NewWithIntComparator()}
}

// Get returns the state of slot, or a fresh state if the slot was never touched.
func (l *ReplicatedLog) Get(slot int) SlotState {
	if v, found := l.slots.Get(slot); found {
		return v.(SlotState)
	}
	return newSlotState(slot)
}

// Has reports whether slot has ever been written.
func (l *ReplicatedLog) Has(slot int) bool {
	_, found := l.slots.Get(slot)
	return found
}

// Put stores the state of slot.
func (l *ReplicatedLog) Put(slot int, s SlotState) {
	l.slots.Put(slot, s)
}

// Delete forgets slot entirely.
func (l *ReplicatedLog) Delete(slot int) {
	l.slots.Remove(slot)
}

// Len is the number of slots written so far.
func (l *ReplicatedLog) Len() int {
	return l.slots.Size()
}

// IsCommitted reports whether slot has been decided.
func (l *ReplicatedLog) IsCommitted(slot int) bool {
	return l.Get(slot).Committed
}

// LastCommitted returns the highest committed slot, or 0 if nothing is committed.
func (l *ReplicatedLog) LastCommitted() int {
	it := l.slots.Iterator()
	for it.End(); it.Prev(); {
		if it.Value().(SlotState).Committed {
			return it.Key().(int)
		}
	}
	return 0
}

// CommittedFrom returns every committed slot at or after from.
func (l *ReplicatedLog) CommittedFrom(from int) map[int]SlotState {
	res := map[int]SlotState{}
	next := from
	for {
		k, v := l.slots.Ceiling(next)
		if k == nil {
			break
		}
		slot := k.(int)
		if s := v.(SlotState); s.Committed {
			res[slot] = s
		}
		next = slot + 1
	}
	return res
}

// Records returns all slots in increasing slot order.
func (l *ReplicatedLog) Records() []LogRecord {
	records := make([]LogRecord, 0, l.slots.Size())
	it := l.slots.Iterator()
	for it.Next() {
		records = append(records, LogRecord{Slot: it.Key().(int), State: it.Value().(SlotState)})
	}
	return records
}

// MarshalBinary encodes the whole log as a gob snapshot.
func (l *ReplicatedLog) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(l.Records()); err != nil {
		return nil, errors.Wrap(err, "unable to encode log")
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the contents of the log with a snapshot produced by MarshalBinary.
func (l *ReplicatedLog) UnmarshalBinary(data []byte) error {
	var records []LogRecord
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&records); err != nil {
		return errors.Wrap(err, "unable to decode log")
	}
	l.slots.Clear()
	for _, r := range records {
		l.slots.Put(r.Slot, r.State)
	}
	return nil
}
