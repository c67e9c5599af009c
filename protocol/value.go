package protocol

import "fmt"

// ValueType tags which payload of a Value is meaningful.
type ValueType int

const (
	// NoValue is the sentinel for "nothing proposed yet".
	NoValue ValueType = -1
	// TicketSaleValue carries a TicketSale.
	TicketSaleValue ValueType = 0
	// ConfigChangeValue carries a ConfigChange.
	ConfigChangeValue ValueType = 1
)

// TicketSale sells TicketCount tickets to ClientID.
type TicketSale struct {
	ClientID    int
	TicketCount int
}

func (ts TicketSale) String() string {
	return fmt.Sprintf("ts(%d, %d)", ts.ClientID, ts.TicketCount)
}

// ConfigChange adds two nodes to the membership, ActivationDelay slots after it commits.
type ConfigChange struct {
	NewNodeA NodeID
	NewNodeB NodeID
}

func (cc ConfigChange) String() string {
	return fmt.Sprintf("cc(%d, %d)", cc.NewNodeA, cc.NewNodeB)
}

// Value is the command agreed upon for a slot.
// Only the payload matching Type is meaningful.
type Value struct {
	Type   ValueType
	Sale   TicketSale
	Change ConfigChange
}

// EmptyValue returns the no-op sentinel.
func EmptyValue() Value {
	return Value{Type: NoValue}
}

// NewTicketSale builds a ticket sale value.
func NewTicketSale(clientID, count int) Value {
	return Value{Type: TicketSaleValue, Sale: TicketSale{ClientID: clientID, TicketCount: count}}
}

// NewConfigChange builds a configuration change value.
func NewConfigChange(a, b NodeID) Value {
	return Value{Type: ConfigChangeValue, Change: ConfigChange{NewNodeA: a, NewNodeB: b}}
}

// IsEmpty reports whether v is the no-op sentinel.
func (v Value) IsEmpty() bool {
	return v.Type == NoValue
}

// Equal compares the tag first and then only the payload the tag selects.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case TicketSaleValue:
		return v.Sale == other.Sale
	case ConfigChangeValue:
		return v.Change == other.Change
	}
	return true
}

func (v Value) String() string {
	switch v.Type {
	case TicketSaleValue:
		return v.Sale.String()
	case ConfigChangeValue:
		return v.Change.String()
	}
	return "ø"
}
