package protocol

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Config tunes a Node. Use DefaultConfig and override what you need.
type Config struct {
	// HeartbeatInterval is how often a leader broadcasts heartbeats.
	HeartbeatInterval time.Duration
	// LeaderLease is how long a node keeps believing it leads after its last heartbeat quorum.
	LeaderLease time.Duration
	// LeaderStaleAfter is how long a node trusts a remote leader without hearing from it.
	LeaderStaleAfter time.Duration
	// CallTimeout bounds every prepare/accept/inform/get_leader/get_log call to a peer.
	CallTimeout time.Duration
	// HeartbeatTimeout bounds every heartbeat call to a peer.
	HeartbeatTimeout time.Duration

	// TicketCapacity is the total inventory; acceptors refuse sales that would exceed it.
	TicketCapacity int
	// BaseMembers take part in every slot.
	BaseMembers []NodeID
	// ActivationDelay is how many slots after its commit a config change takes effect.
	ActivationDelay int

	Logger hclog.Logger
	// OnFatal is called once when the node detects a consistency violation.
	// It defaults to a panic.
	OnFatal func(error)
	// Now is the clock used for leadership timing.
	Now func() time.Time
}

// DefaultConfig returns the settings the cluster runs with in production.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 300 * time.Millisecond,
		LeaderLease:       750 * time.Millisecond,
		LeaderStaleAfter:  time.Second,
		CallTimeout:       400 * time.Millisecond,
		HeartbeatTimeout:  100 * time.Millisecond,
		TicketCapacity:    100,
		BaseMembers:       []NodeID{0, 1, 2},
		ActivationDelay:   3,
	}
}

func (c *Config) validate() error {
	for name, d := range map[string]time.Duration{
		"HeartbeatInterval": c.HeartbeatInterval,
		"LeaderLease":       c.LeaderLease,
		"LeaderStaleAfter":  c.LeaderStaleAfter,
		"CallTimeout":       c.CallTimeout,
		"HeartbeatTimeout":  c.HeartbeatTimeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.TicketCapacity <= 0 {
		return errors.Errorf("TicketCapacity must be positive, got %d", c.TicketCapacity)
	}
	if len(c.BaseMembers) == 0 {
		return errors.New("BaseMembers must not be empty")
	}
	if c.ActivationDelay < 0 {
		return errors.Errorf("ActivationDelay must not be negative, got %d", c.ActivationDelay)
	}
	return nil
}
