package protocol

import "github.com/pkg/errors"

// StableStore is used to provide stable storage for the replicated log.
// This interface is the same as the one defined in hashicorp/raft,
// so github.com/hashicorp/raft-boltdb can be used as is.
type StableStore interface {
	Set(key []byte, val []byte) error
	// Get returns the value for key, or an error saying "not found" if key was not found.
	Get(key []byte) ([]byte, error)
	SetUint64(key []byte, val uint64) error
	// GetUint64 returns the uint64 value for key, or 0 if key was not found.
	GetUint64(key []byte) (uint64, error)
}

// both raft-boltdb and InmemStore report a missing key with this message.
const stableStoreNotFoundErr = "not found"

var (
	logKey     = []byte("paxos-log")
	nodeIDKey  = []byte("paxos-node-id")
	errBadNode = errors.New("store belongs to another node")
)

func isNotFound(err error) bool {
	return err != nil && errors.Cause(err).Error() == stableStoreNotFoundErr
}
