// Package config loads the cluster topology shared by the node daemon and the client.
package config

import (
	"encoding/json"
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/komuw/ticketpaxos/protocol"
)

// Node is where one member of the cluster listens.
type Node struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Topology lists every node of the cluster. A node's id is its index in Nodes.
type Topology struct {
	Nodes []Node `json:"nodes"`
}

// LoadTopology reads and validates a topology file such as:
//
//	{"nodes": [{"ip": "127.0.0.1", "port": 5000}, {"ip": "127.0.0.1", "port": 5001}]}
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read topology file:%v", path)
	}
	t, err := ParseTopology(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid topology file:%v", path)
	}
	return t, nil
}

// ParseTopology decodes and validates a JSON topology.
func ParseTopology(data []byte) (*Topology, error) {
	t := &Topology{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, errors.Wrap(err, "unable to decode topology")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that there is at least one node, that every node has an ip and a valid port,
// and that no two nodes share an address.
func (t *Topology) Validate() error {
	if len(t.Nodes) == 0 {
		return errors.New("topology has no nodes")
	}
	if len(t.Nodes) >= int(protocol.Unknown) {
		return errors.Errorf("topology has %d nodes, at most %d are supported", len(t.Nodes), int(protocol.Unknown)-1)
	}
	seen := map[string]int{}
	for i, n := range t.Nodes {
		if n.IP == "" {
			return errors.Errorf("node:%d has no ip", i)
		}
		if n.Port <= 0 || n.Port > 65535 {
			return errors.Errorf("node:%d has invalid port:%d", i, n.Port)
		}
		addr := n.addr()
		if other, ok := seen[addr]; ok {
			return errors.Errorf("node:%d and node:%d both listen on %v", other, i, addr)
		}
		seen[addr] = i
	}
	return nil
}

func (n Node) addr() string {
	return net.JoinHostPort(n.IP, strconv.Itoa(n.Port))
}

// Addr returns the "host:port" node id listens on.
func (t *Topology) Addr(id protocol.NodeID) (string, error) {
	if id < 0 || int(id) >= len(t.Nodes) {
		return "", errors.Errorf("node:%d is not in the topology of %d nodes", id, len(t.Nodes))
	}
	return t.Nodes[id].addr(), nil
}

// IDs returns the id of every node, in order.
func (t *Topology) IDs() []protocol.NodeID {
	ids := make([]protocol.NodeID, len(t.Nodes))
	for i := range t.Nodes {
		ids[i] = protocol.NodeID(i)
	}
	return ids
}
