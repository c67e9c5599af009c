package protocol

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// fakeClock is a settable clock for the leadership timers.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fatalRecorder collects what nodes hand to Config.OnFatal instead of panicking.
type fatalRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (f *fatalRecorder) record(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fatalRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

// testConfig keeps the heartbeat loop quiet so that only the fake clock moves leadership.
func testConfig(clock *fakeClock, fatals *fatalRecorder) *Config {
	c := DefaultConfig()
	c.HeartbeatInterval = time.Hour
	c.Now = clock.Now
	c.OnFatal = fatals.record
	return c
}

// cluster is a set of in-process nodes; links[from][to] is the transport from uses to reach to
// and calls[from][to] counts what went over it.
type cluster struct {
	nodes  []*Node
	stores []*InmemStore
	links  map[NodeID]map[NodeID]*InmemTransport
	calls  map[NodeID]map[NodeID]*countingTransport
	clock  *fakeClock
	fatals *fatalRecorder
}

func newCluster(t *testing.T, size int, tweak func(*Config)) *cluster {
	t.Helper()
	c := &cluster{
		links:  map[NodeID]map[NodeID]*InmemTransport{},
		calls:  map[NodeID]map[NodeID]*countingTransport{},
		clock:  newFakeClock(),
		fatals: &fatalRecorder{},
	}
	for i := 0; i < size; i++ {
		conf := testConfig(c.clock, c.fatals)
		if tweak != nil {
			tweak(conf)
		}
		store := NewInmemStore()
		n, err := NewNode(NodeID(i), store, conf)
		if err != nil {
			t.Fatalf("NewNode(%d) error = %v", i, err)
		}
		c.nodes = append(c.nodes, n)
		c.stores = append(c.stores, store)
	}
	for _, n := range c.nodes {
		c.links[n.ID] = map[NodeID]*InmemTransport{}
		c.calls[n.ID] = map[NodeID]*countingTransport{}
		for _, other := range c.nodes {
			if other.ID == n.ID {
				continue
			}
			tr := NewInmemTransport(other)
			ct := &countingTransport{Transport: tr}
			c.links[n.ID][other.ID] = tr
			c.calls[n.ID][other.ID] = ct
			n.AddPeer(other.ID, ct)
		}
	}
	t.Cleanup(func() {
		for _, n := range c.nodes {
			n.Close()
		}
	})
	return c
}

// prepares is how many prepares from has sent to the rest of the cluster.
func (c *cluster) prepares(from NodeID) int64 {
	var total int64
	for _, ct := range c.calls[from] {
		total += ct.prepareCount()
	}
	return total
}

// win runs both phases for v at slot on node id and fails the test if the value is not decided.
func (c *cluster) win(t *testing.T, id NodeID, slot int, v Value) {
	t.Helper()
	ctx := context.Background()
	p, err := c.nodes[id].PhaseOne(ctx, v, slot)
	if err != nil {
		t.Fatalf("node %d PhaseOne(%v, %d) error = %v", id, v, slot, err)
	}
	if err := c.nodes[id].PhaseTwo(ctx, p); err != nil {
		t.Fatalf("node %d PhaseTwo(%v) error = %v", id, p, err)
	}
}

// eventually polls cond until it holds or a couple of seconds have gone by.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitSold waits until every listed node has applied sold tickets.
func (c *cluster) waitSold(t *testing.T, sold int, ids ...NodeID) {
	t.Helper()
	for _, id := range ids {
		n := c.nodes[id]
		eventually(t, "sold tickets on node", func() bool { return n.State().SoldTickets == sold })
	}
}

func TestNewNode(t *testing.T) {
	bad := DefaultConfig()
	bad.BaseMembers = nil
	negative := DefaultConfig()
	negative.LeaderLease = -time.Second

	tests := []struct {
		name    string
		conf    *Config
		wantErr bool
	}{
		{name: "nil config uses defaults", conf: nil},
		{name: "default config", conf: DefaultConfig()},
		{name: "no base members", conf: bad, wantErr: true},
		{name: "negative lease", conf: negative, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewNode(1, NewInmemStore(), tt.conf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("\nNewNode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer n.Close()
			if n.LeaderID() != Unknown {
				t.Errorf("\nfresh node LeaderID() \ngot = %#+v, \nwanted = %#+v", n.LeaderID(), Unknown)
			}
			if n.NextSlot() != 1 {
				t.Errorf("\nfresh node NextSlot() \ngot = %#+v, \nwanted = %#+v", n.NextSlot(), 1)
			}
		})
	}
}

func TestNewNodeStoreOwner(t *testing.T) {
	store := NewInmemStore()
	first, err := NewNode(0, store, nil)
	if err != nil {
		t.Fatalf("NewNode(0) error = %v", err)
	}
	first.Close()

	if _, err := NewNode(1, store, nil); errors.Cause(err) != errBadNode {
		t.Errorf("\nNewNode(1) on store of node 0 \ngot = %v, \nwanted = %v", err, errBadNode)
	}
	again, err := NewNode(0, store, nil)
	if err != nil {
		t.Fatalf("NewNode(0) on its own store error = %v", err)
	}
	again.Close()
}

func TestNodeRecovery(t *testing.T) {
	c := newCluster(t, 3, nil)
	c.win(t, 0, 1, NewTicketSale(7, 40))
	c.win(t, 0, 2, NewConfigChange(3, 4))
	c.win(t, 0, 3, NewTicketSale(8, 10))

	want := c.nodes[0].State()
	wantSlots := c.nodes[0].log.Records()
	c.nodes[0].Close()

	for i := 0; i < 2; i++ {
		// reloading twice from the same store must rebuild the same state.
		restarted, err := NewNode(0, c.stores[0], testConfig(c.clock, c.fatals))
		if err != nil {
			t.Fatalf("NewNode() after restart error = %v", err)
		}
		if got := restarted.State(); !reflect.DeepEqual(got, want) {
			t.Errorf("\nrestart %d State() \ngot = %#+v, \nwanted = %#+v", i, got, want)
		}
		if got := restarted.log.Records(); !reflect.DeepEqual(got, wantSlots) {
			t.Errorf("\nrestart %d log \ngot = %#+v, \nwanted = %#+v", i, got, wantSlots)
		}
		restarted.Close()
	}
}

func TestNodeClose(t *testing.T) {
	n, err := NewNode(0, NewInmemStore(), nil)
	if err != nil {
		t.Fatalf("NewNode() error = %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if n.spawn(func(context.Context) {}) {
		t.Error("spawn() on a closed node started a goroutine")
	}
}

func TestMingleNodes(t *testing.T) {
	nodes := make([]*Node, 3)
	for i := range nodes {
		n, err := NewNode(NodeID(i), NewInmemStore(), nil)
		if err != nil {
			t.Fatalf("NewNode(%d) error = %v", i, err)
		}
		defer n.Close()
		nodes[i] = n
	}
	MingleNodes(nodes...)
	MingleNodes(nodes...)

	for _, n := range nodes {
		if len(n.peers) != 2 {
			t.Errorf("\nnode %d peers \ngot = %#+v, \nwanted = %#+v", n.ID, len(n.peers), 2)
		}
		if _, ok := n.peers[n.ID]; ok {
			t.Errorf("node %d has itself as a peer", n.ID)
		}
	}

	leader := nodes[0].Buy(context.Background(), 40, 7)
	if leader != 0 {
		t.Errorf("\nBuy() leader \ngot = %#+v, \nwanted = %#+v", leader, 0)
	}
	if !strings.Contains(nodes[0].Show(), "Sold Tickets: 40") {
		t.Errorf("Show() = %q, wanted 40 sold tickets", nodes[0].Show())
	}
}
