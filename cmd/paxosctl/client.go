package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/komuw/ticketpaxos/config"
	"github.com/komuw/ticketpaxos/httpTransport"
	"github.com/komuw/ticketpaxos/protocol"
)

const (
	// pingTimeout bounds the liveness check done on connect.
	pingTimeout = 400 * time.Millisecond
	// callTimeout bounds a single buy/cc/show call.
	callTimeout = 10 * time.Second
)

var errNoNode = errors.New("no node is reachable")

// client keeps a connection to the node it believes leads and follows redirects.
type client struct {
	topo     *config.Topology
	clientID int
	out      io.Writer
	logger   hclog.Logger

	current protocol.NodeID
	admin   *httpTransport.AdminClient
}

func newClient(topo *config.Topology, clientID int, out io.Writer, logger hclog.Logger) *client {
	return &client{topo: topo, clientID: clientID, out: out, logger: logger, current: protocol.Unknown}
}

// dial connects to id if it answers a ping.
func (c *client) dial(ctx context.Context, id protocol.NodeID) error {
	addr, err := c.topo.Addr(id)
	if err != nil {
		return err
	}
	admin := httpTransport.NewAdminClient(addr)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := admin.Ping(pingCtx); err != nil {
		return errors.Wrapf(err, "node:%d is down", id)
	}
	c.current = id
	c.admin = admin
	return nil
}

// connect tries every node in turn, starting at from, until one answers.
func (c *client) connect(ctx context.Context, from protocol.NodeID) error {
	n := len(c.topo.Nodes)
	for i := 0; i < n; i++ {
		id := protocol.NodeID((int(from) + i) % n)
		if err := c.dial(ctx, id); err != nil {
			c.logger.Debug("dial failed", "node", int(id), "error", err)
			fmt.Fprintf(c.out, "Node %d seems to be down, will try next...\n", id)
			continue
		}
		fmt.Fprintf(c.out, "Connected to %d!\n", id)
		return nil
	}
	return errNoNode
}

// propose runs call against the current node and follows the leader it names
// until the node that answered is the leader itself.
func (c *client) propose(ctx context.Context, call func(ctx context.Context, admin *httpTransport.AdminClient) (protocol.NodeID, error)) error {
	for hops := 0; hops <= len(c.topo.Nodes); hops++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		leader, err := call(callCtx, c.admin)
		cancel()
		if err != nil {
			return err
		}
		if leader == protocol.Unknown {
			fmt.Fprintln(c.out, "Election failed")
			return nil
		}
		if leader == c.current {
			fmt.Fprintf(c.out, "Curr Leader: %d\n", leader)
			return nil
		}
		if err := c.dial(ctx, leader); err != nil {
			fmt.Fprintln(c.out, "Leader is down")
			return err
		}
	}
	fmt.Fprintln(c.out, "Election failed")
	return nil
}

// repl reads commands from in until it is exhausted or ctx is done.
func (c *client) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(c.out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.exec(ctx, strings.Fields(scanner.Text())); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			if errors.Cause(err) == errNoNode {
				return err
			}
		}
		fmt.Fprint(c.out, "> ")
	}
	return scanner.Err()
}

func (c *client) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if c.admin == nil {
		if err := c.connect(ctx, 0); err != nil {
			return err
		}
	}

	switch args[0] {
	case "buy":
		if len(args) != 2 {
			return errors.New("usage: buy <count>")
		}
		count, err := strconv.Atoi(args[1])
		if err != nil || count <= 0 {
			return errors.Errorf("invalid ticket count:%v", args[1])
		}
		err = c.propose(ctx, func(ctx context.Context, admin *httpTransport.AdminClient) (protocol.NodeID, error) {
			return admin.Buy(ctx, count, c.clientID)
		})
		return c.reconnectOnError(ctx, err)
	case "cc":
		if len(args) != 3 {
			return errors.New("usage: cc <node> <node>")
		}
		a, errA := strconv.Atoi(args[1])
		b, errB := strconv.Atoi(args[2])
		if errA != nil || errB != nil {
			return errors.Errorf("invalid node ids:%v %v", args[1], args[2])
		}
		err := c.propose(ctx, func(ctx context.Context, admin *httpTransport.AdminClient) (protocol.NodeID, error) {
			return admin.ConfigChange(ctx, protocol.NodeID(a), protocol.NodeID(b))
		})
		return c.reconnectOnError(ctx, err)
	case "show":
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		out, err := c.admin.Show(callCtx)
		if err != nil {
			return c.reconnectOnError(ctx, err)
		}
		fmt.Fprint(c.out, out)
		return nil
	default:
		return errors.Errorf("unknown command:%v, expected buy, cc or show", args[0])
	}
}

// reconnectOnError moves to the next reachable node after a failed call and reports the failure.
func (c *client) reconnectOnError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	next := protocol.NodeID((int(c.current) + 1) % len(c.topo.Nodes))
	if cerr := c.connect(ctx, next); cerr != nil {
		return cerr
	}
	return err
}
