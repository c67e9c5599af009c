// Command paxosctl is an interactive client for the ticket office cluster.
//
// Usage:
//
//	paxosctl -config config.json -node 0
//
// Commands, one per line:
//
//	buy <count>      buy tickets
//	cc <node> <node> add two nodes to the cluster
//	show             print the leader, the sold tickets and the committed log
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/komuw/ticketpaxos/config"
	"github.com/komuw/ticketpaxos/protocol"
)

func main() {
	var (
		topologyPath = flag.String("config", "config.json", "path to the cluster topology")
		node         = flag.Int("node", 0, "node to connect to first")
		clientID     = flag.Int("client", -1, "client id sent with every purchase; random if negative")
		logLevel     = flag.String("log-level", "warn", "one of trace, debug, info, warn, error")
	)
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "paxosctl",
		Level:  hclog.LevelFromString(*logLevel),
		Output: os.Stderr,
	})

	topo, err := config.LoadTopology(*topologyPath)
	if err != nil {
		logger.Error("unable to load topology", "error", err)
		os.Exit(1)
	}
	id := *clientID
	if id < 0 {
		id = int(uuid.New().ID() & 0x7fffffff)
	}
	logger.Info("starting client", "client", id)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := newClient(topo, id, os.Stdout, logger)
	if err := c.connect(ctx, protocol.NodeID(*node)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := c.repl(ctx, os.Stdin); err != nil && err != context.Canceled {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
