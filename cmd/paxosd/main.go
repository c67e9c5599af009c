// Command paxosd runs one node of the ticket office cluster.
//
// Usage:
//
//	paxosd -id 0 -config config.json -data /var/lib/paxosd
//
// The node serves its peers and clients on the address the topology gives it and keeps
// its log in <data>/log<id>.db.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/pkg/errors"

	"github.com/komuw/ticketpaxos/config"
	"github.com/komuw/ticketpaxos/httpTransport"
	"github.com/komuw/ticketpaxos/protocol"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		id           = flag.Int("id", 0, "id of this node, its index in the topology")
		topologyPath = flag.String("config", "config.json", "path to the cluster topology")
		dataDir      = flag.String("data", ".", "directory holding the log file")
		logLevel     = flag.String("log-level", "info", "one of trace, debug, info, warn, error")
	)
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   fmt.Sprintf("paxosd-%d", *id),
		Level:  hclog.LevelFromString(*logLevel),
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, protocol.NodeID(*id), *topologyPath, *dataDir); err != nil {
		logger.Error("node failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger hclog.Logger, id protocol.NodeID, topologyPath, dataDir string) error {
	topo, err := config.LoadTopology(topologyPath)
	if err != nil {
		return err
	}
	addr, err := topo.Addr(id)
	if err != nil {
		return err
	}

	// Any store that implements hashicorp/raft StableStore interface will suffice.
	storePath := filepath.Join(dataDir, fmt.Sprintf("log%d.db", id))
	store, err := raftboltdb.NewBoltStore(storePath)
	if err != nil {
		return errors.Wrapf(err, "unable to open store:%v", storePath)
	}
	defer store.Close() // nolint: errcheck

	conf := protocol.DefaultConfig()
	conf.Logger = logger
	conf.OnFatal = func(err error) {
		logger.Error("consistency violation, stopping", "error", err)
		store.Close() // nolint: errcheck
		os.Exit(2)
	}
	node, err := protocol.NewNode(id, store, conf)
	if err != nil {
		return err
	}
	defer node.Close() // nolint: errcheck

	for _, peer := range topo.IDs() {
		if peer == id {
			continue
		}
		peerAddr, err := topo.Addr(peer)
		if err != nil {
			return err
		}
		t, err := httpTransport.New(peerAddr)
		if err != nil {
			return err
		}
		node.AddPeer(peer, t)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpTransport.NewServer(node, logger),
		ReadHeaderTimeout: time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	logger.Info("node listening", "addr", addr, "store", storePath)

	leader := node.DetectLeader(ctx)
	logger.Info("node started", "leader", int(leader), "next_slot", node.NextSlot())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrapf(err, "unable to serve on %v", addr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
