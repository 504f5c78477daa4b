package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"raftnode/internal/raft"
	"raftnode/internal/raft/metrics"
	"raftnode/internal/raft/server"
	"raftnode/internal/raft/state_machine"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Host to bind to")
	port := flag.Int("port", 50051, "Port to listen on")
	id := flag.Uint64("id", 1, "ID of this node, starting at 1")
	nodes := flag.Int("nodes", 1, "Number of nodes in the cluster, including this one")
	heartbeat := flag.Duration("heartbeat", 50*time.Millisecond, "Leader heartbeat interval")
	peers := flag.String("peers", "", "Comma separated peers, either id=host:port or host:port")
	dataDir := flag.String("data-dir", "", "Directory for the node's database (in memory when empty)")
	clusterID := flag.String("cluster-id", "", "UUID shared by every member of the cluster")
	newClusterID := flag.Bool("new-cluster-id", false, "Print a random cluster id and exit")
	maxEntries := flag.Int("max-entries", raft.DefaultMaxEntriesPerAppend, "Maximum entries per AppendEntries")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *newClusterID {
		fmt.Println(uuid.New())
		return
	}

	self := raft.NodeID(*id)
	peerList, err := server.ParsePeers(self, strings.Split(*peers, ","))
	if err != nil {
		log.Fatalf("Invalid -peers: %v", err)
	}

	cfg := server.DefaultConfig()
	cfg.BindHost = *host
	cfg.BindPort = *port
	cfg.NodeID = self
	cfg.NodeCount = *nodes
	cfg.HeartbeatInterval = *heartbeat
	cfg.Peers = peerList
	cfg.DataDir = *dataDir
	cfg.ClusterID = *clusterID
	cfg.MaxEntriesPerAppend = *maxEntries

	logger := raft.NewStdLogger(os.Stderr, fmt.Sprintf("[NODE-%d]", self))
	logger.Verbose = *verbose
	collector := metrics.NewMetrics()
	kv := state_machine.NewKVStateMachine(logger)

	node, err := server.NewNode(cfg,
		server.WithLogger(logger),
		server.WithMetrics(collector),
		server.WithStateMachine(kv),
	)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Node %s listening on %s, cluster of %d", self, cfg.BindAddr(), cfg.NodeCount)
	log.Printf("Type SET key=value, DEL key, GET key or STATUS")
	go readCommands(signalCtx, node, kv, os.Stdin, os.Stdout)

	if err := node.Run(signalCtx); err != nil {
		log.Fatalf("Node stopped: %v", err)
	}

	collector.Report(self, cfg.NodeCount).Print(os.Stdout)
}

// readCommands submits every command line read from r until r is exhausted or ctx is cancelled.
func readCommands(ctx context.Context, node *server.Node, kv *state_machine.KVStateMachine, r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		verb, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "STATUS":
			st, err := node.Status(ctx)
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "%s term=%d leader=%s log=%d commit=%d applied=%d\n",
				st.Role, st.Term, st.Leader, st.LastIndex, st.CommitIndex, st.LastApplied)
		case "GET":
			if v, ok := kv.Get(strings.TrimSpace(arg)); ok {
				fmt.Fprintln(w, v)
			} else {
				fmt.Fprintln(w, "(not found)")
			}
		default:
			if _, err := state_machine.ParseCommand([]byte(line)); err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			index, term, err := node.Propose(ctx, []byte(line))
			switch {
			case errors.Is(err, raft.ErrNotLeader):
				fmt.Fprintf(w, "rejected: %v\n", err)
			case err != nil:
				fmt.Fprintf(w, "error: %v\n", err)
				if errors.Is(err, raft.ErrNodeStopped) {
					return
				}
			default:
				fmt.Fprintf(w, "appended at index %d in term %d\n", index, term)
			}
		}
	}
}
