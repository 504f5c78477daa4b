package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"raftnode/internal/raft"
	"raftnode/internal/raft/metrics"
	"raftnode/internal/raft/server"
)

type member struct {
	node    *server.Node
	metrics *metrics.Metrics
}

func main() {
	clusterSize := flag.Int("cluster-size", 3, "Number of nodes in the cluster")
	numCommands := flag.Int("commands", 100, "Number of commands to submit")
	basePort := flag.Int("base-port", 50051, "Port of the first node, the others use the following ports")
	heartbeat := flag.Duration("heartbeat", 50*time.Millisecond, "Leader heartbeat interval")
	dataDir := flag.String("data-dir", "", "Directory for the node databases (in memory when empty)")
	outputFile := flag.String("output", "", "Output JSON file for the leader's metrics (optional)")
	flag.Parse()

	if *clusterSize < 1 {
		log.Fatal("Cluster size must be at least 1")
	}

	fmt.Println("========================================")
	fmt.Println("RAFT PERFORMANCE BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("Cluster Size: %d nodes\n", *clusterSize)
	fmt.Printf("Commands: %d\n", *numCommands)
	fmt.Println("========================================")

	members, err := createCluster(*clusterSize, *basePort, *heartbeat, *dataDir)
	if err != nil {
		log.Fatalf("Failed to create cluster: %v", err)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, m := range members {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.node.Run(signalCtx); err != nil {
				log.Printf("Node %s failed: %v", m.node.ID(), err)
			}
		}()
	}

	fmt.Println("Waiting for leader election...")
	leader, err := findLeader(signalCtx, members, 10*time.Second)
	if err != nil {
		log.Fatalf("Could not find leader: %v", err)
	}
	fmt.Printf("Leader elected: node %s\n", leader.node.ID())

	start := time.Now()
	leader, lastIndex := runBenchmark(signalCtx, members, leader, *numCommands)
	waitForCommit(signalCtx, leader, lastIndex, 10*time.Second)
	fmt.Printf("Benchmark completed in %v\n\n", time.Since(start).Round(time.Millisecond))

	report := leader.metrics.Report(leader.node.ID(), *clusterSize)
	report.Print(os.Stdout)

	if *outputFile != "" {
		if err := saveReportJSON(report, *outputFile); err != nil {
			log.Printf("Failed to save report: %v", err)
		} else {
			fmt.Printf("\nReport saved to %s\n", *outputFile)
		}
	}

	fmt.Println("\nShutting down cluster...")
	stop()
	wg.Wait()
}

func createCluster(size, basePort int, heartbeat time.Duration, dataDir string) ([]member, error) {
	clusterID := uuid.New().String()
	addrs := make(map[raft.NodeID]string, size)
	for i := 0; i < size; i++ {
		addrs[raft.NodeID(i+1)] = fmt.Sprintf("127.0.0.1:%d", basePort+i)
	}

	members := make([]member, 0, size)
	for i := 0; i < size; i++ {
		id := raft.NodeID(i + 1)
		cfg := server.DefaultConfig()
		cfg.NodeID = id
		cfg.NodeCount = size
		cfg.BindPort = basePort + i
		cfg.HeartbeatInterval = heartbeat
		cfg.ClusterID = clusterID
		cfg.DataDir = dataDir
		for peer, addr := range addrs {
			if peer != id {
				cfg.Peers = append(cfg.Peers, server.PeerConfig{ID: peer, Address: addr})
			}
		}

		collector := metrics.NewMetrics()
		node, err := server.NewNode(cfg,
			server.WithLogger(raft.NewStdLogger(os.Stderr, fmt.Sprintf("[NODE-%d]", id))),
			server.WithMetrics(collector),
		)
		if err != nil {
			return nil, err
		}
		members = append(members, member{node: node, metrics: collector})
	}
	return members, nil
}

func findLeader(ctx context.Context, members []member, timeout time.Duration) (member, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, m := range members {
			st, err := m.node.Status(ctx)
			if err != nil {
				return member{}, err
			}
			if st.Role == raft.Leader {
				return m, nil
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return member{}, errors.New("no leader elected")
}

// runBenchmark submits numCommands commands, following the leader when it changes. It returns the leader that
// accepted the last command and its index.
func runBenchmark(ctx context.Context, members []member, leader member, numCommands int) (member, uint64) {
	var lastIndex uint64
	failed := 0
	for i := 0; i < numCommands; i++ {
		cmd := []byte(fmt.Sprintf("SET key%d=value%d", i, i))
		for {
			index, _, err := leader.node.Propose(ctx, cmd)
			if err == nil {
				lastIndex = index
				break
			}
			if !errors.Is(err, raft.ErrNotLeader) {
				log.Printf("Command %d failed: %v", i, err)
				return leader, lastIndex
			}
			failed++
			next, err := findLeader(ctx, members, 5*time.Second)
			if err != nil {
				log.Printf("Lost the leader: %v", err)
				return leader, lastIndex
			}
			leader = next
		}

		if (i+1)%10 == 0 {
			fmt.Printf("Progress: %d/%d commands sent (redirects=%d)\n", i+1, numCommands, failed)
		}
	}
	return leader, lastIndex
}

func waitForCommit(ctx context.Context, leader member, index uint64, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := leader.node.Status(ctx)
		if err != nil || st.CommitIndex >= index {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	fmt.Printf("Note: commands up to index %d did not commit within %v\n", index, timeout)
}

func saveReportJSON(report metrics.Report, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.WriteJSON(f)
}
