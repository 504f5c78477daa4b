// Package metrics implements raft.MetricsCollector with in-process counters and latency percentiles.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"raftnode/internal/raft"
)

var _ raft.MetricsCollector = (*Metrics)(nil)

// Metrics collects counters for a single node. It is safe for concurrent use: the transport records RPCs from
// its send goroutines while the control loop records commits and elections.
type Metrics struct {
	mu sync.Mutex
	// Command latencies (time from Propose to commit)
	commandLatencies []time.Duration
	electionDuration []time.Duration
	startTime        time.Time

	appendEntriesCount atomic.Uint64
	requestVoteCount   atomic.Uint64
	heartbeatCount     atomic.Uint64
	commandsCommitted  atomic.Uint64
	electionCount      atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		commandLatencies: make([]time.Duration, 0, 1024),
		electionDuration: make([]time.Duration, 0, 16),
		startTime:        time.Now(),
	}
}

func (m *Metrics) RecordCommandLatency(latency time.Duration) {
	m.mu.Lock()
	m.commandLatencies = append(m.commandLatencies, latency)
	m.mu.Unlock()
}

func (m *Metrics) RecordCommandCommitted() { m.commandsCommitted.Add(1) }
func (m *Metrics) RecordAppendEntries()    { m.appendEntriesCount.Add(1) }
func (m *Metrics) RecordRequestVote()      { m.requestVoteCount.Add(1) }
func (m *Metrics) RecordHeartbeat()        { m.heartbeatCount.Add(1) }
func (m *Metrics) RecordElection()         { m.electionCount.Add(1) }

// RecordElectionDuration records how long it took from becoming Candidate to becoming Leader.
func (m *Metrics) RecordElectionDuration(duration time.Duration) {
	m.mu.Lock()
	m.electionDuration = append(m.electionDuration, duration)
	m.mu.Unlock()
}

// LatencyStats contains percentile statistics for latencies, in milliseconds.
type LatencyStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	Mean   float64 `json:"mean_ms"`
	P50    float64 `json:"p50_ms"`
	P95    float64 `json:"p95_ms"`
	P99    float64 `json:"p99_ms"`
	StdDev float64 `json:"stddev_ms"`
}

func (m *Metrics) LatencyStats() LatencyStats {
	m.mu.Lock()
	samples := append([]time.Duration(nil), m.commandLatencies...)
	m.mu.Unlock()
	return summarize(samples)
}

func (m *Metrics) ElectionStats() LatencyStats {
	m.mu.Lock()
	samples := append([]time.Duration(nil), m.electionDuration...)
	m.mu.Unlock()
	return summarize(samples)
}

func summarize(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	ms := make([]float64, len(samples))
	var sum float64
	for i, d := range samples {
		ms[i] = float64(d.Microseconds()) / 1000.0
		sum += ms[i]
	}
	mean := sum / float64(len(ms))

	var variance float64
	for _, v := range ms {
		diff := v - mean
		variance += diff * diff
	}

	return LatencyStats{
		Count:  len(ms),
		Min:    ms[0],
		Max:    ms[len(ms)-1],
		Mean:   mean,
		P50:    percentile(ms, 50),
		P95:    percentile(ms, 95),
		P99:    percentile(ms, 99),
		StdDev: math.Sqrt(variance / float64(len(ms))),
	}
}

// percentile calculates the pth percentile of sorted data with linear interpolation.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Throughput returns committed commands per second since the collector was created or reset.
func (m *Metrics) Throughput() float64 {
	m.mu.Lock()
	elapsed := time.Since(m.startTime).Seconds()
	m.mu.Unlock()
	if elapsed == 0 {
		return 0
	}
	return float64(m.commandsCommitted.Load()) / elapsed
}

// Report is a point-in-time snapshot of every metric of a node.
type Report struct {
	NodeID       raft.NodeID `json:"node_id"`
	ClusterSize  int         `json:"cluster_size"`
	UptimeSecond float64     `json:"uptime_seconds"`

	CommandsCommitted uint64       `json:"commands_committed"`
	ThroughputCmdSec  float64      `json:"throughput_cmd_per_sec"`
	CommandLatency    LatencyStats `json:"command_latency"`

	AppendEntriesCount uint64 `json:"append_entries_count"`
	RequestVoteCount   uint64 `json:"request_vote_count"`
	HeartbeatCount     uint64 `json:"heartbeat_count"`

	ElectionCount uint64       `json:"election_count"`
	ElectionStats LatencyStats `json:"election_stats"`
}

func (m *Metrics) Report(id raft.NodeID, clusterSize int) Report {
	m.mu.Lock()
	uptime := time.Since(m.startTime).Seconds()
	m.mu.Unlock()

	return Report{
		NodeID:             id,
		ClusterSize:        clusterSize,
		UptimeSecond:       uptime,
		CommandsCommitted:  m.commandsCommitted.Load(),
		ThroughputCmdSec:   m.Throughput(),
		CommandLatency:     m.LatencyStats(),
		AppendEntriesCount: m.appendEntriesCount.Load(),
		RequestVoteCount:   m.requestVoteCount.Load(),
		HeartbeatCount:     m.heartbeatCount.Load(),
		ElectionCount:      m.electionCount.Load(),
		ElectionStats:      m.ElectionStats(),
	}
}

// Print writes the report in a human-readable format.
func (r Report) Print(w io.Writer) {
	rule := strings.Repeat("=", 48)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "RAFT NODE %s (cluster of %d), up %.1fs\n", r.NodeID, r.ClusterSize, r.UptimeSecond)
	fmt.Fprintln(w, rule)

	fmt.Fprintf(w, "Commands committed: %d (%.2f cmd/sec)\n", r.CommandsCommitted, r.ThroughputCmdSec)
	if r.CommandLatency.Count > 0 {
		l := r.CommandLatency
		fmt.Fprintf(w, "Command latency: p50 %.3fms p95 %.3fms p99 %.3fms max %.3fms\n", l.P50, l.P95, l.P99, l.Max)
	}

	fmt.Fprintf(w, "RPCs sent: AppendEntries %d, Heartbeats %d, RequestVote %d\n",
		r.AppendEntriesCount, r.HeartbeatCount, r.RequestVoteCount)
	fmt.Fprintf(w, "Elections won: %d", r.ElectionCount)
	if r.ElectionStats.Count > 0 {
		fmt.Fprintf(w, " (mean %.3fms)", r.ElectionStats.Mean)
	}
	fmt.Fprintln(w)
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// Reset clears all collected metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.commandLatencies = m.commandLatencies[:0]
	m.electionDuration = m.electionDuration[:0]
	m.startTime = time.Now()
	m.mu.Unlock()

	m.appendEntriesCount.Store(0)
	m.requestVoteCount.Store(0)
	m.heartbeatCount.Store(0)
	m.commandsCommitted.Store(0)
	m.electionCount.Store(0)
}
