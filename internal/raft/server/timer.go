package server

import (
	"math/rand"
	"sync"
	"time"
)

/*
The Timer is the background job producing the two time based events of a node: the election timeout and the leader
heartbeat. It owns no consensus state, the control loop decides what an event means for the current role.
See: https://medium.com/@srajsonu/understanding-and-preventing-goroutine-leaks-in-go-623cac542954
*/

type TimerEventKind uint8

const (
	ElectionTimeoutExpired TimerEventKind = iota + 1
	HeartbeatTick
)

func (k TimerEventKind) String() string {
	switch k {
	case ElectionTimeoutExpired:
		return "ElectionTimeoutExpired"
	case HeartbeatTick:
		return "HeartbeatTick"
	default:
		return "Unknown"
	}
}

// TimerEvent is a single timestamped expiry.
type TimerEvent struct {
	Kind TimerEventKind
	At   time.Time
	// epoch identifies the arming of the election timer that produced the event.
	epoch uint64
}

// Timer delivers election timeouts and heartbeat ticks on a single channel.
type Timer struct {
	heartbeat time.Duration

	mu       sync.Mutex
	rng      *rand.Rand
	epoch    uint64
	election *time.Timer

	events   chan TimerEvent
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTimer creates a stopped timer. seed must differ between nodes so their timeouts are not correlated.
func NewTimer(heartbeat time.Duration, seed int64) *Timer {
	return &Timer{
		heartbeat: heartbeat,
		rng:       rand.New(rand.NewSource(seed)),
		events:    make(chan TimerEvent, 16),
		stop:      make(chan struct{}),
	}
}

func (t *Timer) Events() <-chan TimerEvent {
	return t.events
}

// Start begins emitting heartbeat ticks. The election timer only runs once ResetElection is called.
func (t *Timer) Start() {
	t.wg.Add(1)
	go t.tickHeartbeats()
}

// Stop stops both timers and waits for the heartbeat job to exit. It is idempotent.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.mu.Lock()
		if t.election != nil {
			t.election.Stop()
		}
		t.mu.Unlock()
	})
	t.wg.Wait()
}

// electionTimeout draws a fresh duration uniformly from [2*heartbeat, 4*heartbeat). Must be called with mu held.
func (t *Timer) electionTimeout() time.Duration {
	span := 2 * int64(t.heartbeat)
	return time.Duration(span + t.rng.Int63n(span))
}

// ResetElection re-arms the election timer with a newly drawn timeout. An expiry of any earlier arming that is
// already queued becomes stale, see Current.
func (t *Timer) ResetElection() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.stop:
		return 0
	default:
	}

	if t.election != nil {
		t.election.Stop()
	}
	t.epoch++
	epoch := t.epoch
	d := t.electionTimeout()
	t.election = time.AfterFunc(d, func() { t.fire(epoch) })
	return d
}

// Current reports whether ev still matters: heartbeat ticks always do, election timeouts only when the timer was
// not re-armed after they fired.
func (t *Timer) Current(ev TimerEvent) bool {
	if ev.Kind != ElectionTimeoutExpired {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return ev.epoch == t.epoch
}

func (t *Timer) fire(epoch uint64) {
	ev := TimerEvent{Kind: ElectionTimeoutExpired, At: time.Now(), epoch: epoch}
	// Losing a timeout would leave a follower without a leader waiting forever, so this send blocks.
	select {
	case t.events <- ev:
	case <-t.stop:
	}
}

func (t *Timer) tickHeartbeats() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case at := <-ticker.C:
			// A tick the loop has no room for is skipped, the next one follows shortly.
			select {
			case t.events <- TimerEvent{Kind: HeartbeatTick, At: at}:
			default:
			}
		case <-t.stop:
			return
		}
	}
}
