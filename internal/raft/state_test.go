package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T, id NodeID, nodes int) *State {
	t.Helper()
	info, err := NewClusterInfo(nodes, 10*time.Millisecond, peersOf(id, nodes))
	require.NoError(t, err)
	return NewState(id, info)
}

func logOf(terms ...uint64) []LogEntry {
	entries := make([]LogEntry, len(terms))
	for i, term := range terms {
		entries[i] = LogEntry{Term: term, Command: []byte{byte('a' + i)}}
	}
	return entries
}

// elect runs an election on s and grants it the vote of its first peer.
func elect(t *testing.T, s *State) Effects {
	t.Helper()
	s.ElectionTimeout()
	require.Equal(t, Candidate, s.Role())
	eff := s.Step(s.Cluster().PeerIDs()[0], &RequestVoteResponse{Term: s.CurrentTerm(), VoteGranted: true})
	require.Equal(t, Leader, s.Role())
	return eff
}

func requestsTo(eff Effects, to NodeID) []Message {
	var out []Message
	for _, m := range eff.Messages {
		if m.To == to {
			out = append(out, m.Message)
		}
	}
	return out
}

func TestNewState(t *testing.T) {
	s := newTestState(t, 1, 3)
	assert.Equal(t, Follower, s.Role())
	assert.Equal(t, uint64(0), s.CurrentTerm())
	assert.Equal(t, None, s.VotedFor())
	assert.Equal(t, uint64(0), s.LastIndex())
	assert.Equal(t, uint64(0), s.LastTerm())
	assert.Equal(t, uint64(0), s.CommitIndex())
	_, ok := s.Progress(2)
	assert.False(t, ok)
}

func TestState_Restore(t *testing.T) {
	s := newTestState(t, 1, 3)
	entries := logOf(1, 1, 2)
	s.Restore(HardState{CurrentTerm: 4, VotedFor: 3}, entries)

	assert.Equal(t, Follower, s.Role())
	assert.Equal(t, HardState{CurrentTerm: 4, VotedFor: 3}, s.HardState())
	assert.Equal(t, uint64(3), s.LastIndex())
	assert.Equal(t, uint64(2), s.LastTerm())
	assert.Equal(t, uint64(0), s.CommitIndex())

	entries[0].Term = 99
	assert.Equal(t, logOf(1, 1, 2), s.Entries(1, 3), "the restored log is copied")
	assert.Equal(t, logOf(1, 1, 2)[2:], s.Entries(3, 10))
	assert.Nil(t, s.Entries(4, 10))
}

// Scenario A: node 1 times out first, nodes 2 and 3 have empty logs and grant.
func TestState_ElectionScenario(t *testing.T) {
	s1, s2, s3 := newTestState(t, 1, 3), newTestState(t, 2, 3), newTestState(t, 3, 3)

	eff := s1.ElectionTimeout()
	assert.Equal(t, Candidate, s1.Role())
	assert.Equal(t, uint64(1), s1.CurrentTerm())
	assert.Equal(t, NodeID(1), s1.VotedFor())
	assert.True(t, eff.HardStateChanged)
	assert.True(t, eff.ResetElectionTimer)
	assert.True(t, eff.RoleChanged)
	require.Len(t, eff.Messages, 2)
	req := &RequestVoteRequest{Term: 1, CandidateID: 1, LastLogIndex: 0, LastLogTerm: 0}
	assert.Equal(t, []Outbound{{To: 2, Message: req}, {To: 3, Message: req}}, eff.Messages)

	vote2 := s2.Step(1, req)
	assert.Equal(t, &RequestVoteResponse{Term: 1, VoteGranted: true}, vote2.Reply)
	assert.True(t, vote2.HardStateChanged)
	assert.True(t, vote2.ResetElectionTimer)
	assert.Equal(t, HardState{CurrentTerm: 1, VotedFor: 1}, s2.HardState())

	vote3 := s3.Step(1, req)
	assert.Equal(t, &RequestVoteResponse{Term: 1, VoteGranted: true}, vote3.Reply)

	won := s1.Step(2, vote2.Reply)
	assert.Equal(t, Leader, s1.Role())
	assert.Equal(t, NodeID(1), s1.LeaderID())
	assert.True(t, won.RoleChanged)
	heartbeat := &AppendEntriesRequest{Term: 1, LeaderID: 1}
	assert.Equal(t, []Outbound{{To: 2, Message: heartbeat}, {To: 3, Message: heartbeat}}, won.Messages,
		"a new leader sends heartbeats at once")
	for _, peer := range []NodeID{2, 3} {
		pr, ok := s1.Progress(peer)
		require.True(t, ok)
		assert.Equal(t, Progress{Next: 1, Match: 0}, pr)
	}

	late := s1.Step(3, vote3.Reply)
	assert.False(t, late.RoleChanged)
	assert.Empty(t, late.Messages)
}

// Scenario B: nodes 1 and 2 campaign in the same term and node 3 is unreachable.
func TestState_SplitVote(t *testing.T) {
	s1, s2 := newTestState(t, 1, 3), newTestState(t, 2, 3)

	req1 := requestsTo(s1.ElectionTimeout(), 2)[0]
	req2 := requestsTo(s2.ElectionTimeout(), 1)[0]

	resp1 := s1.Step(2, req2).Reply
	resp2 := s2.Step(1, req1).Reply
	assert.Equal(t, &RequestVoteResponse{Term: 1, VoteGranted: false}, resp1)
	assert.Equal(t, &RequestVoteResponse{Term: 1, VoteGranted: false}, resp2)

	s1.Step(2, resp2)
	s2.Step(1, resp1)
	assert.Equal(t, Candidate, s1.Role())
	assert.Equal(t, Candidate, s2.Role())

	// Both time out again, node 1 first this time.
	retry := s1.ElectionTimeout()
	assert.Equal(t, uint64(2), s1.CurrentTerm(), "every new election uses a higher term")
	assert.False(t, retry.RoleChanged, "Candidate to Candidate")

	vote := s2.Step(1, requestsTo(retry, 2)[0])
	assert.Equal(t, Follower, s2.Role())
	assert.Equal(t, uint64(2), s2.CurrentTerm())
	assert.Equal(t, &RequestVoteResponse{Term: 2, VoteGranted: true}, vote.Reply)

	s1.Step(2, vote.Reply)
	assert.Equal(t, Leader, s1.Role())
}

// Scenario C: a follower holding [(1,"x")] accepts (2,"y") after index 1.
func TestState_AppendEntriesAppends(t *testing.T) {
	s := newTestState(t, 1, 3)
	s.Restore(HardState{CurrentTerm: 1}, []LogEntry{{Term: 1, Command: []byte("x")}})

	eff := s.Step(2, &AppendEntriesRequest{
		Term: 2, LeaderID: 2, PrevLogIndex: 1, PrevLogTerm: 1,
		Entries: []LogEntry{{Term: 2, Command: []byte("y")}},
	})
	assert.Equal(t, &AppendEntriesResponse{Term: 2, Success: true, MatchedIndex: 2}, eff.Reply)
	assert.Equal(t, uint64(2), eff.LogChangedFrom)
	assert.True(t, eff.HardStateChanged)
	assert.True(t, eff.ResetElectionTimer)
	assert.Equal(t, []LogEntry{{Term: 1, Command: []byte("x")}, {Term: 2, Command: []byte("y")}}, s.Entries(1, 2))
	assert.Equal(t, NodeID(2), s.LeaderID())
}

// Scenario D: the follower only has index 1, the leader backs off by one and repairs the log.
func TestState_ConsistencyCheckAndRepair(t *testing.T) {
	leader, follower := newTestState(t, 1, 3), newTestState(t, 2, 3)
	leader.Restore(HardState{CurrentTerm: 1}, logOf(1, 1))
	follower.Restore(HardState{CurrentTerm: 1}, logOf(1))

	s3 := newTestState(t, 3, 3)
	leader.ElectionTimeout()
	leader.Step(3, s3.Step(1, &RequestVoteRequest{Term: 2, CandidateID: 1, LastLogIndex: 2, LastLogTerm: 1}).Reply)
	require.Equal(t, Leader, leader.Role())

	heartbeat := requestsTo(leader.HeartbeatTick(), 2)[0].(*AppendEntriesRequest)
	assert.Equal(t, uint64(2), heartbeat.PrevLogIndex)

	rejected := follower.Step(1, heartbeat)
	assert.Equal(t, &AppendEntriesResponse{Term: 2, Success: false}, rejected.Reply)
	assert.Zero(t, rejected.LogChangedFrom)

	retry := leader.Step(2, rejected.Reply)
	pr, _ := leader.Progress(2)
	assert.Equal(t, Progress{Next: 2, Match: 0}, pr)
	require.Len(t, retry.Messages, 1, "a rejection is retried at once")
	again := retry.Messages[0].Message.(*AppendEntriesRequest)
	assert.Equal(t, uint64(1), again.PrevLogIndex)
	assert.Equal(t, uint64(1), again.PrevLogTerm)
	assert.Equal(t, logOf(1, 1)[1:], again.Entries)

	accepted := follower.Step(1, again)
	assert.Equal(t, &AppendEntriesResponse{Term: 2, Success: true, MatchedIndex: 2}, accepted.Reply)
	assert.Equal(t, leader.Entries(1, 2), follower.Entries(1, 2))

	done := leader.Step(2, accepted.Reply)
	pr, _ = leader.Progress(2)
	assert.Equal(t, Progress{Next: 3, Match: 2}, pr)
	assert.Empty(t, done.Messages, "nothing left to send")
	assert.Equal(t, uint64(0), leader.CommitIndex(), "entries of term 1 do not commit by counting")
}

// Scenario E: a leader of term 2 sees term 3 in a response.
func TestState_StaleLeaderStepsDown(t *testing.T) {
	s := newTestState(t, 1, 3)
	s.Restore(HardState{CurrentTerm: 1}, nil)
	elect(t, s)
	require.Equal(t, uint64(2), s.CurrentTerm())

	eff := s.Step(2, &AppendEntriesResponse{Term: 3})
	assert.Equal(t, Follower, s.Role())
	assert.Equal(t, uint64(3), s.CurrentTerm())
	assert.Equal(t, None, s.VotedFor())
	assert.Equal(t, None, s.LeaderID())
	assert.True(t, eff.HardStateChanged)
	assert.True(t, eff.RoleChanged)
	assert.True(t, eff.ResetElectionTimer)
	_, ok := s.Progress(2)
	assert.False(t, ok, "leader state is discarded")
}

func TestState_VoteRestriction(t *testing.T) {
	tests := []struct {
		name      string
		lastTerm  uint64
		lastIndex uint64
		granted   bool
	}{
		{"older last term", 1, 10, false},
		{"same term shorter log", 2, 1, false},
		{"same term same length", 2, 2, true},
		{"same term longer log", 2, 3, true},
		{"newer last term", 3, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t, 1, 3)
			s.Restore(HardState{CurrentTerm: 2}, logOf(1, 2))

			eff := s.Step(2, &RequestVoteRequest{Term: 3, CandidateID: 2, LastLogIndex: tt.lastIndex, LastLogTerm: tt.lastTerm})
			assert.Equal(t, &RequestVoteResponse{Term: 3, VoteGranted: tt.granted}, eff.Reply)
			if tt.granted {
				assert.Equal(t, NodeID(2), s.VotedFor())
			} else {
				assert.Equal(t, None, s.VotedFor())
			}
			assert.Equal(t, uint64(3), s.CurrentTerm(), "the higher term is adopted either way")
		})
	}
}

func TestState_OneVotePerTerm(t *testing.T) {
	s := newTestState(t, 1, 3)

	first := s.Step(2, &RequestVoteRequest{Term: 1, CandidateID: 2})
	assert.Equal(t, &RequestVoteResponse{Term: 1, VoteGranted: true}, first.Reply)

	other := s.Step(3, &RequestVoteRequest{Term: 1, CandidateID: 3})
	assert.Equal(t, &RequestVoteResponse{Term: 1, VoteGranted: false}, other.Reply)
	assert.False(t, other.ResetElectionTimer)

	repeat := s.Step(2, &RequestVoteRequest{Term: 1, CandidateID: 2})
	assert.Equal(t, &RequestVoteResponse{Term: 1, VoteGranted: true}, repeat.Reply, "a duplicate request gets the same answer")
	assert.False(t, repeat.HardStateChanged)

	next := s.Step(3, &RequestVoteRequest{Term: 2, CandidateID: 3})
	assert.Equal(t, &RequestVoteResponse{Term: 2, VoteGranted: true}, next.Reply, "a new term allows a new vote")
}

func TestState_StaleRequests(t *testing.T) {
	s := newTestState(t, 1, 3)
	s.Restore(HardState{CurrentTerm: 5}, nil)

	vote := s.Step(2, &RequestVoteRequest{Term: 4, CandidateID: 2})
	assert.Equal(t, &RequestVoteResponse{Term: 5}, vote.Reply)
	assert.False(t, vote.ResetElectionTimer)

	app := s.Step(2, &AppendEntriesRequest{Term: 4, LeaderID: 2, Entries: logOf(4)})
	assert.Equal(t, &AppendEntriesResponse{Term: 5}, app.Reply)
	assert.False(t, app.ResetElectionTimer)
	assert.Equal(t, uint64(0), s.LastIndex())
	assert.Equal(t, None, s.LeaderID())
}

func TestState_CandidateYieldsToLeaderOfSameTerm(t *testing.T) {
	s := newTestState(t, 1, 3)
	s.ElectionTimeout()

	eff := s.Step(2, &AppendEntriesRequest{Term: 1, LeaderID: 2})
	assert.Equal(t, Follower, s.Role())
	assert.Equal(t, NodeID(2), s.LeaderID())
	assert.Equal(t, NodeID(1), s.VotedFor(), "the vote of the term is kept")
	assert.True(t, eff.RoleChanged)
	assert.False(t, eff.HardStateChanged)
	assert.Equal(t, &AppendEntriesResponse{Term: 1, Success: true}, eff.Reply)
}

func TestState_CandidateIgnoresStaleVotes(t *testing.T) {
	s := newTestState(t, 1, 3)
	s.ElectionTimeout()
	s.ElectionTimeout()

	eff := s.Step(2, &RequestVoteResponse{Term: 1, VoteGranted: true})
	assert.Equal(t, Candidate, s.Role())
	assert.False(t, eff.RoleChanged)
}

func TestState_LeaderIgnoresElectionTimeout(t *testing.T) {
	s := newTestState(t, 1, 3)
	elect(t, s)

	eff := s.ElectionTimeout()
	assert.Equal(t, Effects{}, eff)
	assert.Equal(t, Leader, s.Role())
	assert.Equal(t, uint64(1), s.CurrentTerm())
}

func TestState_FollowerIgnoresHeartbeatTick(t *testing.T) {
	s := newTestState(t, 1, 3)
	assert.Equal(t, Effects{}, s.HeartbeatTick())
}

func TestState_ProposeOnFollower(t *testing.T) {
	s := newTestState(t, 1, 3)
	_, _, eff, err := s.Propose([]byte("SET a=1"))
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Equal(t, Effects{}, eff)
	assert.Equal(t, uint64(0), s.LastIndex())
}

func TestState_CommitOnlyCurrentTermEntries(t *testing.T) {
	s := newTestState(t, 1, 3)
	s.Restore(HardState{CurrentTerm: 2}, logOf(1, 2))
	elect(t, s)
	require.Equal(t, uint64(3), s.CurrentTerm())

	eff := s.Step(2, &AppendEntriesResponse{Term: 3, Success: true, MatchedIndex: 2})
	assert.False(t, eff.CommitAdvanced)
	assert.Equal(t, uint64(0), s.CommitIndex(), "older entries are not committed by counting replicas")

	index, term, propose, err := s.Propose([]byte("SET a=1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), index)
	assert.Equal(t, uint64(3), term)
	assert.Equal(t, uint64(3), propose.LogChangedFrom)
	assert.False(t, propose.CommitAdvanced)

	eff = s.Step(2, &AppendEntriesResponse{Term: 3, Success: true, MatchedIndex: 3})
	assert.True(t, eff.CommitAdvanced)
	assert.Equal(t, uint64(3), s.CommitIndex(), "the current term entry commits every entry before it")

	first, entries := s.TakeCommitted()
	assert.Equal(t, uint64(1), first)
	assert.Len(t, entries, 3)
	assert.Equal(t, uint64(3), s.LastApplied())

	first, entries = s.TakeCommitted()
	assert.Zero(t, first)
	assert.Empty(t, entries)
}

func TestState_LeaderProgressIsMonotonic(t *testing.T) {
	s := newTestState(t, 1, 3)
	elect(t, s)
	for i := 0; i < 3; i++ {
		_, _, _, err := s.Propose([]byte{byte(i)})
		require.NoError(t, err)
	}

	s.Step(2, &AppendEntriesResponse{Term: 1, Success: true, MatchedIndex: 3})
	s.Step(2, &AppendEntriesResponse{Term: 1, Success: true, MatchedIndex: 1})
	pr, _ := s.Progress(2)
	assert.Equal(t, Progress{Next: 4, Match: 3}, pr, "a reordered older response does not move progress back")

	s.Step(2, &AppendEntriesResponse{Term: 1, Success: false})
	pr, _ = s.Progress(2)
	assert.Equal(t, Progress{Next: 4, Match: 3}, pr, "nextIndex never drops below matchIndex+1")
	assert.Equal(t, uint64(3), s.CommitIndex())
}

func TestState_FollowerCommit(t *testing.T) {
	s := newTestState(t, 1, 3)

	eff := s.Step(2, &AppendEntriesRequest{Term: 1, LeaderID: 2, Entries: logOf(1, 1, 1), LeaderCommit: 2})
	assert.True(t, eff.CommitAdvanced)
	assert.Equal(t, uint64(2), s.CommitIndex())

	t.Run("bounded by the entries the request covers", func(t *testing.T) {
		s := newTestState(t, 1, 3)
		s.Restore(HardState{CurrentTerm: 1}, logOf(1, 1, 1))
		s.Step(2, &AppendEntriesRequest{Term: 1, LeaderID: 2, Entries: logOf(1), LeaderCommit: 3})
		assert.Equal(t, uint64(1), s.CommitIndex())
	})

	t.Run("never decreases", func(t *testing.T) {
		eff := s.Step(2, &AppendEntriesRequest{Term: 1, LeaderID: 2, PrevLogIndex: 3, PrevLogTerm: 1, LeaderCommit: 1})
		assert.False(t, eff.CommitAdvanced)
		assert.Equal(t, uint64(2), s.CommitIndex())
	})

	t.Run("heartbeat advances commit", func(t *testing.T) {
		eff := s.Step(2, &AppendEntriesRequest{Term: 1, LeaderID: 2, PrevLogIndex: 3, PrevLogTerm: 1, LeaderCommit: 3})
		assert.True(t, eff.CommitAdvanced)
		assert.Equal(t, uint64(3), s.CommitIndex())
		assert.Zero(t, eff.LogChangedFrom)
	})
}

func TestState_AppendEntriesIsIdempotent(t *testing.T) {
	s := newTestState(t, 1, 3)
	req := &AppendEntriesRequest{Term: 1, LeaderID: 2, Entries: logOf(1, 1)}

	first := s.Step(2, req)
	assert.Equal(t, uint64(1), first.LogChangedFrom)

	again := s.Step(2, req)
	assert.Zero(t, again.LogChangedFrom, "a duplicate changes nothing")
	assert.Equal(t, &AppendEntriesResponse{Term: 1, Success: true, MatchedIndex: 2}, again.Reply)

	// A delayed shorter request must not cut off entries that are already there.
	short := s.Step(2, &AppendEntriesRequest{Term: 1, LeaderID: 2, Entries: logOf(1)})
	assert.Zero(t, short.LogChangedFrom)
	assert.Equal(t, uint64(2), s.LastIndex())
	assert.Equal(t, &AppendEntriesResponse{Term: 1, Success: true, MatchedIndex: 1}, short.Reply)
}

func TestState_AppendEntriesTruncatesConflicts(t *testing.T) {
	s := newTestState(t, 1, 3)
	s.Restore(HardState{CurrentTerm: 2}, logOf(1, 2, 2))

	eff := s.Step(3, &AppendEntriesRequest{Term: 3, LeaderID: 3, PrevLogIndex: 1, PrevLogTerm: 1, Entries: logOf(3)})
	assert.Equal(t, uint64(2), eff.LogChangedFrom)
	assert.Equal(t, uint64(2), s.LastIndex(), "the conflicting suffix is removed")
	assert.Equal(t, uint64(3), s.LastTerm())
}

func TestState_Batching(t *testing.T) {
	s := newTestState(t, 1, 3)
	s.SetMaxEntriesPerAppend(2)
	elect(t, s)
	for i := 0; i < 5; i++ {
		_, _, _, err := s.Propose([]byte{byte(i)})
		require.NoError(t, err)
	}

	first := requestsTo(s.HeartbeatTick(), 2)[0].(*AppendEntriesRequest)
	assert.Equal(t, uint64(0), first.PrevLogIndex)
	assert.Len(t, first.Entries, 2)

	eff := s.Step(2, &AppendEntriesResponse{Term: 1, Success: true, MatchedIndex: 2})
	require.Len(t, eff.Messages, 1, "a partial catch-up continues at once")
	next := eff.Messages[0].Message.(*AppendEntriesRequest)
	assert.Equal(t, uint64(2), next.PrevLogIndex)
	assert.Equal(t, s.Entries(3, 4), next.Entries)
	assert.Equal(t, uint64(2), next.LeaderCommit)

	s.SetMaxEntriesPerAppend(0)
	last := requestsTo(s.HeartbeatTick(), 2)[0].(*AppendEntriesRequest)
	assert.Len(t, last.Entries, 2, "values below 1 are ignored")
}

func TestState_Violations(t *testing.T) {
	t.Run("unknown sender", func(t *testing.T) {
		s := newTestState(t, 1, 3)
		eff := s.Step(9, &RequestVoteRequest{Term: 7, CandidateID: 9})
		require.NotNil(t, eff.Violation)
		assert.Equal(t, NodeID(9), eff.Violation.From)
		assert.Equal(t, &RequestVoteResponse{Term: 0}, eff.Reply)
		assert.Equal(t, uint64(0), s.CurrentTerm(), "terms of strangers are not adopted")
	})

	t.Run("empty message", func(t *testing.T) {
		s := newTestState(t, 1, 3)
		eff := s.Step(2, nil)
		assert.NotNil(t, eff.Violation)
		assert.Nil(t, eff.Reply)
	})

	t.Run("vote on behalf of another node", func(t *testing.T) {
		s := newTestState(t, 1, 3)
		eff := s.Step(2, &RequestVoteRequest{Term: 1, CandidateID: 3})
		assert.NotNil(t, eff.Violation)
		assert.Equal(t, &RequestVoteResponse{Term: 1}, eff.Reply)
		assert.Equal(t, None, s.VotedFor())
	})

	t.Run("entries on behalf of another node", func(t *testing.T) {
		s := newTestState(t, 1, 3)
		eff := s.Step(2, &AppendEntriesRequest{Term: 1, LeaderID: 3, Entries: logOf(1)})
		assert.NotNil(t, eff.Violation)
		assert.Equal(t, &AppendEntriesResponse{Term: 1}, eff.Reply)
		assert.Equal(t, uint64(0), s.LastIndex())
	})

	t.Run("second leader in the same term", func(t *testing.T) {
		s := newTestState(t, 1, 3)
		elect(t, s)
		eff := s.Step(3, &AppendEntriesRequest{Term: 1, LeaderID: 3})
		assert.NotNil(t, eff.Violation)
		assert.Equal(t, &AppendEntriesResponse{Term: 1}, eff.Reply)
		assert.Equal(t, Leader, s.Role())
	})

	t.Run("conflict at a committed index", func(t *testing.T) {
		s := newTestState(t, 1, 3)
		s.Step(2, &AppendEntriesRequest{Term: 1, LeaderID: 2, Entries: logOf(1), LeaderCommit: 1})
		require.Equal(t, uint64(1), s.CommitIndex())

		eff := s.Step(3, &AppendEntriesRequest{Term: 2, LeaderID: 3, Entries: logOf(2)})
		assert.NotNil(t, eff.Violation)
		assert.Equal(t, &AppendEntriesResponse{Term: 2}, eff.Reply)
		assert.Equal(t, uint64(1), s.LastTerm(), "committed entries are never overwritten")
	})

	t.Run("match beyond the leader log", func(t *testing.T) {
		s := newTestState(t, 1, 3)
		elect(t, s)
		eff := s.Step(2, &AppendEntriesResponse{Term: 1, Success: true, MatchedIndex: 5})
		assert.NotNil(t, eff.Violation)
		pr, _ := s.Progress(2)
		assert.Equal(t, uint64(0), pr.Match)
	})
}

func TestState_SingleNode(t *testing.T) {
	s := newTestState(t, 1, 1)

	eff := s.ElectionTimeout()
	assert.Equal(t, Leader, s.Role())
	assert.Equal(t, uint64(1), s.CurrentTerm())
	assert.True(t, eff.RoleChanged)
	assert.Empty(t, eff.Messages)

	index, _, propose, err := s.Propose([]byte("SET a=1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), index)
	assert.True(t, propose.CommitAdvanced)
	assert.Equal(t, uint64(1), s.CommitIndex())
}

func TestState_NodeAndRoleStrings(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "3", NodeID(3).String())
	assert.Equal(t, "Leader", Leader.String())
	assert.Equal(t, "Unknown", Role(9).String())
	assert.Equal(t, "AppendEntriesResponse", KindAppendEntriesResponse.String())
	assert.True(t, KindRequestVoteRequest.IsRequest())
	assert.False(t, KindRequestVoteResponse.IsRequest())
}
