package raft

import (
	"fmt"
)

// DefaultMaxEntriesPerAppend bounds the number of entries carried by a single AppendEntries request.
const DefaultMaxEntriesPerAppend = 64

// HardState is the part of State that must be on stable storage before the node responds to any RPC, as per
// Figure 2 from the [Raft paper](https://raft.github.io/raft.pdf).
type HardState struct {
	CurrentTerm uint64
	VotedFor    NodeID
}

// Progress is the leader's view of a single follower's log.
type Progress struct {
	// Next is the index of the next LogEntry the leader will send to the follower.
	Next uint64
	// Match is the highest index known to be replicated on the follower.
	Match uint64
}

// Effects is everything the control loop has to carry out after a single step of State, in this order: persist,
// re-arm the election timer, answer the triggering request, send the outbound requests.
type Effects struct {
	// HardStateChanged is set when currentTerm or votedFor changed and must be persisted.
	HardStateChanged bool
	// LogChangedFrom is the lowest log index rewritten during the step, 0 if the log is untouched. Every entry
	// from this index to the end of the log must be persisted, replacing whatever was stored there.
	LogChangedFrom uint64
	// ResetElectionTimer asks the caller to re-arm the election timeout with a fresh random duration.
	ResetElectionTimer bool
	// RoleChanged is set when the role differs from the role before the step.
	RoleChanged bool
	// CommitAdvanced is set when commitIndex increased.
	CommitAdvanced bool
	// Reply is the response to the request being stepped, nil for every other event.
	Reply Message
	// Messages are requests to deliver to peers.
	Messages []Outbound
	// Violation describes why the stepped message was not applied, if it was not.
	Violation *ProtocolViolation
}

func (e *Effects) send(to NodeID, m Message) {
	e.Messages = append(e.Messages, Outbound{To: to, Message: m})
}

func (e *Effects) logChanged(from uint64) {
	if e.LogChangedFrom == 0 || from < e.LogChangedFrom {
		e.LogChangedFrom = from
	}
}

// State is the consensus state of a single node together with the decision logic reacting to timer and RPC
// events. It is not safe for concurrent use: a single goroutine owns it and serializes every mutation.
type State struct {
	id         NodeID
	cluster    ClusterInfo
	maxEntries int

	role Role
	// The latest term the node has seen. It increases monotonically and is persisted.
	currentTerm uint64
	// The candidate voted for in currentTerm, None if no vote was issued yet.
	votedFor NodeID
	// The leader of currentTerm, if known.
	leaderID NodeID
	// log[i] holds the entry at index i+1.
	log         []LogEntry
	commitIndex uint64
	lastApplied uint64

	// Candidate only: the nodes that granted a vote in currentTerm, including self.
	votes map[NodeID]bool
	// Leader only: replication progress for each peer.
	progress map[NodeID]*Progress
}

// NewState creates the state of a fresh node: Follower in term 0 with an empty log.
func NewState(id NodeID, cluster ClusterInfo) *State {
	return &State{
		id:         id,
		cluster:    cluster,
		maxEntries: DefaultMaxEntriesPerAppend,
		role:       Follower,
	}
}

// SetMaxEntriesPerAppend changes the AppendEntries batch size. Values below 1 are ignored.
func (s *State) SetMaxEntriesPerAppend(n int) {
	if n >= 1 {
		s.maxEntries = n
	}
}

// Restore loads persisted state after a restart. It must be called before the first step.
func (s *State) Restore(hs HardState, entries []LogEntry) {
	s.currentTerm = hs.CurrentTerm
	s.votedFor = hs.VotedFor
	s.log = append([]LogEntry(nil), entries...)
	s.role = Follower
	s.commitIndex = 0
	s.lastApplied = 0
}

func (s *State) ID() NodeID           { return s.id }
func (s *State) Cluster() ClusterInfo { return s.cluster }
func (s *State) Role() Role           { return s.role }
func (s *State) CurrentTerm() uint64  { return s.currentTerm }
func (s *State) VotedFor() NodeID     { return s.votedFor }
func (s *State) LeaderID() NodeID     { return s.leaderID }
func (s *State) CommitIndex() uint64  { return s.commitIndex }
func (s *State) LastApplied() uint64  { return s.lastApplied }
func (s *State) LastIndex() uint64    { return uint64(len(s.log)) }

// HardState returns the persistent part of the state.
func (s *State) HardState() HardState {
	return HardState{CurrentTerm: s.currentTerm, VotedFor: s.votedFor}
}

// LastTerm returns the term of the last log entry, 0 for an empty log.
func (s *State) LastTerm() uint64 {
	t, _ := s.termAt(s.LastIndex())
	return t
}

func (s *State) isMajority(n int) bool { return n >= s.cluster.MajorityCount }

func (s *State) entryTerm(i uint64) uint64 { return s.log[i-1].Term }

// termAt returns the term of the entry at index i. Index 0 always exists with term 0.
func (s *State) termAt(i uint64) (uint64, bool) {
	if i == 0 {
		return 0, true
	}
	if i > s.LastIndex() {
		return 0, false
	}
	return s.entryTerm(i), true
}

// Entries returns a copy of the entries in [from, to], clamped to the log.
func (s *State) Entries(from, to uint64) []LogEntry {
	if from == 0 {
		from = 1
	}
	if to > s.LastIndex() {
		to = s.LastIndex()
	}
	if from > to {
		return nil
	}
	out := make([]LogEntry, to-from+1)
	copy(out, s.log[from-1:to])
	return out
}

// Progress returns the replication progress of peer. It only exists while the node is Leader.
func (s *State) Progress(peer NodeID) (Progress, bool) {
	pr, ok := s.progress[peer]
	if !ok {
		return Progress{}, false
	}
	return *pr, true
}

// TakeCommitted returns the committed entries not yet handed out and marks them applied. The first returned entry
// has index first.
func (s *State) TakeCommitted() (first uint64, entries []LogEntry) {
	if s.lastApplied >= s.commitIndex {
		return 0, nil
	}
	first = s.lastApplied + 1
	entries = s.Entries(first, s.commitIndex)
	s.lastApplied = s.commitIndex
	return first, entries
}

// ElectionTimeout reacts to an expired election timer. Followers and Candidates start a new election for the
// next term, Leaders ignore it.
func (s *State) ElectionTimeout() Effects {
	var eff Effects
	if s.role == Leader {
		return eff
	}
	s.campaign(&eff)
	return eff
}

// HeartbeatTick sends a round of AppendEntries to every peer when the node is Leader.
func (s *State) HeartbeatTick() Effects {
	var eff Effects
	if s.role != Leader {
		return eff
	}
	s.broadcastAppend(&eff)
	return eff
}

// Propose appends a command to the leader's log. Replication happens on the following heartbeats.
func (s *State) Propose(command []byte) (index, term uint64, eff Effects, err error) {
	if s.role != Leader {
		return 0, 0, eff, ErrNotLeader
	}
	s.log = append(s.log, LogEntry{Term: s.currentTerm, Command: command})
	index = s.LastIndex()
	eff.logChanged(index)
	// A single node cluster commits on its own.
	s.maybeCommit(&eff)
	return index, s.currentTerm, eff, nil
}

// Step applies a message received from a peer.
func (s *State) Step(from NodeID, m Message) Effects {
	var eff Effects
	if m == nil {
		eff.Violation = &ProtocolViolation{From: from, Reason: "empty message"}
		return eff
	}

	if !s.cluster.HasPeer(from) {
		eff.Violation = &ProtocolViolation{From: from, Reason: "sender is not a member of the cluster"}
		s.reject(&eff, m)
		return eff
	}

	// If one server's current term is smaller than the other's, then it updates its current term to the larger
	// value. If a candidate or leader discovers that its term is out of date, it immediately reverts to follower
	// state (Section 5.1).
	if m.GetTerm() > s.currentTerm {
		s.becomeFollower(&eff, m.GetTerm(), None)
	}

	switch msg := m.(type) {
	case *RequestVoteRequest:
		if msg.CandidateID != from {
			eff.Violation = &ProtocolViolation{From: from, Reason: fmt.Sprintf("vote requested on behalf of node %s", msg.CandidateID)}
			s.reject(&eff, m)
			return eff
		}
		s.handleRequestVote(&eff, msg)
	case *RequestVoteResponse:
		s.handleRequestVoteResponse(&eff, from, msg)
	case *AppendEntriesRequest:
		if msg.LeaderID != from {
			eff.Violation = &ProtocolViolation{From: from, Reason: fmt.Sprintf("entries sent on behalf of node %s", msg.LeaderID)}
			s.reject(&eff, m)
			return eff
		}
		s.handleAppendEntries(&eff, msg)
	case *AppendEntriesResponse:
		s.handleAppendEntriesResponse(&eff, from, msg)
	}
	return eff
}

// reject answers a request that is not applied with the current term.
func (s *State) reject(eff *Effects, m Message) {
	switch m.(type) {
	case *RequestVoteRequest:
		eff.Reply = &RequestVoteResponse{Term: s.currentTerm}
	case *AppendEntriesRequest:
		eff.Reply = &AppendEntriesResponse{Term: s.currentTerm}
	}
}

// campaign begins an election, as per Section 5.2: increment the term, vote for self, ask every peer for a vote.
func (s *State) campaign(eff *Effects) {
	if s.role != Candidate {
		eff.RoleChanged = true
	}
	s.currentTerm++
	s.role = Candidate
	s.votedFor = s.id
	s.leaderID = None
	s.progress = nil
	s.votes = map[NodeID]bool{s.id: true}
	eff.HardStateChanged = true
	eff.ResetElectionTimer = true

	if s.isMajority(len(s.votes)) {
		s.becomeLeader(eff)
		return
	}

	lastIndex, lastTerm := s.LastIndex(), s.LastTerm()
	for _, peer := range s.cluster.PeerIDs() {
		eff.send(peer, &RequestVoteRequest{
			Term:         s.currentTerm,
			CandidateID:  s.id,
			LastLogIndex: lastIndex,
			LastLogTerm:  lastTerm,
		})
	}
}

func (s *State) becomeFollower(eff *Effects, term uint64, leader NodeID) {
	if s.role != Follower {
		eff.RoleChanged = true
	}
	if term != s.currentTerm {
		s.currentTerm = term
		// An old votedFor value is only valid for the old term.
		s.votedFor = None
		eff.HardStateChanged = true
	}
	s.role = Follower
	s.leaderID = leader
	s.votes = nil
	s.progress = nil
	eff.ResetElectionTimer = true
}

func (s *State) becomeLeader(eff *Effects) {
	s.role = Leader
	s.leaderID = s.id
	s.votes = nil
	s.progress = make(map[NodeID]*Progress, len(s.cluster.Peers))
	for _, peer := range s.cluster.PeerIDs() {
		s.progress[peer] = &Progress{Next: s.LastIndex() + 1, Match: 0}
	}
	eff.RoleChanged = true
	s.broadcastAppend(eff)
	s.maybeCommit(eff)
}

// logUpToDate implements the election restriction of Section 5.4.1: the candidate's log must be at least as
// up-to-date as ours, comparing the last term first and the last index second.
func (s *State) logUpToDate(lastTerm, lastIndex uint64) bool {
	if lastTerm != s.LastTerm() {
		return lastTerm > s.LastTerm()
	}
	return lastIndex >= s.LastIndex()
}

func (s *State) handleRequestVote(eff *Effects, req *RequestVoteRequest) {
	resp := &RequestVoteResponse{Term: s.currentTerm}
	eff.Reply = resp

	if req.Term < s.currentTerm {
		return
	}

	canVote := s.votedFor == None || s.votedFor == req.CandidateID
	if !canVote || !s.logUpToDate(req.LastLogTerm, req.LastLogIndex) {
		return
	}

	if s.votedFor != req.CandidateID {
		s.votedFor = req.CandidateID
		eff.HardStateChanged = true
	}
	resp.VoteGranted = true
	// Granting a vote means an election is running, the node must not time out on its own.
	eff.ResetElectionTimer = true
}

func (s *State) handleRequestVoteResponse(eff *Effects, from NodeID, resp *RequestVoteResponse) {
	if s.role != Candidate || resp.Term != s.currentTerm || !resp.VoteGranted {
		return
	}
	s.votes[from] = true
	if s.isMajority(len(s.votes)) {
		s.becomeLeader(eff)
	}
}

func (s *State) handleAppendEntries(eff *Effects, req *AppendEntriesRequest) {
	resp := &AppendEntriesResponse{Term: s.currentTerm}
	eff.Reply = resp

	if req.Term < s.currentTerm {
		return
	}

	if s.role == Leader {
		eff.Violation = &ProtocolViolation{
			From:   req.LeaderID,
			Reason: fmt.Sprintf("second leader claims term %d", req.Term),
		}
		return
	}
	if s.role == Candidate {
		// Another node won the election for this term.
		s.becomeFollower(eff, req.Term, req.LeaderID)
	}
	s.leaderID = req.LeaderID
	eff.ResetElectionTimer = true

	// Consistency check (Section 5.3): the log must contain an entry at prevLogIndex with prevLogTerm.
	if t, ok := s.termAt(req.PrevLogIndex); !ok || t != req.PrevLogTerm {
		return
	}

	for i := range req.Entries {
		idx := req.PrevLogIndex + 1 + uint64(i)
		if idx <= s.LastIndex() {
			if s.entryTerm(idx) == req.Entries[i].Term {
				continue
			}
			if idx <= s.commitIndex {
				eff.Violation = &ProtocolViolation{
					From:   req.LeaderID,
					Reason: fmt.Sprintf("conflicting entry at committed index %d", idx),
				}
				return
			}
			s.log = s.log[:idx-1]
		}
		s.log = append(s.log, req.Entries[i:]...)
		eff.logChanged(idx)
		break
	}

	last := req.PrevLogIndex + uint64(len(req.Entries))
	resp.Success = true
	resp.MatchedIndex = last

	if req.LeaderCommit > s.commitIndex {
		commit := min(req.LeaderCommit, last)
		if commit > s.commitIndex {
			s.commitIndex = commit
			eff.CommitAdvanced = true
		}
	}
}

func (s *State) handleAppendEntriesResponse(eff *Effects, from NodeID, resp *AppendEntriesResponse) {
	if s.role != Leader || resp.Term != s.currentTerm {
		return
	}
	pr, ok := s.progress[from]
	if !ok {
		return
	}

	if resp.Success {
		if resp.MatchedIndex > s.LastIndex() {
			eff.Violation = &ProtocolViolation{
				From:   from,
				Reason: fmt.Sprintf("matched index %d beyond leader log %d", resp.MatchedIndex, s.LastIndex()),
			}
			return
		}
		// Responses may be reordered, progress only moves forward.
		if resp.MatchedIndex > pr.Match {
			pr.Match = resp.MatchedIndex
		}
		if pr.Next < pr.Match+1 {
			pr.Next = pr.Match + 1
		}
		s.maybeCommit(eff)
		if pr.Next <= s.LastIndex() {
			eff.send(from, s.appendRequest(from))
		}
		return
	}

	// The follower's log does not match at nextIndex-1: back off by one entry and retry.
	if pr.Next > pr.Match+1 {
		pr.Next--
		eff.send(from, s.appendRequest(from))
	}
}

func (s *State) broadcastAppend(eff *Effects) {
	for _, peer := range s.cluster.PeerIDs() {
		eff.send(peer, s.appendRequest(peer))
	}
}

// appendRequest builds the AppendEntries request for a peer from its progress.
func (s *State) appendRequest(peer NodeID) *AppendEntriesRequest {
	pr := s.progress[peer]
	if pr.Next > s.LastIndex()+1 {
		pr.Next = s.LastIndex() + 1
	}
	prev := pr.Next - 1
	prevTerm, _ := s.termAt(prev)

	return &AppendEntriesRequest{
		Term:         s.currentTerm,
		LeaderID:     s.id,
		PrevLogIndex: prev,
		PrevLogTerm:  prevTerm,
		Entries:      s.Entries(pr.Next, prev+uint64(s.maxEntries)),
		LeaderCommit: s.commitIndex,
	}
}

// maybeCommit advances commitIndex to the highest index replicated on a majority. Only entries of the current term
// are committed by counting replicas; earlier entries commit with them by the Log Matching Property (Section 5.4.2).
func (s *State) maybeCommit(eff *Effects) {
	if s.role != Leader {
		return
	}
	for n := s.LastIndex(); n > s.commitIndex; n-- {
		t := s.entryTerm(n)
		if t < s.currentTerm {
			break
		}
		replicas := 1
		for _, pr := range s.progress {
			if pr.Match >= n {
				replicas++
			}
		}
		if s.isMajority(replicas) {
			s.commitIndex = n
			eff.CommitAdvanced = true
			return
		}
	}
}
