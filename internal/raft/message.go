package raft

// MessageKind identifies one of the four RPC message variants.
type MessageKind uint8

const (
	KindRequestVoteRequest MessageKind = iota + 1
	KindRequestVoteResponse
	KindAppendEntriesRequest
	KindAppendEntriesResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindRequestVoteRequest:
		return "RequestVoteRequest"
	case KindRequestVoteResponse:
		return "RequestVoteResponse"
	case KindAppendEntriesRequest:
		return "AppendEntriesRequest"
	case KindAppendEntriesResponse:
		return "AppendEntriesResponse"
	default:
		return "Unknown"
	}
}

// IsRequest reports whether messages of this kind expect a response.
func (k MessageKind) IsRequest() bool {
	return k == KindRequestVoteRequest || k == KindAppendEntriesRequest
}

// Message is the sum type over the four RPC messages exchanged by nodes. The set is closed: only the types in this
// file implement it.
type Message interface {
	Kind() MessageKind
	// GetTerm returns the term the sender was in when the message was produced.
	GetTerm() uint64
	isMessage()
}

// RequestVoteRequest is sent by candidates to gather votes (Section 5.2).
type RequestVoteRequest struct {
	Term         uint64
	CandidateID  NodeID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteResponse carries the voter's current term so stale candidates can step down.
type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesRequest is sent by the leader to replicate entries and as a heartbeat (Section 5.3).
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     NodeID
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesResponse reports whether the follower matched the leader at PrevLogIndex, and if so the highest
// index known to match.
type AppendEntriesResponse struct {
	Term         uint64
	Success      bool
	MatchedIndex uint64
}

func (*RequestVoteRequest) Kind() MessageKind    { return KindRequestVoteRequest }
func (*RequestVoteResponse) Kind() MessageKind   { return KindRequestVoteResponse }
func (*AppendEntriesRequest) Kind() MessageKind  { return KindAppendEntriesRequest }
func (*AppendEntriesResponse) Kind() MessageKind { return KindAppendEntriesResponse }

func (m *RequestVoteRequest) GetTerm() uint64    { return m.Term }
func (m *RequestVoteResponse) GetTerm() uint64   { return m.Term }
func (m *AppendEntriesRequest) GetTerm() uint64  { return m.Term }
func (m *AppendEntriesResponse) GetTerm() uint64 { return m.Term }

func (*RequestVoteRequest) isMessage()    {}
func (*RequestVoteResponse) isMessage()   {}
func (*AppendEntriesRequest) isMessage()  {}
func (*AppendEntriesResponse) isMessage() {}

// Envelope is an inbound message as delivered by a Transport to the control loop.
type Envelope struct {
	// From is the peer the message came from.
	From    NodeID
	Message Message
	// Reply sends the response for a request back to From. It is nil for responses. Calling it more than once is
	// a no-op after the first call.
	Reply func(Message)
}

// Outbound is a request the control loop wants delivered to a peer.
type Outbound struct {
	To      NodeID
	Message Message
}
