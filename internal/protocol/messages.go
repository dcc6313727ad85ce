package protocol

// Client -> Server
//
// createRoom:  userName?: string, sequence?: "fibonacci" | "natural" | "abcd"
// joinRoom:    roomId: string, userName?: string
// vote:        vote: string
// revealVotes: {}  (owner only)
// resetVotes:  {}  (owner only)
//
// Server -> Client
//
// roomCreated:   roomId, userId, ownerId, sequence, cards, userName
// joinedRoom:    roomId, userId, userName, ownerId, sequence, cards, users, votes|null, revealed
// userJoined:    userId, userName, ownerId, sequence, users
// userLeft:      userId, userName
// voteUpdated:   userId, hasVoted, votesCount, usersCount
// votesRevealed: votes
// votesReset:    {}
// error:         message

type MessageType string

const (
	TypeCreateRoom  MessageType = "createRoom"
	TypeJoinRoom    MessageType = "joinRoom"
	TypeVote        MessageType = "vote"
	TypeRevealVotes MessageType = "revealVotes"
	TypeResetVotes  MessageType = "resetVotes"

	TypeRoomCreated   MessageType = "roomCreated"
	TypeJoinedRoom    MessageType = "joinedRoom"
	TypeUserJoined    MessageType = "userJoined"
	TypeUserLeft      MessageType = "userLeft"
	TypeVoteUpdated   MessageType = "voteUpdated"
	TypeVotesRevealed MessageType = "votesRevealed"
	TypeVotesReset    MessageType = "votesReset"
	TypeError         MessageType = "error"
)

// Inbound is the closed set of messages a client can send.
type Inbound interface {
	Type() MessageType
	isInbound()
}

type CreateRoom struct {
	UserName string `json:"userName"`
	Sequence string `json:"sequence"`
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// Vote is nil when the client sent no vote field at all.
type Vote struct {
	Vote *string `json:"vote"`
}

type RevealVotes struct{}

type ResetVotes struct{}

func (CreateRoom) Type() MessageType  { return TypeCreateRoom }
func (JoinRoom) Type() MessageType    { return TypeJoinRoom }
func (Vote) Type() MessageType        { return TypeVote }
func (RevealVotes) Type() MessageType { return TypeRevealVotes }
func (ResetVotes) Type() MessageType  { return TypeResetVotes }

func (CreateRoom) isInbound()  {}
func (JoinRoom) isInbound()    {}
func (Vote) isInbound()        {}
func (RevealVotes) isInbound() {}
func (ResetVotes) isInbound()  {}

// Outbound is the closed set of messages the server sends.
type Outbound interface {
	Type() MessageType
	isOutbound()
}

type RoomCreated struct {
	RoomID   string   `json:"roomId"`
	UserID   string   `json:"userId"`
	OwnerID  string   `json:"ownerId"`
	Sequence string   `json:"sequence"`
	Cards    []string `json:"cards"`
	UserName string   `json:"userName"`
}

type JoinedRoom struct {
	RoomID   string            `json:"roomId"`
	UserID   string            `json:"userId"`
	UserName string            `json:"userName"`
	OwnerID  string            `json:"ownerId"`
	Sequence string            `json:"sequence"`
	Cards    []string          `json:"cards"`
	Users    map[string]string `json:"users"`
	Votes    map[string]string `json:"votes"` // nil until revealed
	Revealed bool              `json:"revealed"`
}

type UserJoined struct {
	UserID   string            `json:"userId"`
	UserName string            `json:"userName"`
	OwnerID  string            `json:"ownerId"`
	Sequence string            `json:"sequence"`
	Users    map[string]string `json:"users"`
}

type UserLeft struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type VoteUpdated struct {
	UserID     string `json:"userId"`
	HasVoted   bool   `json:"hasVoted"`
	VotesCount int    `json:"votesCount"`
	UsersCount int    `json:"usersCount"`
}

type VotesRevealed struct {
	Votes map[string]string `json:"votes"`
}

type VotesReset struct{}

type Error struct {
	Message string `json:"message"`
}

func (RoomCreated) Type() MessageType   { return TypeRoomCreated }
func (JoinedRoom) Type() MessageType    { return TypeJoinedRoom }
func (UserJoined) Type() MessageType    { return TypeUserJoined }
func (UserLeft) Type() MessageType      { return TypeUserLeft }
func (VoteUpdated) Type() MessageType   { return TypeVoteUpdated }
func (VotesRevealed) Type() MessageType { return TypeVotesRevealed }
func (VotesReset) Type() MessageType    { return TypeVotesReset }
func (Error) Type() MessageType         { return TypeError }

func (RoomCreated) isOutbound()   {}
func (JoinedRoom) isOutbound()    {}
func (UserJoined) isOutbound()    {}
func (UserLeft) isOutbound()      {}
func (VoteUpdated) isOutbound()   {}
func (VotesRevealed) isOutbound() {}
func (VotesReset) isOutbound()    {}
func (Error) isOutbound()         {}
