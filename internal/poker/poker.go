package poker

import (
	"maps"
	"slices"
	"strings"
)

type Phase string

const (
	PhaseOpen     Phase = "open"
	PhaseRevealed Phase = "revealed"
)

type Member struct {
	ID   string
	Name string
}

// Room is the in-memory vote state of one planning poker room. It is not
// safe for concurrent use; the room actor owns it.
type Room struct {
	ID       string
	OwnerID  string
	Sequence Sequence

	order    []string // member ids in join order
	names    map[string]string
	votes    map[string]string
	revealed bool
}

func NewRoom(id string, owner Member, seq Sequence) *Room {
	r := &Room{
		ID:       id,
		OwnerID:  owner.ID,
		Sequence: seq,
		names:    map[string]string{},
		votes:    map[string]string{},
	}
	r.AddMember(owner)
	return r
}

type CommandType string

const (
	CmdVote   CommandType = "Vote"
	CmdReveal CommandType = "RevealVotes"
	CmdReset  CommandType = "ResetVotes"
)

type Command struct {
	Type   CommandType
	UserID string
	Value  string // only for CmdVote
}

type EventType string

const (
	EvtVoteRecorded  EventType = "VoteRecorded"
	EvtVotesRevealed EventType = "VotesRevealed"
	EvtVotesReset    EventType = "VotesReset"
)

// Event is what happened as a result of a command. Vote values are never
// carried on EvtVoteRecorded.
type Event struct {
	Type       EventType
	UserID     string
	VotesCount int
	UsersCount int
	Votes      map[string]string // only for EvtVotesRevealed
}

// Apply runs cmd against the room. On error the room is left unchanged.
func (r *Room) Apply(cmd Command) (Event, error) {
	if !r.IsMember(cmd.UserID) {
		return Event{}, ErrUnknownMember
	}

	switch cmd.Type {
	case CmdVote:
		if !r.Sequence.Accepts(cmd.Value) {
			return Event{}, ErrInvalidVote
		}
		r.votes[cmd.UserID] = cmd.Value
		return Event{
			Type:       EvtVoteRecorded,
			UserID:     cmd.UserID,
			VotesCount: len(r.votes),
			UsersCount: len(r.order),
		}, nil

	case CmdReveal:
		if cmd.UserID != r.OwnerID {
			return Event{}, ErrUnauthorized
		}
		r.revealed = true
		return Event{Type: EvtVotesRevealed, UserID: cmd.UserID, Votes: r.Votes()}, nil

	case CmdReset:
		if cmd.UserID != r.OwnerID {
			return Event{}, ErrUnauthorized
		}
		clear(r.votes)
		r.revealed = false
		return Event{Type: EvtVotesReset, UserID: cmd.UserID}, nil

	default:
		return Event{}, ErrUnsupportedCommand
	}
}

func (r *Room) AddMember(m Member) {
	if _, ok := r.names[m.ID]; !ok {
		r.order = append(r.order, m.ID)
	}
	r.names[m.ID] = m.Name
}

// RemoveMember drops the member and any vote they cast. It returns the
// removed member and false if id was not a member.
func (r *Room) RemoveMember(id string) (Member, bool) {
	name, ok := r.names[id]
	if !ok {
		return Member{}, false
	}
	delete(r.names, id)
	delete(r.votes, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	return Member{ID: id, Name: name}, true
}

func (r *Room) IsMember(id string) bool {
	_, ok := r.names[id]
	return ok
}

func (r *Room) Empty() bool { return len(r.order) == 0 }

func (r *Room) Len() int { return len(r.order) }

func (r *Room) Phase() Phase {
	if r.revealed {
		return PhaseRevealed
	}
	return PhaseOpen
}

func (r *Room) Revealed() bool { return r.revealed }

// Members returns members in join order.
func (r *Room) Members() []Member {
	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Member{ID: id, Name: r.names[id]})
	}
	return out
}

// UserNames returns a copy of the userId -> display name map.
func (r *Room) UserNames() map[string]string {
	return maps.Clone(r.names)
}

// Votes returns a copy of the current votes.
func (r *Room) Votes() map[string]string {
	return maps.Clone(r.votes)
}

func (r *Room) HasVoted(id string) bool {
	_, ok := r.votes[id]
	return ok
}

const DefaultUserName = "Anonymous"

const maxUserNameLength = 40

// NormalizeUserName trims the display name, truncates it and falls back to
// DefaultUserName when nothing is left.
func NormalizeUserName(name string) string {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > maxUserNameLength {
		name = strings.TrimSpace(string(r[:maxUserNameLength]))
	}
	if name == "" {
		return DefaultUserName
	}
	return name
}
