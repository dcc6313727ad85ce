package room

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/poker"
	"github.com/DoyleJ11/planning-poker/internal/protocol"
)

type Msg interface{ isRoomMsg() }

// Outbox is where a member wants to receive messages. The room closes it
// when the member leaves, is evicted or the room shuts down.
type Outbox chan protocol.Outbound

type Join struct {
	Member poker.Member
	Outbox Outbox
	Reply  chan error
}

func (Join) isRoomMsg() {}

type Leave struct{ UserID string }

func (Leave) isRoomMsg() {}

type FromClient struct {
	Cmd poker.Command
}

func (FromClient) isRoomMsg() {}

// Notify delivers Msg to one member in order with the room's own traffic.
type Notify struct {
	UserID string
	Msg    protocol.Outbound
}

func (Notify) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type View struct {
	ID       string
	OwnerID  string
	Sequence poker.Sequence
	Phase    poker.Phase
	Members  []poker.Member
	Votes    map[string]string
}

// Room serializes every mutation of one poker.Room through a single
// goroutine and fans the results out to member outboxes.
type Room struct {
	id      string
	inbox   chan Msg
	state   *poker.Room
	outbox  map[string]Outbox
	members atomic.Int32
	onEmpty func(*Room)
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New starts a room whose only member is the owner of state. The owner is
// sent roomCreated on ownerOut before any other message. onEmpty is called
// once, from the room goroutine, after the last member has left.
func New(parent context.Context, log *zap.Logger, state *poker.Room, ownerOut Outbox, onEmpty func(*Room)) *Room {
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		id:      state.ID,
		inbox:   make(chan Msg, 64),
		state:   state,
		outbox:  map[string]Outbox{state.OwnerID: ownerOut},
		onEmpty: onEmpty,
		log:     log.With(zap.String("room", state.ID)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.members.Store(int32(state.Len()))

	owner := state.Members()[0]
	r.deliver(owner.ID, protocol.RoomCreated{
		RoomID:   state.ID,
		UserID:   owner.ID,
		OwnerID:  state.OwnerID,
		Sequence: string(state.Sequence),
		Cards:    state.Sequence.Cards(),
		UserName: owner.Name,
	})

	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Len is the current member count. Safe to call from any goroutine.
func (r *Room) Len() int { return int(r.members.Load()) }

// Done is closed once the room has stopped processing messages.
func (r *Room) Done() <-chan struct{} { return r.done }

// Send queues m for the room. It reports false if the room has stopped.
func (r *Room) Send(m Msg) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.inbox <- m:
		return true
	case <-r.done:
		return false
	}
}

// Join adds member to the room. It fails with poker.ErrRoomNotFound if the
// room stopped before the join was processed.
func (r *Room) Join(member poker.Member, out Outbox) error {
	reply := make(chan error, 1)
	if !r.Send(Join{Member: member, Outbox: out, Reply: reply}) {
		return poker.ErrRoomNotFound
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return poker.ErrRoomNotFound
		}
	}
}

func (r *Room) Leave(userID string) { r.Send(Leave{UserID: userID}) }

func (r *Room) Apply(cmd poker.Command) { r.Send(FromClient{Cmd: cmd}) }

func (r *Room) Notify(userID string, msg protocol.Outbound) {
	r.Send(Notify{UserID: userID, Msg: msg})
}

// State returns a consistent view of the room, or false if it has stopped.
func (r *Room) State() (View, bool) {
	reply := make(chan View, 1)
	if !r.Send(GetState{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-r.done:
		return View{}, false
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.join(msg)

			case Leave:
				r.remove(msg.UserID, "left")

			case FromClient:
				r.apply(msg.Cmd)

			case Notify:
				r.reply(msg.UserID, msg.Msg)

			case GetState:
				msg.Reply <- View{
					ID:       r.state.ID,
					OwnerID:  r.state.OwnerID,
					Sequence: r.state.Sequence,
					Phase:    r.state.Phase(),
					Members:  r.state.Members(),
					Votes:    r.state.Votes(),
				}

			case Shutdown:
				r.shutdown()
				return
			}

			if r.state.Empty() {
				r.log.Info("room empty, removing")
				r.shutdown()
				if r.onEmpty != nil {
					r.onEmpty(r)
				}
				return
			}
		}
	}
}

func (r *Room) join(msg Join) {
	if r.state.IsMember(msg.Member.ID) {
		msg.Reply <- poker.ErrAlreadyInRoom
		return
	}

	r.state.AddMember(msg.Member)
	r.outbox[msg.Member.ID] = msg.Outbox
	r.members.Store(int32(r.state.Len()))
	msg.Reply <- nil

	r.log.Info("user joined",
		zap.String("user", msg.Member.ID),
		zap.String("name", msg.Member.Name),
		zap.Int("users", r.state.Len()),
	)

	snapshot := protocol.JoinedRoom{
		RoomID:   r.state.ID,
		UserID:   msg.Member.ID,
		UserName: msg.Member.Name,
		OwnerID:  r.state.OwnerID,
		Sequence: string(r.state.Sequence),
		Cards:    r.state.Sequence.Cards(),
		Users:    r.state.UserNames(),
		Revealed: r.state.Revealed(),
	}
	if r.state.Revealed() {
		snapshot.Votes = r.state.Votes()
	}
	r.reply(msg.Member.ID, snapshot)

	r.broadcast(protocol.UserJoined{
		UserID:   msg.Member.ID,
		UserName: msg.Member.Name,
		OwnerID:  r.state.OwnerID,
		Sequence: string(r.state.Sequence),
		Users:    r.state.UserNames(),
	}, msg.Member.ID)
}

func (r *Room) apply(cmd poker.Command) {
	evt, err := r.state.Apply(cmd)
	if err != nil {
		if errors.Is(err, poker.ErrUnknownMember) {
			r.log.Debug("command from non-member", zap.String("user", cmd.UserID), zap.String("cmd", string(cmd.Type)))
			return
		}
		r.log.Debug("command rejected", zap.String("user", cmd.UserID), zap.String("cmd", string(cmd.Type)), zap.Error(err))
		r.reply(cmd.UserID, protocol.ErrorFor(err))
		return
	}

	switch evt.Type {
	case poker.EvtVoteRecorded:
		r.broadcast(protocol.VoteUpdated{
			UserID:     evt.UserID,
			HasVoted:   true,
			VotesCount: evt.VotesCount,
			UsersCount: evt.UsersCount,
		}, "")
	case poker.EvtVotesRevealed:
		r.log.Info("votes revealed", zap.Int("votes", len(evt.Votes)))
		r.broadcast(protocol.VotesRevealed{Votes: evt.Votes}, "")
	case poker.EvtVotesReset:
		r.log.Info("votes reset")
		r.broadcast(protocol.VotesReset{}, "")
	}
}

// remove drops a member, closes its outbox and tells everyone else.
func (r *Room) remove(userID, reason string) {
	m, ok := r.state.RemoveMember(userID)
	if !ok {
		return
	}
	if ch, ok := r.outbox[userID]; ok {
		close(ch)
		delete(r.outbox, userID)
	}
	r.members.Store(int32(r.state.Len()))

	r.log.Info("user removed",
		zap.String("user", userID),
		zap.String("reason", reason),
		zap.Int("users", r.state.Len()),
	)

	r.broadcast(protocol.UserLeft{UserID: m.ID, UserName: m.Name}, "")
}

// broadcast sends msg to every member except exclude, in join order.
// Members whose outbox is full are evicted after the fan-out.
func (r *Room) broadcast(msg protocol.Outbound, exclude string) {
	var slow []string
	for _, m := range r.state.Members() {
		if m.ID == exclude {
			continue
		}
		if !r.deliver(m.ID, msg) {
			slow = append(slow, m.ID)
		}
	}
	for _, id := range slow {
		r.remove(id, "slow")
	}
}

func (r *Room) reply(userID string, msg protocol.Outbound) {
	if !r.deliver(userID, msg) {
		r.remove(userID, "slow")
	}
}

func (r *Room) deliver(userID string, msg protocol.Outbound) bool {
	ch, ok := r.outbox[userID]
	if !ok {
		return true
	}
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.outbox {
		close(ch) // no more messages for this member
		delete(r.outbox, id)
	}
	r.members.Store(0)
	r.cancel()
	close(r.done)
}
