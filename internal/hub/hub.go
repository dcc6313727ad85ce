package hub

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/ident"
	"github.com/DoyleJ11/planning-poker/internal/poker"
	"github.com/DoyleJ11/planning-poker/internal/room"
)

// maxCodeAttempts bounds regeneration on room code collisions.
const maxCodeAttempts = 32

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	OwnerName string
	Sequence  poker.Sequence
	Outbox    room.Outbox // receives roomCreated first
	Reply     chan Created
}

type Created struct {
	Room    *room.Room
	RoomID  string
	OwnerID string
	Err     error
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

// RemoveRoom is sent by a room once it is empty. It only deletes the entry
// if Room is still the one registered under Code.
type RemoveRoom struct {
	Code string
	Room *room.Room
}

type GetStats struct {
	Reply chan Stats
}

type Stats struct {
	Rooms int `json:"rooms"`
	Users int `json:"users"`
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (GetStats) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}

// Hub is the process-wide room registry. All registry state is owned by
// the hub goroutine.
type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	log    *zap.Logger
	newID  func() (string, error)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Hub)

// WithRoomIDs replaces the room code generator.
func WithRoomIDs(gen func() (string, error)) Option {
	return func(h *Hub) { h.newID = gen }
}

func NewHub(parent context.Context, log *zap.Logger, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		log:    log,
		newID:  ident.NewRoomID,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed after the hub has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.create(msg)

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // May be nil

			case RemoveRoom:
				if h.rooms[msg.Code] == msg.Room {
					delete(h.rooms, msg.Code)
					h.log.Info("room removed", zap.String("room", msg.Code), zap.Int("rooms", len(h.rooms)))
				}

			case GetStats:
				s := Stats{Rooms: len(h.rooms)}
				for _, r := range h.rooms {
					s.Users += r.Len()
				}
				msg.Reply <- s

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(msg CreateRoom) Created {
	var code string
	for attempt := 0; ; attempt++ {
		if attempt == maxCodeAttempts {
			return Created{Err: fmt.Errorf("no free room code after %d attempts", maxCodeAttempts)}
		}
		c, err := h.newID()
		if err != nil {
			return Created{Err: err}
		}
		if _, taken := h.rooms[c]; !taken {
			code = c
			break
		}
		h.log.Debug("collision on room code, regenerating", zap.String("room", c))
	}

	owner := poker.Member{ID: ident.NewUserID(), Name: msg.OwnerName}
	state := poker.NewRoom(code, owner, msg.Sequence)
	r := room.New(h.ctx, h.log, state, msg.Outbox, h.roomEmpty)
	h.rooms[code] = r

	h.log.Info("room created",
		zap.String("room", code),
		zap.String("owner", owner.ID),
		zap.String("sequence", string(msg.Sequence)),
		zap.Int("rooms", len(h.rooms)),
	)
	return Created{Room: r, RoomID: code, OwnerID: owner.ID}
}

// roomEmpty runs on the room goroutine.
func (h *Hub) roomEmpty(r *room.Room) {
	select {
	case h.inbox <- RemoveRoom{Code: r.ID(), Room: r}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		r.Send(room.Shutdown{})
	}
	clear(h.rooms)
	h.cancel()
	h.log.Info("hub stopped")
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create registers a new room owned by ownerName. The owner receives
// roomCreated on out.
func (h *Hub) Create(ctx context.Context, ownerName string, seq poker.Sequence, out room.Outbox) (Created, error) {
	reply := make(chan Created, 1)
	if err := h.send(ctx, CreateRoom{OwnerName: ownerName, Sequence: seq, Outbox: out, Reply: reply}); err != nil {
		return Created{}, err
	}
	select {
	case c := <-reply:
		return c, c.Err
	case <-h.done:
		// a room created just before the hub stopped already owns out
		select {
		case c := <-reply:
			return c, c.Err
		default:
			return Created{}, ErrHubClosed
		}
	case <-ctx.Done():
		return Created{}, ctx.Err()
	}
}

// Get looks up a live room by code.
func (h *Hub) Get(ctx context.Context, code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := h.send(ctx, GetRoom{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		if r == nil {
			return nil, fmt.Errorf("%q: %w", code, poker.ErrRoomNotFound)
		}
		return r, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := h.send(ctx, GetStats{Reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return Stats{}, ErrHubClosed
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Shutdown stops every room, closing member outboxes, then the hub itself.
func (h *Hub) Shutdown() {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}
