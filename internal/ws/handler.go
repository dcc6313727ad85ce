package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/hub"
	"github.com/DoyleJ11/planning-poker/internal/ident"
	"github.com/DoyleJ11/planning-poker/internal/poker"
	"github.com/DoyleJ11/planning-poker/internal/protocol"
	"github.com/DoyleJ11/planning-poker/internal/room"
	"github.com/DoyleJ11/planning-poker/internal/session"
)

type Options struct {
	OutboxSize     int
	ReadLimit      int64
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 32
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Server runs participant websocket connections.
type Server struct {
	hub      *hub.Hub
	sessions *session.Table
	log      *zap.Logger
	opts     Options
	active   sync.WaitGroup

	// closing is cancelled by Close; every connection watches it.
	closing context.Context
	close   context.CancelFunc

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewServer(h *hub.Hub, sessions *session.Table, log *zap.Logger, opts Options) *Server {
	closing, cancel := context.WithCancel(context.Background())
	return &Server{
		hub:      h,
		sessions: sessions,
		log:      log,
		opts:     opts.withDefaults(),
		closing:  closing,
		close:    cancel,
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and runs one participant connection until
// either side closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closing.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.active.Add(1)
	defer s.active.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		s.log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	s.track(conn, true)
	defer s.track(conn, false)
	conn.SetReadLimit(s.opts.ReadLimit)

	c := &client{
		id:       ident.NewConnID(),
		conn:     conn,
		hub:      s.hub,
		sessions: s.sessions,
		opts:     s.opts,
		out:      make(room.Outbox, s.opts.OutboxSize),
		closing:  s.closing.Done(),
	}
	c.log = s.log.With(zap.String("conn", c.id))

	s.sessions.Open(c.id)
	defer func() {
		if sess := s.sessions.Close(c.id); sess.Bound() {
			sess.Room.Leave(sess.UserID)
		}
		c.log.Debug("connection closed")
	}()
	c.log.Debug("connection opened", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writePump(ctx, cancel, c.log)

	c.readPump(ctx)
}

func (s *Server) track(conn *websocket.Conn, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Close tells every connection, in a room or not, to close with
// StatusGoingAway. Later upgrade requests are refused.
func (s *Server) Close() { s.close() }

// Abort drops every remaining connection without a close handshake.
func (s *Server) Abort() {
	s.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.CloseNow()
	}
}

// Wait blocks until every connection handler has returned or ctx is done.
// http.Server.Shutdown does not track hijacked connections, so callers
// wait here after Close.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// client is one websocket connection. out is its only write queue. Until
// create/join succeeds the reader owns it; after that the room does, and
// the reader's own replies go through room.Notify to keep their order.
type client struct {
	id       string
	conn     *websocket.Conn
	hub      *hub.Hub
	sessions *session.Table
	opts     Options
	log      *zap.Logger
	out      room.Outbox
	closing  <-chan struct{}

	// set by the reader once a room owns out
	room   *room.Room
	userID string
}

func (c *client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.log.Debug("peer closed")
			default:
				if ctx.Err() == nil {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				c.log.Debug("ignoring message", zap.Error(err))
				continue
			}
			c.log.Debug("bad message", zap.Error(err))
			c.send(protocol.ErrorFor(err))
			continue
		}

		c.dispatch(ctx, msg)
	}
}

func (c *client) dispatch(ctx context.Context, msg protocol.Inbound) {
	s, _ := c.sessions.Get(c.id)

	switch m := msg.(type) {
	case protocol.CreateRoom:
		if s.Bound() {
			c.send(protocol.ErrorFor(poker.ErrAlreadyInRoom))
			return
		}
		c.createRoom(ctx, m)

	case protocol.JoinRoom:
		if s.Bound() {
			c.send(protocol.ErrorFor(poker.ErrAlreadyInRoom))
			return
		}
		c.joinRoom(ctx, m)

	case protocol.Vote:
		if m.Vote == nil {
			c.send(protocol.ErrorFor(poker.ErrInvalidVote))
			return
		}
		c.command(s, poker.Command{Type: poker.CmdVote, UserID: s.UserID, Value: *m.Vote})

	case protocol.RevealVotes:
		c.command(s, poker.Command{Type: poker.CmdReveal, UserID: s.UserID})

	case protocol.ResetVotes:
		c.command(s, poker.Command{Type: poker.CmdReset, UserID: s.UserID})

	default:
		c.log.Warn("unhandled message type", zap.String("type", string(msg.Type())))
	}
}

func (c *client) createRoom(ctx context.Context, m protocol.CreateRoom) {
	name := poker.NormalizeUserName(m.UserName)
	// the hub always answers; a cancelled request must not orphan a room
	created, err := c.hub.Create(context.WithoutCancel(ctx), name, poker.ParseSequence(m.Sequence), c.out)
	if err != nil {
		c.log.Error("create room failed", zap.Error(err))
		c.send(protocol.ErrorFor(err))
		return
	}
	c.room, c.userID = created.Room, created.OwnerID

	c.bind(session.Session{RoomID: created.RoomID, UserID: created.OwnerID, UserName: name, Room: created.Room})
}

func (c *client) joinRoom(ctx context.Context, m protocol.JoinRoom) {
	code := ident.NormalizeRoomID(m.RoomID)
	rm, err := c.hub.Get(ctx, code)
	if err == nil {
		member := poker.Member{ID: ident.NewUserID(), Name: poker.NormalizeUserName(m.UserName)}
		if err = rm.Join(member, c.out); err == nil {
			c.room, c.userID = rm, member.ID
			c.bind(session.Session{RoomID: code, UserID: member.ID, UserName: member.Name, Room: rm})
			return
		}
	}

	c.log.Debug("join failed", zap.String("room", code), zap.Error(err))
	c.send(protocol.ErrorFor(err))
}

func (c *client) bind(s session.Session) {
	if err := c.sessions.Bind(c.id, s); err != nil {
		// only possible if the table entry vanished; undo the membership
		s.Room.Leave(s.UserID)
		c.log.Error("bind session failed", zap.Error(err))
		return
	}
	c.log = c.log.With(zap.String("room", s.RoomID), zap.String("user", s.UserID))
	c.log.Info("session bound", zap.String("name", s.UserName))
}

func (c *client) command(s session.Session, cmd poker.Command) {
	if !s.Bound() {
		c.send(protocol.ErrorFor(poker.ErrNotInRoom))
		return
	}
	s.Room.Apply(cmd)
}

// send queues a handler-generated reply behind everything already queued
// for this connection.
func (c *client) send(msg protocol.Outbound) {
	if c.room != nil {
		c.room.Notify(c.userID, msg)
		return
	}
	select {
	case c.out <- msg:
	default:
		c.log.Warn("dropping reply to slow client", zap.String("type", string(msg.Type())))
	}
}

// writePump owns all writes to conn. log is fixed at start since c.log is
// rebound by the reader.
func (c *client) writePump(ctx context.Context, cancel context.CancelFunc, log *zap.Logger) {
	defer cancel()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.closing:
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return

		case msg, ok := <-c.out:
			if !ok {
				// removed from the room: evicted or server shutting down
				c.conn.Close(websocket.StatusGoingAway, "removed from room")
				return
			}
			if err := c.write(ctx, log, msg); err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *client) write(ctx context.Context, log *zap.Logger, msg protocol.Outbound) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		log.Error("encode failed", zap.Error(err))
		return nil
	}
	wctx, wcancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer wcancel()
	if err := c.conn.Write(wctx, websocket.MessageText, payload); err != nil {
		log.Debug("write failed", zap.String("type", string(msg.Type())), zap.Error(err))
		return err
	}
	return nil
}
