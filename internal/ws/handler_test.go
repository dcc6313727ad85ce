package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/planning-poker/internal/hub"
	"github.com/DoyleJ11/planning-poker/internal/session"
)

type testEnv struct {
	srv      *httptest.Server
	hub      *hub.Hub
	ws       *Server
	sessions *session.Table
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := hub.NewHub(context.Background(), log)
	sessions := session.NewTable()
	wsServer := NewServer(h, sessions, log, Options{PingInterval: time.Minute})

	srv := httptest.NewServer(wsServer)
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return &testEnv{srv: srv, hub: h, ws: wsServer, sessions: sessions}
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) sendRaw(data string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, []byte(data)))
}

func (c *testClient) send(v map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	c.sendRaw(string(data))
}

func (c *testClient) recv() map[string]any {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)

	var msg map[string]any
	require.NoError(c.t, json.Unmarshal(data, &msg))
	return msg
}

func (c *testClient) expect(typ string) map[string]any {
	c.t.Helper()
	msg := c.recv()
	require.Equal(c.t, typ, msg["type"], "message: %v", msg)
	return msg
}

func (c *testClient) expectNothing(within time.Duration) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err == nil {
		c.t.Fatalf("expected no message, got %s", data)
	}
}

// createRoom returns the creator's client plus roomId and userId.
func (e *testEnv) createRoom(t *testing.T, name, seq string) (*testClient, string, string) {
	t.Helper()
	c := e.dial(t)
	c.send(map[string]any{"type": "createRoom", "userName": name, "sequence": seq})
	msg := c.expect("roomCreated")
	return c, msg["roomId"].(string), msg["userId"].(string)
}

func (e *testEnv) joinRoom(t *testing.T, roomID, name string) (*testClient, map[string]any) {
	t.Helper()
	c := e.dial(t)
	c.send(map[string]any{"type": "joinRoom", "roomId": roomID, "userName": name})
	return c, c.expect("joinedRoom")
}

func TestCreateRoom_OwnerIsCreator(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send(map[string]any{"type": "createRoom", "userName": "Alice", "sequence": "fibonacci"})
	msg := c.expect("roomCreated")

	assert.Equal(t, msg["userId"], msg["ownerId"])
	assert.Equal(t, "fibonacci", msg["sequence"])
	assert.Equal(t, "Alice", msg["userName"])
	assert.NotEqual(t, "Alice", msg["userId"])
	assert.Len(t, msg["roomId"], 6)
	assert.NotEmpty(t, msg["cards"])
}

func TestCreateRoom_Defaults(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send(map[string]any{"type": "createRoom"})
	msg := c.expect("roomCreated")
	assert.Equal(t, "Anonymous", msg["userName"])
	assert.Equal(t, "fibonacci", msg["sequence"])
}

func TestJoinRoom_SnapshotAndUserJoined(t *testing.T) {
	env := newTestEnv(t)
	alice, roomID, aliceID := env.createRoom(t, "Alice", "fibonacci")

	bob, joined := env.joinRoom(t, strings.ToLower(roomID), "Bob")
	bobID := joined["userId"].(string)

	assert.Equal(t, roomID, joined["roomId"])
	assert.Equal(t, aliceID, joined["ownerId"])
	assert.Equal(t, false, joined["revealed"])
	assert.Nil(t, joined["votes"])
	assert.Equal(t, map[string]any{aliceID: "Alice", bobID: "Bob"}, joined["users"])

	userJoined := alice.expect("userJoined")
	assert.Equal(t, bobID, userJoined["userId"])
	assert.Equal(t, "Bob", userJoined["userName"])
	assert.Contains(t, userJoined["users"], bobID)
	assert.Equal(t, aliceID, userJoined["ownerId"])

	bob.expectNothing(100 * time.Millisecond)
}

func TestJoin_RoomNotFound(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.send(map[string]any{"type": "joinRoom", "roomId": "NOPE00", "userName": "Bob"})
	msg := c.expect("error")
	assert.Equal(t, "Room not found", msg["message"])

	// connection stays usable
	c.send(map[string]any{"type": "createRoom", "userName": "Bob"})
	c.expect("roomCreated")
}

func TestReveal_OwnerOnlyAndShowsAllVotes(t *testing.T) {
	env := newTestEnv(t)
	alice, roomID, aliceID := env.createRoom(t, "Alice", "fibonacci")
	bob, joined := env.joinRoom(t, roomID, "Bob")
	bobID := joined["userId"].(string)
	alice.expect("userJoined")

	alice.send(map[string]any{"type": "vote", "vote": "5"})
	for _, c := range []*testClient{alice, bob} {
		msg := c.expect("voteUpdated")
		assert.Equal(t, aliceID, msg["userId"])
		assert.Equal(t, true, msg["hasVoted"])
		assert.EqualValues(t, 1, msg["votesCount"])
		assert.EqualValues(t, 2, msg["usersCount"])
		assert.NotContains(t, msg, "vote")
	}

	bob.send(map[string]any{"type": "vote", "vote": "8"})
	alice.expect("voteUpdated")
	bob.expect("voteUpdated")

	bob.send(map[string]any{"type": "revealVotes"})
	unauthorized := bob.expect("error")
	assert.Equal(t, "Only the room owner can reveal or reset votes", unauthorized["message"])
	alice.expectNothing(100 * time.Millisecond)

	alice.send(map[string]any{"type": "revealVotes"})
	want := map[string]any{aliceID: "5", bobID: "8"}
	assert.Equal(t, want, alice.expect("votesRevealed")["votes"])
	assert.Equal(t, want, bob.expect("votesRevealed")["votes"])
}

func TestVote_ClosedSequenceRejectsUnknownCard(t *testing.T) {
	env := newTestEnv(t)
	alice, _, _ := env.createRoom(t, "Alice", "abcd")

	alice.send(map[string]any{"type": "vote", "vote": "Z"})
	msg := alice.expect("error")
	assert.Equal(t, "Invalid vote for this room's sequence", msg["message"])

	alice.send(map[string]any{"type": "vote", "vote": "B"})
	alice.expect("voteUpdated")
}

func TestReset_LaterJoinerSeesOpenRoom(t *testing.T) {
	env := newTestEnv(t)
	alice, roomID, _ := env.createRoom(t, "Alice", "fibonacci")
	bob, _ := env.joinRoom(t, roomID, "Bob")
	alice.expect("userJoined")

	alice.send(map[string]any{"type": "vote", "vote": "3"})
	alice.expect("voteUpdated")
	bob.expect("voteUpdated")
	alice.send(map[string]any{"type": "revealVotes"})
	alice.expect("votesRevealed")
	bob.expect("votesRevealed")

	bob.send(map[string]any{"type": "resetVotes"})
	bob.expect("error")

	alice.send(map[string]any{"type": "resetVotes"})
	assert.Len(t, alice.expect("votesReset"), 1)
	bob.expect("votesReset")

	_, joined := env.joinRoom(t, roomID, "Carol")
	assert.Equal(t, false, joined["revealed"])
	assert.Nil(t, joined["votes"])
}

func TestLeave_NotifiesAndLastLeaveRemovesRoom(t *testing.T) {
	env := newTestEnv(t)
	alice, roomID, _ := env.createRoom(t, "Alice", "fibonacci")
	bob, joined := env.joinRoom(t, roomID, "Bob")
	bobID := joined["userId"].(string)
	alice.expect("userJoined")

	require.NoError(t, bob.conn.Close(websocket.StatusNormalClosure, "done"))
	left := alice.expect("userLeft")
	assert.Equal(t, bobID, left["userId"])
	assert.Equal(t, "Bob", left["userName"])

	require.NoError(t, alice.conn.Close(websocket.StatusNormalClosure, "done"))

	assert.Eventually(t, func() bool {
		stats, err := env.hub.Stats(context.Background())
		return err == nil && stats.Rooms == 0 && env.sessions.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	c := env.dial(t)
	c.send(map[string]any{"type": "joinRoom", "roomId": roomID})
	assert.Equal(t, "Room not found", c.expect("error")["message"])
}

func TestProtocolViolations(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	c.sendRaw("not json")
	assert.Equal(t, "Malformed message", c.expect("error")["message"])

	c.sendRaw(`{"type":42}`)
	assert.Equal(t, "Malformed message", c.expect("error")["message"])

	// unknown types are ignored, so the next reply belongs to the vote
	c.send(map[string]any{"type": "dance"})
	c.send(map[string]any{"type": "vote", "vote": "5"})
	assert.Equal(t, "Create or join a room first", c.expect("error")["message"])

	c.send(map[string]any{"type": "revealVotes"})
	c.expect("error")

	c.send(map[string]any{"type": "createRoom", "userName": "Alice"})
	c.expect("roomCreated")
	c.send(map[string]any{"type": "joinRoom", "roomId": "ANY000"})
	assert.Equal(t, "Already in a room", c.expect("error")["message"])
}

func TestHubShutdownClosesConnections(t *testing.T) {
	env := newTestEnv(t)
	alice, _, _ := env.createRoom(t, "Alice", "fibonacci")

	env.hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := alice.conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestReplies_KeepOrderWithRoomMessages(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	// sent back to back, so the error is queued while roomCreated may still be pending
	c.send(map[string]any{"type": "createRoom", "userName": "Alice"})
	c.send(map[string]any{"type": "createRoom", "userName": "Alice"})
	c.send(map[string]any{"type": "vote", "vote": "5"})
	c.sendRaw("{")

	c.expect("roomCreated")
	assert.Equal(t, "Already in a room", c.expect("error")["message"])
	c.expect("voteUpdated")
	assert.Equal(t, "Malformed message", c.expect("error")["message"])
}

func TestVote_EmptyAndMissingValue(t *testing.T) {
	env := newTestEnv(t)
	alice, _, aliceID := env.createRoom(t, "Alice", "natural")

	alice.send(map[string]any{"type": "vote"})
	assert.Equal(t, "Invalid vote for this room's sequence", alice.expect("error")["message"])

	alice.send(map[string]any{"type": "vote", "vote": ""})
	alice.expect("voteUpdated")

	alice.send(map[string]any{"type": "revealVotes"})
	assert.Equal(t, map[string]any{aliceID: ""}, alice.expect("votesRevealed")["votes"])
}

func TestServerClose_ClosesConnectionsOutsideRooms(t *testing.T) {
	env := newTestEnv(t)
	idle := env.dial(t)

	env.ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := idle.conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.NoError(t, env.ws.Wait(ctx))

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http")
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
}
