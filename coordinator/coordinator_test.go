package coordinator

import (
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/gridchase/board"
	"github.com/wfunc/gridchase/broadcast"
	"github.com/wfunc/gridchase/models"
	"github.com/wfunc/gridchase/monitor"
	"github.com/wfunc/gridchase/network"
	"github.com/wfunc/gridchase/persistence"
	"github.com/wfunc/gridchase/room"
	"github.com/wfunc/gridchase/sanitize"
	"github.com/wfunc/gridchase/session"
	"github.com/wfunc/gridchase/state"
)

type sentMessage struct {
	msgID uint16
	data  []byte
}

// fakeConn records every frame sent to it.
type fakeConn struct {
	mu     sync.Mutex
	sent   []sentMessage
	closed bool
}

func (f *fakeConn) Send(msgID uint16, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{msgID: msgID, data: data})
	return nil
}
func (f *fakeConn) Close() error                         { f.closed = true; return nil }
func (f *fakeConn) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (f *fakeConn) SetHeartbeat(interval time.Duration)  {}
func (f *fakeConn) ReadPacket() (*network.Packet, error) { return nil, nil }

func (f *fakeConn) count(msgID uint16) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.msgID == msgID {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(t *testing.T, msgID uint16, v interface{}) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].msgID == msgID {
			if v != nil {
				require.NoError(t, json.Unmarshal(f.sent[i].data, v))
			}
			return
		}
	}
	t.Fatalf("no message %d was sent", msgID)
}

func (f *fakeConn) ids() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint16, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.msgID)
	}
	return out
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// recordingDB captures saved game records.
type recordingDB struct {
	persistence.NopDatabase
	saved chan *models.GameRecord
}

func (d *recordingDB) SaveGameRecord(record *models.GameRecord) error {
	d.saved <- record
	return nil
}

type fixture struct {
	c        *Coordinator
	clock    *fakeClock
	registry *room.Registry
	sessions *session.Manager
	mon      *monitor.Monitor
	db       *recordingDB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := board.NewCatalog(map[string]board.Template{
		"Lane": {
			Width:  3,
			Height: 1,
			Tiles:  [][]board.TileKind{{board.KindPlain, board.KindGrass, board.KindFlowers}},
		},
		"Field": {
			Width:  3,
			Height: 2,
			Tiles: [][]board.TileKind{
				{board.KindPlain, board.KindPlain, board.KindPlain},
				{board.KindPond, board.KindLog, board.KindWall},
			},
		},
	})
	sessions := session.NewManager()
	hub := broadcast.NewRoomBroadcaster(sessions)
	registry := room.NewRegistry(catalog, hub, rand.New(rand.NewSource(7)), 0)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	mon := monitor.NewMonitor("test", prometheus.NewRegistry())
	db := &recordingDB{saved: make(chan *models.GameRecord, 4)}

	c := New(catalog, registry, hub, mon, db, Options{
		MoveInterval:    500 * time.Millisecond,
		ChatInterval:    500 * time.Millisecond,
		RoomIdleTimeout: 10 * time.Minute,
		Now:             clock.Now,
		Sanitize:        sanitize.Text,
	})
	return &fixture{c: c, clock: clock, registry: registry, sessions: sessions, mon: mon, db: db}
}

func (f *fixture) connect(id string) (*session.Session, *fakeConn) {
	conn := &fakeConn{}
	sess := session.NewSession(id, conn)
	f.sessions.Add(sess)
	f.c.Connect(sess)
	return sess, conn
}

// createRoom connects an owner and creates a room on boardType.
func (f *fixture) createRoom(t *testing.T, username, boardType string) (*session.Session, *fakeConn, *room.Room) {
	t.Helper()
	sess, conn := f.connect("owner-" + username)
	f.c.Create(sess, username, boardType)

	var joined network.JoinedLobby
	conn.last(t, network.MsgTypeJoinedLobby, &joined)
	rm, ok := f.registry.GetRoom(joined.RoomCode)
	require.True(t, ok)
	return sess, conn, rm
}

func loginReason(t *testing.T, conn *fakeConn) string {
	t.Helper()
	var le network.LoginError
	conn.last(t, network.MsgTypeLoginError, &le)
	return le.Reason
}

func TestConnect_SendsBoardsList(t *testing.T) {
	f := newFixture(t)
	_, conn := f.connect("s1")

	var list network.BoardsList
	conn.last(t, network.MsgTypeBoardsList, &list)
	assert.Equal(t, []string{"Field", "Lane"}, list.Names)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.mon.Metrics().OnlinePlayers))
}

func TestSend_OnlyToLiveSessions(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	ghost := session.NewSession("ghost", conn)

	f.c.Connect(ghost)
	assert.Empty(t, conn.ids(), "a session unknown to the manager receives nothing")

	f.sessions.Add(ghost)
	f.c.Connect(ghost)
	assert.Equal(t, []uint16{network.MsgTypeBoardsList}, conn.ids())
}

func TestCreate_SeatsOwner(t *testing.T) {
	f := newFixture(t)
	sess, conn := f.connect("s1")

	f.c.Create(sess, "  <b>Alice</b> ", "Lane")

	assert.Equal(t, []uint16{
		network.MsgTypeBoardsList,
		network.MsgTypeJoinedLobby,
		network.MsgTypeCreateBoard,
		network.MsgTypeLobbyOwner,
		network.MsgTypeUpdatePlayers,
	}, conn.ids())

	var joined network.JoinedLobby
	conn.last(t, network.MsgTypeJoinedLobby, &joined)
	assert.Equal(t, 0, joined.Slot)
	assert.Len(t, joined.RoomCode, room.CodeLength)

	var view board.BoardView
	conn.last(t, network.MsgTypeCreateBoard, &view)
	assert.Equal(t, "Lane", view.Name)
	assert.Equal(t, 3, view.Width)

	var players []interface{}
	conn.last(t, network.MsgTypeUpdatePlayers, &players)
	require.Len(t, players, room.MaxPlayers)
	assert.Equal(t, map[string]interface{}{"username": "Alice"}, players[0])
	assert.Equal(t, false, players[1])

	cs, ok := f.c.Connection("s1")
	require.True(t, ok)
	assert.True(t, cs.Joined)
	assert.Equal(t, joined.RoomCode, cs.RoomCode)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.mon.Metrics().ActiveRooms))
}

func TestCreate_RandomBoard(t *testing.T) {
	f := newFixture(t)
	_, conn, rm := f.createRoom(t, "Alice", board.RandomBoard)
	assert.Contains(t, []string{"Field", "Lane"}, rm.Board.Name)
	assert.Equal(t, 1, conn.count(network.MsgTypeLobbyOwner))
	assert.True(t, rm.IsOwner(0))

	var players []interface{}
	conn.last(t, network.MsgTypeUpdatePlayers, &players)
	require.Len(t, players, room.MaxPlayers)
	assert.Equal(t, map[string]interface{}{"username": "Alice"}, players[0])
	for i := 1; i < room.MaxPlayers; i++ {
		assert.Equal(t, false, players[i])
	}

	_, _, other := f.createRoom(t, "Bob", "")
	assert.NotEqual(t, rm.Code, other.Code)
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)

	sess, conn := f.connect("s1")
	f.c.Create(sess, "Alice", "Volcano")
	assert.Equal(t, ReasonBoardInvalid, loginReason(t, conn))

	f.c.Create(sess, "   ", "Lane")
	assert.Equal(t, ReasonNameInvalid, loginReason(t, conn))

	f.c.Create(sess, strings.Repeat("a", 21), "Lane")
	assert.Equal(t, ReasonNameInvalid, loginReason(t, conn))
	assert.Equal(t, 0, f.registry.Count())

	f.c.Create(sess, strings.Repeat("a", 20), "Lane")
	assert.Equal(t, 1, f.registry.Count())

	f.c.Create(sess, "Alice", "Lane")
	assert.Equal(t, ReasonAlreadyJoined, loginReason(t, conn))
	assert.Equal(t, 1, f.registry.Count())
}

func TestJoin_SecondPlayer(t *testing.T) {
	f := newFixture(t)
	_, aliceConn, rm := f.createRoom(t, "Alice", "Lane")

	bob, bobConn := f.connect("bob")
	f.c.Join(bob, strings.ToLower(rm.Code), "Bob")

	var joined network.JoinedLobby
	bobConn.last(t, network.MsgTypeJoinedLobby, &joined)
	assert.Equal(t, 1, joined.Slot)
	assert.Equal(t, rm.Code, joined.RoomCode)
	assert.Equal(t, 1, bobConn.count(network.MsgTypeCreateBoard))
	assert.Equal(t, 0, bobConn.count(network.MsgTypeLobbyOwner), "only the creator owns the room")

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		var players []interface{}
		conn.last(t, network.MsgTypeUpdatePlayers, &players)
		assert.Equal(t, map[string]interface{}{"username": "Bob"}, players[1])
	}
}

func TestJoin_Rejections(t *testing.T) {
	f := newFixture(t)
	owner, ownerConn, rm := f.createRoom(t, "Alice", "Lane")

	sess, conn := f.connect("s2")
	f.c.Join(sess, "ZZZZ", "Bob")
	assert.Equal(t, ReasonRoomInvalid, loginReason(t, conn))

	f.c.Join(sess, rm.Code, "Alice")
	assert.Equal(t, ReasonNameTaken, loginReason(t, conn))
	assert.Equal(t, 1, rm.PlayerCount())
	assert.Equal(t, 0, conn.count(network.MsgTypeUpdatePlayers), "a rejected join sees no occupancy")

	f.c.Join(sess, rm.Code, "<i></i>")
	assert.Equal(t, ReasonNameInvalid, loginReason(t, conn))

	f.c.Join(owner, rm.Code, "Again")
	assert.Equal(t, ReasonAlreadyJoined, loginReason(t, ownerConn))
	assert.Equal(t, 1, rm.PlayerCount())
}

func TestJoin_RoomFull(t *testing.T) {
	f := newFixture(t)
	_, _, rm := f.createRoom(t, "P0", "Field")

	for i := 1; i < room.MaxPlayers; i++ {
		sess, conn := f.connect("s" + string(rune('0'+i)))
		f.c.Join(sess, rm.Code, "P"+string(rune('0'+i)))
		require.Equal(t, 1, conn.count(network.MsgTypeJoinedLobby))
	}

	sess, conn := f.connect("late")
	f.c.Join(sess, rm.Code, "Late")
	assert.Equal(t, ReasonRoomFull, loginReason(t, conn))
	assert.Equal(t, room.MaxPlayers, rm.PlayerCount())
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn, rm := f.createRoom(t, "Alice", "Field")
	bob, bobConn := f.connect("bob")
	f.c.Join(bob, rm.Code, "Bob")

	f.c.Start(bob)
	assert.Equal(t, room.StatusLobby, rm.Status(), "only the owner can start")
	assert.Equal(t, 0, aliceConn.count(network.MsgTypeStartGame))

	f.c.Start(alice)
	assert.Equal(t, room.StatusInGame, rm.Status())

	spawned := make(map[board.Position]bool)
	for _, slot := range []int{0, 1} {
		pos, ok := rm.Board.PlayerPosition(slot)
		require.True(t, ok)
		tile, ok := rm.Board.Grid.At(pos.X, pos.Y)
		require.True(t, ok)
		assert.True(t, tile.Passable)
		assert.False(t, spawned[pos], "two players on one tile")
		spawned[pos] = true
	}

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		assert.Equal(t, 1, conn.count(network.MsgTypeStartGame))
		var positions map[string]board.Position
		conn.last(t, network.MsgTypeUpdatePlayerPositions, &positions)
		assert.Len(t, positions, 2)
	}

	select {
	case record := <-f.db.saved:
		assert.Equal(t, rm.Code, record.RoomCode)
		assert.Equal(t, "Field", record.BoardName)
		assert.Equal(t, []string{"Alice", "Bob"}, record.Players)
	case <-time.After(time.Second):
		t.Fatal("game record was not saved")
	}

	f.c.Start(alice)
	assert.Equal(t, 1, aliceConn.count(network.MsgTypeStartGame), "a running game cannot restart")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.mon.Metrics().GamesStarted))

	late, lateConn := f.connect("late")
	f.c.Join(late, rm.Code, "Carol")
	assert.Equal(t, ReasonRoomInGame, loginReason(t, lateConn))
}

func TestMove(t *testing.T) {
	f := newFixture(t)
	alice, conn, rm := f.createRoom(t, "Alice", "Lane")

	f.c.Move(alice, board.Right)
	f.c.Move(alice, board.Left)
	assert.Equal(t, 0, conn.count(network.MsgTypeAnimateFox), "moves are ignored in the lobby")
	cs, _ := f.c.Connection(alice.GetID())
	assert.True(t, cs.LastMove.IsZero())

	f.c.Start(alice)
	start, ok := rm.Board.PlayerPosition(0)
	require.True(t, ok)
	dir := board.Right
	if start.X == 2 {
		dir = board.Left
	}

	f.c.Move(alice, dir)
	require.Equal(t, 1, conn.count(network.MsgTypeAnimateFox))
	var fox state.FoxMove
	conn.last(t, network.MsgTypeAnimateFox, &fox)
	assert.Equal(t, 0, fox.Slot)
	assert.Equal(t, start.X+dir.DX, fox.X)
	assert.Equal(t, 0, fox.Y)

	f.clock.Advance(100 * time.Millisecond)
	f.c.Move(alice, board.Up)
	assert.Equal(t, 1, conn.count(network.MsgTypeAnimateFox), "throttled")

	f.clock.Advance(400 * time.Millisecond)
	f.c.Move(alice, board.ReverseDirection(dir))
	assert.Equal(t, 1, conn.count(network.MsgTypeAnimateFox), "backtrack refused")

	f.c.Move(alice, board.Up)
	assert.Equal(t, 1, conn.count(network.MsgTypeAnimateFox), "out of bounds")

	f.c.Move(alice, board.Direction{DX: 1, DY: 1})
	assert.Equal(t, 1, conn.count(network.MsgTypeAnimateFox), "diagonal")

	moves := f.mon.Metrics().Moves
	assert.Equal(t, float64(1), testutil.ToFloat64(moves.WithLabelValues(monitor.MoveAccepted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(moves.WithLabelValues(monitor.MoveThrottled)))
	assert.Equal(t, float64(1), testutil.ToFloat64(moves.WithLabelValues(monitor.MoveBacktrack)))
	// two lobby moves, one out of bounds, one diagonal
	assert.Equal(t, float64(4), testutil.ToFloat64(moves.WithLabelValues(monitor.MoveRejected)))

	cs, _ = f.c.Connection(alice.GetID())
	assert.Equal(t, dir, cs.LastDirection, "rejected moves do not change the last direction")
}

func TestMove_NotJoined(t *testing.T) {
	f := newFixture(t)
	sess, conn := f.connect("s1")
	f.c.Move(sess, board.Right)
	assert.Equal(t, []uint16{network.MsgTypeBoardsList}, conn.ids())
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn, rm := f.createRoom(t, "Alice", "Lane")
	bob, bobConn := f.connect("bob")
	f.c.Join(bob, rm.Code, "Bob")

	f.c.Chat(alice, " <b>hello</b> ")
	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		var msg network.ChatMessage
		conn.last(t, network.MsgTypeChatMessage, &msg)
		assert.Equal(t, "Alice", msg.Username)
		assert.Equal(t, "hello", msg.Text)
	}

	f.c.Chat(alice, "again")
	assert.Equal(t, 1, bobConn.count(network.MsgTypeChatMessage), "throttled")

	f.clock.Advance(500 * time.Millisecond)
	f.c.Chat(alice, "   ")
	assert.Equal(t, 1, bobConn.count(network.MsgTypeChatMessage), "empty text is dropped")

	f.c.Chat(alice, "again")
	assert.Equal(t, 2, bobConn.count(network.MsgTypeChatMessage))

	loner, lonerConn := f.connect("loner")
	f.c.Chat(loner, "anyone?")
	assert.Equal(t, 0, lonerConn.count(network.MsgTypeChatMessage))
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn, rm := f.createRoom(t, "Alice", "Field")
	bob, _ := f.connect("bob")
	f.c.Join(bob, rm.Code, "Bob")
	f.c.Start(alice)
	<-f.db.saved

	_, placed := rm.Board.PlayerPosition(1)
	require.True(t, placed)

	f.c.Disconnect(bob)

	var players []interface{}
	aliceConn.last(t, network.MsgTypeUpdatePlayers, &players)
	assert.Equal(t, false, players[1])
	_, placed = rm.Board.PlayerPosition(1)
	assert.False(t, placed, "the tile is freed")
	_, tracked := f.c.Connection("bob")
	assert.False(t, tracked)

	f.c.Disconnect(alice)
	_, ok := f.registry.GetRoom(rm.Code)
	assert.True(t, ok, "an empty room stays until reaped")
	assert.Equal(t, 0, rm.OwnerSlot(), "ownership is not reassigned")
}

func TestReap(t *testing.T) {
	f := newFixture(t)
	alice, _, rm := f.createRoom(t, "Alice", "Lane")
	f.c.Disconnect(alice)

	f.clock.Advance(9 * time.Minute)
	f.c.Reap()
	_, ok := f.registry.GetRoom(rm.Code)
	assert.True(t, ok)

	f.clock.Advance(time.Minute)
	f.c.Reap()
	_, ok = f.registry.GetRoom(rm.Code)
	assert.False(t, ok)
	assert.Equal(t, float64(0), testutil.ToFloat64(f.mon.Metrics().ActiveRooms))
}

func TestHandlePacket(t *testing.T) {
	f := newFixture(t)
	sess, conn := f.connect("s1")

	f.c.HandlePacket(sess, &network.Packet{MsgID: network.MsgTypeCreate, Data: []byte("{not json")})
	assert.Equal(t, 0, f.registry.Count())

	f.c.HandlePacket(sess, &network.Packet{MsgID: 999, Data: []byte("{}")})
	f.c.HandlePacket(sess, &network.Packet{MsgID: network.MsgTypeHeartbeat})

	f.c.HandlePacket(sess, &network.Packet{
		MsgID: network.MsgTypeCreate,
		Data:  []byte(`{"username":"Alice","boardType":"Lane"}`),
	})
	assert.Equal(t, 1, conn.count(network.MsgTypeLobbyOwner))

	f.c.HandlePacket(sess, &network.Packet{MsgID: network.MsgTypeStart})
	cs, _ := f.c.Connection("s1")
	rm, _ := f.registry.GetRoom(cs.RoomCode)
	assert.Equal(t, room.StatusInGame, rm.Status())

	f.c.HandlePacket(sess, &network.Packet{MsgID: network.MsgTypeChat, Data: []byte(`{"text":"hi"}`)})
	assert.Equal(t, 1, conn.count(network.MsgTypeChatMessage))

	start, _ := rm.Board.PlayerPosition(0)
	dir := `[1,0]`
	if start.X == 2 {
		dir = `[-1,0]`
	}
	f.c.HandlePacket(sess, &network.Packet{MsgID: network.MsgTypeMove, Data: []byte(`{"direction":[1]}`)})
	assert.Equal(t, 0, conn.count(network.MsgTypeAnimateFox), "a one-component direction is malformed")

	f.c.HandlePacket(sess, &network.Packet{MsgID: network.MsgTypeMove, Data: []byte(`{"direction":` + dir + `}`)})
	assert.Equal(t, 1, conn.count(network.MsgTypeAnimateFox))

	assert.Equal(t, float64(8), testutil.ToFloat64(f.mon.Metrics().MessagesReceived))
}

func TestRun_ListRooms(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	go f.c.Run(ctx)

	conn := &fakeConn{}
	sess := session.NewSession("s1", conn)
	f.sessions.Add(sess)
	f.c.PostConnect(sess)
	f.c.PostPacket(sess, &network.Packet{
		MsgID: network.MsgTypeCreate,
		Data:  []byte(`{"username":"Alice","boardType":"Field"}`),
	})

	rooms, err := f.c.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "lobby", rooms[0].State)
	assert.Equal(t, 1, rooms[0].Players)
	assert.Equal(t, 0, rooms[0].OwnerSlot)
	assert.Equal(t, "Field", rooms[0].BoardName)

	f.c.PostDisconnect(sess)
	rooms, err = f.c.ListRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rooms[0].Players)

	cancel()
	<-f.c.done
	_, err = f.c.ListRooms(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
