// Package coordinator turns player intents into room and board changes.
//
// All game state is owned by a single goroutine (Run). Transport goroutines
// only post events, so rooms, boards and connection state need no locking and
// mutations happen in message-arrival order.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wfunc/gridchase/board"
	"github.com/wfunc/gridchase/broadcast"
	"github.com/wfunc/gridchase/logger"
	"github.com/wfunc/gridchase/models"
	"github.com/wfunc/gridchase/monitor"
	"github.com/wfunc/gridchase/network"
	"github.com/wfunc/gridchase/persistence"
	"github.com/wfunc/gridchase/room"
	"github.com/wfunc/gridchase/session"
	"github.com/wfunc/gridchase/state"
	"github.com/wfunc/gridchase/timer"
)

// Reasons sent in loginError.
const (
	ReasonAlreadyJoined = "Already in a room"
	ReasonRoomInvalid   = "Room is invalid"
	ReasonRoomInGame    = "Room is already in game"
	ReasonNameInvalid   = "Username is invalid"
	ReasonNameTaken     = "Username is already taken"
	ReasonRoomFull      = "Room is full"
	ReasonBoardInvalid  = "Board is invalid"
	ReasonCreateFailed  = "Could not create room"
)

const (
	minUsernameLength = 1
	maxUsernameLength = 20
	eventBufferSize   = 1024
)

var ErrStopped = errors.New("coordinator stopped")

type Options struct {
	MoveInterval    time.Duration
	ChatInterval    time.Duration
	RoomIdleTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// Sanitize cleans usernames and chat text; it defaults to the identity.
	Sanitize func(string) string
}

// ConnectionState is everything the coordinator tracks about one connection.
type ConnectionState struct {
	Session       *session.Session
	Joined        bool
	RoomCode      string
	Slot          int
	LastMove      time.Time
	LastDirection board.Direction
	HasDirection  bool
	LastChat      time.Time
}

type Coordinator struct {
	catalog     *board.Catalog
	registry    *room.Registry
	broadcaster *broadcast.RoomBroadcaster
	monitor     *monitor.Monitor
	db          persistence.Database
	opts        Options

	conns  map[string]*ConnectionState
	events chan event
	done   chan struct{}
}

func New(catalog *board.Catalog, registry *room.Registry, broadcaster *broadcast.RoomBroadcaster,
	mon *monitor.Monitor, db persistence.Database, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sanitize == nil {
		opts.Sanitize = func(s string) string { return s }
	}
	if db == nil {
		db = persistence.NopDatabase{}
	}
	registry.SetClock(opts.Now)

	return &Coordinator{
		catalog:     catalog,
		registry:    registry,
		broadcaster: broadcaster,
		monitor:     mon,
		db:          db,
		opts:        opts,
		conns:       make(map[string]*ConnectionState),
		events:      make(chan event, eventBufferSize),
		done:        make(chan struct{}),
	}
}

// Connection returns the tracked state of a session, if connected.
func (c *Coordinator) Connection(sessionID string) (*ConnectionState, bool) {
	cs, ok := c.conns[sessionID]
	return cs, ok
}

// ScheduleReaping asks tm to sweep idle rooms every interval.
func (c *Coordinator) ScheduleReaping(tm *timer.TimerManager, interval time.Duration) int64 {
	return tm.AddTimer(interval, interval, c.PostReap)
}

func (c *Coordinator) connection(sess *session.Session) *ConnectionState {
	cs, ok := c.conns[sess.GetID()]
	if !ok {
		cs = &ConnectionState{Session: sess}
		c.conns[sess.GetID()] = cs
	}
	return cs
}

func (c *Coordinator) send(sess *session.Session, msgID uint16, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Errorf("Failed to encode message %d: %v", msgID, err)
		return
	}
	if err := c.broadcaster.SendTo(sess.GetID(), msgID, data); err != nil {
		logger.Log.Warnf("Failed to send message %d to session %s: %v", msgID, sess.GetID(), err)
	}
}

func (c *Coordinator) loginError(sess *session.Session, reason string) {
	c.send(sess, network.MsgTypeLoginError, network.LoginError{Reason: reason})
}

func (c *Coordinator) broadcastPlayers(rm *room.Room) {
	if err := rm.Broadcast(network.MsgTypeUpdatePlayers, rm.Occupancy()); err != nil {
		logger.Log.Warnf("Failed to broadcast players of room %s: %v", rm.Code, err)
	}
}

func validUsername(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= minUsernameLength && n <= maxUsernameLength
}

// joinedRoom resolves the room of a joined connection.
func (c *Coordinator) joinedRoom(sess *session.Session) (*ConnectionState, *room.Room, bool) {
	cs, ok := c.conns[sess.GetID()]
	if !ok || !cs.Joined {
		return nil, nil, false
	}
	rm, ok := c.registry.GetRoom(cs.RoomCode)
	if !ok {
		return nil, nil, false
	}
	return cs, rm, true
}

// Connect registers a new connection and sends it the board list.
func (c *Coordinator) Connect(sess *session.Session) {
	c.connection(sess)
	c.monitor.IncOnlinePlayers()
	c.send(sess, network.MsgTypeBoardsList, network.BoardsList{Names: c.catalog.Names()})
}

// seat records the slot on the connection, subscribes it to the room, and
// sends the slot and board to the joining player.
func (c *Coordinator) seat(cs *ConnectionState, rm *room.Room, slot int) {
	cs.Joined = true
	cs.RoomCode = rm.Code
	cs.Slot = slot

	c.broadcaster.Join(rm.Code, cs.Session)
	c.send(cs.Session, network.MsgTypeJoinedLobby, network.JoinedLobby{RoomCode: rm.Code, Slot: slot})
	c.send(cs.Session, network.MsgTypeCreateBoard, rm.Board.View())
}

// Create makes a new room and seats the creator as its owner.
func (c *Coordinator) Create(sess *session.Session, username, boardType string) {
	cs := c.connection(sess)
	if cs.Joined {
		c.loginError(sess, ReasonAlreadyJoined)
		return
	}

	username = c.opts.Sanitize(username)
	if !validUsername(username) {
		c.loginError(sess, ReasonNameInvalid)
		return
	}
	if boardType == "" {
		boardType = board.RandomBoard
	}

	rm, err := c.registry.CreateRoom(boardType)
	if err != nil {
		if errors.Is(err, board.ErrUnknownBoard) || errors.Is(err, board.ErrNoTemplates) {
			c.loginError(sess, ReasonBoardInvalid)
			return
		}
		logger.Log.Errorf("Session %s failed to create room: %v", sess.GetID(), err)
		c.loginError(sess, ReasonCreateFailed)
		return
	}

	slot, err := c.registry.AddPlayer(rm.Code, &room.Player{Username: username, SessionID: sess.GetID()})
	if err != nil {
		logger.Log.Errorf("Session %s could not be seated in new room %s: %v", sess.GetID(), rm.Code, err)
		c.registry.RemoveRoom(rm.Code)
		c.loginError(sess, ReasonCreateFailed)
		return
	}

	c.seat(cs, rm, slot)
	c.send(sess, network.MsgTypeLobbyOwner, struct{}{})
	c.broadcastPlayers(rm)
	c.monitor.SetActiveRooms(c.registry.Count())
	logger.Log.Infof("%s has created room %s", username, rm.Code)
}

// Join seats the connection in an existing lobby.
func (c *Coordinator) Join(sess *session.Session, roomCode, username string) {
	cs := c.connection(sess)
	if cs.Joined {
		c.loginError(sess, ReasonAlreadyJoined)
		return
	}

	rm, ok := c.registry.GetRoom(strings.TrimSpace(roomCode))
	if !ok {
		c.loginError(sess, ReasonRoomInvalid)
		return
	}
	if rm.Status() != room.StatusLobby {
		c.loginError(sess, ReasonRoomInGame)
		return
	}

	username = c.opts.Sanitize(username)
	if !validUsername(username) {
		c.loginError(sess, ReasonNameInvalid)
		return
	}
	if rm.HasUsername(username) {
		c.loginError(sess, ReasonNameTaken)
		return
	}

	slot, err := c.registry.AddPlayer(rm.Code, &room.Player{Username: username, SessionID: sess.GetID()})
	if errors.Is(err, room.ErrRoomFull) {
		c.loginError(sess, ReasonRoomFull)
		return
	}
	if err != nil {
		c.loginError(sess, ReasonRoomInvalid)
		return
	}

	c.seat(cs, rm, slot)
	c.broadcastPlayers(rm)
	logger.Log.Infof("%s has joined room %s in slot %d", username, rm.Code, slot)
}

// Start begins the game. Only the owner of a lobby room can start it.
func (c *Coordinator) Start(sess *session.Session) {
	cs, rm, ok := c.joinedRoom(sess)
	if !ok || !rm.IsOwner(cs.Slot) || rm.Status() != room.StatusLobby {
		return
	}

	if err := rm.Start(); err != nil {
		logger.Log.Warnf("Room %s could not start: %v", rm.Code, err)
		return
	}
	c.monitor.IncGamesStarted()
	c.recordGame(rm)
}

func (c *Coordinator) recordGame(rm *room.Room) {
	record := &models.GameRecord{
		RoomCode:  rm.Code,
		BoardName: rm.Board.Name,
		StartedAt: c.opts.Now(),
	}
	for _, slot := range rm.OccupiedSlots() {
		p, _ := rm.Player(slot)
		record.Players = append(record.Players, p.Username)
	}

	// Off the event loop.
	go func() {
		if err := c.db.SaveGameRecord(record); err != nil {
			logger.Log.Errorf("Failed to save game record for room %s: %v", record.RoomCode, err)
		}
	}()
}

// Move applies one step. Requests inside the move interval, reversals of the
// last accepted direction, and illegal moves are dropped without a reply.
func (c *Coordinator) Move(sess *session.Session, dir board.Direction) {
	cs, rm, ok := c.joinedRoom(sess)
	if !ok {
		return
	}

	now := c.opts.Now()
	if !cs.LastMove.IsZero() && now.Sub(cs.LastMove) < c.opts.MoveInterval {
		logger.Log.Debugf("Move from session %s throttled", sess.GetID())
		c.monitor.IncMoves(monitor.MoveThrottled)
		return
	}
	if !dir.Valid() {
		c.monitor.IncMoves(monitor.MoveRejected)
		return
	}
	if cs.HasDirection && cs.LastDirection == board.ReverseDirection(dir) {
		logger.Log.Debugf("Move %s from session %s reverses the last move", dir, sess.GetID())
		c.monitor.IncMoves(monitor.MoveBacktrack)
		return
	}

	if err := rm.HandleAction(cs.Slot, state.Action{Type: state.ActionMove, Direction: dir}); err != nil {
		logger.Log.Debugf("Move %s of slot %d in room %s dropped: %v", dir, cs.Slot, rm.Code, err)
		c.monitor.IncMoves(monitor.MoveRejected)
		return
	}

	cs.LastMove = now
	cs.LastDirection = dir
	cs.HasDirection = true
	c.monitor.IncMoves(monitor.MoveAccepted)
}

// Chat relays a sanitized message to the room, at most one per chat interval.
func (c *Coordinator) Chat(sess *session.Session, text string) {
	cs, rm, ok := c.joinedRoom(sess)
	if !ok {
		return
	}
	p, ok := rm.Player(cs.Slot)
	if !ok {
		return
	}

	text = c.opts.Sanitize(text)
	if text == "" {
		return
	}
	now := c.opts.Now()
	if !cs.LastChat.IsZero() && now.Sub(cs.LastChat) < c.opts.ChatInterval {
		logger.Log.Debugf("Chat from session %s throttled", sess.GetID())
		return
	}
	cs.LastChat = now

	if err := rm.Broadcast(network.MsgTypeChatMessage, network.ChatMessage{Username: p.Username, Text: text}); err != nil {
		logger.Log.Warnf("Failed to broadcast chat in room %s: %v", rm.Code, err)
	}
}

// Disconnect frees the connection's slot. The room keeps running, even if empty.
func (c *Coordinator) Disconnect(sess *session.Session) {
	cs, ok := c.conns[sess.GetID()]
	if !ok {
		return
	}
	delete(c.conns, sess.GetID())
	c.monitor.DecOnlinePlayers()

	if !cs.Joined {
		return
	}
	c.broadcaster.Leave(cs.RoomCode, sess.GetID())
	if err := c.registry.RemovePlayer(cs.RoomCode, cs.Slot); err != nil {
		return
	}
	if rm, ok := c.registry.GetRoom(cs.RoomCode); ok {
		c.broadcastPlayers(rm)
	}
	logger.Log.Infof("Session %s left room %s (slot %d)", sess.GetID(), cs.RoomCode, cs.Slot)
}

// Reap removes rooms that have been empty longer than the idle timeout.
func (c *Coordinator) Reap() {
	if c.opts.RoomIdleTimeout <= 0 {
		return
	}
	for _, code := range c.registry.ReapIdle(c.opts.RoomIdleTimeout) {
		c.broadcaster.DropRoom(code)
		logger.Log.Infof("Reaped idle room %s", code)
	}
	c.monitor.SetActiveRooms(c.registry.Count())
}

// Rooms summarizes every live room.
func (c *Coordinator) Rooms() []models.RoomSummary {
	rooms := c.registry.Rooms()
	out := make([]models.RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, models.RoomSummary{
			Code:      rm.Code,
			State:     rm.Status().String(),
			Players:   rm.PlayerCount(),
			OwnerSlot: rm.OwnerSlot(),
			BoardName: rm.Board.Name,
			CreatedAt: rm.CreatedAt,
		})
	}
	return out
}

// ListRooms asks the event loop for a room summary.
func (c *Coordinator) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	reply := make(chan []models.RoomSummary, 1)
	if !c.post(ctx, event{kind: eventListRooms, reply: reply}) {
		return nil, ErrStopped
	}
	select {
	case rooms := <-reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrStopped
	}
}
