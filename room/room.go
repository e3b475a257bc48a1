// room/room.go
package room

import (
	"encoding/json"
	"time"

	"github.com/wfunc/gridchase/board"
	"github.com/wfunc/gridchase/logger"
	"github.com/wfunc/gridchase/state"
)

// RoomStatus 表示房间的业务状态
type RoomStatus int

const (
	StatusLobby RoomStatus = iota
	StatusInGame
)

func (s RoomStatus) String() string {
	switch s {
	case StatusLobby:
		return "lobby"
	case StatusInGame:
		return "in_game"
	}
	return "unknown"
}

// Room is one game instance. It is not safe for concurrent use; the
// coordinator loop is its only writer.
type Room struct {
	Code         string
	Board        *board.Board
	StateMachine state.StateMachine
	CreatedAt    time.Time
	players      [MaxPlayers]*Player
	ownerSlot    int
	lastActive   time.Time
	broadcaster  Broadcaster // Use the interface, not the concrete type
}

// NewRoom 创建一个新房间
func NewRoom(code string, b *board.Board, broadcaster Broadcaster, now time.Time) *Room {
	room := &Room{
		Code:        code,
		Board:       b,
		CreatedAt:   now,
		ownerSlot:   -1,
		lastActive:  now,
		broadcaster: broadcaster,
	}

	lobby := state.NewLobbyState(room)
	machine := state.NewBaseStateMachine(lobby)
	machine.AddTransition(lobby, state.NewInGameState(room), func() bool {
		return room.PlayerCount() > 0
	})
	room.StateMachine = machine

	return room
}

// --- 实现 state.RoomContext 接口 ---

func (r *Room) GetID() string {
	return r.Code
}

func (r *Room) GetBoard() *board.Board {
	return r.Board
}

// OccupiedSlots lists occupied slot indexes in ascending order.
func (r *Room) OccupiedSlots() []int {
	var slots []int
	for i, p := range r.players {
		if p != nil {
			slots = append(slots, i)
		}
	}
	return slots
}

// Broadcast encodes payload as JSON and sends it to every member of the room.
func (r *Room) Broadcast(msgID uint16, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.broadcaster.BroadcastToRoom(r.Code, msgID, data)
}

// --- 房间核心逻辑 ---

// AddPlayer seats p in the first empty slot and returns its index, or -1 when
// the room is full. The first player ever seated becomes the owner.
func (r *Room) AddPlayer(p *Player) int {
	for i := range r.players {
		if r.players[i] == nil {
			p.Slot = i
			r.players[i] = p
			if r.ownerSlot < 0 {
				r.ownerSlot = i
			}
			return i
		}
	}
	return -1
}

// RemovePlayer empties a slot without compacting. Ownership is not reassigned.
func (r *Room) RemovePlayer(slot int) {
	if slot < 0 || slot >= MaxPlayers {
		return
	}
	r.players[slot] = nil
	r.Board.RemovePlayer(slot)
}

// Player returns the occupant of a slot.
func (r *Room) Player(slot int) (*Player, bool) {
	if slot < 0 || slot >= MaxPlayers || r.players[slot] == nil {
		return nil, false
	}
	return r.players[slot], true
}

// HasUsername reports whether an occupant already uses name (case-sensitive).
func (r *Room) HasUsername(name string) bool {
	for _, p := range r.players {
		if p != nil && p.Username == name {
			return true
		}
	}
	return false
}

func (r *Room) PlayerCount() int {
	count := 0
	for _, p := range r.players {
		if p != nil {
			count++
		}
	}
	return count
}

// OwnerSlot is -1 until the first player is seated.
func (r *Room) OwnerSlot() int {
	return r.ownerSlot
}

func (r *Room) IsOwner(slot int) bool {
	return r.ownerSlot >= 0 && r.ownerSlot == slot
}

func (r *Room) Occupancy() Occupancy {
	return EncodePlayers(r.players)
}

// Status maps the state machine's current state to a RoomStatus.
func (r *Room) Status() RoomStatus {
	if r.StateMachine.GetCurrentState().GetID() == state.InGameID {
		return StatusInGame
	}
	return StatusLobby
}

// Start moves the room from the lobby into the game, spawning every player.
func (r *Room) Start() error {
	if err := r.StateMachine.ChangeState(state.NewInGameState(r)); err != nil {
		return err
	}
	logger.Log.Infof("Room %s started with %d players on board %s", r.Code, r.PlayerCount(), r.Board.Name)
	return nil
}

// HandleAction routes a seated player's action through the current state.
func (r *Room) HandleAction(slot int, action state.Action) error {
	p, ok := r.Player(slot)
	if !ok {
		return ErrSlotEmpty
	}
	return r.StateMachine.GetCurrentState().HandleAction(p, action)
}

// Touch records activity for idle-room reaping.
func (r *Room) Touch(now time.Time) {
	r.lastActive = now
}

// Idle reports whether the room has been empty for at least timeout.
func (r *Room) Idle(now time.Time, timeout time.Duration) bool {
	return r.PlayerCount() == 0 && now.Sub(r.lastActive) >= timeout
}
