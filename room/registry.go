package room

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/wfunc/gridchase/board"
	"github.com/wfunc/gridchase/logger"
)

const (
	// CodeLength is the number of characters in a room code.
	CodeLength = 4
	// CodeAlphabet omits 0 and 1, which read like O and I.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ23456789"

	defaultMaxCodeAttempts = 16
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrSlotEmpty    = errors.New("slot is empty")
	ErrNoRoomCode   = errors.New("could not allocate a unique room code")
)

// GenerateCode builds a random CodeLength-character code from CodeAlphabet.
func GenerateCode(rng *rand.Rand) string {
	var sb strings.Builder
	sb.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		sb.WriteByte(CodeAlphabet[rng.Intn(len(CodeAlphabet))])
	}
	return sb.String()
}

// Registry owns every live room, keyed by code.
type Registry struct {
	rooms           map[string]*Room
	catalog         *board.Catalog
	broadcaster     Broadcaster
	rng             *rand.Rand
	maxCodeAttempts int
	now             func() time.Time
	newCode         func() string
}

func NewRegistry(catalog *board.Catalog, broadcaster Broadcaster, rng *rand.Rand, maxCodeAttempts int) *Registry {
	if maxCodeAttempts <= 0 {
		maxCodeAttempts = defaultMaxCodeAttempts
	}
	r := &Registry{
		rooms:           make(map[string]*Room),
		catalog:         catalog,
		broadcaster:     broadcaster,
		rng:             rng,
		maxCodeAttempts: maxCodeAttempts,
		now:             time.Now,
	}
	r.newCode = func() string { return GenerateCode(r.rng) }
	return r
}

// SetClock replaces the registry's time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// CreateRoom registers a lobby room with a fresh board built from boardType.
// Codes are regenerated on collision up to the attempt limit.
func (r *Registry) CreateRoom(boardType string) (*Room, error) {
	b, err := r.catalog.Build(boardType, r.rng)
	if err != nil {
		return nil, err
	}

	code := ""
	for attempt := 0; attempt < r.maxCodeAttempts; attempt++ {
		candidate := r.newCode()
		if _, taken := r.rooms[candidate]; !taken {
			code = candidate
			break
		}
	}
	if code == "" {
		return nil, fmt.Errorf("%w after %d attempts", ErrNoRoomCode, r.maxCodeAttempts)
	}

	room := NewRoom(code, b, r.broadcaster, r.now())
	r.rooms[code] = room
	logger.Log.Infof("Created room %s with board %s", code, b.Name)
	return room, nil
}

// GetRoom looks a room up by code. Codes are case-insensitive.
func (r *Registry) GetRoom(code string) (*Room, bool) {
	room, exists := r.rooms[strings.ToUpper(code)]
	return room, exists
}

// AddPlayer seats p in the room and returns the slot index.
func (r *Registry) AddPlayer(code string, p *Player) (int, error) {
	room, exists := r.GetRoom(code)
	if !exists {
		return -1, ErrRoomNotFound
	}
	slot := room.AddPlayer(p)
	if slot < 0 {
		return -1, ErrRoomFull
	}
	room.Touch(r.now())
	return slot, nil
}

// RemovePlayer empties a slot, leaving the room in place even if it is now empty.
func (r *Registry) RemovePlayer(code string, slot int) error {
	room, exists := r.GetRoom(code)
	if !exists {
		return ErrRoomNotFound
	}
	room.RemovePlayer(slot)
	room.Touch(r.now())
	return nil
}

// RemoveRoom 从管理器中移除一个房间
func (r *Registry) RemoveRoom(code string) {
	delete(r.rooms, code)
}

// ReapIdle removes rooms that have been empty for at least timeout and returns their codes.
func (r *Registry) ReapIdle(timeout time.Duration) []string {
	now := r.now()
	var reaped []string
	for code, room := range r.rooms {
		if room.Idle(now, timeout) {
			delete(r.rooms, code)
			reaped = append(reaped, code)
		}
	}
	sort.Strings(reaped)
	return reaped
}

func (r *Registry) Count() int {
	return len(r.rooms)
}

// Rooms returns every live room ordered by code.
func (r *Registry) Rooms() []*Room {
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })
	return rooms
}
