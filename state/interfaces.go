// state/interfaces.go
package state

import "github.com/wfunc/gridchase/board"

// Player is the slice of a seated player that states need.
type Player interface {
	GetSlot() int
}

// RoomContext is implemented by room.Room. Defined here to keep state free of a room import.
type RoomContext interface {
	GetID() string
	GetBoard() *board.Board
	OccupiedSlots() []int
	Broadcast(msgID uint16, payload interface{}) error
}
