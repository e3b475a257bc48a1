package state

import (
	"errors"

	"github.com/wfunc/gridchase/board"
	"github.com/wfunc/gridchase/logger"
	"github.com/wfunc/gridchase/network"
)

// FoxMove is the payload of animateFox.
type FoxMove struct {
	Slot     int            `json:"slot"`
	X        int            `json:"x"`
	Y        int            `json:"y"`
	TileType board.TileKind `json:"tileType"`
}

// InGameState places every seated player on the board and validates moves.
type InGameState struct {
	RoomStateBase
	// Skipped lists slots that could not be spawned because the board was full.
	Skipped []int
}

func NewInGameState(room RoomContext) *InGameState {
	return &InGameState{
		RoomStateBase: RoomStateBase{
			ID:   InGameID,
			Room: room,
		},
	}
}

// OnEnter announces the start and spawns each occupied slot on a random empty
// tile. A slot that finds no empty tile is logged and left off the board.
func (s *InGameState) OnEnter() {
	logger.Log.Infof("Room %s entering game", s.Room.GetID())
	if err := s.Room.Broadcast(network.MsgTypeStartGame, struct{}{}); err != nil {
		logger.Log.Warnf("Room %s: failed to broadcast game start: %v", s.Room.GetID(), err)
	}

	b := s.Room.GetBoard()
	for _, slot := range s.Room.OccupiedSlots() {
		tile, err := b.RandomEmptyTile()
		if errors.Is(err, board.ErrNoEmptyTile) {
			logger.Log.Warnf("Room %s: no empty tile for slot %d, skipping spawn", s.Room.GetID(), slot)
			s.Skipped = append(s.Skipped, slot)
			continue
		}
		b.UpdatePlayer(slot, tile.X, tile.Y)
	}

	if err := s.Room.Broadcast(network.MsgTypeUpdatePlayerPositions, b.Positions()); err != nil {
		logger.Log.Warnf("Room %s: failed to broadcast spawn positions: %v", s.Room.GetID(), err)
	}
}

func (s *InGameState) HandleAction(player Player, action Action) error {
	if action.Type != ActionMove {
		return ErrUnknownAction
	}

	slot := player.GetSlot()
	tile, ok := s.Room.GetBoard().AttemptMove(slot, action.Direction)
	if !ok {
		return ErrMoveRejected
	}

	err := s.Room.Broadcast(network.MsgTypeAnimateFox, FoxMove{
		Slot:     slot,
		X:        tile.X,
		Y:        tile.Y,
		TileType: tile.Type,
	})
	if err != nil {
		logger.Log.Warnf("Room %s: failed to broadcast move of slot %d: %v", s.Room.GetID(), slot, err)
	}
	return nil
}
