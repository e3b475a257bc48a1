// models/models.go
package models

import (
	"time"
)

// GameRecord 游戏记录模型: one row per started game.
type GameRecord struct {
	RoomCode  string    `json:"room_code"`
	BoardName string    `json:"board_name"`
	Players   []string  `json:"players"`
	StartedAt time.Time `json:"started_at"`
}

// RoomSummary is the admin view of a live room.
type RoomSummary struct {
	Code      string    `json:"code"`
	State     string    `json:"state"`
	Players   int       `json:"players"`
	OwnerSlot int       `json:"owner_slot"`
	BoardName string    `json:"board_name"`
	CreatedAt time.Time `json:"created_at"`
}
