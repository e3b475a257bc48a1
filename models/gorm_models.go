// models/gorm_models.go
package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// GormGameRecord 游戏记录模型
type GormGameRecord struct {
	gorm.Model
	RoomCode  string         `gorm:"index;size:4;not null"`
	BoardName string         `gorm:"not null"`
	Players   pq.StringArray `gorm:"type:text[];not null"`
	StartedAt time.Time      `gorm:"index;not null"`
}

func (GormGameRecord) TableName() string {
	return "game_records"
}

func NewGormGameRecord(r *GameRecord) *GormGameRecord {
	return &GormGameRecord{
		RoomCode:  r.RoomCode,
		BoardName: r.BoardName,
		Players:   pq.StringArray(r.Players),
		StartedAt: r.StartedAt,
	}
}

func (g *GormGameRecord) Record() GameRecord {
	return GameRecord{
		RoomCode:  g.RoomCode,
		BoardName: g.BoardName,
		Players:   []string(g.Players),
		StartedAt: g.StartedAt,
	}
}
