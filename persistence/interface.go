// persistence/interface.go
package persistence

import (
	"errors"
	"fmt"

	"github.com/wfunc/gridchase/config"
	"github.com/wfunc/gridchase/models"
)

// Database stores the history of started games. Room state itself is never persisted.
type Database interface {
	SaveGameRecord(record *models.GameRecord) error
	LastGame(roomCode string) (*models.GameRecord, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrUnknownDriver  = errors.New("unknown database driver")
)

// NewDatabase opens the configured backend, or a no-op store when disabled.
func NewDatabase(cfg config.DatabaseConfig) (Database, error) {
	if !cfg.Enabled {
		return NopDatabase{}, nil
	}

	pg := cfg.Postgres
	switch cfg.Driver {
	case "", "gorm":
		db, err := NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "pq":
		db, err := NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}

func dsn(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

// NopDatabase discards records.
type NopDatabase struct{}

func (NopDatabase) SaveGameRecord(record *models.GameRecord) error { return nil }

func (NopDatabase) LastGame(roomCode string) (*models.GameRecord, error) {
	return nil, ErrRecordNotFound
}

func (NopDatabase) Close() error { return nil }
