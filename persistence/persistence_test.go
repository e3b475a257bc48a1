package persistence

import (
	"errors"
	"testing"

	"github.com/wfunc/gridchase/config"
	"github.com/wfunc/gridchase/models"
)

func TestNewDatabase_Disabled(t *testing.T) {
	db, err := NewDatabase(config.DatabaseConfig{Enabled: false, Driver: "pq"})
	if err != nil {
		t.Fatalf("Disabled database should not fail: %v", err)
	}
	if _, ok := db.(NopDatabase); !ok {
		t.Fatalf("Expected NopDatabase, got %T", db)
	}

	if err := db.SaveGameRecord(&models.GameRecord{RoomCode: "AB23"}); err != nil {
		t.Errorf("NopDatabase.SaveGameRecord should succeed, got %v", err)
	}
	if _, err := db.LastGame("AB23"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestNewDatabase_UnknownDriver(t *testing.T) {
	_, err := NewDatabase(config.DatabaseConfig{Enabled: true, Driver: "mongo"})
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Expected ErrUnknownDriver, got %v", err)
	}
}

func TestDSN(t *testing.T) {
	got := dsn("db", 5432, "fox", "secret", "gridchase")
	want := "host=db port=5432 user=fox password=secret dbname=gridchase sslmode=disable"
	if got != want {
		t.Errorf("dsn() = %q, want %q", got, want)
	}
}
