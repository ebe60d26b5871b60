// Package store persists game records and resolves player identities.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

var ErrNotFound = errors.New("record not found")

type User struct {
	ID       string
	Username string
	Rating   int
}

// GameRecord is the durable view of a game. Names are filled on reads.
type GameRecord struct {
	ID              string
	Status          types.GameStatus
	Result          types.GameResult // empty until terminal
	StartAt         time.Time
	WhitePlayerID   string
	WhitePlayerName string
	BlackPlayerID   string // empty until paired
	BlackPlayerName string
}

func (r GameRecord) WhitePlayer() types.Player {
	return types.Player{ID: r.WhitePlayerID, Name: r.WhitePlayerName}
}

func (r GameRecord) BlackPlayer() types.Player {
	return types.Player{ID: r.BlackPlayerID, Name: r.BlackPlayerName}
}

// GameUpdate carries the fields to change; nil pointers are left untouched.
type GameUpdate struct {
	Status        *types.GameStatus
	Result        *types.GameResult
	StartAt       *time.Time
	BlackPlayerID *string
}

type Store interface {
	FindGame(ctx context.Context, id string) (GameRecord, error)
	CreateGame(ctx context.Context, rec GameRecord) (GameRecord, error)
	UpdateGame(ctx context.Context, id string, upd GameUpdate) (GameRecord, error)
	DeleteGame(ctx context.Context, id string) error
	FindUsers(ctx context.Context, ids []string) ([]User, error)
}

// NameOf returns the username for id, or "" if users does not contain it.
func NameOf(users []User, id string) string {
	for _, u := range users {
		if u.ID == id {
			return u.Username
		}
	}
	return ""
}
