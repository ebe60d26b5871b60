package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

// Memory is an in-process Store used in development and tests.
type Memory struct {
	mu    sync.RWMutex
	games map[string]GameRecord
	users map[string]User
}

func NewMemory(users ...User) *Memory {
	m := &Memory{
		games: make(map[string]GameRecord),
		users: make(map[string]User),
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) FindGame(_ context.Context, id string) (GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.games[id]
	if !ok {
		return GameRecord{}, ErrNotFound
	}
	return m.withNames(rec), nil
}

func (m *Memory) CreateGame(_ context.Context, rec GameRecord) (GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[rec.ID]; exists {
		return GameRecord{}, fmt.Errorf("game %s already exists", rec.ID)
	}
	rec.WhitePlayerName, rec.BlackPlayerName = "", ""
	m.games[rec.ID] = rec
	return m.withNames(rec), nil
}

func (m *Memory) UpdateGame(_ context.Context, id string, upd GameUpdate) (GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.games[id]
	if !ok {
		return GameRecord{}, ErrNotFound
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.Result != nil {
		rec.Result = *upd.Result
	}
	if upd.StartAt != nil {
		rec.StartAt = *upd.StartAt
	}
	if upd.BlackPlayerID != nil {
		rec.BlackPlayerID = *upd.BlackPlayerID
	}
	m.games[id] = rec
	return m.withNames(rec), nil
}

func (m *Memory) DeleteGame(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[id]; !ok {
		return ErrNotFound
	}
	delete(m.games, id)
	return nil
}

func (m *Memory) FindUsers(_ context.Context, ids []string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// Games returns a copy of every stored record.
func (m *Memory) Games() []GameRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GameRecord, 0, len(m.games))
	for _, rec := range m.games {
		out = append(out, m.withNames(rec))
	}
	return out
}

func (m *Memory) withNames(rec GameRecord) GameRecord {
	rec.WhitePlayerName = m.users[rec.WhitePlayerID].Username
	if rec.BlackPlayerID != "" {
		rec.BlackPlayerName = m.users[rec.BlackPlayerID].Username
	}
	return rec
}

var _ Store = (*Memory)(nil)

// StatusPtr and ResultPtr keep GameUpdate literals short at call sites.
func StatusPtr(s types.GameStatus) *types.GameStatus { return &s }
func ResultPtr(r types.GameResult) *types.GameResult { return &r }
