package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchmaking-server/internal/events"
	"github.com/DoyleJ11/matchmaking-server/internal/store"
	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

var ErrAlreadyPaired = errors.New("game already has a second player")
var ErrNoSecondPlayer = errors.New("game has no second player")
var ErrSamePlayer = errors.New("player cannot play against themselves")
var ErrGameEnded = errors.New("game already ended")
var ErrInvalidStatus = errors.New("not a terminal status")
var ErrInvalidResult = errors.New("invalid game result")

type Broadcaster interface {
	Broadcast(group string, msg types.Outbound)
}

// Timer is an armed deadline owned by a game. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

type Deps struct {
	Store       store.Store
	Broadcaster Broadcaster
	Events      events.Publisher
	Logger      *zap.Logger
	Now         func() time.Time
}

type Option func(*Game)

// WithID reuses an existing game id, e.g. one read back from the store.
func WithID(id string) Option {
	return func(g *Game) { g.ID = id }
}

func WithStartTime(t time.Time) Option {
	return func(g *Game) {
		g.startTime = t
		g.lastMoveTime = t
	}
}

type Game struct {
	ID            string
	WhitePlayerID string
	CreatedAt     time.Time

	deps Deps

	// opMu serializes start and termination, both of which do store I/O.
	opMu sync.Mutex

	mu            sync.Mutex
	blackPlayerID string
	status        types.GameStatus
	result        types.GameResult
	startTime     time.Time
	lastMoveTime  time.Time
	closed        bool
	timer         Timer
	moveTimer     Timer
}

func New(deps Deps, whitePlayerID, blackPlayerID string, opts ...Option) *Game {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}

	now := deps.Now()
	g := &Game{
		ID:            uuid.NewString(),
		WhitePlayerID: whitePlayerID,
		CreatedAt:     now,
		deps:          deps,
		blackPlayerID: blackPlayerID,
		status:        types.StatusWaitingForPlayers,
		startTime:     now,
		lastMoveTime:  now,
	}
	if blackPlayerID != "" {
		g.status = types.StatusInProgress
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Game) BlackPlayerID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blackPlayerID
}

func (g *Game) HasSecondPlayer() bool {
	return g.BlackPlayerID() != ""
}

func (g *Game) Status() types.GameStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Result is empty until the game reaches a terminal status.
func (g *Game) Result() types.GameResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result
}

func (g *Game) StartTime() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startTime
}

func (g *Game) LastMoveTime() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastMoveTime
}

// Ended reports whether the game accepts no further mutation.
func (g *Game) Ended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// AttachSecondPlayer pairs blackPlayerID into the game, persists the start
// and broadcasts INIT_GAME to the game's group. On failure the game is left
// waiting for an opponent.
func (g *Game) AttachSecondPlayer(ctx context.Context, blackPlayerID string) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.Lock()
	switch {
	case g.closed || g.status.Terminal():
		g.mu.Unlock()
		return ErrGameEnded
	case g.blackPlayerID != "":
		g.mu.Unlock()
		return ErrAlreadyPaired
	case blackPlayerID == g.WhitePlayerID:
		g.mu.Unlock()
		return ErrSamePlayer
	}
	g.blackPlayerID = blackPlayerID
	g.mu.Unlock()

	users, err := g.deps.Store.FindUsers(ctx, []string{g.WhitePlayerID, blackPlayerID})
	if err != nil {
		g.detachSecondPlayer()
		return fmt.Errorf("look up players of game %s: %w", g.ID, err)
	}

	if err := g.persistStart(ctx); err != nil {
		g.detachSecondPlayer()
		return err
	}

	g.deps.Broadcaster.Broadcast(g.ID, types.GameStarted{
		GameID:      g.ID,
		WhitePlayer: types.Player{ID: g.WhitePlayerID, Name: store.NameOf(users, g.WhitePlayerID)},
		BlackPlayer: types.Player{ID: blackPlayerID, Name: store.NameOf(users, blackPlayerID)},
	})
	g.publish(ctx, events.SubjectGameStarted)

	g.deps.Logger.Info("game started",
		zap.String("game_id", g.ID),
		zap.String("white_player_id", g.WhitePlayerID),
		zap.String("black_player_id", blackPlayerID))
	return nil
}

func (g *Game) detachSecondPlayer() {
	g.mu.Lock()
	g.blackPlayerID = ""
	g.mu.Unlock()
}

// PersistStart writes the started game to the store. A record created ahead
// of time for a shared room is updated in place instead of duplicated.
func (g *Game) PersistStart(ctx context.Context) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.Lock()
	closed, black := g.closed, g.blackPlayerID
	g.mu.Unlock()
	if closed {
		return ErrGameEnded
	}
	if black == "" {
		return ErrNoSecondPlayer
	}
	return g.persistStart(ctx)
}

// persistStart requires opMu.
func (g *Game) persistStart(ctx context.Context) error {
	now := g.deps.Now()
	black := g.BlackPlayerID()
	inProgress := types.StatusInProgress

	rec, err := g.deps.Store.FindGame(ctx, g.ID)
	switch {
	case err == nil:
		if rec.Status.Terminal() {
			return ErrGameEnded
		}
		_, err = g.deps.Store.UpdateGame(ctx, g.ID, store.GameUpdate{
			Status:        &inProgress,
			StartAt:       &now,
			BlackPlayerID: &black,
		})
	case errors.Is(err, store.ErrNotFound):
		_, err = g.deps.Store.CreateGame(ctx, store.GameRecord{
			ID:            g.ID,
			Status:        inProgress,
			StartAt:       now,
			WhitePlayerID: g.WhitePlayerID,
			BlackPlayerID: black,
		})
	}
	if err != nil {
		return fmt.Errorf("persist start of game %s: %w", g.ID, err)
	}

	g.mu.Lock()
	g.status = inProgress
	g.startTime = now
	g.lastMoveTime = now
	g.mu.Unlock()
	return nil
}

// Terminate moves the game into a terminal status, persists it and
// broadcasts GAME_ENDED. A game that never started has its pending record
// deleted and nothing is broadcast.
func (g *Game) Terminate(ctx context.Context, status types.GameStatus, result types.GameResult) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	if !result.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidResult, result)
	}

	g.opMu.Lock()
	defer g.opMu.Unlock()

	if g.Ended() {
		return ErrGameEnded
	}

	rec, err := g.deps.Store.FindGame(ctx, g.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return g.discard(ctx, false)
	case err != nil:
		return fmt.Errorf("load game %s: %w", g.ID, err)
	case rec.Status == types.StatusWaitingForPlayers:
		return g.discard(ctx, true)
	}

	updated, err := g.deps.Store.UpdateGame(ctx, g.ID, store.GameUpdate{
		Status: &status,
		Result: &result,
	})
	if err != nil {
		return fmt.Errorf("end game %s: %w", g.ID, err)
	}

	g.mu.Lock()
	g.status = status
	g.result = result
	g.closed = true
	g.stopTimersLocked()
	g.mu.Unlock()

	g.deps.Broadcaster.Broadcast(g.ID, types.GameEnded{
		Result:      result,
		Status:      status,
		WhitePlayer: updated.WhitePlayer(),
		BlackPlayer: updated.BlackPlayer(),
	})
	g.publish(ctx, events.SubjectGameEnded)

	g.deps.Logger.Info("game ended",
		zap.String("game_id", g.ID),
		zap.String("status", string(status)),
		zap.String("result", string(result)))
	return nil
}

// Exit ends the game on behalf of userID; the other player wins.
func (g *Game) Exit(ctx context.Context, userID string) error {
	result := types.ResultBlackWins
	if userID == g.BlackPlayerID() {
		result = types.ResultWhiteWins
	}
	return g.Terminate(ctx, types.StatusPlayerExit, result)
}

// Abandon discards a game that never started. Started games are left alone.
func (g *Game) Abandon(ctx context.Context) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.Lock()
	closed, status := g.closed, g.status
	g.mu.Unlock()
	if closed {
		return ErrGameEnded
	}
	if status != types.StatusWaitingForPlayers {
		return ErrAlreadyPaired
	}

	rec, err := g.deps.Store.FindGame(ctx, g.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return g.discard(ctx, false)
	case err != nil:
		return fmt.Errorf("load game %s: %w", g.ID, err)
	case rec.Status != types.StatusWaitingForPlayers:
		return ErrAlreadyPaired
	}
	return g.discard(ctx, true)
}

// discard requires opMu.
func (g *Game) discard(ctx context.Context, hasRecord bool) error {
	if hasRecord {
		err := g.deps.Store.DeleteGame(ctx, g.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete unstarted game %s: %w", g.ID, err)
		}
	}

	g.mu.Lock()
	g.closed = true
	g.stopTimersLocked()
	g.mu.Unlock()

	g.deps.Logger.Info("unstarted game discarded", zap.String("game_id", g.ID))
	return nil
}

func (g *Game) publish(ctx context.Context, subject string) {
	g.mu.Lock()
	ev := events.Event{
		Subject:       subject,
		GameID:        g.ID,
		WhitePlayerID: g.WhitePlayerID,
		BlackPlayerID: g.blackPlayerID,
		Status:        g.status,
		Result:        g.result,
		Timestamp:     g.deps.Now(),
	}
	g.mu.Unlock()

	if err := g.deps.Events.Publish(ctx, ev); err != nil {
		g.deps.Logger.Warn("publish game event failed",
			zap.String("game_id", g.ID),
			zap.String("subject", subject),
			zap.Error(err))
	}
}
