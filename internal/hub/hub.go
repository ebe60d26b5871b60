package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/matchmaking-server/internal/events"
	"github.com/DoyleJ11/matchmaking-server/internal/game"
	"github.com/DoyleJ11/matchmaking-server/internal/store"
	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

var ErrGameNotFound = errors.New("game not found")
var ErrNotParticipant = errors.New("user is not a player in this game")

// User is a verified identity bound to a live connection. Transport
// delivery is keyed by ID.
type User struct {
	ID     string
	Name   string
	Rating int
}

type Transport interface {
	AddMember(clientID, group string)
	LeaveGroup(clientID, group string)
	RemoveMember(clientID string)
	Broadcast(group string, msg types.Outbound)
	Send(clientID string, msg types.Outbound)
}

type Deps struct {
	Store     store.Store
	Transport Transport
	Events    events.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

type queueEntry struct {
	user   User
	gameID string // the waiting game announced to user
}

type connection struct {
	user  User
	conns int
}

// Hub owns the matchmaking queue and every live game. All queue and registry
// mutation happens under mu; store I/O never does.
//
// Transport calls run after mu is released, with one exception: enqueueing
// posts the owner's group membership and GAME_ADDED while mu is held, so no
// pairing broadcast for that game can reach the lobby before them. The lobby
// never calls back into the hub, so a full lobby inbox only slows enqueue.
type Hub struct {
	mu        sync.Mutex
	games     map[string]*game.Game
	queue     []queueEntry
	users     map[string]*connection
	threshold int

	deps     Deps
	gameDeps game.Deps
	logger   *zap.Logger
}

func NewHub(ratingThreshold int, deps Deps) *Hub {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Hub{
		games:     make(map[string]*game.Game),
		users:     make(map[string]*connection),
		threshold: ratingThreshold,
		deps:      deps,
		gameDeps: game.Deps{
			Store:       deps.Store,
			Broadcaster: deps.Transport,
			Events:      deps.Events,
			Logger:      deps.Logger,
			Now:         deps.Now,
		},
		logger: deps.Logger,
	}
}

// Handle dispatches one inbound client message.
func (h *Hub) Handle(ctx context.Context, u User, msg types.Inbound) error {
	switch m := msg.(type) {
	case types.InitGame:
		return h.RequestPlay(ctx, u)
	case types.ExitGame:
		return h.RequestExit(ctx, u, m.GameID)
	case types.JoinRoom:
		return h.JoinRoom(ctx, u, m.GameID)
	default:
		return fmt.Errorf("%w: %T", types.ErrUnknownType, msg)
	}
}

func (h *Hub) Connect(u User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.users[u.ID]
	if c == nil {
		c = &connection{}
		h.users[u.ID] = c
	}
	c.user = u
	c.conns++
}

// Disconnect drops one connection of u. When the last one goes, u leaves
// the queue and every broadcast group. Games are left running.
func (h *Hub) Disconnect(u User) {
	h.mu.Lock()
	c := h.users[u.ID]
	if c != nil {
		c.conns--
	}
	if c != nil && c.conns > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.users, u.ID)
	h.dequeue(u.ID)
	h.mu.Unlock()

	h.deps.Transport.RemoveMember(u.ID)
	h.logger.Debug("user disconnected", zap.String("user_id", u.ID))
}

// RequestPlay pairs u with the closest-rated waiting user, or queues u
// behind a new waiting game.
func (h *Hub) RequestPlay(ctx context.Context, u User) error {
	h.mu.Lock()

	if i := h.queueIndex(u.ID); i >= 0 {
		gameID := h.queue[i].gameID
		h.mu.Unlock()
		h.deps.Transport.Send(u.ID, types.GameAdded{GameID: gameID})
		return nil
	}

	for {
		i := pickOpponent(h.queue, u, h.threshold)
		if i < 0 {
			break
		}
		entry := h.queue[i]
		h.queue = slices.Delete(h.queue, i, i+1)

		g := h.games[entry.gameID]
		if g == nil || g.HasSecondPlayer() || g.Ended() {
			// stale entry; its game is gone
			continue
		}
		h.mu.Unlock()

		h.deps.Transport.AddMember(u.ID, g.ID)
		h.logger.Info("players matched",
			zap.String("game_id", g.ID),
			zap.String("white_player_id", entry.user.ID),
			zap.String("black_player_id", u.ID))
		return h.pair(ctx, g, u, claim{owner: &entry})
	}

	g := game.New(h.gameDeps, u.ID, "")
	h.games[g.ID] = g
	h.queue = append(h.queue, queueEntry{user: u, gameID: g.ID})
	h.deps.Transport.AddMember(u.ID, g.ID)
	h.deps.Transport.Send(u.ID, types.GameAdded{GameID: g.ID})
	h.mu.Unlock()

	h.logger.Debug("user queued",
		zap.String("user_id", u.ID),
		zap.Int("rating", u.Rating),
		zap.String("game_id", g.ID))
	return nil
}

// RequestExit ends gameID on behalf of u. Both players leave the queue and
// the game leaves the registry before the store is touched. If the store
// write fails the game and queue entries are put back so the exit can be
// retried.
func (h *Hub) RequestExit(ctx context.Context, u User, gameID string) error {
	h.mu.Lock()
	g := h.games[gameID]
	if g == nil {
		h.mu.Unlock()
		return fmt.Errorf("exit %s: %w", gameID, ErrGameNotFound)
	}
	black := g.BlackPlayerID()
	if u.ID != g.WhitePlayerID && u.ID != black {
		h.mu.Unlock()
		return fmt.Errorf("exit %s: %w", gameID, ErrNotParticipant)
	}
	var dequeued []queueEntry
	for _, id := range []string{g.WhitePlayerID, black} {
		if entry, ok := h.dequeue(id); ok {
			dequeued = append(dequeued, entry)
		}
	}
	delete(h.games, gameID)
	h.mu.Unlock()

	err := g.Exit(ctx, u.ID)
	if err == nil || errors.Is(err, game.ErrGameEnded) {
		return nil
	}

	h.mu.Lock()
	if h.games[gameID] == nil {
		h.games[gameID] = g
	}
	h.mu.Unlock()
	for _, entry := range dequeued {
		h.requeue(entry)
	}
	return fmt.Errorf("exit %s: %w", gameID, err)
}

// JoinRoom attaches u to gameID: as the second player of a waiting game, as
// a spectator of a running one, or with the final result of a finished one.
func (h *Hub) JoinRoom(ctx context.Context, u User, gameID string) error {
	h.mu.Lock()
	if g := h.games[gameID]; g != nil && !g.HasSecondPlayer() && !g.Ended() {
		if g.WhitePlayerID == u.ID {
			h.mu.Unlock()
			h.rejoinOwn(u, g.ID)
			return nil
		}
		c := h.claimWaitingLocked(u, g)
		h.mu.Unlock()
		h.deps.Transport.AddMember(u.ID, g.ID)
		return h.pair(ctx, g, u, c)
	}
	h.mu.Unlock()

	rec, err := h.deps.Store.FindGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		h.deps.Transport.Send(u.ID, types.GameNotFound{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("join %s: %w", gameID, err)
	}

	switch rec.Status {
	case types.StatusInProgress:
	case types.StatusWaitingForPlayers:
		return h.resumeRoom(ctx, u, rec)
	default:
		h.deps.Transport.Send(u.ID, types.GameEnded{
			Result:      rec.Result,
			Status:      rec.Status,
			WhitePlayer: rec.WhitePlayer(),
			BlackPlayer: rec.BlackPlayer(),
		})
		return nil
	}

	h.mu.Lock()
	g := h.games[rec.ID]
	if g == nil {
		g = game.New(h.gameDeps, rec.WhitePlayerID, rec.BlackPlayerID,
			game.WithID(rec.ID),
			game.WithStartTime(rec.StartAt))
		h.games[g.ID] = g
		h.logger.Info("game restored from store", zap.String("game_id", g.ID))
	}
	h.mu.Unlock()

	h.deps.Transport.Send(u.ID, types.GameJoined{
		GameID:      rec.ID,
		WhitePlayer: rec.WhitePlayer(),
		BlackPlayer: rec.BlackPlayer(),
	})
	h.deps.Transport.AddMember(u.ID, rec.ID)
	// The game may have ended before the membership landed; its broadcast
	// then missed u. A duplicate GAME_ENDED is possible and harmless.
	if g.Ended() {
		h.deps.Transport.Send(u.ID, types.GameEnded{
			Result:      g.Result(),
			Status:      g.Status(),
			WhitePlayer: rec.WhitePlayer(),
			BlackPlayer: rec.BlackPlayer(),
		})
	}
	return nil
}

// CreateRoom allocates a shareable game for u ahead of an opponent. The
// store record exists before anyone joins.
func (h *Hub) CreateRoom(ctx context.Context, u User) (string, error) {
	g := game.New(h.gameDeps, u.ID, "")
	_, err := h.deps.Store.CreateGame(ctx, store.GameRecord{
		ID:            g.ID,
		Status:        types.StatusWaitingForPlayers,
		StartAt:       g.StartTime(),
		WhitePlayerID: u.ID,
	})
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}

	// membership first; the id is not joinable until it is registered
	h.deps.Transport.AddMember(u.ID, g.ID)
	h.mu.Lock()
	h.games[g.ID] = g
	h.mu.Unlock()

	h.logger.Info("room created", zap.String("game_id", g.ID), zap.String("user_id", u.ID))
	return g.ID, nil
}

// resumeRoom handles a waiting record that may not be live, e.g. after a
// restart.
func (h *Hub) resumeRoom(ctx context.Context, u User, rec store.GameRecord) error {
	h.mu.Lock()
	g := h.games[rec.ID]
	restored := false
	if g == nil {
		g = game.New(h.gameDeps, rec.WhitePlayerID, "", game.WithID(rec.ID))
		h.games[g.ID] = g
		restored = true
		h.logger.Info("room restored from store", zap.String("game_id", g.ID))
	}
	if g.HasSecondPlayer() || g.Ended() {
		h.mu.Unlock()
		return fmt.Errorf("join %s: %w", rec.ID, game.ErrAlreadyPaired)
	}
	if g.WhitePlayerID == u.ID {
		h.mu.Unlock()
		h.rejoinOwn(u, g.ID)
		return nil
	}
	c := h.claimWaitingLocked(u, g)
	_, ownerOnline := h.users[g.WhitePlayerID]
	h.mu.Unlock()

	if restored && ownerOnline {
		h.deps.Transport.AddMember(g.WhitePlayerID, g.ID)
	}
	h.deps.Transport.AddMember(u.ID, g.ID)
	return h.pair(ctx, g, u, c)
}

func (h *Hub) rejoinOwn(u User, gameID string) {
	h.deps.Transport.AddMember(u.ID, gameID)
	h.deps.Transport.Send(u.ID, types.GameAdded{GameID: gameID})
}

// claim is what a pairing attempt took out of the queue and registry.
type claim struct {
	owner       *queueEntry // g's owner, if queued
	joiner      *queueEntry // the joiner, if queued behind a game of their own
	placeholder *game.Game  // that game, already unregistered
}

// claimWaitingLocked requires h.mu. It takes g's owner and the joiner u out
// of the queue. A game u was waiting in leaves the registry so nobody can
// pair into it while u is being paired into g.
func (h *Hub) claimWaitingLocked(u User, g *game.Game) claim {
	var c claim
	if entry, ok := h.dequeue(g.WhitePlayerID); ok {
		c.owner = &entry
	}
	if entry, ok := h.dequeue(u.ID); ok {
		c.joiner = &entry
		if p := h.games[entry.gameID]; p != nil && p != g {
			delete(h.games, p.ID)
			c.placeholder = p
		}
	}
	return c
}

// pair runs the start of g outside h.mu. On success the joiner's own waiting
// game is abandoned. On failure u leaves the group and everything in c is
// put back.
func (h *Hub) pair(ctx context.Context, g *game.Game, u User, c claim) error {
	err := g.AttachSecondPlayer(ctx, u.ID)
	if err == nil {
		if c.placeholder != nil {
			h.dropPlaceholder(ctx, u, c.placeholder)
		}
		return nil
	}

	h.deps.Transport.LeaveGroup(u.ID, g.ID)
	if c.owner != nil {
		h.requeue(*c.owner)
	}
	if c.joiner != nil {
		h.restorePlaceholder(ctx, u, *c.joiner, c.placeholder)
	}
	h.logger.Error("pairing failed",
		zap.String("game_id", g.ID),
		zap.String("user_id", u.ID),
		zap.Error(err))
	return fmt.Errorf("pair %s into %s: %w", u.ID, g.ID, err)
}

// requeue puts entry back at the end of the queue if its game is still live
// and waiting and its user is still connected.
func (h *Hub) requeue(entry queueEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.games[entry.gameID]
	if g == nil || g.Ended() || g.HasSecondPlayer() {
		return
	}
	if _, online := h.users[entry.user.ID]; !online {
		return
	}
	if h.queueIndex(entry.user.ID) >= 0 {
		return
	}
	h.queue = append(h.queue, entry)
}

func (h *Hub) restorePlaceholder(ctx context.Context, u User, entry queueEntry, p *game.Game) {
	if p == nil {
		return
	}
	h.mu.Lock()
	_, online := h.users[u.ID]
	if online && h.queueIndex(u.ID) < 0 && h.games[p.ID] == nil {
		h.games[p.ID] = p
		h.queue = append(h.queue, entry)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.dropPlaceholder(ctx, u, p)
}

func (h *Hub) dropPlaceholder(ctx context.Context, u User, p *game.Game) {
	h.deps.Transport.LeaveGroup(u.ID, p.ID)
	if err := p.Abandon(ctx); err != nil && !errors.Is(err, game.ErrGameEnded) {
		h.logger.Warn("abandon waiting game failed", zap.String("game_id", p.ID), zap.Error(err))
	}
}

func (h *Hub) queueIndex(userID string) int {
	return slices.IndexFunc(h.queue, func(e queueEntry) bool { return e.user.ID == userID })
}

func (h *Hub) dequeue(userID string) (queueEntry, bool) {
	i := h.queueIndex(userID)
	if i < 0 {
		return queueEntry{}, false
	}
	entry := h.queue[i]
	h.queue = slices.Delete(h.queue, i, i+1)
	return entry, true
}

type Stats struct {
	Connected int `json:"connected"`
	Queued    int `json:"queued"`
	Games     int `json:"games"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Connected: len(h.users), Queued: len(h.queue), Games: len(h.games)}
}
