package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchmaking-server/internal/game"
)

// Sweep abandons games that have waited longer than maxAge for an opponent.
// It returns how many were discarded.
func (h *Hub) Sweep(ctx context.Context, maxAge time.Duration) int {
	cutoff := h.deps.Now().Add(-maxAge)

	h.mu.Lock()
	var stale []*game.Game
	for id, g := range h.games {
		if g.HasSecondPlayer() || g.Ended() || !g.CreatedAt.Before(cutoff) {
			continue
		}
		stale = append(stale, g)
		h.dequeue(g.WhitePlayerID)
		delete(h.games, id)
	}
	h.mu.Unlock()

	swept := 0
	for _, g := range stale {
		err := g.Abandon(ctx)
		switch {
		case err == nil:
			swept++
			h.deps.Transport.LeaveGroup(g.WhitePlayerID, g.ID)
		case errors.Is(err, game.ErrAlreadyPaired):
			// paired while we were collecting; keep it live
			h.mu.Lock()
			h.games[g.ID] = g
			h.mu.Unlock()
		default:
			h.logger.Warn("abandon stale game failed", zap.String("game_id", g.ID), zap.Error(err))
		}
	}
	return swept
}

// StartSweeper runs Sweep every interval until the returned scheduler is
// shut down.
func (h *Hub) StartSweeper(ctx context.Context, interval, maxAge time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if n := h.Sweep(ctx, maxAge); n > 0 {
				h.logger.Info("stale games abandoned", zap.Int("count", n))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	sched.Start()
	return sched, nil
}
