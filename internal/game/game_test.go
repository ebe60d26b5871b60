package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/matchmaking-server/internal/events"
	"github.com/DoyleJ11/matchmaking-server/internal/store"
	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

type sent struct {
	Group string
	Msg   types.Outbound
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Broadcast(group string, msg types.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{Group: group, Msg: msg})
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

// flakyStore wraps the in-memory store so tests can count and fail writes.
type flakyStore struct {
	*store.Memory
	creates    atomic.Int32
	failCreate error
	failUpdate error
	delay      time.Duration
}

func (f *flakyStore) CreateGame(ctx context.Context, rec store.GameRecord) (store.GameRecord, error) {
	f.creates.Add(1)
	time.Sleep(f.delay)
	if f.failCreate != nil {
		return store.GameRecord{}, f.failCreate
	}
	return f.Memory.CreateGame(ctx, rec)
}

func (f *flakyStore) UpdateGame(ctx context.Context, id string, upd store.GameUpdate) (store.GameRecord, error) {
	if f.failUpdate != nil {
		return store.GameRecord{}, f.failUpdate
	}
	return f.Memory.UpdateGame(ctx, id, upd)
}

type fakeTimer struct{ stops int }

func (f *fakeTimer) Stop() bool {
	f.stops++
	return true
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*flakyStore, *recorder, Deps) {
	t.Helper()
	st := &flakyStore{Memory: store.NewMemory(
		store.User{ID: "white", Username: "alice"},
		store.User{ID: "black", Username: "bob"},
	)}
	rec := &recorder{}
	return st, rec, Deps{
		Store:       st,
		Broadcaster: rec,
		Now:         func() time.Time { return fixedNow },
	}
}

func startedGame(t *testing.T, deps Deps) *Game {
	t.Helper()
	g := New(deps, "white", "")
	require.NoError(t, g.AttachSecondPlayer(context.Background(), "black"))
	return g
}

func TestNew_StatusDependsOnSecondPlayer(t *testing.T) {
	_, _, deps := newFixture(t)

	waiting := New(deps, "white", "")
	assert.NotEmpty(t, waiting.ID)
	assert.Equal(t, types.StatusWaitingForPlayers, waiting.Status())
	assert.False(t, waiting.HasSecondPlayer())

	start := fixedNow.Add(-time.Hour)
	restored := New(deps, "white", "black", WithID("g-1"), WithStartTime(start))
	assert.Equal(t, "g-1", restored.ID)
	assert.Equal(t, types.StatusInProgress, restored.Status())
	assert.Equal(t, start, restored.StartTime())
	assert.Equal(t, start, restored.LastMoveTime())
}

func TestAttachSecondPlayer_CreatesRecordAndBroadcasts(t *testing.T) {
	st, rec, deps := newFixture(t)
	g := startedGame(t, deps)

	assert.Equal(t, types.StatusInProgress, g.Status())
	assert.Equal(t, "black", g.BlackPlayerID())

	saved, err := st.FindGame(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, saved.Status)
	assert.Equal(t, "white", saved.WhitePlayerID)
	assert.Equal(t, "black", saved.BlackPlayerID)
	assert.Equal(t, fixedNow, saved.StartAt)

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, g.ID, msgs[0].Group)
	assert.Equal(t, types.GameStarted{
		GameID:      g.ID,
		WhitePlayer: types.Player{ID: "white", Name: "alice"},
		BlackPlayer: types.Player{ID: "black", Name: "bob"},
	}, msgs[0].Msg)
}

func TestAttachSecondPlayer_Rejections(t *testing.T) {
	_, _, deps := newFixture(t)

	g := startedGame(t, deps)
	assert.ErrorIs(t, g.AttachSecondPlayer(context.Background(), "carol"), ErrAlreadyPaired)

	solo := New(deps, "white", "")
	assert.ErrorIs(t, solo.AttachSecondPlayer(context.Background(), "white"), ErrSamePlayer)
}

func TestAttachSecondPlayer_PersistFailureLeavesGameWaiting(t *testing.T) {
	st, rec, deps := newFixture(t)
	st.failCreate = errors.New("db down")

	g := New(deps, "white", "")
	err := g.AttachSecondPlayer(context.Background(), "black")
	require.Error(t, err)

	assert.False(t, g.HasSecondPlayer())
	assert.Equal(t, types.StatusWaitingForPlayers, g.Status())
	assert.Empty(t, rec.all(), "nothing is broadcast for a failed start")

	st.failCreate = nil
	require.NoError(t, g.AttachSecondPlayer(context.Background(), "black"), "retry succeeds")
}

func TestAttachSecondPlayer_ConcurrentCallsStartOnce(t *testing.T) {
	st, rec, deps := newFixture(t)
	st.delay = 10 * time.Millisecond
	g := New(deps, "white", "")

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.AttachSecondPlayer(context.Background(), "black"); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrAlreadyPaired)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), st.creates.Load())
	assert.Len(t, rec.all(), 1)
}

func TestPersistStart_UpdatesPrecreatedRoom(t *testing.T) {
	st, _, deps := newFixture(t)
	ctx := context.Background()

	g := New(deps, "white", "")
	_, err := st.Memory.CreateGame(ctx, store.GameRecord{
		ID:            g.ID,
		Status:        types.StatusWaitingForPlayers,
		StartAt:       fixedNow.Add(-time.Minute),
		WhitePlayerID: "white",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, g.PersistStart(ctx), ErrNoSecondPlayer)

	require.NoError(t, g.AttachSecondPlayer(ctx, "black"))
	require.NoError(t, g.PersistStart(ctx), "a second start is an update, not a duplicate")

	assert.Equal(t, int32(0), st.creates.Load())
	games := st.Games()
	require.Len(t, games, 1)
	assert.Equal(t, types.StatusInProgress, games[0].Status)
	assert.Equal(t, "black", games[0].BlackPlayerID)
	assert.Equal(t, fixedNow, games[0].StartAt)
}

func TestTerminate_PersistsAndBroadcastsOnce(t *testing.T) {
	st, rec, deps := newFixture(t)
	ctx := context.Background()
	g := startedGame(t, deps)

	timer, moveTimer := &fakeTimer{}, &fakeTimer{}
	g.SetTimer(timer)
	g.SetMoveTimer(moveTimer)

	require.NoError(t, g.Terminate(ctx, types.StatusCompleted, types.ResultWhiteWins))
	assert.True(t, g.Ended())
	assert.Equal(t, types.StatusCompleted, g.Status())
	assert.Equal(t, types.ResultWhiteWins, g.Result())
	assert.Equal(t, 1, timer.stops)
	assert.Equal(t, 1, moveTimer.stops)

	saved, err := st.FindGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, saved.Status)
	assert.Equal(t, types.ResultWhiteWins, saved.Result)

	require.ErrorIs(t, g.Terminate(ctx, types.StatusTimeUp, types.ResultBlackWins), ErrGameEnded)
	assert.Equal(t, types.StatusCompleted, g.Status(), "terminal status never changes")

	msgs := rec.all()
	require.Len(t, msgs, 2, "INIT_GAME then exactly one GAME_ENDED")
	assert.Equal(t, types.GameEnded{
		Result:      types.ResultWhiteWins,
		Status:      types.StatusCompleted,
		WhitePlayer: types.Player{ID: "white", Name: "alice"},
		BlackPlayer: types.Player{ID: "black", Name: "bob"},
	}, msgs[1].Msg)
}

func TestTerminate_UnstartedRoomIsDeletedSilently(t *testing.T) {
	st, rec, deps := newFixture(t)
	ctx := context.Background()

	g := New(deps, "white", "")
	_, err := st.CreateGame(ctx, store.GameRecord{
		ID:            g.ID,
		Status:        types.StatusWaitingForPlayers,
		WhitePlayerID: "white",
	})
	require.NoError(t, err)

	require.NoError(t, g.Terminate(ctx, types.StatusPlayerExit, types.ResultBlackWins))

	_, err = st.FindGame(ctx, g.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, rec.all())
	assert.True(t, g.Ended())
	assert.Equal(t, types.StatusWaitingForPlayers, g.Status())
	assert.Empty(t, g.Result())
}

func TestTerminate_QueuedGameWithoutRecord(t *testing.T) {
	_, rec, deps := newFixture(t)
	g := New(deps, "white", "")

	require.NoError(t, g.Exit(context.Background(), "white"))
	assert.True(t, g.Ended())
	assert.Empty(t, rec.all())
}

func TestTerminate_RejectsBadArguments(t *testing.T) {
	_, _, deps := newFixture(t)
	g := startedGame(t, deps)

	assert.ErrorIs(t, g.Terminate(context.Background(), types.StatusInProgress, types.ResultDraw), ErrInvalidStatus)
	assert.ErrorIs(t, g.Terminate(context.Background(), types.StatusCompleted, "nobody"), ErrInvalidResult)
	assert.False(t, g.Ended())
}

func TestTerminate_StoreFailurePropagates(t *testing.T) {
	st, rec, deps := newFixture(t)
	g := startedGame(t, deps)
	st.failUpdate = errors.New("db down")

	err := g.Terminate(context.Background(), types.StatusCompleted, types.ResultDraw)
	require.Error(t, err)
	assert.False(t, g.Ended())
	assert.Equal(t, types.StatusInProgress, g.Status())
	assert.Len(t, rec.all(), 1, "no GAME_ENDED for a failed write")

	st.failUpdate = nil
	require.NoError(t, g.Terminate(context.Background(), types.StatusCompleted, types.ResultDraw))
}

func TestExit_OtherPlayerWins(t *testing.T) {
	cases := []struct {
		name   string
		leaver string
		want   types.GameResult
	}{
		{name: "white leaves", leaver: "white", want: types.ResultBlackWins},
		{name: "black leaves", leaver: "black", want: types.ResultWhiteWins},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, deps := newFixture(t)
			g := startedGame(t, deps)

			require.NoError(t, g.Exit(context.Background(), tc.leaver))
			assert.Equal(t, types.StatusPlayerExit, g.Status())
			assert.Equal(t, tc.want, g.Result())
		})
	}
}

func TestAbandon(t *testing.T) {
	st, _, deps := newFixture(t)
	ctx := context.Background()

	g := New(deps, "white", "")
	_, err := st.CreateGame(ctx, store.GameRecord{ID: g.ID, Status: types.StatusWaitingForPlayers, WhitePlayerID: "white"})
	require.NoError(t, err)

	require.NoError(t, g.Abandon(ctx))
	assert.True(t, g.Ended())
	assert.Empty(t, st.Games())
	assert.ErrorIs(t, g.Abandon(ctx), ErrGameEnded)

	started := startedGame(t, deps)
	assert.ErrorIs(t, started.Abandon(ctx), ErrAlreadyPaired)
	assert.False(t, started.Ended())
}

func TestTimers_ClearIsIdempotent(t *testing.T) {
	_, _, deps := newFixture(t)
	g := startedGame(t, deps)

	g.ClearTimer()
	g.ClearMoveTimer()

	first, second := &fakeTimer{}, &fakeTimer{}
	g.SetTimer(first)
	g.SetTimer(second)
	assert.Equal(t, 1, first.stops, "replacing a timer stops the old one")

	g.ClearTimer()
	g.ClearTimer()
	assert.Equal(t, 1, second.stops)
}

func TestTimers_SetAfterEndStopsImmediately(t *testing.T) {
	_, _, deps := newFixture(t)
	g := startedGame(t, deps)
	require.NoError(t, g.Terminate(context.Background(), types.StatusTimeUp, types.ResultDraw))

	late := &fakeTimer{}
	g.SetMoveTimer(late)
	assert.Equal(t, 1, late.stops)
}

type eventLog struct {
	mu   sync.Mutex
	evs  []events.Event
	fail error
}

func (l *eventLog) Publish(_ context.Context, ev events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evs = append(l.evs, ev)
	return l.fail
}

func TestLifecycleEvents(t *testing.T) {
	_, _, deps := newFixture(t)
	log := &eventLog{}
	deps.Events = log

	g := startedGame(t, deps)
	require.NoError(t, g.Exit(context.Background(), "white"))

	require.Len(t, log.evs, 2)
	assert.Equal(t, events.SubjectGameStarted, log.evs[0].Subject)
	assert.Equal(t, types.StatusInProgress, log.evs[0].Status)
	assert.Equal(t, "black", log.evs[0].BlackPlayerID)
	assert.Equal(t, events.SubjectGameEnded, log.evs[1].Subject)
	assert.Equal(t, types.StatusPlayerExit, log.evs[1].Status)
	assert.Equal(t, types.ResultBlackWins, log.evs[1].Result)
}

func TestLifecycleEvents_PublishFailureIsNotFatal(t *testing.T) {
	_, rec, deps := newFixture(t)
	deps.Events = &eventLog{fail: errors.New("nats down")}

	g := startedGame(t, deps)
	require.NoError(t, g.Terminate(context.Background(), types.StatusCompleted, types.ResultDraw))
	assert.Len(t, rec.all(), 2)
}
