package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

func TestEvent_JSONShape(t *testing.T) {
	ev := Event{
		Subject:       SubjectGameStarted,
		GameID:        "g1",
		WhitePlayerID: "a",
		BlackPlayerID: "b",
		Status:        types.StatusInProgress,
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"subject": "game.started",
		"gameId": "g1",
		"whitePlayerId": "a",
		"blackPlayerId": "b",
		"status": "IN_PROGRESS",
		"timestamp": "2026-03-01T12:00:00Z"
	}`, string(data))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Subject: SubjectGameEnded}))
}
