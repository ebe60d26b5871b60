// Package events publishes game lifecycle notifications for downstream
// consumers such as rating updates.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

const (
	SubjectGameStarted = "game.started"
	SubjectGameEnded   = "game.ended"
)

type Event struct {
	Subject       string           `json:"subject"`
	GameID        string           `json:"gameId"`
	WhitePlayerID string           `json:"whitePlayerId"`
	BlackPlayerID string           `json:"blackPlayerId"`
	Status        types.GameStatus `json:"status"`
	Result        types.GameResult `json:"result,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// NATS publishes events on core NATS subjects.
type NATS struct {
	conn *nats.Conn
}

func ConnectNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("matchmaking-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.conn.Publish(ev.Subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Subject, err)
	}
	return nil
}

func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
