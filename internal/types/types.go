package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown message type")
var ErrBadPayload = errors.New("bad payload")

type Kind string

const (
	KindInitGame     Kind = "INIT_GAME"
	KindExitGame     Kind = "EXIT_GAME"
	KindJoinRoom     Kind = "JOIN_ROOM"
	KindGameAdded    Kind = "GAME_ADDED"
	KindGameJoined   Kind = "GAME_JOINED"
	KindGameNotFound Kind = "GAME_NOT_FOUND"
	KindGameEnded    Kind = "GAME_ENDED"
)

type GameStatus string

const (
	StatusWaitingForPlayers GameStatus = "WAITING_FOR_PLAYERS"
	StatusInProgress        GameStatus = "IN_PROGRESS"
	StatusCompleted         GameStatus = "COMPLETED"
	StatusAbandoned         GameStatus = "ABANDONED"
	StatusTimeUp            GameStatus = "TIME_UP"
	StatusPlayerExit        GameStatus = "PLAYER_EXIT"
)

// Terminal reports whether no transition leaves s.
func (s GameStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusTimeUp, StatusPlayerExit:
		return true
	default:
		return false
	}
}

type GameResult string

const (
	ResultWhiteWins GameResult = "WHITE_WINS"
	ResultBlackWins GameResult = "BLACK_WINS"
	ResultDraw      GameResult = "DRAW"
)

func (r GameResult) Valid() bool {
	return r == ResultWhiteWins || r == ResultBlackWins || r == ResultDraw
}

type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client -> Server

type Inbound interface{ isInbound() }

type InitGame struct{}

type ExitGame struct {
	GameID string `json:"gameId"`
}

type JoinRoom struct {
	GameID string `json:"gameId"`
}

func (InitGame) isInbound() {}
func (ExitGame) isInbound() {}
func (JoinRoom) isInbound() {}

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeInbound parses a client frame into one of the inbound variants.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch env.Type {
	case KindInitGame:
		return InitGame{}, nil
	case KindExitGame:
		var m ExitGame
		if err := decodePayload(env.Payload, &m); err != nil {
			return nil, err
		}
		if m.GameID == "" {
			return nil, fmt.Errorf("%w: missing gameId", ErrBadPayload)
		}
		return m, nil
	case KindJoinRoom:
		var m JoinRoom
		if err := decodePayload(env.Payload, &m); err != nil {
			return nil, err
		}
		if m.GameID == "" {
			return nil, fmt.Errorf("%w: missing gameId", ErrBadPayload)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrBadPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// Server -> Client

type Outbound interface{ Kind() Kind }

type GameAdded struct {
	GameID string `json:"gameId"`
}

// GameStarted is sent to both parties once a pairing is persisted.
type GameStarted struct {
	GameID      string `json:"gameId"`
	WhitePlayer Player `json:"whitePlayer"`
	BlackPlayer Player `json:"blackPlayer"`
}

type GameJoined struct {
	GameID      string `json:"gameId"`
	WhitePlayer Player `json:"whitePlayer"`
	BlackPlayer Player `json:"blackPlayer"`
}

type GameNotFound struct{}

type GameEnded struct {
	Result      GameResult `json:"result,omitempty"`
	Status      GameStatus `json:"status"`
	WhitePlayer Player     `json:"whitePlayer"`
	BlackPlayer Player     `json:"blackPlayer"`
}

func (GameAdded) Kind() Kind    { return KindGameAdded }
func (GameStarted) Kind() Kind  { return KindInitGame }
func (GameJoined) Kind() Kind   { return KindGameJoined }
func (GameNotFound) Kind() Kind { return KindGameNotFound }
func (GameEnded) Kind() Kind    { return KindGameEnded }

type ServerMessage struct {
	Type    Kind     `json:"type"`
	Payload Outbound `json:"payload"`
}

func Encode(msg Outbound) ([]byte, error) {
	return json.Marshal(ServerMessage{Type: msg.Kind(), Payload: msg})
}

type ErrorMessage struct {
	Type  string `json:"type"` // always "Error"
	Error string `json:"error"`
}

func EncodeError(reason string) []byte {
	payload, _ := json.Marshal(ErrorMessage{Type: "Error", Error: reason})
	return payload
}
