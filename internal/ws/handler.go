package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/matchmaking-server/internal/auth"
	"github.com/DoyleJ11/matchmaking-server/internal/hub"
	"github.com/DoyleJ11/matchmaking-server/internal/lobby"
	"github.com/DoyleJ11/matchmaking-server/internal/store"
	"github.com/DoyleJ11/matchmaking-server/internal/types"
)

const (
	outboxSize    = 16
	readLimit     = 4 << 10
	writeTimeout  = 3 * time.Second
	handleTimeout = 10 * time.Second
)

// Authenticator resolves a request's bearer token to a matchmaking identity.
type Authenticator struct {
	Verifier      *auth.Verifier
	Store         store.Store
	DefaultRating int
}

func (a Authenticator) Authenticate(r *http.Request) (hub.User, error) {
	claims, err := a.Verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		return hub.User{}, err
	}

	u := hub.User{ID: claims.UserID, Name: claims.Username, Rating: a.DefaultRating}
	users, err := a.Store.FindUsers(r.Context(), []string{claims.UserID})
	if err != nil {
		return hub.User{}, fmt.Errorf("load user %s: %w", claims.UserID, err)
	}
	if len(users) == 1 {
		u.Rating = users[0].Rating
		if users[0].Username != "" {
			u.Name = users[0].Username
		}
	}
	return u, nil
}

// Unauthorized reports whether err came from a missing or bad token.
func Unauthorized(err error) bool {
	return errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrInvalidToken)
}

type Deps struct {
	Hub    *hub.Hub
	Lobby  *lobby.Lobby
	Auth   Authenticator
	Logger *zap.Logger

	// InsecureSkipVerify disables the same-origin check. Development only.
	InsecureSkipVerify bool
}

func Handler(d Deps) http.HandlerFunc {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := d.Auth.Authenticate(r)
		if err != nil {
			if Unauthorized(err) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			d.Logger.Error("authenticate websocket", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: d.InsecureSkipVerify,
		})
		if err != nil {
			d.Logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(readLimit)

		log := d.Logger.With(zap.String("user_id", u.ID))
		log.Debug("client connected", zap.Int("rating", u.Rating))

		// The lobby owns out and closes it; the handler never does.
		out := make(chan types.Outbound, outboxSize)
		d.Lobby.Register(u.ID, out)
		d.Hub.Connect(u)
		defer func() {
			d.Hub.Disconnect(u)
			d.Lobby.Unregister(u.ID, out)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine
		go func() {
			defer cancel()
			for msg := range out {
				payload, err := types.Encode(msg)
				if err != nil {
					log.Error("encode outbound", zap.String("kind", string(msg.Kind())), zap.Error(err))
					continue
				}
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err = conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					log.Debug("write failed", zap.Error(err))
					return
				}
			}
			// outbox closed under us: a newer connection took over or we were too slow
			if ctx.Err() == nil {
				_ = conn.Close(websocket.StatusPolicyViolation, "connection replaced")
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("client closed")
				default:
					log.Debug("read failed", zap.Error(err))
				}
				return
			}

			msg, err := types.DecodeInbound(data)
			if err != nil {
				_ = conn.Write(ctx, websocket.MessageText, types.EncodeError(err.Error()))
				continue
			}

			// a client hanging up must not abort a store write halfway
			hctx, hcancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
			err = d.Hub.Handle(hctx, u, msg)
			hcancel()
			if err != nil {
				log.Warn("handle message failed", zap.String("message", fmt.Sprintf("%T", msg)), zap.Error(err))
			}
		}
	}
}
