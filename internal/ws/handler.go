package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/apperr"
	"github.com/DCabral11/cj-digital-bp/internal/controller"
	"github.com/DCabral11/cj-digital-bp/internal/types"
)

const (
	outboxSize   = 8
	writeTimeout = 3 * time.Second
	readTimeout  = 60 * time.Second
)

// Handler upgrades to a websocket that streams every view change and accepts
// login, logout and submit commands.
func Handler(c *controller.Controller, logger *zap.Logger) http.HandlerFunc {
	logger = logger.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		log := logger.With(zap.String("client_id", clientID))

		out, leave, err := c.Subscribe(r.Context(), clientID, outboxSize)
		if err != nil {
			log.Warn("subscribe failed", zap.Error(err))
			return
		}
		defer leave()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for v := range out {
				write(writeCtx, conn, types.ServerMessage{Type: types.MsgViewSnapshot, Version: v.Version, View: &v})
			}
			// Dropped as a slow renderer or the controller stopped.
			if writeCtx.Err() == nil {
				conn.Close(websocket.StatusTryAgainLater, "view stream ended")
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}
			if reply, ok := dispatch(r.Context(), c, cm, r.UserAgent()); ok {
				write(r.Context(), conn, reply)
			}
		}
	}
}

// dispatch runs one command. View changes reach the client through the
// writer goroutine; only errors and submit results are answered directly.
func dispatch(ctx context.Context, c *controller.Controller, cm types.ClientMessage, ua string) (types.ServerMessage, bool) {
	var err error
	switch cm.Type {
	case types.MsgLogin:
		_, err = c.Login(ctx, cm.Username, cm.Password, ua)
	case types.MsgLogout:
		_, err = c.Logout(ctx)
	case types.MsgSubmit:
		if cm.Points == nil {
			err = apperr.ErrInvalidPoints
			break
		}
		res, serr := c.Submit(ctx, cm.StationID, cm.PIN, *cm.Points)
		if serr == nil {
			points := res.State.Points
			return types.ServerMessage{Type: types.MsgSubmitResult, Points: &points, Message: res.Message()}, true
		}
		err = serr
	default:
		return types.ServerMessage{Type: types.MsgError, Error: "unknown type"}, true
	}
	if err != nil {
		return types.ServerMessage{Type: types.MsgError, Error: apperr.Message(err)}, true
	}
	return types.ServerMessage{}, false
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
