// internal/httpserver/ws.go
//
// WebSocket endpoint: GET /sessions/{code}/ws?token=<seat token>
//
// On connect the client receives the current game_state. Inbound frames are
// JSON commands {type, target, action}; the acting player always comes from
// the seat token. Results arrive as regular events through the hub, failures
// as an "error" event to the sending connection only.

package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/mafia/server/internal/game"
	"github.com/robalobadob/mafia/server/internal/realtime"
)

// wsCommand is an inbound WebSocket frame.
type wsCommand struct {
	Type   string           `json:"type"` // "start" | "vote" | "night_action" | "restart"
	Target string           `json:"target,omitempty"`
	Action game.NightAction `json:"action,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || o == s.origin
		},
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	st := seatFrom(r.Context())
	state, err := s.store.State(r.Context(), st.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response.
		log.Warn().Err(err).Str("code", st.Code).Str("player", st.Player).Msg("ws upgrade")
		return
	}

	c := realtime.NewConn(st.Code, st.Player, ws)
	s.hub.Join(c.Code, c)
	s.hub.SendToConnection(c.ID, game.EventGameState, state)

	ctx := context.WithoutCancel(r.Context())
	s.hub.Serve(c, func(c *realtime.Conn, data []byte) *realtime.Message {
		if err := s.dispatch(ctx, c, data); err != nil {
			log.Debug().Err(err).Str("code", c.Code).Str("player", c.Player).Msg("ws command rejected")
			return &realtime.Message{Event: realtime.EventError, Payload: map[string]string{"error": err.Error()}}
		}
		return nil
	})
}

// dispatch applies one inbound command on behalf of the connection's seat.
func (s *Server) dispatch(ctx context.Context, c *realtime.Conn, data []byte) error {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errBadJSON
	}
	switch cmd.Type {
	case "start":
		return s.store.Start(ctx, c.Code, c.Player)
	case "vote":
		return s.store.Vote(ctx, c.Code, c.Player, cmd.Target)
	case "night_action":
		// the verdict reaches the actor as an action_result event
		_, err := s.store.NightAction(ctx, c.Code, c.Player, cmd.Action, cmd.Target)
		return err
	case "restart":
		return s.store.Restart(ctx, c.Code, c.Player)
	default:
		return fmt.Errorf("%w: unknown command %q", game.ErrInvalidAction, cmd.Type)
	}
}
