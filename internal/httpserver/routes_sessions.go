// internal/httpserver/routes_sessions.go
//
// HTTP routes for game sessions.
//   - POST /sessions                     → create a lobby, caller becomes host
//   - POST /sessions/{code}/join         → take a seat in a lobby
//   - GET  /sessions/{code}              → public state (falls back to the archive)
//   - POST /sessions/{code}/start        → deal roles (seat token)
//   - POST /sessions/{code}/vote         → defense vote (seat token)
//   - POST /sessions/{code}/night-action → night action (seat token)
//   - POST /sessions/{code}/restart      → back to lobby (seat token)
//
// Create and join hand out a seat token; every later call carries it as a
// bearer token so the acting player is never taken from the request body.

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/robalobadob/mafia/server/internal/game"
	"github.com/robalobadob/mafia/server/internal/seat"
)

type seatReq struct {
	PlayerName string `json:"playerName"`
}

type seatRes struct {
	Code      string     `json:"code"`
	Player    string     `json:"player"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	State     game.State `json:"state"`
}

type voteReq struct {
	Target string `json:"target"`
}

type nightActionReq struct {
	Action game.NightAction `json:"action"`
	Target string           `json:"target"`
}

// mountSessions registers the /sessions routes.
func (s *Server) mountSessions(r chi.Router) {
	r.Post("/sessions", s.handleCreate)
	r.Post("/sessions/{code}/join", s.handleJoin)
	r.Get("/sessions/{code}", s.handleState)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSeat)
		r.Post("/sessions/{code}/start", s.handleStart)
		r.Post("/sessions/{code}/vote", s.handleVote)
		r.Post("/sessions/{code}/night-action", s.handleNightAction)
		r.Post("/sessions/{code}/restart", s.handleRestart)
	})
}

func codeParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
}

// handleCreate opens a lobby and seats the caller as host.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req seatReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.PlayerName)
	code, state, err := s.store.Create(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSeat(w, r, http.StatusCreated, code, name, state)
}

// handleJoin seats the caller in an existing lobby.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req seatReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	code := codeParam(r)
	name := strings.TrimSpace(req.PlayerName)
	state, err := s.store.Join(r.Context(), code, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSeat(w, r, http.StatusOK, code, name, state)
}

func (s *Server) writeSeat(w http.ResponseWriter, r *http.Request, status int, code, name string, state game.State) {
	tok, exp, err := s.seats.Issue(code, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, seatRes{Code: code, Player: name, Token: tok, ExpiresAt: exp, State: state})
}

// handleState returns the public snapshot. Sessions no longer in memory are
// served from their last archived checkpoint.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	code := codeParam(r)
	state, err := s.store.State(r.Context(), code)
	if errors.Is(err, game.ErrSessionNotFound) && s.archive != nil {
		var sess *game.Session
		if sess, err = s.archive.Load(r.Context(), code); err == nil {
			state = game.Snapshot(sess)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	st := seatFrom(r.Context())
	if err := s.store.Start(r.Context(), st.Code, st.Player); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeState(w, r, st.Code)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	st := seatFrom(r.Context())
	var req voteReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.Vote(r.Context(), st.Code, st.Player, req.Target); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "target": req.Target})
}

func (s *Server) handleNightAction(w http.ResponseWriter, r *http.Request) {
	st := seatFrom(r.Context())
	var req nightActionReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.store.NightAction(r.Context(), st.Code, st.Player, req.Action, req.Target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	st := seatFrom(r.Context())
	if err := s.store.Restart(r.Context(), st.Code, st.Player); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeState(w, r, st.Code)
}

func (s *Server) writeState(w http.ResponseWriter, r *http.Request, code string) {
	state, err := s.store.State(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ------------------------------ seat auth -----------------------------------

// seatCtxKey is the context key type for the verified seat.
type seatCtxKey struct{}

// requireSeat verifies the seat token against the session in the URL and
// checks the player still holds a seat there.
func (s *Server) requireSeat(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := codeParam(r)
		claims, err := s.seats.Verify(bearerOrQuery(r), code)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ok, err := s.store.Member(r.Context(), code, claims.Player)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			writeError(w, r, fmt.Errorf("%w: no seat for %s", seat.ErrInvalidToken, claims.Player))
			return
		}
		ctx := context.WithValue(r.Context(), seatCtxKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func seatFrom(ctx context.Context) *seat.Claims {
	c, _ := ctx.Value(seatCtxKey{}).(*seat.Claims)
	return c
}

// bearerOrQuery extracts the seat token from the Authorization header or the
// token query parameter (browsers cannot set headers on WebSocket upgrades).
func bearerOrQuery(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return r.URL.Query().Get("token")
}
