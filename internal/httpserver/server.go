// internal/httpserver/server.go
//
// HTTP server wiring for the Mafia backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health", "/results".
//   - Session endpoints: mounted under /sessions (see routes_sessions.go).
//   - WebSocket endpoint per session (see ws.go).
//   - Translating game errors into status codes and {"error": "..."} bodies.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled for a single client origin.
//   - The WebSocket route sits outside the request timeout; its lifetime is the
//     lifetime of the connection.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/mafia/server/internal/archive"
	"github.com/robalobadob/mafia/server/internal/game"
	"github.com/robalobadob/mafia/server/internal/realtime"
	"github.com/robalobadob/mafia/server/internal/seat"
	"github.com/robalobadob/mafia/server/internal/store"
)

// Archive is the read side of the checkpoint archive.
type Archive interface {
	Load(ctx context.Context, code string) (*game.Session, error)
	RecentResults(ctx context.Context, limit int) ([]archive.Result, error)
}

// Deps are the collaborators a Server routes to. Archive may be nil.
type Deps struct {
	Store        *store.Store
	Hub          *realtime.Hub
	Seats        *seat.Issuer
	Archive      Archive
	ClientOrigin string
}

// Server bundles the router and its collaborators.
type Server struct {
	r       *chi.Mux
	store   *store.Store
	hub     *realtime.Hub
	seats   *seat.Issuer
	archive Archive
	origin  string
}

// New constructs a Server, installs middleware, and registers routes.
func New(d Deps) *Server {
	s := &Server{
		r:       chi.NewRouter(),
		store:   d.Store,
		hub:     d.Hub,
		seats:   d.Seats,
		archive: d.Archive,
		origin:  d.ClientOrigin,
	}
	if s.origin == "" {
		s.origin = "http://localhost:5173"
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(jsonContentType) // default JSON responses
	s.r.Use(cors(s.origin))  // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"mafia-go","endpoints":["/health","/results","POST /sessions","/sessions/{code}/*"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "sessions": s.store.Len()})
	})

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
		r.Get("/results", s.handleResults)
		s.mountSessions(r)
	})

	// WebSocket: seat token in ?token=
	s.r.With(s.requireSeat).Get("/sessions/{code}/ws", s.handleWS)

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})

	return s
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for a single origin.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ------------------------------ results ------------------------------------

// handleResults lists recently finished games from the archive.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "archive_disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > 100 {
		limit = 100
	}
	res, err := s.archive.RecentResults(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("list results")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "db_error"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ------------------------------- errors ------------------------------------

// errBadJSON marks undecodable request bodies.
var errBadJSON = errors.New("bad_json")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadJSON):
		return http.StatusBadRequest
	case errors.Is(err, seat.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, game.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrDuplicatePlayerName),
		errors.Is(err, game.ErrGameAlreadyStarted),
		errors.Is(err, game.ErrGameNotInLobby),
		errors.Is(err, game.ErrSessionFull):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalidAction),
		errors.Is(err, game.ErrInvalidPlayerCount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": "..."}; internal errors are logged and
// not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal_error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body of at most 64 KiB into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadJSON
	}
	return nil
}
