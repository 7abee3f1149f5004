package game

import "errors"

// Errors returned by the engine. All of them reject a single action and
// leave the session untouched.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidPlayerCount  = errors.New("invalid player count")
	ErrInvalidAction       = errors.New("invalid action")
	ErrDuplicatePlayerName = errors.New("duplicate player name")
	ErrGameAlreadyStarted  = errors.New("game already started")
	ErrGameNotInLobby      = errors.New("game not in lobby")
	ErrSessionFull         = errors.New("session full")

	// ErrInvalidTarget and ErrNotHost are refinements of ErrInvalidAction.
	ErrInvalidTarget = refine(ErrInvalidAction, "invalid target")
	ErrNotHost       = refine(ErrInvalidAction, "only the host may do that")
)

type refined struct {
	parent error
	msg    string
}

func refine(parent error, msg string) error { return &refined{parent: parent, msg: msg} }

func (e *refined) Error() string { return e.msg }
func (e *refined) Unwrap() error { return e.parent }
