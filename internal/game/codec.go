package game

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SnapshotVersion is the current layout of encoded sessions. Bump it when a
// field changes meaning and teach DecodeSession the old layout.
const SnapshotVersion = 1

var ErrUnsupportedSnapshot = errors.New("unsupported snapshot version")

type envelope struct {
	Version int      `json:"version"`
	Session *Session `json:"session"`
}

// EncodeSession serializes the whole aggregate, in-flight votes and night
// actions included.
func EncodeSession(s *Session) ([]byte, error) {
	b, err := json.Marshal(envelope{Version: SnapshotVersion, Session: s})
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.Code, err)
	}
	return b, nil
}

// DecodeSession parses data produced by EncodeSession and checks that the
// result is internally consistent.
func DecodeSession(data []byte) (*Session, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if env.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSnapshot, env.Version)
	}
	s := env.Session
	if s == nil || s.Code == "" {
		return nil, errors.New("decode session: missing session")
	}
	if s.Players == nil {
		s.Players = make(map[string]*PlayerState)
	}
	if s.Votes == nil {
		s.Votes = make(map[string]string)
	}
	if len(s.Order) != len(s.Players) {
		return nil, fmt.Errorf("decode session %s: %d seats for %d players", s.Code, len(s.Order), len(s.Players))
	}
	for _, name := range s.Order {
		if s.Players[name] == nil {
			return nil, fmt.Errorf("decode session %s: seat %q has no player", s.Code, name)
		}
	}
	switch s.Phase {
	case PhaseLobby, PhaseDay, PhaseDefense, PhaseNight, PhaseEnded:
	default:
		return nil, fmt.Errorf("decode session %s: unknown phase %q", s.Code, s.Phase)
	}
	return s, nil
}
