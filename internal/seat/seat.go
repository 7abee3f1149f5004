// internal/seat/seat.go
//
// Seat tokens bind a client to one player name in one session.
// They are issued when a player creates or joins a session and are presented
// on every later action and on the WebSocket upgrade, so the engine always
// receives the same stable player identity.
//
// Tokens are HS256 JWTs with the session code as audience and the player
// name as subject.

package seat

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid seat token")

const issuer = "mafia-server"

// Claims identify a seat.
type Claims struct {
	Code   string `json:"code"`
	Player string `json:"player"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies seat tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A zero ttl defaults to 12 hours.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for player in session code.
func (i *Issuer) Issue(code, player string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Code:   code,
		Player: player,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   player,
			Audience:  jwt.ClaimStrings{code},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	ss, err := t.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign seat token: %w", err)
	}
	return ss, exp, nil
}

// Verify checks token and returns its claims. When code is non-empty the
// token must have been issued for that session.
func (i *Issuer) Verify(token, code string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	}
	if code != "" {
		opts = append(opts, jwt.WithAudience(code))
	}
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, opts...)
	if err != nil || !t.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Player == "" || claims.Code == "" {
		return nil, fmt.Errorf("%w: missing seat", ErrInvalidToken)
	}
	return claims, nil
}
