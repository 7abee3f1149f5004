// internal/game/roles.go
//
// Role assignment for a new game.
//
// The role multiset is computed from the player count and then shuffled with
// the caller's random source, so a fixed seed reproduces a deal exactly.

package game

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// Rand is the randomness an Engine needs. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// NewRand returns a PCG generator seeded from crypto/rand.
func NewRand() (*rand.Rand, error) {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:]))), nil
}

// NewSeededRand returns a deterministic generator, for tests and replays.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// specialRolesFrom is the smallest table that receives a doctor, a sheriff
// and mafia. Below it every seat is a villager.
const specialRolesFrom = 5

// MafiaCount returns how many mafia a table of n players gets:
// max(2, ceil((n+3)/4)), capped at (n-1)/2 so mafia start below parity.
// Six players get 2, not floor(6/2) = 3.
func MafiaCount(n int) int {
	if n < specialRolesFrom {
		return 0
	}
	m := (n + 3 + 3) / 4 // ceil((n+3)/4)
	if m < 2 {
		m = 2
	}
	if limit := (n - 1) / 2; m > limit {
		m = limit
	}
	return m
}

// AssignRoles deals roles for playerCount seats, in seat order.
func AssignRoles(playerCount int, rng Rand) ([]Role, error) {
	if playerCount < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPlayerCount, playerCount)
	}
	roles := make([]Role, 0, playerCount)
	if playerCount >= specialRolesFrom {
		for i := 0; i < MafiaCount(playerCount); i++ {
			roles = append(roles, RoleMafia)
		}
		roles = append(roles, RoleDoctor, RoleSheriff)
	}
	for len(roles) < playerCount {
		roles = append(roles, RoleVillager)
	}
	rng.Shuffle(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] })
	return roles, nil
}
