package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRoles(roles []Role) map[Role]int {
	out := make(map[Role]int)
	for _, r := range roles {
		out[r]++
	}
	return out
}

func TestAssignRolesComposition(t *testing.T) {
	rng := NewSeededRand(7)
	for n := 5; n <= 16; n++ {
		roles, err := AssignRoles(n, rng)
		require.NoError(t, err)
		require.Len(t, roles, n)

		c := countRoles(roles)
		assert.Equal(t, 1, c[RoleDoctor], "n=%d doctors", n)
		assert.Equal(t, 1, c[RoleSheriff], "n=%d sheriffs", n)
		assert.Equal(t, MafiaCount(n), c[RoleMafia], "n=%d mafia", n)
		assert.Equal(t, n-2-MafiaCount(n), c[RoleVillager], "n=%d villagers", n)
		assert.Less(t, c[RoleMafia], n-c[RoleMafia], "n=%d mafia must start below parity", n)
	}
}

func TestMafiaCount(t *testing.T) {
	want := map[int]int{5: 2, 6: 2, 7: 3, 8: 3, 9: 3, 10: 4, 12: 4, 13: 4, 14: 5, 16: 5}
	for n, m := range want {
		assert.Equal(t, m, MafiaCount(n), "n=%d", n)
	}
}

func TestAssignRolesSmallTablesAreVillagers(t *testing.T) {
	for n := 1; n < 5; n++ {
		roles, err := AssignRoles(n, NewSeededRand(1))
		require.NoError(t, err)
		assert.Equal(t, map[Role]int{RoleVillager: n}, countRoles(roles))
	}
}

func TestAssignRolesInvalidCount(t *testing.T) {
	_, err := AssignRoles(0, NewSeededRand(1))
	assert.ErrorIs(t, err, ErrInvalidPlayerCount)

	_, err = AssignRoles(-3, NewSeededRand(1))
	assert.ErrorIs(t, err, ErrInvalidPlayerCount)
}

func TestAssignRolesReproducibleUnderSeed(t *testing.T) {
	a, err := AssignRoles(10, NewSeededRand(42))
	require.NoError(t, err)
	b, err := AssignRoles(10, NewSeededRand(42))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAssignRolesSpreadsSpecialRoles(t *testing.T) {
	// Every seat should receive the doctor at least once over many deals.
	rng := NewSeededRand(99)
	seen := make(map[int]bool)
	for i := 0; i < 500; i++ {
		roles, err := AssignRoles(6, rng)
		require.NoError(t, err)
		for seat, r := range roles {
			if r == RoleDoctor {
				seen[seat] = true
			}
		}
	}
	assert.Len(t, seen, 6)
}
