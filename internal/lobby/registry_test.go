package lobby

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register("c1", "127.0.0.1:5000")
	require.NoError(t, err)
	assert.Equal(t, ConnID("c1"), c.ID)
	assert.Equal(t, "127.0.0.1:5000", c.RemoteAddr)
	assert.False(t, c.LoggedIn())
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 0, r.LoggedInCount())
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("c1", "")
	require.NoError(t, err)
	_, err = r.Register("c1", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_UpdateProfile(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("c1", "")
	require.NoError(t, err)

	c, err := r.UpdateProfile("c1", "Alice", 30)
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)
	assert.Equal(t, 30, c.Age)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, r.LoggedInCount())
}

func TestRegistry_UpdateProfileUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.UpdateProfile("ghost", "Alice", 30)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Contains(t, err.Error(), "ghost")
}

func TestRegistry_UnregisterTwice(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("c1", "")
	require.NoError(t, err)
	_, err = r.UpdateProfile("c1", "Alice", 30)
	require.NoError(t, err)

	last, err := r.Unregister("c1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", last.Name)

	_, err = r.Unregister("c1")
	assert.ErrorIs(t, err, ErrAlreadyGone)
	assert.True(t, errors.Is(err, ErrStaleReference))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_IDsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []ConnID{"c3", "c1", "c2"} {
		_, err := r.Register(id, "")
		require.NoError(t, err)
	}
	assert.Equal(t, []ConnID{"c1", "c2", "c3"}, r.IDs())
}

func TestConnection_State(t *testing.T) {
	tests := []struct {
		name string
		conn Connection
		want State
	}{
		{"anonymous", Connection{}, StateConnected},
		{"idle", Connection{Name: "a"}, StateIdle},
		{"queued", Connection{Name: "a", Mode: ModePairing}, StateQueued},
		{"paired", Connection{Name: "a", Mode: ModePairing, SessionID: "pair_x"}, StatePaired},
		{"grouped", Connection{Name: "a", Mode: ModeGroup, SessionID: "group_x"}, StateGrouped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conn.State())
		})
	}
}

func TestNewConnID_Unique(t *testing.T) {
	seen := make(map[ConnID]bool)
	for i := 0; i < 100; i++ {
		id := NewConnID()
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestValidationError(t *testing.T) {
	err := Invalid("name", "must not be empty")
	assert.True(t, IsValidation(err))
	assert.Equal(t, "invalid name: must not be empty", err.Error())
	assert.False(t, IsValidation(ErrNotLoggedIn))
}
