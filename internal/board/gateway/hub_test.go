package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/launchboard/internal/board/schema"
)

func TestHub_SendToUnknownSession(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	env, err := schema.NewEnvelope(schema.EventError, schema.ErrorEvent{Message: "x"})
	require.NoError(t, err)
	require.False(t, h.SendTo("nobody", env))
	require.Equal(t, 0, h.Count())
}

func TestHub_ClosedHubRejectsDeliveries(t *testing.T) {
	h := newHub(nil, 1)
	h.Close()

	env, err := schema.NewEnvelope(schema.EventUpdateState, schema.StateUpdate{Revision: 1})
	require.NoError(t, err)
	require.False(t, h.enqueue(delivery{env: env}))
	h.Broadcast(env)

	// Removing an unknown session is a no-op.
	h.remove("nobody", 1000, "")
}

func TestHub_TargetsSnapshot(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	h.sessions["a"] = &session{id: "a"}
	h.sessions["b"] = &session{id: "b"}

	require.Len(t, h.targets(""), 2)
	require.Len(t, h.targets("a"), 1)
	require.Empty(t, h.targets("c"))

	// No connections behind these sessions.
	delete(h.sessions, "a")
	delete(h.sessions, "b")
}
