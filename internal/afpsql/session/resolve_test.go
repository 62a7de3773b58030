package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfirst/afpsql/internal/afpsql/config"
	"github.com/agentfirst/afpsql/internal/afpsql/protocol"
)

func TestResolveSpecPrefersInlineFields(t *testing.T) {
	snap := config.Default()
	snap.Sessions["default"] = config.ConnectionSpec{Host: "registered"}

	resolved, err := ResolveSpec(snap, "", protocol.ConnSpecFields{Host: "inline-host"})
	require.NoError(t, err)

	assert.True(t, resolved.Ephemeral)
	assert.Equal(t, "inline-host", resolved.Spec.Host)
	assert.Contains(t, resolved.Name, "inline-")
}

func TestResolveSpecUsesNamedSessionOverDefault(t *testing.T) {
	snap := config.Default()
	snap.DefaultSession = "default"
	snap.Sessions["default"] = config.ConnectionSpec{Host: "default-host"}
	snap.Sessions["reporting"] = config.ConnectionSpec{Host: "reporting-host"}

	resolved, err := ResolveSpec(snap, "reporting", protocol.ConnSpecFields{})
	require.NoError(t, err)

	assert.False(t, resolved.Ephemeral)
	assert.Equal(t, "reporting", resolved.Name)
	assert.Equal(t, "reporting-host", resolved.Spec.Host)
}

func TestResolveSpecFallsBackToDefaultSession(t *testing.T) {
	snap := config.Default()
	snap.DefaultSession = "default"
	snap.Sessions["default"] = config.ConnectionSpec{Host: "default-host"}

	resolved, err := ResolveSpec(snap, "", protocol.ConnSpecFields{})
	require.NoError(t, err)

	assert.Equal(t, "default", resolved.Name)
	assert.Equal(t, "default-host", resolved.Spec.Host)
}

func TestResolveSpecRejectsUnknownSession(t *testing.T) {
	snap := config.Default()
	_, err := ResolveSpec(snap, "ghost", protocol.ConnSpecFields{})
	assert.Error(t, err)
}
