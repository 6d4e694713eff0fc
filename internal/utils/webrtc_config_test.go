package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetWebRTCConfigDefaults(t *testing.T) {
	cfg := GetWebRTCConfig()

	require.NotEmpty(t, cfg.ICEServers)
	for _, server := range cfg.ICEServers {
		require.NotEmpty(t, server.URLs)
	}
	assert.Contains(t, cfg.ICEServers[0].URLs[0], "stun:")
}

func TestGetWebRTCConfigTURNFromEnv(t *testing.T) {
	t.Setenv("TURN_URL", "turn:relay.example.com:3478")
	t.Setenv("TURN_USERNAME", "user")
	t.Setenv("TURN_PASSWORD", "pass")

	cfg := GetWebRTCConfig()

	last := cfg.ICEServers[len(cfg.ICEServers)-1]
	assert.Equal(t, []string{"turn:relay.example.com:3478"}, last.URLs)
	assert.Equal(t, "user", last.Username)
	assert.Equal(t, "pass", last.Credential)
}

func TestGetWebRTCConfigCustomSTUN(t *testing.T) {
	t.Setenv("STUN_SERVERS", "stun:custom.example.com:3478")

	cfg := GetWebRTCConfig()

	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:custom.example.com:3478"}, cfg.ICEServers[0].URLs)
}
