package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CYPHR_RELAY_URL", "")
	t.Setenv("CYPHR_EXPIRY_DAYS", "")

	cfg := Load()
	require.Equal(t, "ws://localhost:9090/sync", cfg.RelayURL)
	require.Equal(t, 90*24*time.Hour, cfg.ExpiryAge)
	require.Equal(t, time.Hour, cfg.ExpirySweep)
	require.False(t, cfg.RequireKnownMembers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CYPHR_EXPIRY_DAYS", "30")
	t.Setenv("CYPHR_REQUIRE_KNOWN_MEMBERS", "true")
	t.Setenv("CYPHR_EXPIRY_SWEEP", "5m")
	t.Setenv("CYPHR_REDIS_DB", "not-a-number")

	cfg := Load()
	require.Equal(t, 30*24*time.Hour, cfg.ExpiryAge)
	require.True(t, cfg.RequireKnownMembers)
	require.Equal(t, 5*time.Minute, cfg.ExpirySweep)
	require.Equal(t, 0, cfg.RedisDB)
}
