package config

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ROOM_CAPACITY", "ALLOWED_ORIGINS", "IDENTIFY_MAX_BYTES", "RATE_LIMIT_JOINS", "RATE_LIMIT_CREATES", "S3_USE_SSL"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCapacity, cfg.RoomCapacity)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(DefaultIdentifyMaxSize), cfg.IdentifyMaxSize)
	assert.Equal(t, DefaultJoinsPerMinute, cfg.JoinsPerMinute)
	assert.Equal(t, DefaultCreatesPerMinute, cfg.CreatesPerMinute)
	assert.False(t, cfg.S3UseSSL)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ROOM_CAPACITY", "8")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("PUBLIC_URL", "https://party.example/")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 8, cfg.RoomCapacity)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "https://party.example", cfg.PublicURL)
	assert.True(t, cfg.S3UseSSL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("ROOM_CAPACITY", "1")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "room capacity must be at least 2")

	t.Setenv("ROOM_CAPACITY", "five")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "invalid ROOM_CAPACITY")
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	require.NoError(t, cfg.SetupLogging())
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	cfg.LogLevel = "loud"
	assert.Error(t, cfg.SetupLogging())
}
