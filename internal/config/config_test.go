package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chira.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 9000, cfg.GRPCPort)
	assert.Equal(t, FeedMock, cfg.Feed.Kind)
	assert.Equal(t, 5*time.Second, cfg.Dashboard.StaleThreshold)
	assert.Equal(t, time.Second, cfg.Dashboard.TickInterval)
	assert.Equal(t, domain.Hourly, cfg.Granularity())
	assert.Equal(t, time.Local, cfg.Location())
	assert.True(t, cfg.Persistence)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "chira.db", filepath.Base(cfg.DBPath))
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
addr: ":7000"
grpc_port: 9100
feed:
  kind: mqtt
  mqtt:
    broker_url: mqtt://broker.farm:1883
    qos: 0
dashboard:
  stale_threshold: 3s
  granularity: daily
  timezone: UTC
allowed_origins:
  - https://farm.example
`)

	t.Setenv("CHIRA_CONFIG", path)
	t.Setenv("CHIRA_ADDR", ":7500")
	t.Setenv("CHIRA_STALE_THRESHOLD", "4s")

	cfg, err := Load([]string{"-stale-threshold", "10s", "-mqtt-qos", "2"})
	require.NoError(t, err)

	// flag > env > file > default
	assert.Equal(t, 10*time.Second, cfg.Dashboard.StaleThreshold)
	assert.Equal(t, ":7500", cfg.Addr)
	assert.Equal(t, 9100, cfg.GRPCPort)
	assert.Equal(t, 2, cfg.Feed.MQTT.QoS)
	assert.Equal(t, FeedMQTT, cfg.Feed.Kind)
	assert.Equal(t, "mqtt://broker.farm:1883", cfg.Feed.MQTT.BrokerURL)
	assert.Equal(t, "chira-dashboard", cfg.Feed.MQTT.ClientID, "unset keys keep defaults")
	assert.Equal(t, domain.Daily, cfg.Granularity())
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, []string{"https://farm.example"}, cfg.AllowedOrigins)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoad_ConfigFlagOverridesEnvPath(t *testing.T) {
	envPath := writeConfig(t, "addr: \":1111\"\n")
	flagPath := writeConfig(t, "addr: \":2222\"\n")
	t.Setenv("CHIRA_CONFIG", envPath)

	cfg, err := Load([]string{"-config", flagPath})
	require.NoError(t, err)
	assert.Equal(t, ":2222", cfg.Addr)
	assert.Equal(t, flagPath, cfg.ConfigFile)
}

func TestLoad_OriginsList(t *testing.T) {
	t.Setenv("CHIRA_WS_ORIGINS", "http://a.local, http://b.local,")
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.AllowedOrigins)

	cfg, err = Load([]string{"-ws-origins", "*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidEnvIsIgnored(t *testing.T) {
	t.Setenv("CHIRA_GRPC", "not-a-port")
	t.Setenv("CHIRA_TICK", "soon")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.GRPCPort)
	assert.Equal(t, time.Second, cfg.Dashboard.TickInterval)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		file string
	}{
		{name: "Unknown flag", args: []string{"-nope"}},
		{name: "Unknown feed", args: []string{"-feed", "serial"}},
		{name: "Unknown granularity", args: []string{"-granularity", "weekly"}},
		{name: "Bad timezone", args: []string{"-tz", "Mars/Olympus"}},
		{name: "Zero threshold", args: []string{"-stale-threshold", "0s"}},
		{name: "Negative tick", args: []string{"-tick", "-1s"}},
		{name: "QoS out of range", args: []string{"-mqtt-qos", "3"}},
		{name: "Bad log format", args: []string{"-log-format", "xml"}},
		{name: "Malformed file", file: "feed: [unclosed"},
		{name: "Missing file", args: []string{"-config", "/nonexistent/chira.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			if tt.file != "" {
				args = append(args, "-config", writeConfig(t, tt.file))
			}
			_, err := Load(args)
			assert.Error(t, err)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Feed.Kind = "serial"
	cfg.Dashboard.TickInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown feed kind "serial"`)
	assert.Contains(t, err.Error(), "tick interval must be positive")
}

func TestGranularityAlias(t *testing.T) {
	cfg, err := Load([]string{"-granularity", "this-year"})
	require.NoError(t, err)
	assert.Equal(t, domain.Monthly, cfg.Granularity())
}
