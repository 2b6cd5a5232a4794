package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_DefaultsWhenNoEnvSet(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "recipes.json", cfg.Recipe.Path)
	assert.False(t, cfg.Recipe.Simulate)
	assert.Equal(t, "rotate", cfg.Pickup.Mode)
	assert.True(t, cfg.Devices.CoffeeBoilerCools, "boiler compensation defaults on")
	assert.Equal(t, "", cfg.Devices.RobotEndpoint, "empty endpoint selects the simulated gateway")
}

func TestLoad_ReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("BARBOT_PORT", "9090")
	t.Setenv("BARBOT_SIMULATE", "true")
	t.Setenv("BARBOT_SIMULATE_SECONDS", "0.25")
	t.Setenv("BARBOT_PICKUP_MODE", "sensor")
	t.Setenv("BARBOT_ROBOT_ENDPOINT", "http://bridge:9000")
	t.Setenv("BARBOT_COFFEE_BOILER_COOLS", "false")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Recipe.Simulate)
	assert.Equal(t, 0.25, cfg.Recipe.SimulateSeconds)
	assert.Equal(t, "sensor", cfg.Pickup.Mode)
	assert.Equal(t, "http://bridge:9000", cfg.Devices.RobotEndpoint)
	assert.False(t, cfg.Devices.CoffeeBoilerCools)
}

func TestLoad_InvalidNumericEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("BARBOT_PORT", "not-a-number")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
}
