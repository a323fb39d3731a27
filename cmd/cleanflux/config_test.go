package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValidateRequiresBackend(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.BackendHost = ""
	require.ErrorIs(t, cfg.Validate(), errBackendHostRequired)
}

func TestValidateRequiresRetentionPoliciesWhenNotAutoDiscovering(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.AutoRetrieveRetentionPolicies = false
	require.ErrorIs(t, cfg.Validate(), errNoRetentionPolicies)

	cfg.RetentionPolicies = []RetentionPolicyConfig{{Schema: "telemetry", Name: "one_week"}}
	require.NoError(t, cfg.Validate())
}

func TestCheckConfigWarnsOnMissingPointsBudget(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.RetentionPolicies = []RetentionPolicyConfig{{Schema: "telemetry", Name: "one_week"}}
	warnings := cfg.CheckConfig()
	assert.NotEmpty(t, warnings)
}

func TestExampleConfigParses(t *testing.T) {
	assert.Contains(t, ExampleConfig(), "backend_host")

	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(ExampleConfig()), &cfg))
	assert.Equal(t, "influxdb.example.com", cfg.BackendHost)
}
