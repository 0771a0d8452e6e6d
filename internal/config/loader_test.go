package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name string, cfg *Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentAgents)
	assert.Equal(t, 300, cfg.Scheduler.DefaultTimeoutSeconds)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Len(t, cfg.Providers, 2)
	assert.Empty(t, cfg.Agents)
}

func TestLoadMissingFilesAreNotErrors(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.json"), filepath.Join(dir, "also-absent.json"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentAgents)
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path, "")
	require.Error(t, err)
}

func TestLoadGlobalAddsAgents(t *testing.T) {
	dir := t.TempDir()
	globalPath := writeConfig(t, dir, "global.json", &Config{
		Agents: map[string]AgentConfig{
			"researcher": {
				Provider: "anthropic",
				Config:   map[string]any{"prompt": "research {{.Input.topic}}"},
			},
		},
	})

	cfg, err := Load(globalPath, "")
	require.NoError(t, err)
	require.Contains(t, cfg.Agents, "researcher")
	assert.Equal(t, "anthropic", cfg.Agents["researcher"].Provider)
	assert.Len(t, cfg.Providers, 2, "defaults survive the merge")
}

func TestLoadProjectOverridesGlobal(t *testing.T) {
	dir := t.TempDir()
	globalPath := writeConfig(t, dir, "global.json", &Config{
		Scheduler: SchedulerConfig{MaxConcurrentAgents: 8},
		Agents: map[string]AgentConfig{
			"writer": {Provider: "anthropic"},
		},
	})
	projectPath := writeConfig(t, dir, "project.json", &Config{
		Scheduler: SchedulerConfig{MaxAttempts: 5},
		Storage:   StorageConfig{TrackerPath: "project/history.db"},
		Agents: map[string]AgentConfig{
			"writer": {Provider: "openai", TimeoutSeconds: 60},
		},
	})

	cfg, err := Load(globalPath, projectPath)
	require.NoError(t, err)

	// Scalar knobs overlay field by field; zero values keep lower layers.
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrentAgents)
	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 300, cfg.Scheduler.DefaultTimeoutSeconds)
	assert.Equal(t, "project/history.db", cfg.Storage.TrackerPath)

	// Agent entries replace whole; the project wins.
	assert.Equal(t, "openai", cfg.Agents["writer"].Provider)
	assert.Equal(t, 60, cfg.Agents["writer"].TimeoutSeconds)
}

func TestLoadAgentDependencies(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "project.json", &Config{
		Agents: map[string]AgentConfig{
			"aggregator": {
				Provider: "anthropic",
				DependsOn: []DependencyConfig{
					{Agent: "researcher"},
					{Agent: "critic", Kind: "optional"},
				},
			},
			"researcher": {Provider: "anthropic"},
			"critic":     {Provider: "anthropic", Disabled: true},
		},
	})

	cfg, err := Load("", path)
	require.NoError(t, err)
	deps := cfg.Agents["aggregator"].DependsOn
	require.Len(t, deps, 2)
	assert.Equal(t, "researcher", deps[0].Agent)
	assert.Empty(t, deps[0].Kind, "required is the implied default")
	assert.Equal(t, "optional", deps[1].Kind)
	assert.True(t, cfg.Agents["critic"].Disabled)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Scheduler.MaxConcurrentAgents = 2
	cfg.Agents["writer"] = AgentConfig{Provider: "openai"}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Scheduler.MaxConcurrentAgents)
	assert.Contains(t, loaded.Agents, "writer")
}
