package config

// SchedulerConfig holds the run-wide scheduling knobs.
type SchedulerConfig struct {
	MaxConcurrentAgents   int `json:"max_concurrent_agents,omitempty"`   // concurrency ceiling (default 4)
	DefaultTimeoutSeconds int `json:"default_timeout_seconds,omitempty"` // per-agent deadline when the agent declares none
	MaxAttempts           int `json:"max_attempts,omitempty"`            // attempts per agent for transient failures
	RetryInitialMillis    int `json:"retry_initial_millis,omitempty"`    // first retry backoff interval
	RetryMaxMillis        int `json:"retry_max_millis,omitempty"`        // backoff interval ceiling
}

// StorageConfig names the SQLite files backing execution history and agent
// memory. Empty paths select the in-memory implementations.
type StorageConfig struct {
	TrackerPath string `json:"tracker_path,omitempty"`
	MemoryPath  string `json:"memory_path,omitempty"`
}

// ProviderConfig defines a model backend. Providers are separate from
// agents -- multiple agents can share one provider.
type ProviderConfig struct {
	Type   string `json:"type"`             // "anthropic" or "openai"
	Model  string `json:"model,omitempty"`  // default model for agents on this provider
	APIKey string `json:"api_key,omitempty"` // optional; the SDK env var is used when empty
}

// DependencyConfig declares one edge from the declaring agent to a
// prerequisite, by agent name.
type DependencyConfig struct {
	Agent string `json:"agent"`
	Kind  string `json:"kind,omitempty"` // "required" (default) or "optional"
}

// AgentConfig declares one agent. The map key in Config.Agents is the
// agent's unique name.
type AgentConfig struct {
	Type           string             `json:"type,omitempty"`     // agent type, default "llm"
	Provider       string             `json:"provider,omitempty"` // key into Providers map
	Description    string             `json:"description,omitempty"`
	Disabled       bool               `json:"disabled,omitempty"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
	Config         map[string]any     `json:"config,omitempty"` // type-specific settings (prompt, model, memory_key, ...)
	DependsOn      []DependencyConfig `json:"depends_on,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Scheduler SchedulerConfig           `json:"scheduler"`
	Storage   StorageConfig             `json:"storage"`
	Providers map[string]ProviderConfig `json:"providers"`
	Agents    map[string]AgentConfig    `json:"agents"`
}
