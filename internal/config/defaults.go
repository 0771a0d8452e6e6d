package config

// DefaultConfig returns the default configuration with built-in providers
// and scheduling knobs. No agents are declared by default.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrentAgents:   4,
			DefaultTimeoutSeconds: 300,
			MaxAttempts:           3,
			RetryInitialMillis:    500,
			RetryMaxMillis:        15000,
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				Type: "anthropic",
			},
			"openai": {
				Type: "openai",
			},
		},
		Agents: map[string]AgentConfig{},
	}
}
