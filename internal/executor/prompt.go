package executor

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/agenthive/agenthive/internal/registry"
)

// ConfigString reads a string config value from the agent, falling back to
// def when the key is absent or not a string.
func ConfigString(agent registry.Agent, key, def string) string {
	if v, ok := agent.Config[key]; ok && v.Kind == registry.KindString {
		return v.Str
	}
	return def
}

// ConfigNumber reads a numeric config value from the agent, falling back to
// def when the key is absent or not a number.
func ConfigNumber(agent registry.Agent, key string, def float64) float64 {
	if v, ok := agent.Config[key]; ok && v.Kind == registry.KindNumber {
		return v.Num
	}
	return def
}

// RenderPrompt builds the provider prompt from the agent's "prompt" config
// template, exposing the run input as .Input and hydrated memory as
// .Memory. A config without template markers is returned as-is.
func RenderPrompt(agent registry.Agent, in Input) (string, error) {
	text := ConfigString(agent, "prompt", "")
	if text == "" {
		return "", &ExecutionError{AgentID: agent.ID, Err: fmt.Errorf("agent config has no prompt")}
	}
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("prompt").Parse(text)
	if err != nil {
		return "", &ExecutionError{AgentID: agent.ID, Err: fmt.Errorf("parsing prompt template: %w", err)}
	}

	var buf bytes.Buffer
	data := map[string]any{"Input": in.Payload, "Memory": in.Memory}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &ExecutionError{AgentID: agent.ID, Err: fmt.Errorf("rendering prompt template: %w", err)}
	}
	return buf.String(), nil
}

// MemoryWritesFor returns the memory delta an LLM agent declares through
// its "memory_key" config: when set, the produced text is remembered under
// that key for the next run.
func MemoryWritesFor(agent registry.Agent, text string) map[string]any {
	key := ConfigString(agent, "memory_key", "")
	if key == "" {
		return nil
	}
	return map[string]any{key: text}
}
