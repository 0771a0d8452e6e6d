// Package anthropic implements the executor capability on top of the
// Anthropic Messages API. The agent's config supplies the prompt template,
// model and sampling parameters.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agenthive/agenthive/internal/executor"
	"github.com/agenthive/agenthive/internal/registry"
)

// Model aliases the SDK's model identifier so callers configuring the
// executor don't need to import the SDK directly.
type Model = anthropic.Model

// Options configures the Anthropic executor defaults. Per-agent config
// ("model", "max_tokens", "temperature") overrides them.
type Options struct {
	Model       anthropic.Model
	MaxTokens   int64
	Temperature float64
	APIKey      string
}

// Executor runs "llm" agents against the Anthropic Messages API.
type Executor struct {
	client *anthropic.Client
	opts   Options
}

// NewExecutor creates an executor using the official client.
func NewExecutor(optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Executor{client: &client, opts: opts}
}

// NewExecutorFromClient creates an executor from an existing client.
func NewExecutorFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{client: client, opts: opts}
}

// ValidateInput implements executor.Executor.
func (e *Executor) ValidateInput(agent registry.Agent, in executor.Input) error {
	_, err := executor.RenderPrompt(agent, in)
	return err
}

// RunAgent implements executor.Executor. API failures are reported as
// transient execution errors so the scheduler's retry policy applies.
func (e *Executor) RunAgent(ctx context.Context, agent registry.Agent, in executor.Input) (executor.Output, error) {
	prompt, err := executor.RenderPrompt(agent, in)
	if err != nil {
		return executor.Output{}, err
	}

	model := e.opts.Model
	if m := executor.ConfigString(agent, "model", ""); m != "" {
		model = anthropic.Model(m)
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		MaxTokens:   int64(executor.ConfigNumber(agent, "max_tokens", float64(e.opts.MaxTokens))),
		Temperature: anthropic.Float(executor.ConfigNumber(agent, "temperature", e.opts.Temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system := executor.ConfigString(agent, "system_prompt", ""); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return executor.Output{}, ctx.Err()
		}
		return executor.Output{}, &executor.ExecutionError{
			AgentID:   agent.ID,
			Transient: true,
			Err:       fmt.Errorf("anthropic api error: %w", err),
		}
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	return executor.Output{
		Payload: map[string]any{
			"text":        text,
			"model":       string(resp.Model),
			"stop_reason": string(resp.StopReason),
		},
		MemoryWrites: executor.MemoryWritesFor(agent, text),
	}, nil
}

var _ executor.Executor = (*Executor)(nil)
