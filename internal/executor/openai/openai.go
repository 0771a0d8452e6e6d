// Package openai implements the executor capability on top of the OpenAI
// Chat Completions API. The agent's config supplies the prompt template,
// model and sampling parameters.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/agenthive/agenthive/internal/executor"
	"github.com/agenthive/agenthive/internal/registry"
)

// Options configures the OpenAI executor defaults. Per-agent config
// ("model", "max_tokens", "temperature") overrides them.
type Options struct {
	Model               string
	MaxCompletionTokens int64
	Temperature         float64
}

// Executor runs "llm" agents against the OpenAI Chat Completions API.
type Executor struct {
	client *openai.Client
	opts   Options
}

// NewExecutor creates an executor using the official client (API key from
// the environment).
func NewExecutor(optFns ...func(o *Options)) *Executor {
	client := openai.NewClient()
	return NewExecutorFromClient(&client, optFns...)
}

// NewExecutorFromClient creates an executor from an existing client.
func NewExecutorFromClient(client *openai.Client, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 4096,
		Temperature:         0.7,
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

	var messages []openai.ChatCompletionMessageParamUnion
	if system := executor.ConfigString(agent, "system_prompt", ""); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:               executor.ConfigString(agent, "model", e.opts.Model),
		Messages:            messages,
		Temperature:         openai.Float(executor.ConfigNumber(agent, "temperature", e.opts.Temperature)),
		MaxCompletionTokens: openai.Int(int64(executor.ConfigNumber(agent, "max_tokens", float64(e.opts.MaxCompletionTokens)))),
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return executor.Output{}, ctx.Err()
		}
		return executor.Output{}, &executor.ExecutionError{
			AgentID:   agent.ID,
			Transient: true,
			Err:       fmt.Errorf("openai api error: %w", err),
		}
	}
	if len(resp.Choices) == 0 {
		return executor.Output{}, &executor.ExecutionError{
			AgentID: agent.ID,
			Err:     fmt.Errorf("no choices returned"),
		}
	}

	text := resp.Choices[0].Message.Content
	return executor.Output{
		Payload: map[string]any{
			"text":          text,
			"model":         resp.Model,
			"finish_reason": string(resp.Choices[0].FinishReason),
		},
		MemoryWrites: executor.MemoryWritesFor(agent, text),
	}, nil
}

var _ executor.Executor = (*Executor)(nil)
