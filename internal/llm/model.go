// Package llm wraps langchaingo chat and embedding providers with rate
// limiting, retries and response validation.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/matgraph/internal/config"
	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Chatter produces a structured answer for a system and user prompt.
type Chatter interface {
	Chat(ctx context.Context, system, user string, out any) error
}

// Validator is implemented by response types with checks beyond struct tags.
type Validator interface {
	Validate() error
}

// Model wraps langchaingo LLM for structured generation.
type Model struct {
	llm       llms.Model
	modelName string
	limiter   *rate.Limiter
	policies  retry.Policies
	metrics   *metrics.Collector
}

// Option configures a Model.
type Option func(*Model)

// WithRetryPolicies overrides the default retry budgets.
func WithRetryPolicies(p retry.Policies) Option {
	return func(m *Model) { m.policies = p }
}

// WithMetrics records call timings and token usage.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Model) { m.metrics = c }
}

func chatClient(ctx context.Context, cfg config.Config) (llms.Model, error) {
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		return ollama.New(ollama.WithModel(cfg.LLMModel), ollama.WithServerURL(cfg.OllamaHost), ollama.WithFormat("json"))
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
		return openai.New(openai.WithToken(cfg.OpenAIAPIKey), openai.WithModel(cfg.LLMModel),
			openai.WithResponseFormat(openai.ResponseFormatJSON))
	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
		return anthropic.New(anthropic.WithToken(cfg.AnthropicAPIKey), anthropic.WithModel(cfg.LLMModel))
	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return bedrock.New(bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)), bedrock.WithModel(cfg.LLMModel))
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}

// NewModel builds the chat model for cfg.LLMProvider, rate limited to
// cfg.LLMRequestsPerS calls per second.
func NewModel(ctx context.Context, cfg config.Config, opts ...Option) (*Model, error) {
	client, err := chatClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s chat model: %w", cfg.LLMProvider, err)
	}
	return newModel(client, cfg.LLMModel, cfg.LLMRequestsPerS, opts...), nil
}

func newModel(model llms.Model, name string, rps float64, opts ...Option) *Model {
	m := &Model{
		llm:       model,
		modelName: name,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		policies:  retry.DefaultPolicies(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// generate makes one rate-limited JSON-mode call and returns the raw answer.
func (m *Model) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages, llms.WithJSONMode(), llms.WithTemperature(0))
	duration := time.Since(start)
	if err != nil {
		slog.Warn("llm call failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return "", fmt.Errorf("generate: %w", classifyProviderError(err))
	}

	if len(response.Choices) == 0 {
		return "", invalidResponse("no response choices")
	}

	choice := response.Choices[0]
	if m.metrics != nil {
		in, out := tokenUsage(choice.GenerationInfo)
		m.metrics.RecordLLMUsage(metrics.OpLLMChat, duration, in, out)
	}
	slog.Debug("llm call complete", "model", m.modelName, "duration_ms", duration.Milliseconds())
	return choice.Content, nil
}

// Chat asks the model for a JSON answer, decodes it into out and validates it.
// Transient provider errors and invalid answers are retried per the model's policies.
func (m *Model) Chat(ctx context.Context, system, user string, out any) error {
	return retry.Do(ctx, m.policies, "llm chat", func() error {
		raw, err := m.generate(ctx, system, user)
		if err != nil {
			return err
		}
		return decodeResponse(raw, out)
	})
}

// decodeResponse unmarshals the JSON payload of raw into out and validates it.
func decodeResponse(raw string, out any) error {
	payload := extractJSON(raw)
	if payload == "" {
		return invalidResponse("no JSON in response")
	}

	// Reset out so a failed earlier attempt leaves nothing behind.
	if rv := reflect.ValueOf(out); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return invalidResponse("decode: %v", err)
	}

	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return invalidResponse("validate: %v", err)
		}
		return nil
	}
	if rv := reflect.Indirect(reflect.ValueOf(out)); rv.Kind() == reflect.Struct {
		if err := models.Validate.Struct(out); err != nil {
			return invalidResponse("validate: %v", err)
		}
	}
	return nil
}

// extractJSON returns the outermost JSON object or array in s,
// tolerating markdown fences and prose around it.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}

// tokenUsage reads token counts from provider-specific generation info.
func tokenUsage(info map[string]any) (in, out int64) {
	return intField(info, "PromptTokens", "InputTokens", "input_tokens"),
		intField(info, "CompletionTokens", "OutputTokens", "output_tokens")
}

func intField(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
