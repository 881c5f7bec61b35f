// AngelaMos | 2026
// gateway.go

package ai

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/storywork/storywork-api/internal/config"
	"github.com/storywork/storywork-api/internal/core"
)

// Options override the gateway defaults for one call. Zero values keep
// the defaults.
type Options struct {
	Provider    string
	MaxTokens   int
	Temperature float64
}

// Gateway picks a configured provider for each call.
type Gateway struct {
	anthropic Provider
	openai    Provider
	preferred string
	maxTokens int
	logger    *slog.Logger
}

// NewGateway only registers a provider when its API key is set.
func NewGateway(cfg config.AIConfig, logger *slog.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	g := &Gateway{
		preferred: cfg.Provider,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
	if cfg.AnthropicAPIKey != "" {
		g.anthropic = NewAnthropicProvider(
			cfg.AnthropicAPIKey, cfg.AnthropicURL, cfg.AnthropicModel, timeout,
		)
	}
	if cfg.OpenAIAPIKey != "" {
		g.openai = NewOpenAIProvider(
			cfg.OpenAIAPIKey, cfg.OpenAIURL, cfg.OpenAIModel, timeout,
		)
	}
	return g.withDefaults()
}

func newGatewayWithProviders(preferred string, anthropic, openai Provider) *Gateway {
	g := &Gateway{
		anthropic: anthropic,
		openai:    openai,
		preferred: preferred,
	}
	return g.withDefaults()
}

func (g *Gateway) withDefaults() *Gateway {
	if g.preferred == "" {
		g.preferred = ProviderAnthropic
	}
	if g.maxTokens <= 0 {
		g.maxTokens = defaultMaxTokens
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Configured reports whether any provider can serve a request.
func (g *Gateway) Configured() bool {
	return g.anthropic != nil || g.openai != nil
}

// Generate sends prompt to Anthropic when it is the requested provider and
// has a key, and to OpenAI otherwise.
func (g *Gateway) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	provider := g.pick(opts.Provider)
	if provider == nil {
		return "", ErrNoProvider
	}

	req := Request{
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = g.maxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = defaultTemperature
	}

	ctx, span := core.StartSpan(ctx, "ai.Generate",
		attribute.String("ai.provider", provider.Name()),
		attribute.Int("ai.max_tokens", req.MaxTokens),
	)
	defer span.End()

	start := time.Now()
	text, err := provider.Complete(ctx, req)
	if err != nil {
		core.SetSpanError(ctx, err)
		g.logger.Error("ai generation failed",
			"provider", provider.Name(),
			"duration", time.Since(start),
			"error", err,
		)
		return "", err
	}

	g.logger.Debug("ai generation completed",
		"provider", provider.Name(),
		"duration", time.Since(start),
		"chars", len(text),
	)
	return text, nil
}

func (g *Gateway) pick(requested string) Provider {
	if requested == "" {
		requested = g.preferred
	}
	if requested == ProviderAnthropic && g.anthropic != nil {
		return g.anthropic
	}
	return g.openai
}
