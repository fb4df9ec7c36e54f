package builder

import (
	"fmt"
	"os"
	"time"

	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/model"
	"github.com/shiroai/shiro/pkg/model/anthropic"
	"github.com/shiroai/shiro/pkg/model/gemini"
	"github.com/shiroai/shiro/pkg/model/openai"
	"github.com/shiroai/shiro/pkg/registry"
)

// LLMSettings are the provider-neutral settings of a model.
type LLMSettings struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// LLMProvider creates models of one provider.
type LLMProvider struct {
	DefaultModel string
	New          func(LLMSettings) (model.LLM, error)
}

var providers = registry.New[LLMProvider]("llm provider")

func init() {
	providers.MustRegister("openai", LLMProvider{
		DefaultModel: "gpt-4o",
		New: func(s LLMSettings) (model.LLM, error) {
			c, err := openai.New(openai.Config{
				APIKey:      s.APIKey,
				Model:       s.Model,
				MaxTokens:   s.MaxTokens,
				Temperature: s.Temperature,
				BaseURL:     s.BaseURL,
				Timeout:     s.Timeout,
				MaxRetries:  s.MaxRetries,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	providers.MustRegister("anthropic", LLMProvider{
		DefaultModel: "claude-sonnet-4-20250514",
		New: func(s LLMSettings) (model.LLM, error) {
			c, err := anthropic.New(anthropic.Config{
				APIKey:      s.APIKey,
				Model:       s.Model,
				MaxTokens:   s.MaxTokens,
				Temperature: s.Temperature,
				BaseURL:     s.BaseURL,
				Timeout:     s.Timeout,
				MaxRetries:  s.MaxRetries,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	providers.MustRegister("gemini", LLMProvider{
		DefaultModel: "gemini-2.0-flash",
		New: func(s LLMSettings) (model.LLM, error) {
			return gemini.New(gemini.Config{
				APIKey:      s.APIKey,
				Model:       s.Model,
				MaxTokens:   s.MaxTokens,
				Temperature: s.Temperature,
				BaseURL:     s.BaseURL,
			})
		},
	})
}

// RegisterLLMProvider makes a provider available to NewLLM and the llm
// section of the configuration. Config validation only accepts the
// built-in providers; programs using a custom one build it with NewLLM.
func RegisterLLMProvider(name string, p LLMProvider) error {
	if p.New == nil {
		return fmt.Errorf("llm provider %q: New is required", name)
	}
	return providers.Register(name, p)
}

// LLMBuilder builds a model.LLM for one provider.
type LLMBuilder struct {
	providerType string
	settings     LLMSettings
}

// NewLLM starts a builder with the provider defaults.
func NewLLM(providerType string) *LLMBuilder {
	b := &LLMBuilder{
		providerType: providerType,
		settings: LLMSettings{
			MaxRetries: 3,
			Timeout:    120 * time.Second,
		},
	}
	if p, ok := providers.Get(providerType); ok {
		b.settings.Model = p.DefaultModel
	}
	return b
}

func (b *LLMBuilder) Model(model string) *LLMBuilder {
	b.settings.Model = model
	return b
}

func (b *LLMBuilder) APIKey(key string) *LLMBuilder {
	b.settings.APIKey = key
	return b
}

func (b *LLMBuilder) APIKeyFromEnv(envVar string) *LLMBuilder {
	b.settings.APIKey = os.Getenv(envVar)
	return b
}

func (b *LLMBuilder) BaseURL(url string) *LLMBuilder {
	b.settings.BaseURL = url
	return b
}

// Temperature panics outside [0, 2].
func (b *LLMBuilder) Temperature(temp float64) *LLMBuilder {
	if temp < 0 || temp > 2 {
		panic("temperature must be between 0 and 2")
	}
	b.settings.Temperature = &temp
	return b
}

func (b *LLMBuilder) MaxTokens(max int) *LLMBuilder {
	if max < 0 {
		panic("max tokens must be non-negative")
	}
	b.settings.MaxTokens = max
	return b
}

func (b *LLMBuilder) Timeout(timeout time.Duration) *LLMBuilder {
	b.settings.Timeout = timeout
	return b
}

func (b *LLMBuilder) MaxRetries(max int) *LLMBuilder {
	if max < 0 {
		panic("max retries must be non-negative")
	}
	b.settings.MaxRetries = max
	return b
}

// Build creates the model. A missing API key is read from the provider's
// environment variable.
func (b *LLMBuilder) Build() (model.LLM, error) {
	p, err := providers.Lookup(b.providerType)
	if err != nil {
		return nil, err
	}
	if b.settings.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if b.settings.APIKey == "" {
		b.settings.APIKey = config.GetProviderAPIKey(b.providerType)
	}
	return p.New(b.settings)
}

// LLMFromConfig builds the model of the llm section.
func LLMFromConfig(cfg *config.LLMConfig) (model.LLM, error) {
	b := NewLLM(string(cfg.Provider)).
		APIKey(cfg.APIKey).
		BaseURL(cfg.BaseURL).
		MaxTokens(cfg.MaxTokens).
		Timeout(cfg.Timeout)
	if cfg.Model != "" {
		b.Model(cfg.Model)
	}
	if cfg.Temperature != nil {
		b.Temperature(*cfg.Temperature)
	}
	if cfg.MaxRetries != nil {
		b.MaxRetries(*cfg.MaxRetries)
	}

	llm, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", cfg.Provider, err)
	}
	return llm, nil
}
