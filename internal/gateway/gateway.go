// Package gateway is the adapter to external text/vision completion services.
package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Request is a single-shot completion: textual context plus an optional image.
type Request struct {
	Prompt   string
	Image    []byte
	MIMEType string
}

func (r Request) HasImage() bool { return len(r.Image) > 0 }

func (r Request) mimeType() string {
	if strings.TrimSpace(r.MIMEType) == "" {
		return "image/png"
	}
	return r.MIMEType
}

func (r Request) dataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", r.mimeType(), base64.StdEncoding.EncodeToString(r.Image))
}

type Response struct {
	Text string
}

// Client is a stateless completion service. Implementations do not retry;
// failures are *Error values.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config controls client construction.
type Config struct {
	Provider string
	Model    string
	Fallback string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	GeminiAPIKey    string
	HTTPURL         string
	HTTPToken       string
}

const (
	ProviderAuto      = "auto"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderHTTP      = "http"
	ProviderMock      = "mock"
)

// New builds the configured provider, wrapped in a fallback when one is named.
// The returned string is the resolved provider label.
func New(cfg Config) (Client, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = ProviderAuto
	}
	if mode == ProviderAuto {
		mode = resolveAuto(cfg)
	}
	primary, err := build(mode, cfg)
	if err != nil {
		return nil, "", err
	}

	fallback := strings.ToLower(strings.TrimSpace(cfg.Fallback))
	if fallback == "" || fallback == mode {
		return primary, mode, nil
	}
	secondary, err := build(fallback, Config{
		Model:           "",
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		HTTPURL:         cfg.HTTPURL,
		HTTPToken:       cfg.HTTPToken,
	})
	if err != nil {
		return nil, "", fmt.Errorf("fallback provider: %w", err)
	}
	return NewFallback(primary, secondary), mode + "+" + fallback, nil
}

func resolveAuto(cfg Config) string {
	switch {
	case strings.TrimSpace(cfg.GeminiAPIKey) != "":
		return ProviderGemini
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		return ProviderOpenAI
	case strings.TrimSpace(cfg.AnthropicAPIKey) != "":
		return ProviderAnthropic
	case strings.TrimSpace(cfg.HTTPURL) != "":
		return ProviderHTTP
	default:
		return ProviderMock
	}
}

func build(mode string, cfg Config) (Client, error) {
	switch mode {
	case ProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("gemini provider requires GEMINI_API_KEY")
		}
		return NewGeminiClient(cfg.GeminiAPIKey, cfg.Model), nil
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.Model, cfg.OpenAIBaseURL), nil
	case ProviderAnthropic:
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY")
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.Model), nil
	case ProviderHTTP:
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("http provider requires GATEWAY_HTTP_URL")
		}
		return NewHTTPClient(cfg.HTTPURL, cfg.HTTPToken), nil
	case ProviderMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported gateway provider %q", mode)
	}
}
