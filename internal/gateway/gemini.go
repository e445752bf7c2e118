package gateway

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

var geminiStatusPattern = regexp.MustCompile(`Error (\d{3})`)

// GeminiClient sends the frame as an inline bytes part. The underlying client
// is created lazily because construction needs a context.
type GeminiClient struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiClient(apiKey, model string) *GeminiClient {
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{apiKey: apiKey, model: model}
}

func (c *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     c.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.client = client
	return client, nil
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return Response{}, wrap(ProviderGemini, 0, err)
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if req.HasImage() {
		parts = append(parts, genai.NewPartFromBytes(req.Image, req.mimeType()))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return Response{}, wrap(ProviderGemini, geminiStatus(err), err)
	}

	var b strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
	}
	return Response{Text: strings.TrimSpace(b.String())}, nil
}

// geminiStatus recovers the HTTP status embedded in the SDK's error text.
func geminiStatus(err error) int {
	m := geminiStatusPattern.FindStringSubmatch(err.Error())
	if len(m) != 2 {
		return 0
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0
	}
	return code
}
