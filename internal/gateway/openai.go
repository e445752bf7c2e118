package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient sends the prompt and frame as chat completion content parts.
type OpenAIClient struct {
	client    openai.Client
	model     string
	maxTokens int64
}

func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client:    openai.NewClient(options...),
		model:     model,
		maxTokens: 400,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.Prompt)}
	if req.HasImage() {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: req.dataURL(),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	}
	params.MaxTokens = openai.Int(c.maxTokens)

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, wrap(ProviderOpenAI, openAIStatus(err), err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, &Error{Kind: KindUnknown, Provider: ProviderOpenAI, Err: fmt.Errorf("empty choices")}
	}
	return Response{Text: strings.TrimSpace(completion.Choices[0].Message.Content)}, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
