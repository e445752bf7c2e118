package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient forwards requests to a JSON completion endpoint.
type HTTPClient struct {
	url    string
	token  string
	client *http.Client
}

type httpPayload struct {
	PromptText string `json:"promptText"`
	ImageBytes string `json:"imageBytes,omitempty"`
	MIMEType   string `json:"mimeType,omitempty"`
}

func NewHTTPClient(url, token string) *HTTPClient {
	return &HTTPClient{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	body := httpPayload{PromptText: req.Prompt}
	if req.HasImage() {
		body.ImageBytes = base64.StdEncoding.EncodeToString(req.Image)
		body.MIMEType = req.mimeType()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, &Error{Kind: KindMalformedInput, Provider: ProviderHTTP, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, wrap(ProviderHTTP, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, wrap(ProviderHTTP, 0, fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, wrap(ProviderHTTP, res.StatusCode, fmt.Errorf("upstream status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet))))
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, wrap(ProviderHTTP, 0, fmt.Errorf("read response: %w", err))
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Response{Text: strings.TrimSpace(string(raw))}, nil
	}
	return Response{Text: strings.TrimSpace(extractText(obj))}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "message", "guidance"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
