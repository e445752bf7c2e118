package gateway

import (
	"context"
	"fmt"
	"strings"
)

// MockClient provides deterministic local replies when no provider is configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, &Error{Kind: Classify(ctx.Err()), Provider: ProviderMock, Err: ctx.Err()}
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

// buildMockReply echoes the goal and latest user line found in the prompt.
func buildMockReply(req Request) string {
	var goal, user, last string
	for _, line := range strings.Split(req.Prompt, "\n") {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		last = s
		switch {
		case strings.HasPrefix(s, "Goal:"):
			goal = strings.TrimSpace(strings.TrimPrefix(s, "Goal:"))
		case strings.HasPrefix(s, "User:"):
			user = strings.TrimSpace(strings.TrimPrefix(s, "User:"))
		}
	}

	var b strings.Builder
	if req.HasImage() {
		fmt.Fprintf(&b, "I can see your screen (%d bytes).", len(req.Image))
	}
	if user != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "You said: %s.", truncate(user, 120))
	}
	if goal != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "Next step toward %q: look for the control that does it and click it.", truncate(goal, 120))
	}
	if b.Len() == 0 {
		if last == "" {
			return "I am here. What are you trying to do?"
		}
		return "Noted: " + truncate(last, 120)
	}
	return b.String()
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
