package gateway

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewResolvesAutoProvider(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"mock by default", Config{}, ProviderMock},
		{"gemini first", Config{GeminiAPIKey: "g", OpenAIAPIKey: "o"}, ProviderGemini},
		{"openai", Config{OpenAIAPIKey: "o", AnthropicAPIKey: "a"}, ProviderOpenAI},
		{"anthropic", Config{AnthropicAPIKey: "a"}, ProviderAnthropic},
		{"http", Config{HTTPURL: "http://127.0.0.1:1"}, ProviderHTTP},
		{"explicit mock", Config{Provider: "MOCK", OpenAIAPIKey: "o"}, ProviderMock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, label, err := New(tc.cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if client == nil || label != tc.want {
				t.Fatalf("New() label = %q, want %q", label, tc.want)
			}
		})
	}
}

func TestNewRejectsMissingCredentials(t *testing.T) {
	for _, provider := range []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderHTTP, "bogus"} {
		if _, _, err := New(Config{Provider: provider}); err == nil {
			t.Fatalf("New(%q) expected error", provider)
		}
	}
}

func TestNewWithFallback(t *testing.T) {
	client, label, err := New(Config{Provider: ProviderHTTP, HTTPURL: "http://127.0.0.1:1", Fallback: ProviderMock})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if label != "http+mock" {
		t.Fatalf("label = %q", label)
	}
	if _, ok := client.(*FallbackClient); !ok {
		t.Fatalf("client = %T, want *FallbackClient", client)
	}
	resp, err := client.Complete(context.Background(), Request{Prompt: "Goal: export pdf"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !strings.Contains(resp.Text, "export pdf") {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
}

func TestMockReplyMentionsImage(t *testing.T) {
	resp, err := NewMockClient().Complete(context.Background(), Request{Prompt: "Describe the screen.\nGoal: open settings", Image: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !strings.Contains(resp.Text, "2 bytes") || !strings.Contains(resp.Text, "open settings") {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
}

func TestMockReplyTruncatesOnRuneBoundary(t *testing.T) {
	line := strings.Repeat("日本", 100)
	resp, err := NewMockClient().Complete(context.Background(), Request{Prompt: "User: " + line})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !utf8.ValidString(resp.Text) {
		t.Fatalf("reply is not valid UTF-8: %q", resp.Text)
	}
	want := "You said: " + string([]rune(line)[:120]) + "."
	if resp.Text != want {
		t.Fatalf("reply = %q, want %q", resp.Text, want)
	}

	if got := truncate("héllo", 2); got != "hé" {
		t.Fatalf("truncate() = %q", got)
	}
	if got := truncate("ok", 5); got != "ok" {
		t.Fatalf("truncate() = %q", got)
	}
}
