package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/glance/internal/throttle"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImagePrefixLen bounds how much of an analyzed frame's base64 payload is kept
// in ScreenHistory for audit.
const ImagePrefixLen = 64

type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type ScreenStep struct {
	Timestamp    time.Time      `json:"timestamp"`
	GuidanceText string         `json:"guidance_text"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ImagePrefix  string         `json:"image_prefix,omitempty"`
}

// Session is the state of one live connection.
//
// Everything except the registry bookkeeping (last activity, done) is mutated
// only by the goroutine that owns the connection, so it carries no lock.
// ScreenHistory and StepHistory only grow. Throttle holds the last analyzed
// frame and moves only after a successful analysis.
type Session struct {
	ID         string
	RemoteAddr string
	StartedAt  time.Time

	ConversationHistory []Turn
	ScreenHistory       []ScreenStep
	StepHistory         []string
	UserGoal            string
	IsFirstMessage      bool
	Metadata            map[string]any
	Throttle            throttle.State

	lastActivity atomic.Int64
	done         chan struct{}
	closeOnce    sync.Once
}

func newSession(id, remoteAddr string, now time.Time) *Session {
	s := &Session{
		ID:             id,
		RemoteAddr:     remoteAddr,
		StartedAt:      now,
		IsFirstMessage: true,
		Metadata:       make(map[string]any),
		done:           make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Done is closed when the session is removed from the registry.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load()).UTC()
}

func (s *Session) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) AppendTurn(role Role, content string, at time.Time) {
	s.ConversationHistory = append(s.ConversationHistory, Turn{Role: role, Content: content, Timestamp: at})
}

func (s *Session) AppendScreenStep(guidance string, at time.Time, imagePayload string) {
	prefix := imagePayload
	if len(prefix) > ImagePrefixLen {
		prefix = prefix[:ImagePrefixLen]
	}
	s.ScreenHistory = append(s.ScreenHistory, ScreenStep{
		Timestamp:    at,
		GuidanceText: guidance,
		Metadata:     s.MetadataSnapshot(),
		ImagePrefix:  prefix,
	})
}

func (s *Session) AppendStep(guidance string) {
	s.StepHistory = append(s.StepHistory, guidance)
}

// MergeMetadata applies a shallow last-write-wins merge.
func (s *Session) MergeMetadata(update map[string]any) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]any, len(update))
	}
	for k, v := range update {
		s.Metadata[k] = v
	}
}

func (s *Session) MetadataSnapshot() map[string]any {
	if len(s.Metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		out[k] = v
	}
	return out
}

// ConversationTail returns up to the last n turns.
func (s *Session) ConversationTail(n int) []Turn {
	return tail(s.ConversationHistory, n)
}

// StepTail returns up to the last n guidance steps.
func (s *Session) StepTail(n int) []string {
	return tail(s.StepHistory, n)
}

func tail[T any](in []T, n int) []T {
	if n <= 0 || n >= len(in) {
		out := make([]T, len(in))
		copy(out, in)
		return out
	}
	out := make([]T, n)
	copy(out, in[len(in)-n:])
	return out
}
