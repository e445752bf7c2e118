package guide

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ent0n29/glance/internal/session"
)

const (
	conversationTailTurns = 10
	stepTailCount         = 5
)

const framePreamble = "You are a patient screen guide. Look at the user's current screen and give the single next action they should take, in one or two short sentences. If the goal already looks complete, say so."

const chatPreamble = "You are a patient screen guide helping a user finish a task on their computer. Answer in one or two short, concrete sentences."

// framePrompt carries goal, metadata and recent steps alongside the frame.
func framePrompt(s *session.Session) string {
	var b strings.Builder
	b.WriteString(framePreamble)
	b.WriteString("\n\n")
	writeSteps(&b, s.StepTail(stepTailCount))
	writeMetadata(&b, s.Metadata)
	writeGoal(&b, s.UserGoal)
	return strings.TrimRight(b.String(), "\n")
}

// chatPrompt assumes text was already appended as the latest user turn.
func chatPrompt(s *session.Session, text string, first bool, withImage bool) string {
	var b strings.Builder
	b.WriteString(chatPreamble)
	b.WriteString("\n")
	if first {
		b.WriteString("This is the user's first message. Treat it as the task they want to accomplish and give the very first step.\n")
	}
	if withImage {
		b.WriteString("A screenshot of their screen is attached.\n")
	}
	b.WriteString("\n")

	writeSteps(&b, s.StepTail(stepTailCount))

	prior := s.ConversationTail(conversationTailTurns + 1)
	if n := len(prior); n > 0 {
		prior = prior[:n-1]
	}
	if len(prior) > conversationTailTurns {
		prior = prior[len(prior)-conversationTailTurns:]
	}
	if len(prior) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range prior {
			fmt.Fprintf(&b, "- %s: %s\n", t.Role, oneLine(t.Content))
		}
		b.WriteString("\n")
	}

	writeGoal(&b, s.UserGoal)
	fmt.Fprintf(&b, "User: %s", oneLine(text))
	return b.String()
}

func writeGoal(b *strings.Builder, goal string) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		b.WriteString("Goal: (not set yet, infer it from context)\n")
		return
	}
	fmt.Fprintf(b, "Goal: %s\n", oneLine(goal))
}

func writeSteps(b *strings.Builder, steps []string) {
	if len(steps) == 0 {
		return
	}
	b.WriteString("Guidance already given, oldest first:\n")
	for i, step := range steps {
		fmt.Fprintf(b, "%d. %s\n", i+1, oneLine(step))
	}
	b.WriteString("Do not repeat these unless the screen shows they were not done.\n\n")
}

func writeMetadata(b *strings.Builder, md map[string]any) {
	if len(md) == 0 {
		return
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("Context from the client:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, formatValue(md[k]))
	}
	b.WriteString("\n")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return oneLine(t)
	case nil:
		return "null"
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
