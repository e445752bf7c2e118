package protocol

type Connected struct {
	Kind      MessageKind `json:"kind"`
	SessionID string      `json:"sessionId"`
}

type Guidance struct {
	Kind MessageKind `json:"kind"`
	Text string      `json:"text"`
	// Timestamp is RFC 3339 in UTC.
	Timestamp string `json:"timestamp"`
	Source    string `json:"source,omitempty"`
}

type Status struct {
	Kind       MessageKind `json:"kind"`
	Text       string      `json:"text"`
	Reason     string      `json:"reason,omitempty"`
	DiffPixels int         `json:"diffPixels,omitempty"`
}

type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type ScreenStep struct {
	Timestamp    string         `json:"timestamp"`
	GuidanceText string         `json:"guidanceText"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ImagePrefix  string         `json:"imagePrefix,omitempty"`
}

type History struct {
	Kind                MessageKind  `json:"kind"`
	ConversationHistory []Turn       `json:"conversationHistory"`
	ScreenHistory       []ScreenStep `json:"screenHistory"`
}

type ErrorEvent struct {
	Kind   MessageKind `json:"kind"`
	Reason string      `json:"reason"`
	Detail string      `json:"detail"`
	Code   string      `json:"code,omitempty"`
}

type Pong struct {
	Kind MessageKind `json:"kind"`
}

type Ack struct {
	Kind MessageKind `json:"kind"`
	Of   MessageKind `json:"of"`
}

type Saved struct {
	Kind     MessageKind `json:"kind"`
	RecordID string      `json:"recordId"`
}

// KindOf reports the wire kind of any protocol message, inbound or outbound.
func KindOf(v any) (MessageKind, bool) {
	switch m := v.(type) {
	case Inbound:
		return m.Kind(), true
	case Connected:
		return m.Kind, true
	case Guidance:
		return m.Kind, true
	case Status:
		return m.Kind, true
	case History:
		return m.Kind, true
	case ErrorEvent:
		return m.Kind, true
	case Pong:
		return m.Kind, true
	case Ack:
		return m.Kind, true
	case Saved:
		return m.Kind, true
	default:
		return "", false
	}
}
