package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageKind identifies websocket payload variants.
type MessageKind string

const (
	KindFrame          MessageKind = "frame"
	KindChat           MessageKind = "chat"
	KindSetGoal        MessageKind = "set_goal"
	KindUpdateMetadata MessageKind = "update_metadata"
	KindGetHistory     MessageKind = "get_history"
	KindPing           MessageKind = "ping"
	KindSave           MessageKind = "save"
	// KindInvalid labels rejected input; it never appears on the wire.
	KindInvalid        MessageKind = "invalid"

	KindConnected MessageKind = "connected"
	KindGuidance  MessageKind = "guidance"
	KindStatus    MessageKind = "status"
	KindHistory   MessageKind = "history"
	KindError     MessageKind = "error"
	KindPong      MessageKind = "pong"
	KindAck       MessageKind = "ack"
	KindSaved     MessageKind = "saved"
)

// ReasonMalformed is the client-facing reason for messages without a usable kind.
const ReasonMalformed = "unrecognized or malformed message"

var ErrUnsupportedKind = errors.New("unsupported message kind")

// ValidationError rejects a single inbound message. It never reaches the AI gateway
// and never mutates session state.
type ValidationError struct {
	Kind   MessageKind
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Inbound is implemented by every client message variant.
type Inbound interface {
	Kind() MessageKind
	inbound()
}

type envelope struct {
	Kind MessageKind `json:"kind"`
	// Older clients send the discriminator as "type".
	Type MessageKind `json:"type"`
}

type Frame struct {
	Image string `json:"image"`
}

type Chat struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

type SetGoal struct {
	Goal string `json:"goal"`
}

type UpdateMetadata struct {
	Metadata map[string]any `json:"metadata"`
}

type GetHistory struct{}

type Ping struct{}

// Save asks for the session transcript to be persisted.
type Save struct {
	UserID string `json:"userId"`
	Title  string `json:"title,omitempty"`
}

// Invalid carries a rejected client message through the ordered inbound
// stream so its error reply keeps its place among the session's replies.
type Invalid struct {
	Err error
}

func (Frame) Kind() MessageKind          { return KindFrame }
func (Chat) Kind() MessageKind           { return KindChat }
func (SetGoal) Kind() MessageKind        { return KindSetGoal }
func (UpdateMetadata) Kind() MessageKind { return KindUpdateMetadata }
func (GetHistory) Kind() MessageKind     { return KindGetHistory }
func (Ping) Kind() MessageKind           { return KindPing }
func (Save) Kind() MessageKind           { return KindSave }
func (Invalid) Kind() MessageKind        { return KindInvalid }

func (Frame) inbound()          {}
func (Chat) inbound()           {}
func (SetGoal) inbound()        {}
func (UpdateMetadata) inbound() {}
func (GetHistory) inbound()     {}
func (Ping) inbound()           {}
func (Save) inbound()           {}
func (Invalid) inbound()        {}

// ParseClientMessage decodes and validates one inbound websocket frame.
// Every failure is a *ValidationError.
func ParseClientMessage(raw []byte) (Inbound, error) {
	raw = bytes.TrimSpace(raw)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ValidationError{Reason: ReasonMalformed, Err: err}
	}
	kind := env.Kind
	if kind == "" {
		kind = env.Type
	}
	kind = MessageKind(strings.ToLower(strings.TrimSpace(string(kind))))

	switch kind {
	case KindFrame:
		var msg Frame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, &ValidationError{Kind: kind, Reason: "malformed payload", Err: err}
		}
		if strings.TrimSpace(msg.Image) == "" {
			return nil, &ValidationError{Kind: kind, Reason: "image is required"}
		}
		return msg, nil
	case KindChat:
		var msg Chat
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, &ValidationError{Kind: kind, Reason: "malformed payload", Err: err}
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, &ValidationError{Kind: kind, Reason: "text is required"}
		}
		return msg, nil
	case KindSetGoal:
		var msg SetGoal
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, &ValidationError{Kind: kind, Reason: "malformed payload", Err: err}
		}
		msg.Goal = strings.TrimSpace(msg.Goal)
		return msg, nil
	case KindUpdateMetadata:
		var msg UpdateMetadata
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, &ValidationError{Kind: kind, Reason: "malformed payload", Err: err}
		}
		if msg.Metadata == nil {
			return nil, &ValidationError{Kind: kind, Reason: "metadata object is required"}
		}
		return msg, nil
	case KindGetHistory:
		return GetHistory{}, nil
	case KindPing:
		return Ping{}, nil
	case KindSave:
		var msg Save
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, &ValidationError{Kind: kind, Reason: "malformed payload", Err: err}
		}
		msg.UserID = strings.TrimSpace(msg.UserID)
		msg.Title = strings.TrimSpace(msg.Title)
		return msg, nil
	default:
		return nil, &ValidationError{Reason: ReasonMalformed, Err: ErrUnsupportedKind}
	}
}
