package guide

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/glance/internal/protocol"
	"github.com/ent0n29/glance/internal/records"
	"github.com/ent0n29/glance/internal/session"
)

func historyOf(s *session.Session) protocol.History {
	out := protocol.History{
		Kind:                protocol.KindHistory,
		ConversationHistory: make([]protocol.Turn, 0, len(s.ConversationHistory)),
		ScreenHistory:       make([]protocol.ScreenStep, 0, len(s.ScreenHistory)),
	}
	for _, t := range s.ConversationHistory {
		out.ConversationHistory = append(out.ConversationHistory, protocol.Turn{
			Role:      string(t.Role),
			Content:   t.Content,
			Timestamp: t.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	for _, step := range s.ScreenHistory {
		out.ScreenHistory = append(out.ScreenHistory, protocol.ScreenStep{
			Timestamp:    step.Timestamp.UTC().Format(time.RFC3339Nano),
			GuidanceText: step.GuidanceText,
			Metadata:     step.Metadata,
			ImagePrefix:  step.ImagePrefix,
		})
	}
	return out
}

// recordOf snapshots the session so the copy can be persisted off the loop.
func recordOf(s *session.Session, userID, title string) records.Record {
	r := records.Record{
		UserID:      userID,
		SessionID:   s.ID,
		Title:       title,
		Goal:        s.UserGoal,
		Messages:    make([]records.Message, 0, len(s.ConversationHistory)),
		ScreenSteps: make([]records.ScreenStep, 0, len(s.ScreenHistory)),
	}
	for _, t := range s.ConversationHistory {
		r.Messages = append(r.Messages, records.Message{Role: string(t.Role), Content: t.Content, Timestamp: t.Timestamp})
	}
	for _, step := range s.ScreenHistory {
		r.ScreenSteps = append(r.ScreenSteps, records.ScreenStep{
			Timestamp:    step.Timestamp,
			GuidanceText: step.GuidanceText,
			Metadata:     step.Metadata,
			ImagePrefix:  step.ImagePrefix,
		})
	}
	if r.Title == "" {
		r.Title = defaultTitle(s)
	}
	return r
}

const maxTitleRunes = 80

func defaultTitle(s *session.Session) string {
	title := oneLine(s.UserGoal)
	if title == "" {
		title = "Session " + s.StartedAt.UTC().Format("2006-01-02 15:04")
	}
	if r := []rune(title); len(r) > maxTitleRunes {
		title = string(r[:maxTitleRunes])
	}
	return title
}

// handleSave acknowledges with the record id at once and persists in the
// background so the store never sits on the message path.
func (e *Engine) handleSave(s *session.Session, m protocol.Save, log logrus.FieldLogger) any {
	if e.records == nil {
		return protocol.ErrorEvent{Kind: protocol.KindError, Reason: "saving is not available", Code: "save_unavailable"}
	}
	if m.UserID == "" {
		return protocol.ErrorEvent{Kind: protocol.KindError, Reason: "invalid save: userId is required", Code: "invalid_message"}
	}

	rec := records.Redact(recordOf(s, m.UserID, m.Title))
	rec.ID = uuid.NewString()
	rec.CreatedAt = e.now()

	if !e.beginSave() {
		return protocol.ErrorEvent{Kind: protocol.KindError, Reason: "saving is not available", Detail: "server is shutting down", Code: "save_unavailable"}
	}
	go func(r records.Record) {
		defer e.saves.Done()
		saveCtx, cancel := context.WithTimeout(context.Background(), e.saveTimeout)
		defer cancel()

		start := time.Now()
		if _, err := e.records.Save(saveCtx, r); err != nil {
			e.metrics.RecordsPersists.WithLabelValues("failed").Inc()
			log.WithError(err).WithField("record_id", r.ID).Error("record save failed")
			return
		}
		e.metrics.ObserveStage("record_save", time.Since(start))
		e.metrics.RecordsPersists.WithLabelValues("saved").Inc()
		log.WithField("record_id", r.ID).Info("record saved")
	}(rec)

	return protocol.Saved{Kind: protocol.KindSaved, RecordID: rec.ID}
}
