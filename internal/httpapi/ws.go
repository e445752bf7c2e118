package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/glance/internal/protocol"
)

const (
	wsReadIdle     = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleGuideWS owns one connection: the session lives exactly as long as
// the socket, a single writer goroutine serializes replies, and the engine
// consumes inbound messages in arrival order.
func (s *Server) handleGuideWS(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "engine not configured")
		return
	}
	if !s.trackConn() {
		respondError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
		return
	}
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.sessions.Create(r.RemoteAddr)
	log := s.logger.WithField("session_id", sess.ID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer func() {
		if _, err := s.sessions.Remove(sess.ID); err == nil {
			s.metrics.SessionEvents.WithLabelValues("ended").Inc()
		}
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.Inbound, 64)
	outbound := make(chan any, 64)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		err := s.engine.RunConnection(ctx, sess, inbound, outbound)
		if err != nil {
			log.WithError(err).Info("engine stopped")
		}
		// Unblock the read loop when the engine stops on its own.
		cancel()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, outbound, log)
	}()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadIdle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadIdle))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(ctx.Err(), context.Canceled) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("websocket read ended")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadIdle))
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.sessions.Touch(sess.ID); err != nil {
			// The registry already dropped this session.
			log.WithError(err).Warn("message for unknown session dropped")
			break
		}

		var msg protocol.Inbound
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			msg = protocol.Invalid{Err: err}
		} else {
			msg = parsed
		}
		s.metrics.WSMessages.WithLabelValues("inbound", string(msg.Kind())).Inc()

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- msg:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan any, log logrus.FieldLogger) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.SessionEvents.WithLabelValues("ws_write_error").Inc()
				log.WithError(err).Debug("websocket write failed")
				return
			}
			if kind, ok := protocol.KindOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(kind)).Inc()
			}
		}
	}
}
