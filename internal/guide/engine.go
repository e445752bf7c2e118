// Package guide runs the per-connection protocol loop: it turns inbound frames
// and chat into gateway calls and ordered replies.
package guide

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/glance/internal/framediff"
	"github.com/ent0n29/glance/internal/gateway"
	"github.com/ent0n29/glance/internal/observability"
	"github.com/ent0n29/glance/internal/protocol"
	"github.com/ent0n29/glance/internal/records"
	"github.com/ent0n29/glance/internal/session"
	"github.com/ent0n29/glance/internal/throttle"
)

// ErrSessionClosed is returned by RunConnection when the registry dropped the
// session, for example on idle eviction.
var ErrSessionClosed = errors.New("session closed")

const (
	defaultSendTimeout = 5 * time.Second
	defaultSaveTimeout = 10 * time.Second

	statusSkipped = "skipped"
)

type Options struct {
	Gate         *throttle.Gate
	Gateway      gateway.Client
	GatewayLabel string
	Records      records.Store
	Metrics      *observability.Metrics
	Logger       logrus.FieldLogger
	Clock        func() time.Time
	SendTimeout  time.Duration
	SaveTimeout  time.Duration
	// MaxFramePixels caps the declared canvas of frame and chat images.
	MaxFramePixels int
}

// Engine is shared by all connections; per-connection state lives in the
// session passed to RunConnection.
type Engine struct {
	gate         *throttle.Gate
	gateway      gateway.Client
	gatewayLabel string
	records      records.Store
	metrics      *observability.Metrics
	logger       logrus.FieldLogger
	now          func() time.Time
	sendTimeout  time.Duration
	saveTimeout  time.Duration
	maxPixels    int

	savesMu  sync.Mutex
	draining bool
	saves    sync.WaitGroup
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		gate:         opts.Gate,
		gateway:      opts.Gateway,
		gatewayLabel: opts.GatewayLabel,
		records:      opts.Records,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          opts.Clock,
		sendTimeout:  opts.SendTimeout,
		saveTimeout:  opts.SaveTimeout,
		maxPixels:    opts.MaxFramePixels,
	}
	if e.gate == nil {
		e.gate = throttle.NewGate(throttle.DefaultMinInterval, nil)
	}
	if e.gateway == nil {
		e.gateway = gateway.NewMockClient()
	}
	if e.gatewayLabel == "" {
		e.gatewayLabel = "unknown"
	}
	if e.metrics == nil {
		e.metrics = observability.NewMetrics("glance")
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.sendTimeout <= 0 {
		e.sendTimeout = defaultSendTimeout
	}
	if e.saveTimeout <= 0 {
		e.saveTimeout = defaultSaveTimeout
	}
	if e.maxPixels <= 0 {
		e.maxPixels = framediff.DefaultMaxPixels
	}
	return e
}

// RunConnection processes inbound messages one at a time until inbound is
// closed, ctx is done, or the session is evicted. Replies are written to
// outbound in the order their triggering messages arrived.
func (e *Engine) RunConnection(ctx context.Context, s *session.Session, inbound <-chan protocol.Inbound, outbound chan<- any) error {
	log := e.logger.WithFields(logrus.Fields{"session_id": s.ID, "remote_addr": s.RemoteAddr})
	log.Info("session started")
	defer log.Info("session finished")

	e.send(ctx, outbound, protocol.Connected{Kind: protocol.KindConnected, SessionID: s.ID})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			log.Info("session evicted by registry")
			return ErrSessionClosed
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			reply := e.Handle(ctx, s, msg)
			if reply != nil {
				e.send(ctx, outbound, reply)
			}
		}
	}
}

// Handle applies one inbound message to s and returns the reply, or nil when
// the message kind is silent or the connection went away mid-call.
func (e *Engine) Handle(ctx context.Context, s *session.Session, msg protocol.Inbound) any {
	log := e.logger.WithFields(logrus.Fields{"session_id": s.ID, "kind": string(msg.Kind())})

	switch m := msg.(type) {
	case protocol.Frame:
		return e.handleFrame(ctx, s, m, log)
	case protocol.Chat:
		return e.handleChat(ctx, s, m, log)
	case protocol.SetGoal:
		s.UserGoal = m.Goal
		return protocol.Ack{Kind: protocol.KindAck, Of: protocol.KindSetGoal}
	case protocol.UpdateMetadata:
		s.MergeMetadata(m.Metadata)
		return nil
	case protocol.GetHistory:
		return historyOf(s)
	case protocol.Ping:
		return protocol.Pong{Kind: protocol.KindPong}
	case protocol.Save:
		return e.handleSave(s, m, log)
	case protocol.Invalid:
		log.WithError(m.Err).Debug("rejected client message")
		return invalidMessage(m.Err)
	default:
		log.Warn("unhandled inbound kind")
		return protocol.ErrorEvent{Kind: protocol.KindError, Reason: protocol.ReasonMalformed, Code: "invalid_message"}
	}
}

func (e *Engine) handleFrame(ctx context.Context, s *session.Session, m protocol.Frame, log logrus.FieldLogger) any {
	receivedAt := e.now()
	decodeStart := time.Now()
	img, mime, err := e.decodeImage(m.Image)
	if err != nil {
		log.WithError(err).Warn("rejecting frame with invalid image")
		return invalidImage(err)
	}
	e.metrics.ObserveStage("frame_decode", time.Since(decodeStart))

	diffStart := time.Now()
	decision := e.gate.Decide(s.Throttle, img, receivedAt)
	if decision.Reason == throttle.ReasonChanged || decision.Reason == throttle.ReasonUnchanged {
		e.metrics.ObserveStage("frame_diff", time.Since(diffStart))
	}
	e.metrics.FrameDecisions.WithLabelValues(decision.Reason).Inc()
	e.metrics.ObserveIndicator("frame_" + decision.Reason)
	log = log.WithFields(logrus.Fields{"reason": decision.Reason, "diff_pixels": decision.DiffPixels})
	if decision.DiffReason != "" {
		log = log.WithField("diff_reason", decision.DiffReason)
	}

	if !decision.Analyze {
		log.Debug("frame skipped")
		return protocol.Status{Kind: protocol.KindStatus, Text: statusSkipped, Reason: decision.Reason, DiffPixels: decision.DiffPixels}
	}

	resp, err := e.complete(ctx, "frame", gateway.Request{Prompt: framePrompt(s), Image: img, MIMEType: mime})
	if discarded(ctx, s) {
		log.Debug("discarding frame result after disconnect")
		return nil
	}
	if err != nil {
		return e.gatewayFailure(err, log)
	}

	at := e.now()
	s.AppendScreenStep(resp.Text, at, m.Image)
	s.AppendStep(resp.Text)
	s.Throttle = throttle.Commit(img, receivedAt)
	log.Info("frame analyzed")

	return guidance(resp.Text, at, "frame")
}

func (e *Engine) handleChat(ctx context.Context, s *session.Session, m protocol.Chat, log logrus.FieldLogger) any {
	text := strings.TrimSpace(m.Text)

	var (
		img  []byte
		mime string
	)
	if strings.TrimSpace(m.Image) != "" {
		var err error
		img, mime, err = e.decodeImage(m.Image)
		if err != nil {
			log.WithError(err).Warn("rejecting chat with invalid image")
			return invalidImage(err)
		}
	}

	first := s.IsFirstMessage
	s.AppendTurn(session.RoleUser, text, e.now())
	if first {
		if s.UserGoal == "" {
			s.UserGoal = text
		}
		s.IsFirstMessage = false
	}

	req := gateway.Request{Prompt: chatPrompt(s, text, first, len(img) > 0), Image: img, MIMEType: mime}
	resp, err := e.complete(ctx, "chat", req)
	if discarded(ctx, s) {
		log.Debug("discarding chat result after disconnect")
		return nil
	}
	if err != nil {
		return e.gatewayFailure(err, log)
	}

	at := e.now()
	s.AppendTurn(session.RoleAssistant, resp.Text, at)
	s.AppendStep(resp.Text)
	return guidance(resp.Text, at, "chat")
}

// complete calls the gateway and records latency and failures.
func (e *Engine) complete(ctx context.Context, operation string, req gateway.Request) (gateway.Response, error) {
	start := time.Now()
	resp, err := e.gateway.Complete(ctx, req)
	e.metrics.ObserveGatewayLatency(operation, time.Since(start))
	if err != nil {
		return gateway.Response{}, err
	}
	resp.Text = strings.TrimSpace(resp.Text)
	if resp.Text == "" {
		return gateway.Response{}, &gateway.Error{Kind: gateway.KindUnknown, Provider: e.gatewayLabel, Err: errors.New("empty completion")}
	}
	return resp, nil
}

func (e *Engine) gatewayFailure(err error, log logrus.FieldLogger) protocol.ErrorEvent {
	kind := gateway.Classify(err)
	e.metrics.GatewayErrors.WithLabelValues(e.gatewayLabel, string(kind)).Inc()
	e.metrics.ObserveIndicator("gateway_" + string(kind))
	log.WithError(err).WithField("error_kind", string(kind)).Warn("gateway call failed")
	return protocol.ErrorEvent{
		Kind:   protocol.KindError,
		Reason: kind.Reason(),
		Detail: err.Error(),
		Code:   "gateway_" + string(kind),
	}
}

// send delivers msg unless the connection is gone or the writer stays
// blocked past sendTimeout.
func (e *Engine) send(ctx context.Context, outbound chan<- any, msg any) {
	timer := time.NewTimer(e.sendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
	case <-ctx.Done():
	case <-timer.C:
		kind, _ := protocol.KindOf(msg)
		e.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
		e.logger.WithField("kind", string(kind)).Warn("outbound queue blocked, dropping message")
	}
}

// Wait blocks until background record saves finish.
func (e *Engine) Wait() {
	e.saves.Wait()
}

// Close refuses further saves and waits for the ones in flight. Call it
// before releasing the record store.
func (e *Engine) Close() {
	e.savesMu.Lock()
	e.draining = true
	e.savesMu.Unlock()
	e.saves.Wait()
}

// beginSave registers a background save unless the engine is closing.
func (e *Engine) beginSave() bool {
	e.savesMu.Lock()
	defer e.savesMu.Unlock()
	if e.draining {
		return false
	}
	e.saves.Add(1)
	return true
}

func discarded(ctx context.Context, s *session.Session) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

func guidance(text string, at time.Time, source string) protocol.Guidance {
	return protocol.Guidance{
		Kind:      protocol.KindGuidance,
		Text:      text,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Source:    source,
	}
}

// decodeImage strips the payload encoding and rejects canvases over the pixel
// cap from the header alone. Bytes whose header cannot be read are passed on;
// the differ treats them as changed.
func (e *Engine) decodeImage(payload string) ([]byte, string, error) {
	img, mime, err := protocol.DecodeImagePayload(payload)
	if err != nil {
		return nil, "", err
	}
	if _, err := framediff.CheckSize(img, e.maxPixels); errors.Is(err, framediff.ErrTooLarge) {
		return nil, "", err
	}
	return img, mime, nil
}

func invalidImage(err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{Kind: protocol.KindError, Reason: "invalid image", Detail: err.Error(), Code: "invalid_image"}
}

func invalidMessage(err error) protocol.ErrorEvent {
	evt := protocol.ErrorEvent{Kind: protocol.KindError, Reason: protocol.ReasonMalformed, Code: "invalid_message"}
	var ve *protocol.ValidationError
	if errors.As(err, &ve) {
		if ve.Kind != "" {
			evt.Reason = ve.Error()
		}
		if ve.Err != nil {
			evt.Detail = ve.Err.Error()
		}
		return evt
	}
	if err != nil {
		evt.Detail = err.Error()
	}
	return evt
}
