package guide

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/glance/internal/gateway"
	"github.com/ent0n29/glance/internal/logging"
	"github.com/ent0n29/glance/internal/observability"
	"github.com/ent0n29/glance/internal/protocol"
	"github.com/ent0n29/glance/internal/records"
	"github.com/ent0n29/glance/internal/session"
	"github.com/ent0n29/glance/internal/throttle"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.Request
	replies  []string
	errs     []error
}

func (g *fakeGateway) Complete(ctx context.Context, req gateway.Request) (gateway.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	if n <= len(g.errs) && g.errs[n-1] != nil {
		return gateway.Response{}, g.errs[n-1]
	}
	if n <= len(g.replies) {
		return gateway.Response{Text: g.replies[n-1]}, nil
	}
	return gateway.Response{Text: "step " + string(rune('0'+n))}, nil
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *fakeGateway) Request(i int) gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[i]
}

func solidFrame(t *testing.T, c color.Color) string {
	t.Helper()
	return solidFrameSized(t, 100, c)
}

var (
	blue = color.RGBA{B: 255, A: 255}
	red  = color.RGBA{R: 255, A: 255}
)

type harness struct {
	engine  *Engine
	gateway *fakeGateway
	clock   *fakeClock
	manager *session.Manager
	session *session.Session
	store   *records.MemoryStore
	metrics *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gateway: &fakeGateway{},
		clock:   newFakeClock(),
		manager: session.NewManager(time.Minute),
		store:   records.NewMemoryStore(0),
		metrics: observability.NewMetrics("glance_guide_test"),
	}
	h.engine = NewEngine(Options{
		Gate:         throttle.NewGate(time.Second, nil),
		Gateway:      h.gateway,
		GatewayLabel: "fake",
		Records:      h.store,
		Metrics:      h.metrics,
		Logger:       logging.Discard(),
		Clock:        h.clock.Now,
	})
	h.session = h.manager.Create("127.0.0.1:5000")
	return h
}

func (h *harness) handle(msg protocol.Inbound) any {
	return h.engine.Handle(context.Background(), h.session, msg)
}

func mustGuidance(t *testing.T, reply any) protocol.Guidance {
	t.Helper()
	g, ok := reply.(protocol.Guidance)
	if !ok {
		t.Fatalf("reply = %#v, want protocol.Guidance", reply)
	}
	return g
}

func mustStatus(t *testing.T, reply any, reason string) {
	t.Helper()
	st, ok := reply.(protocol.Status)
	if !ok {
		t.Fatalf("reply = %#v, want protocol.Status", reply)
	}
	if st.Text != "skipped" || st.Reason != reason {
		t.Fatalf("status = %+v, want skipped/%s", st, reason)
	}
}

func mustError(t *testing.T, reply any) protocol.ErrorEvent {
	t.Helper()
	evt, ok := reply.(protocol.ErrorEvent)
	if !ok {
		t.Fatalf("reply = %#v, want protocol.ErrorEvent", reply)
	}
	if evt.Kind != protocol.KindError || evt.Reason == "" {
		t.Fatalf("error event = %+v", evt)
	}
	return evt
}

func TestFrameScenarioBlueRed(t *testing.T) {
	h := newHarness(t)
	frameA := solidFrame(t, blue)
	frameD := solidFrame(t, red)

	g := mustGuidance(t, h.handle(protocol.Frame{Image: frameA}))
	if g.Source != "frame" || g.Text == "" {
		t.Fatalf("guidance = %+v", g)
	}
	analyzedA := h.session.Throttle.LastFrameAt

	h.clock.Advance(200 * time.Millisecond)
	mustStatus(t, h.handle(protocol.Frame{Image: frameA}), throttle.ReasonMinInterval)

	h.clock.Advance(1300 * time.Millisecond)
	mustStatus(t, h.handle(protocol.Frame{Image: frameA}), throttle.ReasonUnchanged)
	if !h.session.Throttle.LastFrameAt.Equal(analyzedA) {
		t.Fatalf("LastFrameAt moved on a skipped frame")
	}

	h.clock.Advance(100 * time.Millisecond)
	mustGuidance(t, h.handle(protocol.Frame{Image: frameD}))
	if !h.session.Throttle.LastFrameAt.After(analyzedA) {
		t.Fatalf("LastFrameAt did not advance after analyzing D")
	}

	if h.gateway.Calls() != 2 {
		t.Fatalf("gateway calls = %d, want 2", h.gateway.Calls())
	}
	if len(h.session.ScreenHistory) != 2 || len(h.session.StepHistory) != 2 {
		t.Fatalf("history lengths = %d/%d, want 2/2", len(h.session.ScreenHistory), len(h.session.StepHistory))
	}
	req := h.gateway.Request(1)
	if len(req.Image) == 0 || req.MIMEType != "image/png" || !strings.Contains(req.Prompt, "Goal:") {
		t.Fatalf("frame request missing image or context: mime=%q prompt=%q", req.MIMEType, req.Prompt)
	}
}

func TestThrottleMonotonicityWithinBurst(t *testing.T) {
	h := newHarness(t)
	frame := solidFrame(t, blue)

	mustGuidance(t, h.handle(protocol.Frame{Image: frame}))
	for i := 0; i < 5; i++ {
		h.clock.Advance(150 * time.Millisecond)
		mustStatus(t, h.handle(protocol.Frame{Image: frame}), throttle.ReasonMinInterval)
	}
	if h.gateway.Calls() != 1 {
		t.Fatalf("gateway calls = %d, want 1", h.gateway.Calls())
	}
}

func TestFirstFrameAlwaysAnalyzes(t *testing.T) {
	h := newHarness(t)
	h.gateway.errs = []error{&gateway.Error{Kind: gateway.KindQuota}}

	evt := mustError(t, h.handle(protocol.Frame{Image: solidFrame(t, blue)}))
	if evt.Code != "gateway_quota" {
		t.Fatalf("Code = %q, want gateway_quota", evt.Code)
	}
	if h.gateway.Calls() != 1 {
		t.Fatalf("gateway calls = %d, want 1", h.gateway.Calls())
	}
}

func TestGatewayTimeoutIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.gateway.errs = []error{&gateway.Error{Kind: gateway.KindTimeout, Err: context.DeadlineExceeded}}
	frame := solidFrame(t, blue)

	evt := mustError(t, h.handle(protocol.Frame{Image: frame}))
	if evt.Code != "gateway_timeout" || evt.Reason != gateway.KindTimeout.Reason() {
		t.Fatalf("error = %+v", evt)
	}
	if h.session.Throttle.HasFrame() {
		t.Fatalf("throttle state updated after failed analysis")
	}
	if len(h.session.ScreenHistory) != 0 {
		t.Fatalf("screen history grew after failed analysis")
	}

	h.clock.Advance(100 * time.Millisecond)
	mustGuidance(t, h.handle(protocol.Frame{Image: frame}))
	if !h.session.Throttle.HasFrame() {
		t.Fatalf("throttle state not committed after success")
	}
}

func TestFrameRejectsUndecodableImage(t *testing.T) {
	h := newHarness(t)
	evt := mustError(t, h.handle(protocol.Frame{Image: "data:image/png;base64,%%%not-base64%%%"}))
	if evt.Code != "invalid_image" {
		t.Fatalf("Code = %q", evt.Code)
	}
	if h.gateway.Calls() != 0 || h.session.Throttle.HasFrame() {
		t.Fatalf("invalid frame reached the gateway or throttle")
	}
}

// oversizedFrame is a valid 1x1 PNG whose header claims a w x h canvas.
func oversizedFrame(t *testing.T, w, h uint32) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(solidFrameSized(t, 1, blue), "data:image/png;base64,"))
	if err != nil {
		t.Fatalf("DecodeString() error = %v", err)
	}
	binary.BigEndian.PutUint32(raw[16:20], w)
	binary.BigEndian.PutUint32(raw[20:24], h)
	binary.BigEndian.PutUint32(raw[29:33], crc32.ChecksumIEEE(raw[12:29]))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
}

func solidFrameSized(t *testing.T, side int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestOversizedFrameIsRejectedBeforeDecode(t *testing.T) {
	h := newHarness(t)
	huge := oversizedFrame(t, 12000, 12000)

	evt := mustError(t, h.handle(protocol.Frame{Image: huge}))
	if evt.Code != "invalid_image" || !strings.Contains(evt.Detail, "12000x12000") {
		t.Fatalf("first oversized frame error = %+v", evt)
	}
	if h.gateway.Calls() != 0 || h.session.Throttle.HasFrame() {
		t.Fatalf("oversized first frame reached the gateway or throttle")
	}

	mustGuidance(t, h.handle(protocol.Frame{Image: solidFrame(t, blue)}))
	committed := h.session.Throttle.LastFrameAt

	h.clock.Advance(2 * time.Second)
	evt = mustError(t, h.handle(protocol.Frame{Image: huge}))
	if evt.Code != "invalid_image" {
		t.Fatalf("oversized frame after commit error = %+v", evt)
	}
	if h.gateway.Calls() != 1 || !h.session.Throttle.LastFrameAt.Equal(committed) || len(h.session.ScreenHistory) != 1 {
		t.Fatalf("oversized frame mutated session: calls=%d screens=%d", h.gateway.Calls(), len(h.session.ScreenHistory))
	}

	evt = mustError(t, h.handle(protocol.Chat{Text: "what now?", Image: huge}))
	if evt.Code != "invalid_image" || len(h.session.ConversationHistory) != 0 {
		t.Fatalf("oversized chat image: error = %+v, turns = %d", evt, len(h.session.ConversationHistory))
	}
}

func TestMaxFramePixelsOption(t *testing.T) {
	h := newHarness(t)
	h.engine.maxPixels = 50 * 50
	evt := mustError(t, h.handle(protocol.Frame{Image: solidFrame(t, blue)}))
	if evt.Code != "invalid_image" {
		t.Fatalf("error = %+v", evt)
	}
	mustGuidance(t, h.handle(protocol.Frame{Image: solidFrameSized(t, 50, blue)}))
}

func TestFrameDecisionsAndGatewayFailuresAreIndicated(t *testing.T) {
	h := newHarness(t)
	h.gateway.errs = []error{&gateway.Error{Kind: gateway.KindTimeout, Err: context.DeadlineExceeded}}
	frame := solidFrame(t, blue)

	mustError(t, h.handle(protocol.Frame{Image: frame}))
	h.clock.Advance(100 * time.Millisecond)
	mustGuidance(t, h.handle(protocol.Frame{Image: frame}))
	h.clock.Advance(100 * time.Millisecond)
	mustStatus(t, h.handle(protocol.Frame{Image: frame}), throttle.ReasonMinInterval)

	counts := map[string]int{}
	for _, ind := range h.metrics.StageSnapshot().Indicators {
		counts[ind.Name] = ind.Count
	}
	want := map[string]int{
		"frame_" + throttle.ReasonFirstFrame:     2,
		"frame_" + throttle.ReasonMinInterval:    1,
		"gateway_" + string(gateway.KindTimeout): 1,
	}
	for name, n := range want {
		if counts[name] != n {
			t.Fatalf("indicator %s = %d, want %d (all: %v)", name, counts[name], n, counts)
		}
	}
}

func TestDefaultTitleCutsOnRuneBoundary(t *testing.T) {
	h := newHarness(t)
	h.session.UserGoal = strings.Repeat("é", 60) + strings.Repeat("🙂", 60)

	title := defaultTitle(h.session)
	if !utf8.ValidString(title) {
		t.Fatalf("title is not valid UTF-8: %q", title)
	}
	if n := utf8.RuneCountInString(title); n != maxTitleRunes {
		t.Fatalf("title has %d runes, want %d", n, maxTitleRunes)
	}
	if !strings.HasPrefix(title, strings.Repeat("é", 60)+"🙂") {
		t.Fatalf("title = %q", title)
	}

	h.session.UserGoal = "short goal"
	if got := defaultTitle(h.session); got != "short goal" {
		t.Fatalf("defaultTitle() = %q", got)
	}
}

func TestChatGoalCapture(t *testing.T) {
	h := newHarness(t)

	mustGuidance(t, h.handle(protocol.Chat{Text: "Help me deploy a website"}))
	if h.session.UserGoal != "Help me deploy a website" || h.session.IsFirstMessage {
		t.Fatalf("goal = %q first = %v", h.session.UserGoal, h.session.IsFirstMessage)
	}
	if !strings.Contains(h.gateway.Request(0).Prompt, "first message") {
		t.Fatalf("first chat prompt lacks first-message framing: %q", h.gateway.Request(0).Prompt)
	}

	mustGuidance(t, h.handle(protocol.Chat{Text: "I clicked it, now what?"}))
	if h.session.UserGoal != "Help me deploy a website" {
		t.Fatalf("second chat changed goal to %q", h.session.UserGoal)
	}
	second := h.gateway.Request(1).Prompt
	if strings.Contains(second, "first message") || !strings.Contains(second, "Help me deploy a website") {
		t.Fatalf("second chat prompt = %q", second)
	}
}

func TestExplicitGoalWinsOverFirstChat(t *testing.T) {
	h := newHarness(t)
	ack, ok := h.handle(protocol.SetGoal{Goal: "export a report"}).(protocol.Ack)
	if !ok || ack.Of != protocol.KindSetGoal {
		t.Fatalf("set_goal reply = %#v", ack)
	}
	mustGuidance(t, h.handle(protocol.Chat{Text: "hi there"}))
	if h.session.UserGoal != "export a report" || h.session.IsFirstMessage {
		t.Fatalf("goal = %q first = %v", h.session.UserGoal, h.session.IsFirstMessage)
	}
}

func TestChatOrdering(t *testing.T) {
	h := newHarness(t)
	h.gateway.replies = []string{"first answer", "second answer"}

	g1 := mustGuidance(t, h.handle(protocol.Chat{Text: "one"}))
	g2 := mustGuidance(t, h.handle(protocol.Chat{Text: "two"}))
	if g1.Text != "first answer" || g2.Text != "second answer" {
		t.Fatalf("guidance order = %q, %q", g1.Text, g2.Text)
	}

	hist := h.session.ConversationHistory
	want := []struct {
		role    session.Role
		content string
	}{
		{session.RoleUser, "one"},
		{session.RoleAssistant, "first answer"},
		{session.RoleUser, "two"},
		{session.RoleAssistant, "second answer"},
	}
	if len(hist) != len(want) {
		t.Fatalf("len(history) = %d, want %d", len(hist), len(want))
	}
	for i, w := range want {
		if hist[i].Role != w.role || hist[i].Content != w.content {
			t.Fatalf("history[%d] = %+v, want %+v", i, hist[i], w)
		}
	}
	if !strings.Contains(h.gateway.Request(1).Prompt, "- user: one") {
		t.Fatalf("second prompt lacks conversation tail: %q", h.gateway.Request(1).Prompt)
	}
}

func TestChatWithImageForwardsBoth(t *testing.T) {
	h := newHarness(t)
	mustGuidance(t, h.handle(protocol.Chat{Text: "what is this button?", Image: solidFrame(t, red)}))
	req := h.gateway.Request(0)
	if len(req.Image) == 0 || !strings.Contains(req.Prompt, "what is this button?") {
		t.Fatalf("chat request lost image or text")
	}
}

func TestChatRejectsBadImageWithoutMutation(t *testing.T) {
	h := newHarness(t)
	mustError(t, h.handle(protocol.Chat{Text: "hello", Image: "!!!"}))
	if len(h.session.ConversationHistory) != 0 || !h.session.IsFirstMessage || h.gateway.Calls() != 0 {
		t.Fatalf("rejected chat mutated session")
	}
}

func TestMetadataFlowsIntoFramePrompt(t *testing.T) {
	h := newHarness(t)
	if reply := h.handle(protocol.UpdateMetadata{Metadata: map[string]any{"app": "Figma", "step": 2}}); reply != nil {
		t.Fatalf("update_metadata reply = %#v, want none", reply)
	}
	h.handle(protocol.UpdateMetadata{Metadata: map[string]any{"step": 3}})
	h.handle(protocol.SetGoal{Goal: "share the file"})

	mustGuidance(t, h.handle(protocol.Frame{Image: solidFrame(t, blue)}))
	prompt := h.gateway.Request(0).Prompt
	for _, want := range []string{"- app: Figma", "- step: 3", "Goal: share the file"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("frame prompt missing %q:\n%s", want, prompt)
		}
	}
	if h.session.ScreenHistory[0].Metadata["step"] != 3 {
		t.Fatalf("screen step metadata snapshot = %+v", h.session.ScreenHistory[0].Metadata)
	}
}

func TestHistoryPingAndInvalid(t *testing.T) {
	h := newHarness(t)
	mustGuidance(t, h.handle(protocol.Chat{Text: "hello"}))
	h.clock.Advance(time.Second)
	mustGuidance(t, h.handle(protocol.Frame{Image: solidFrame(t, blue)}))

	hist, ok := h.handle(protocol.GetHistory{}).(protocol.History)
	if !ok {
		t.Fatalf("get_history reply is not History")
	}
	if len(hist.ConversationHistory) != 2 || len(hist.ScreenHistory) != 1 {
		t.Fatalf("history = %+v", hist)
	}
	if hist.ScreenHistory[0].ImagePrefix == "" || len(hist.ScreenHistory[0].ImagePrefix) > session.ImagePrefixLen {
		t.Fatalf("ImagePrefix = %q", hist.ScreenHistory[0].ImagePrefix)
	}

	if _, ok := h.handle(protocol.Ping{}).(protocol.Pong); !ok {
		t.Fatalf("ping did not produce pong")
	}

	_, err := protocol.ParseClientMessage([]byte(`{"kind":"teleport"}`))
	evt := mustError(t, h.handle(protocol.Invalid{Err: err}))
	if evt.Reason != protocol.ReasonMalformed {
		t.Fatalf("Reason = %q, want %q", evt.Reason, protocol.ReasonMalformed)
	}
}

func TestLateResultIsDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.engine.gateway = gateway.ClientFunc(func(callCtx context.Context, req gateway.Request) (gateway.Response, error) {
		cancel()
		return gateway.Response{Text: "too late"}, nil
	})

	if reply := h.engine.Handle(ctx, h.session, protocol.Frame{Image: solidFrame(t, blue)}); reply != nil {
		t.Fatalf("reply after disconnect = %#v, want nil", reply)
	}
	if h.session.Throttle.HasFrame() || len(h.session.StepHistory) != 0 {
		t.Fatalf("late result mutated session")
	}
}

func TestSavePersistsRedactedRecord(t *testing.T) {
	h := newHarness(t)
	mustGuidance(t, h.handle(protocol.Chat{Text: "email sam@example.com the export"}))

	saved, ok := h.handle(protocol.Save{UserID: "u1", Title: "export"}).(protocol.Saved)
	if !ok || saved.RecordID == "" {
		t.Fatalf("save reply = %#v", saved)
	}
	h.engine.Wait()

	rec, err := h.store.Get(context.Background(), saved.RecordID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.UserID != "u1" || rec.SessionID != h.session.ID || len(rec.Messages) != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if !rec.PIIRedacted || strings.Contains(rec.Messages[0].Content, "sam@example.com") {
		t.Fatalf("record not redacted: %+v", rec.Messages[0])
	}

	mustError(t, h.handle(protocol.Save{}))
}

func TestSaveDuringCloseIsPersistedOrRefused(t *testing.T) {
	h := newHarness(t)
	mustGuidance(t, h.handle(protocol.Chat{Text: "export the report"}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		savedID []string
	)
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		s := h.manager.Create("127.0.0.1:6000")
		s.AppendTurn(session.RoleUser, "hello", h.clock.Now())
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			<-start
			for j := 0; j < 20; j++ {
				switch reply := h.engine.Handle(context.Background(), s, protocol.Save{UserID: "u1"}).(type) {
				case protocol.Saved:
					mu.Lock()
					savedID = append(savedID, reply.RecordID)
					mu.Unlock()
				case protocol.ErrorEvent:
					if reply.Code != "save_unavailable" {
						t.Errorf("save error code = %q, want save_unavailable", reply.Code)
					}
				default:
					t.Errorf("save reply = %#v", reply)
				}
			}
		}(s)
	}

	close(start)
	h.engine.Close()
	wg.Wait()
	h.engine.Wait()

	for _, id := range savedID {
		if _, err := h.store.Get(context.Background(), id); err != nil {
			t.Fatalf("acknowledged record %s missing after Close: %v", id, err)
		}
	}

	evt := mustError(t, h.handle(protocol.Save{UserID: "u1"}))
	if evt.Code != "save_unavailable" {
		t.Fatalf("save after Close code = %q, want save_unavailable", evt.Code)
	}
}

func TestRunConnectionOrderAndShutdown(t *testing.T) {
	h := newHarness(t)
	inbound := make(chan protocol.Inbound, 8)
	outbound := make(chan any, 8)

	inbound <- protocol.Ping{}
	inbound <- protocol.UpdateMetadata{Metadata: map[string]any{"a": 1}}
	inbound <- protocol.Chat{Text: "hello"}
	inbound <- protocol.Invalid{Err: errors.New("bad json")}
	close(inbound)

	if err := h.engine.RunConnection(context.Background(), h.session, inbound, outbound); err != nil {
		t.Fatalf("RunConnection() error = %v", err)
	}
	close(outbound)

	var kinds []protocol.MessageKind
	for msg := range outbound {
		k, _ := protocol.KindOf(msg)
		kinds = append(kinds, k)
	}
	want := []protocol.MessageKind{protocol.KindConnected, protocol.KindPong, protocol.KindGuidance, protocol.KindError}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
}

func TestRunConnectionStopsOnEviction(t *testing.T) {
	h := newHarness(t)
	inbound := make(chan protocol.Inbound)
	outbound := make(chan any, 4)

	done := make(chan error, 1)
	go func() {
		done <- h.engine.RunConnection(context.Background(), h.session, inbound, outbound)
	}()
	if _, err := h.manager.Remove(h.session.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("RunConnection() error = %v, want ErrSessionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunConnection did not stop after eviction")
	}
}
