package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/glance/internal/protocol"
)

type options struct {
	baseURL     string
	frames      int
	chatEvery   int
	size        int
	goal        string
	interval    time.Duration
	stepTimeout time.Duration
	verbose     bool
}

type wsEnvelope struct {
	Kind   string `json:"kind"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type report struct {
	Outcomes map[string]int
	Frame    []time.Duration
	Chat     []time.Duration
}

var palette = []color.RGBA{
	{B: 255, A: 255},
	{R: 255, A: 255},
	{G: 200, A: 255},
	{R: 255, G: 255, A: 255},
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "glanceload: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	rep, err := run(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "glanceload: %v\n", err)
		os.Exit(1)
	}
	printReport(os.Stdout, rep)
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var intervalMS, timeoutMS int

	fs := flag.NewFlagSet("glanceload", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "glance base URL")
	fs.IntVar(&cfg.frames, "frames", 20, "number of synthetic frames to send")
	fs.IntVar(&cfg.chatEvery, "chat-every", 5, "send a chat turn after every N frames (0 disables chat)")
	fs.IntVar(&cfg.size, "size", 200, "edge length in pixels of the synthetic frames")
	fs.StringVar(&cfg.goal, "goal", "open the display settings", "goal set before the first frame (empty skips set_goal)")
	fs.IntVar(&intervalMS, "interval-ms", 1100, "delay between frames in milliseconds")
	fs.IntVar(&timeoutMS, "step-timeout-ms", 45000, "timeout waiting for each reply in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.frames <= 0 {
		return options{}, fmt.Errorf("frames must be > 0")
	}
	if cfg.size < 8 || cfg.size > 4096 {
		return options{}, fmt.Errorf("size must be in [8,4096]")
	}
	if cfg.chatEvery < 0 {
		cfg.chatEvery = 0
	}
	if intervalMS < 0 {
		intervalMS = 0
	}
	if timeoutMS < 1000 {
		timeoutMS = 1000
	}
	cfg.interval = time.Duration(intervalMS) * time.Millisecond
	cfg.stepTimeout = time.Duration(timeoutMS) * time.Millisecond
	cfg.goal = strings.TrimSpace(cfg.goal)
	return cfg, nil
}

func run(ctx context.Context, cfg options, w io.Writer) (report, error) {
	rep := report{Outcomes: map[string]int{}}

	wsURL, err := guideWSURL(cfg.baseURL)
	if err != nil {
		return rep, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return rep, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	hello, err := await(conn, cfg.stepTimeout)
	if err != nil {
		return rep, fmt.Errorf("await connected: %w", err)
	}
	if hello.Kind != string(protocol.KindConnected) {
		return rep, fmt.Errorf("first event kind = %q, want connected", hello.Kind)
	}

	if cfg.goal != "" {
		if err := conn.WriteJSON(map[string]any{"kind": protocol.KindSetGoal, "goal": cfg.goal}); err != nil {
			return rep, fmt.Errorf("send set_goal: %w", err)
		}
		if _, err := await(conn, cfg.stepTimeout); err != nil {
			return rep, fmt.Errorf("await set_goal ack: %w", err)
		}
	}

	frames := make([]string, len(palette))
	for i, c := range palette {
		frames[i], err = solidPNGDataURL(cfg.size, c)
		if err != nil {
			return rep, err
		}
	}

	for i := 0; i < cfg.frames; i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		started := time.Now()
		if err := conn.WriteJSON(map[string]any{"kind": protocol.KindFrame, "image": frames[i%len(frames)]}); err != nil {
			return rep, fmt.Errorf("frame %d send: %w", i+1, err)
		}
		evt, err := await(conn, cfg.stepTimeout)
		if err != nil {
			return rep, fmt.Errorf("frame %d await reply: %w", i+1, err)
		}
		elapsed := time.Since(started)
		rep.Frame = append(rep.Frame, elapsed)
		rep.Outcomes["frame_"+outcome(evt)]++
		if cfg.verbose {
			fmt.Fprintf(w, "glanceload: frame %d/%d %s in %s %s\n", i+1, cfg.frames, outcome(evt), elapsed.Round(time.Millisecond), summary(evt))
		}

		if cfg.chatEvery > 0 && (i+1)%cfg.chatEvery == 0 {
			started = time.Now()
			text := fmt.Sprintf("What should I do after step %d?", i+1)
			if err := conn.WriteJSON(map[string]any{"kind": protocol.KindChat, "text": text}); err != nil {
				return rep, fmt.Errorf("chat after frame %d send: %w", i+1, err)
			}
			evt, err := await(conn, cfg.stepTimeout)
			if err != nil {
				return rep, fmt.Errorf("chat after frame %d await reply: %w", i+1, err)
			}
			rep.Chat = append(rep.Chat, time.Since(started))
			rep.Outcomes["chat_"+outcome(evt)]++
		}

		if cfg.interval > 0 && i < cfg.frames-1 {
			select {
			case <-ctx.Done():
				return rep, ctx.Err()
			case <-time.After(cfg.interval):
			}
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	return rep, nil
}

func await(conn *websocket.Conn, timeout time.Duration) (wsEnvelope, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		return wsEnvelope{}, err
	}
	return env, nil
}

func outcome(evt wsEnvelope) string {
	switch evt.Kind {
	case string(protocol.KindGuidance), string(protocol.KindStatus), string(protocol.KindError):
		return evt.Kind
	default:
		return "other"
	}
}

func summary(evt wsEnvelope) string {
	switch evt.Kind {
	case string(protocol.KindStatus):
		return "reason=" + evt.Reason
	case string(protocol.KindError):
		return fmt.Sprintf("code=%s reason=%q", evt.Code, evt.Reason)
	default:
		text := evt.Text
		if len(text) > 60 {
			text = text[:60] + "..."
		}
		return fmt.Sprintf("%q", text)
	}
}

func guideWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/guide/ws"
	return u.String(), nil
}

func solidPNGDataURL(size int, c color.RGBA) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printReport(w io.Writer, rep report) {
	keys := make([]string, 0, len(rep.Outcomes))
	for k := range rep.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-16s %d\n", k, rep.Outcomes[k])
	}
	for _, series := range []struct {
		name string
		d    []time.Duration
	}{{"frame", rep.Frame}, {"chat", rep.Chat}} {
		if len(series.d) == 0 {
			continue
		}
		sorted := append([]time.Duration(nil), series.d...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		fmt.Fprintf(w, "%s latency: n=%d p50=%s p95=%s max=%s\n", series.name, len(sorted),
			percentile(sorted, 0.5).Round(time.Millisecond),
			percentile(sorted, 0.95).Round(time.Millisecond),
			sorted[len(sorted)-1].Round(time.Millisecond))
	}
}
