// Package throttle rate-limits frame analysis per session.
package throttle

import (
	"time"

	"github.com/ent0n29/glance/internal/framediff"
)

const DefaultMinInterval = time.Second

const (
	ReasonFirstFrame  = "first_frame"
	ReasonMinInterval = "min_interval"
	ReasonChanged     = "changed"
	ReasonUnchanged   = "unchanged"
)

// Comparer is satisfied by *framediff.Differ.
type Comparer interface {
	Compare(a, b []byte) framediff.Result
}

// State is the last analyzed frame of one session. It is owned by the session
// and only advanced by the caller after an analysis succeeds.
type State struct {
	LastFrame   []byte
	LastFrameAt time.Time
}

func (s State) HasFrame() bool {
	return len(s.LastFrame) > 0 && !s.LastFrameAt.IsZero()
}

type Decision struct {
	Analyze    bool
	Reason     string
	DiffPixels int
	// DiffReason is the differ's reason when a comparison ran.
	DiffReason string
}

type Gate struct {
	minInterval time.Duration
	differ      Comparer
}

func NewGate(minInterval time.Duration, differ Comparer) *Gate {
	if minInterval < 0 {
		minInterval = DefaultMinInterval
	}
	if differ == nil {
		differ = framediff.New(framediff.DefaultThreshold, framediff.DefaultMinDiffPixels)
	}
	return &Gate{minInterval: minInterval, differ: differ}
}

// Decide reports whether frame should be analyzed now. It never mutates state.
func (g *Gate) Decide(state State, frame []byte, now time.Time) Decision {
	if !state.HasFrame() {
		return Decision{Analyze: true, Reason: ReasonFirstFrame}
	}
	if now.Sub(state.LastFrameAt) < g.minInterval {
		return Decision{Analyze: false, Reason: ReasonMinInterval}
	}
	res := g.differ.Compare(state.LastFrame, frame)
	d := Decision{DiffPixels: res.DiffPixels, DiffReason: res.Reason}
	if res.Different {
		d.Analyze = true
		d.Reason = ReasonChanged
		return d
	}
	d.Reason = ReasonUnchanged
	return d
}

// Commit returns the state after a successful analysis of frame.
func Commit(frame []byte, at time.Time) State {
	return State{LastFrame: frame, LastFrameAt: at}
}
