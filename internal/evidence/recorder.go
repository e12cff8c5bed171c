// Package evidence records GIF replays of the routes where actuations
// produced anomalies. Frames are screenshots taken after each actuation with
// the actuated element outlined.
package evidence

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/v0xg/sitecrawl/internal/crawler"
	"github.com/v0xg/sitecrawl/internal/report"
)

// Camera is implemented by pages that can take screenshots. Pages without it
// are not recorded.
type Camera interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Box(ctx context.Context, ref crawler.Ref) (image.Rectangle, error)
}

// Config configures a Recorder.
type Config struct {
	Dir       string
	MaxFrames int  // frames kept per route, oldest dropped first
	Width     uint // frame width in the replay
	Delay     int  // hundredths of a second between frames
	Timeout   time.Duration
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxFrames <= 0 {
		c.MaxFrames = 12
	}
	if c.Width == 0 {
		c.Width = 800
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// tape holds the latest frames of the route a session is crawling.
type tape struct {
	identity  string
	route     crawler.RoutePath
	frames    []image.Image
	anomalous bool
}

func (t *tape) push(f image.Image, max int) {
	if len(t.frames) == max {
		copy(t.frames, t.frames[1:])
		t.frames = t.frames[:max-1]
	}
	t.frames = append(t.frames, f)
}

// Recorder is a crawler.Listener. It keeps one tape per session and writes
// it out as <Dir>/<identity>/<route>.gif when the session moves on from a
// route on which any actuation produced anomalies.
type Recorder struct {
	cfg Config

	mu      sync.Mutex
	tapes   map[string]*tape
	written []report.Evidence
}

var _ crawler.Listener = (*Recorder)(nil)

// NewRecorder creates a Recorder writing below cfg.Dir.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("evidence: output dir required")
	}
	cfg.defaults()
	return &Recorder{cfg: cfg, tapes: make(map[string]*tape)}, nil
}

// RouteDone closes the tape of the previous route when a new one starts.
func (r *Recorder) RouteDone(ev crawler.RouteEvent) {
	if ev.Phase != crawler.PhaseCrawl {
		return
	}
	r.mu.Lock()
	t := r.tapes[ev.SessionID]
	if t != nil && t.route != ev.Route {
		delete(r.tapes, ev.SessionID)
	} else {
		t = nil
	}
	r.mu.Unlock()
	r.flush(t)
}

// Actuated captures a frame of the page after the actuation.
func (r *Recorder) Actuated(ev crawler.ActuationEvent) {
	cam, ok := ev.Page.(Camera)
	if !ok {
		return
	}
	frame, err := r.capture(cam, ev)
	if err != nil {
		r.cfg.Logger.Debug("evidence: capture failed", "identity", ev.Identity, "route", ev.Route, "error", err)
		return
	}

	r.mu.Lock()
	var done *tape
	t := r.tapes[ev.SessionID]
	if t != nil && t.route != ev.Route {
		done, t = t, nil
	}
	if t == nil {
		t = &tape{identity: ev.Identity, route: ev.Route}
		r.tapes[ev.SessionID] = t
	}
	t.push(frame, r.cfg.MaxFrames)
	if ev.NewAnomalies > 0 {
		t.anomalous = true
	}
	r.mu.Unlock()
	r.flush(done)
}

// SessionDone writes whatever the session's last route recorded.
func (r *Recorder) SessionDone(res *crawler.SessionResult) {
	r.mu.Lock()
	t := r.tapes[res.SessionID]
	delete(r.tapes, res.SessionID)
	r.mu.Unlock()
	r.flush(t)
}

// Evidence lists the replays written so far, ordered by identity and route.
func (r *Recorder) Evidence() []report.Evidence {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]report.Evidence(nil), r.written...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity != out[j].Identity {
			return out[i].Identity < out[j].Identity
		}
		return out[i].Route < out[j].Route
	})
	return out
}

func (r *Recorder) capture(cam Camera, ev crawler.ActuationEvent) (image.Image, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	data, err := cam.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("evidence: decode screenshot: %w", err)
	}
	c := BoxColor
	if ev.NewAnomalies > 0 {
		c = AnomalyColor
	}
	// The element may be gone after a navigation; the frame is kept unmarked.
	box, _ := cam.Box(ctx, ev.Result.Element.Ref)
	return fit(Annotate(img, box, ev.Result.Element.Kind.Clicks(), c), r.cfg.Width), nil
}

func (r *Recorder) flush(t *tape) {
	if t == nil || !t.anomalous || len(t.frames) == 0 {
		return
	}
	path := filepath.Join(r.cfg.Dir, safeName(t.identity), routeFile(t.route))
	size, err := WriteGIF(path, t.frames, GIFOptions{Delay: r.cfg.Delay, Width: r.cfg.Width})
	if err != nil {
		r.cfg.Logger.Warn("evidence: write replay failed", "path", path, "error", err)
		return
	}
	r.cfg.Logger.Info("evidence: replay written", "path", path, "frames", len(t.frames), "bytes", size)

	r.mu.Lock()
	r.written = append(r.written, report.Evidence{Identity: t.identity, Route: t.route, Path: path})
	r.mu.Unlock()
}

// routeFile maps a route to a file name: "/" is root.gif, "/a/b" is a_b.gif.
func routeFile(route crawler.RoutePath) string {
	p := strings.Trim(string(route), "/")
	if p == "" {
		return "root.gif"
	}
	return safeName(strings.ReplaceAll(p, "/", "_")) + ".gif"
}

func safeName(s string) string {
	if strings.Trim(s, ".") == "" {
		return "-"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '-'
	}, s)
}
