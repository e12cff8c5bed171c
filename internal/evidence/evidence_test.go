package evidence

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestAnnotate(t *testing.T) {
	white := color.RGBA{255, 255, 255, 255}
	frame := solid(100, 60, white)
	box := image.Rect(10, 10, 50, 30)

	out := Annotate(frame, box, false, AnomalyColor)
	assert.Equal(t, AnomalyColor, out.RGBAAt(10, 10))
	assert.Equal(t, AnomalyColor, out.RGBAAt(49, 29))
	assert.Equal(t, AnomalyColor, out.RGBAAt(11, 20))
	assert.Equal(t, white, out.RGBAAt(30, 20))
	assert.Equal(t, white, frame.RGBAAt(10, 10), "source frame untouched")

	clicked := Annotate(frame, box, true, BoxColor)
	assert.Equal(t, rippleColor, clicked.RGBAAt(30+15, 20))

	unmarked := Annotate(frame, image.Rectangle{}, true, BoxColor)
	assert.Equal(t, frame.Pix, unmarked.Pix)

	// Boxes partly outside the frame are clipped.
	assert.NotPanics(t, func() { Annotate(frame, image.Rect(-20, -20, 500, 500), true, BoxColor) })
}

func TestEncodeGIF(t *testing.T) {
	frames := []image.Image{
		solid(1280, 800, color.RGBA{255, 255, 255, 255}),
		Annotate(solid(1280, 800, color.RGBA{240, 240, 240, 255}), image.Rect(100, 100, 300, 140), true, AnomalyColor),
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeGIF(&buf, frames, GIFOptions{Width: 320}))

	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, g.Image, 2)
	assert.Equal(t, 320, g.Image[0].Bounds().Dx())
	assert.Equal(t, 200, g.Image[0].Bounds().Dy())
	assert.Equal(t, []int{80, 240}, g.Delay)

	assert.Error(t, EncodeGIF(io.Discard, nil, GIFOptions{}))
}

func TestWriteGIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "premium", "root.gif")
	size, err := WriteGIF(path, []image.Image{solid(40, 20, color.RGBA{200, 200, 200, 255})}, GIFOptions{})
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size)
	assert.Positive(t, size)

	_, err = WriteGIF(filepath.Join(t.TempDir(), "empty.gif"), nil, GIFOptions{})
	assert.Error(t, err)
}

func TestGeneratePalette(t *testing.T) {
	p := generatePalette([]image.Image{solid(8, 8, color.RGBA{10, 20, 30, 255})})
	require.Len(t, p, 256)
	assert.Equal(t, BoxColor, p[0])
	assert.Equal(t, AnomalyColor, p[1])
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, p[2])
}

func TestRouteFile(t *testing.T) {
	assert.Equal(t, "root.gif", routeFile("/"))
	assert.Equal(t, "settings_billing.gif", routeFile("/settings/billing/"))
	assert.Equal(t, "a-b.gif", routeFile("/a b"))
	assert.Equal(t, "premium", safeName("premium"))
	assert.Equal(t, "-", safeName(".."))
	assert.Equal(t, "x-y", safeName("x/y"))
}

// camPage is a crawler.Page that can only take screenshots.
type camPage struct {
	crawler.Page
	shot []byte
	box  image.Rectangle
	err  error
}

func (p *camPage) Screenshot(context.Context) ([]byte, error) { return p.shot, p.err }

func (p *camPage) Box(context.Context, crawler.Ref) (image.Rectangle, error) {
	if p.box.Empty() {
		return image.Rectangle{}, crawler.ErrStaleRef
	}
	return p.box, nil
}

func screenshot(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(200, 100, color.RGBA{250, 250, 250, 255})))
	return buf.Bytes()
}

func newRecorder(t *testing.T, maxFrames int) *Recorder {
	t.Helper()
	rec, err := NewRecorder(Config{
		Dir:       t.TempDir(),
		MaxFrames: maxFrames,
		Width:     100,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return rec
}

func actuated(page crawler.Page, route crawler.RoutePath, anomalies int) crawler.ActuationEvent {
	return crawler.ActuationEvent{
		SessionID: "s1",
		Identity:  "premium",
		Route:     route,
		Result: crawler.ActuationResult{Element: crawler.InteractiveElement{
			Ref:  crawler.Ref{Selector: "button"},
			Kind: crawler.KindButton,
		}},
		NewAnomalies: anomalies,
		Page:         page,
	}
}

func TestRecorderWritesAnomalousRoutes(t *testing.T) {
	rec := newRecorder(t, 3)
	page := &camPage{shot: screenshot(t), box: image.Rect(20, 20, 60, 40)}

	rec.RouteDone(crawler.RouteEvent{SessionID: "s1", Phase: crawler.PhaseCrawl, Route: "/"})
	for i := 0; i < 5; i++ {
		rec.Actuated(actuated(page, "/", 0))
	}
	rec.Actuated(actuated(page, "/", 1))

	rec.RouteDone(crawler.RouteEvent{SessionID: "s1", Phase: crawler.PhaseCrawl, Route: "/clean"})
	rec.Actuated(actuated(page, "/clean", 0))
	rec.SessionDone(&crawler.SessionResult{SessionID: "s1"})

	ev := rec.Evidence()
	require.Len(t, ev, 1)
	assert.Equal(t, "premium", ev[0].Identity)
	assert.Equal(t, crawler.RoutePath("/"), ev[0].Route)
	assert.Equal(t, filepath.Join(rec.cfg.Dir, "premium", "root.gif"), ev[0].Path)

	f, err := os.Open(ev[0].Path)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Len(t, g.Image, 3, "only the last MaxFrames frames are kept")
	assert.Equal(t, 100, g.Image[0].Bounds().Dx())

	_, err = os.Stat(filepath.Join(rec.cfg.Dir, "premium", "clean.gif"))
	assert.True(t, os.IsNotExist(err))
}

func TestRecorderFlushesOnSessionDone(t *testing.T) {
	rec := newRecorder(t, 0)
	page := &camPage{shot: screenshot(t)}

	rec.Actuated(actuated(page, "/billing", 2))
	assert.Empty(t, rec.Evidence())
	rec.SessionDone(&crawler.SessionResult{SessionID: "s1"})
	require.Len(t, rec.Evidence(), 1)
	assert.FileExists(t, rec.Evidence()[0].Path)
}

func TestRecorderIgnoresPagesWithoutCamera(t *testing.T) {
	rec := newRecorder(t, 0)
	var page struct{ crawler.Page }
	rec.Actuated(actuated(page, "/", 3))
	rec.SessionDone(&crawler.SessionResult{SessionID: "s1"})
	assert.Empty(t, rec.Evidence())

	broken := &camPage{err: errors.New("target closed")}
	rec.Actuated(actuated(broken, "/", 3))
	rec.SessionDone(&crawler.SessionResult{SessionID: "s1"})
	assert.Empty(t, rec.Evidence())
}

func TestNewRecorderRequiresDir(t *testing.T) {
	_, err := NewRecorder(Config{})
	assert.Error(t, err)
}
