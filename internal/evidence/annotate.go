package evidence

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

var (
	// BoxColor outlines an actuated element.
	BoxColor = color.RGBA{66, 133, 244, 255}
	// AnomalyColor outlines an element whose actuation produced anomalies.
	AnomalyColor = color.RGBA{219, 68, 55, 255}

	rippleColor = color.RGBA{66, 133, 244, 100}
)

// Annotate returns a copy of frame with box outlined in c. Clicks also get a
// ripple at the centre of the box. An empty box leaves the frame unmarked.
func Annotate(frame image.Image, box image.Rectangle, click bool, c color.RGBA) *image.RGBA {
	bounds := frame.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, frame, bounds.Min, draw.Src)

	if box.Empty() {
		return out
	}
	drawRect(out, box, c)
	drawRect(out, box.Inset(1), c)
	if click {
		centre := box.Min.Add(box.Max).Div(2)
		drawClickRipple(out, centre.X, centre.Y)
	}
	return out
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	x0, y0, x1, y1 := r.Min.X, r.Min.Y, r.Max.X-1, r.Max.Y-1
	drawLine(img, x0, y0, x1, y0, c)
	drawLine(img, x1, y0, x1, y1, c)
	drawLine(img, x1, y1, x0, y1, c)
	drawLine(img, x0, y1, x0, y0, c)
}

// drawLine draws a line between two points using Bresenham's algorithm.
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy

	for {
		setPixelSafe(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func drawClickRipple(img *image.RGBA, x, y int) {
	for _, radius := range []int{8, 15} {
		for angle := 0.0; angle < 360; angle++ {
			rad := angle * math.Pi / 180
			px := x + int(float64(radius)*math.Cos(rad))
			py := y + int(float64(radius)*math.Sin(rad))
			setPixelSafe(img, px, py, rippleColor)
			setPixelSafe(img, px+1, py, rippleColor)
		}
	}
}

func setPixelSafe(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
