package render

import (
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Default PNG size.
const (
	DefaultPNGWidth  = 8 * vg.Inch
	DefaultPNGHeight = 8 * vg.Inch
)

var (
	gridColor       = color.RGBA{R: 0x99, G: 0x99, B: 0x99, A: 0x40}
	backgroundColor = color.RGBA{R: 0x0b, G: 0x10, B: 0x1c, A: 0xff}
	textColor       = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xdd}
)

// WritePlanPNG draws p as a PNG. Plan coordinates grow downwards, so the
// vertical axis is flipped to keep "forward" from the sensor pointing up.
func WritePlanPNG(w io.Writer, p Plan, width, height vg.Length) error {
	return writePlan(w, p, width, height, "png")
}

// WritePlanSVG draws p as an SVG document.
func WritePlanSVG(w io.Writer, p Plan, width, height vg.Length) error {
	return writePlan(w, p, width, height, "svg")
}

func writePlan(w io.Writer, p Plan, width, height vg.Length, format string) error {
	if !p.Drawable {
		return fmt.Errorf("sensor %s: room geometry is not drawable", p.SensorID)
	}
	if width <= 0 {
		width = DefaultPNGWidth
	}
	if height <= 0 {
		height = DefaultPNGHeight
	}

	plt := plot.New()
	plt.BackgroundColor = backgroundColor
	plt.Title.Text = p.Name
	plt.Title.TextStyle.Color = textColor
	plt.X.Min, plt.X.Max = 0, p.Width
	plt.Y.Min, plt.Y.Max = 0, p.Height
	plt.X.Label.Text = "Width"
	plt.Y.Label.Text = "Depth"
	for _, ax := range []*plot.Axis{&plt.X, &plt.Y} {
		ax.Color = textColor
		ax.Label.TextStyle.Color = textColor
		ax.Tick.Color = textColor
		ax.Tick.Label.Color = textColor
	}

	flip := func(x, y float64) plotter.XY { return plotter.XY{X: x, Y: p.Height - y} }

	for _, g := range p.Grid {
		l, err := plotter.NewLine(plotter.XYs{flip(g.From.X, g.From.Y), flip(g.To.X, g.To.Y)})
		if err != nil {
			return err
		}
		l.Color = gridColor
		l.Width = vg.Points(0.5)
		plt.Add(l)
	}

	for _, tr := range p.Trails {
		pts := make(plotter.XYs, len(tr.Points))
		for i, pt := range tr.Points {
			pts[i] = flip(pt.X, pt.Y)
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		l.Color = withAlpha(ParseColor(tr.Color), 0x88)
		l.Width = vg.Points(2)
		plt.Add(l)
	}

	sensor, err := plotter.NewScatter(plotter.XYs{flip(p.Sensor.X, p.Sensor.Y)})
	if err != nil {
		return err
	}
	sensor.GlyphStyle = draw.GlyphStyle{Color: ParseColor(p.Accent), Radius: vg.Points(5), Shape: draw.CircleGlyph{}}
	plt.Add(sensor)

	if len(p.Markers) > 0 {
		labels := plotter.XYLabels{XYs: make(plotter.XYs, len(p.Markers)), Labels: make([]string, len(p.Markers))}
		for i, m := range p.Markers {
			xy := flip(m.Position.X, m.Position.Y)
			sc, err := plotter.NewScatter(plotter.XYs{xy})
			if err != nil {
				return err
			}
			sc.GlyphStyle = draw.GlyphStyle{Color: ParseColor(m.Color), Radius: vg.Points(6), Shape: draw.CircleGlyph{}}
			plt.Add(sc)
			if m.Ring > 0 {
				ring, err := plotter.NewScatter(plotter.XYs{xy})
				if err != nil {
					return err
				}
				ring.GlyphStyle = draw.GlyphStyle{
					Color:  withAlpha(ParseColor(m.Color), 0x55),
					Radius: ringRadius(m.Ring, p, width, height),
					Shape:  draw.RingGlyph{},
				}
				plt.Add(ring)
			}
			labels.XYs[i] = xy
			labels.Labels[i] = m.Label
			if m.SpeedLabel != "" {
				labels.Labels[i] += " " + m.SpeedLabel
			}
		}
		lbl, err := plotter.NewLabels(labels)
		if err != nil {
			return err
		}
		for i := range lbl.TextStyle {
			lbl.TextStyle[i].Color = textColor
		}
		lbl.Offset = vg.Point{X: vg.Points(8), Y: vg.Points(6)}
		plt.Add(lbl)
	}

	wt, err := plt.WriterTo(width, height, format)
	if err != nil {
		return fmt.Errorf("failed to create plan canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plan %s: %w", format, err)
	}
	return nil
}

// ringRadius approximates a plan length as a glyph radius on the canvas.
func ringRadius(planLen float64, p Plan, width, height vg.Length) vg.Length {
	scale := float64(width) / p.Width
	if hs := float64(height) / p.Height; hs < scale {
		scale = hs
	}
	return vg.Length(planLen * scale * 0.8)
}

// ParseColor reads "#rrggbb", "#rrggbbaa" or "hsl(h,s%,l%)"; anything else
// is white.
func ParseColor(s string) color.RGBA {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "#") && (len(s) == 7 || len(s) == 9):
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			break
		}
		if len(s) == 7 {
			return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
		}
		return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
	case strings.HasPrefix(s, "hsl(") && strings.HasSuffix(s, ")"):
		parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(s, "hsl("), ")"), ",")
		if len(parts) != 3 {
			break
		}
		h, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		sat, err2 := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(parts[1]), "%"), 64)
		l, err3 := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(parts[2]), "%"), 64)
		if err1 != nil || err2 != nil || err3 != nil {
			break
		}
		return hslToRGB(h, sat/100, l/100)
	}
	return color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
}

func hslToRGB(h, s, l float64) color.RGBA {
	for h < 0 {
		h += 360
	}
	for h >= 360 {
		h -= 360
	}
	c := (1 - abs(2*l-1)) * s
	x := c * (1 - abs(mod2(h/60)-1))
	m := l - c/2
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to8 := func(v float64) uint8 { return uint8((v+m)*255 + 0.5) }
	return color.RGBA{R: to8(r), G: to8(g), B: to8(b), A: 0xff}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func mod2(v float64) float64 {
	for v >= 2 {
		v -= 2
	}
	return v
}

func withAlpha(c color.RGBA, a uint8) color.RGBA {
	// Premultiplied: scale channels with alpha.
	return color.RGBA{
		R: uint8(uint16(c.R) * uint16(a) / 0xff),
		G: uint8(uint16(c.G) * uint16(a) / 0xff),
		B: uint8(uint16(c.B) * uint16(a) / 0xff),
		A: a,
	}
}
