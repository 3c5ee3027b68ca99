package render

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WritePlanHTML renders p as an interactive go-echarts page. As in the PNG,
// the vertical axis is flipped so depth grows upwards.
func WritePlanHTML(w io.Writer, p Plan, title string) error {
	if !p.Drawable {
		return fmt.Errorf("sensor %s: room geometry is not drawable", p.SensorID)
	}
	if title == "" {
		title = p.Name
	}
	flip := func(x, y float64) []interface{} { return []interface{}{x, p.Height - y} }

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: p.Name, Subtitle: fmt.Sprintf("sensor=%s targets=%d trails=%d", p.SensorID, len(p.Markers), len(p.Trails))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: 0, Max: p.Width, Name: "Width", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: p.Height, Name: "Depth", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("sensor", []opts.ScatterData{{Name: "Sensor", Value: flip(p.Sensor.X, p.Sensor.Y)}},
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: p.Accent}))

	for _, m := range p.Markers {
		name := m.Label
		if m.SpeedLabel != "" {
			name += " · " + m.SpeedLabel
		}
		scatter.AddSeries(m.Label, []opts.ScatterData{{Name: name, Value: flip(m.Position.X, m.Position.Y)}},
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 16}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: m.Color}))
	}

	if len(p.Trails) > 0 {
		line := charts.NewLine()
		for _, tr := range p.Trails {
			data := make([]opts.LineData, len(tr.Points))
			for i, pt := range tr.Points {
				data[i] = opts.LineData{Value: flip(pt.X, pt.Y)}
			}
			line.AddSeries("trail T"+tr.Slot, data,
				charts.WithLineStyleOpts(opts.LineStyle{Color: tr.Color, Width: 2}),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: tr.Color}))
		}
		scatter.Overlap(line)
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render plan chart: %w", err)
	}
	return nil
}
