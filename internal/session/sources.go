package session

import (
	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/httputil"
	"github.com/banshee-data/radarview/internal/serialmux"
	"github.com/banshee-data/radarview/internal/source"
	"github.com/banshee-data/radarview/internal/timeutil"
)

// SourceOptions controls how configured sensors are turned into sources.
type SourceOptions struct {
	Client     httputil.HTTPClient
	Clock      timeutil.Clock
	OpenSerial serialmux.Opener
	// OnSerialOpen is called whenever a sensor's serial port (re)opens.
	OnSerialOpen func(sensorID string, mux serialmux.Mux)
	// Synthetic replaces every sensor's transport with a generator.
	Synthetic bool
	Seed      int64
}

// Sources builds one source per configured sensor. Sensors with neither an
// endpoint nor a serial path get none and only receive pushed snapshots.
func Sources(cfg *config.ViewerConfig, opts SourceOptions) []source.Source {
	var out []source.Source
	for i, sc := range cfg.Sensors {
		switch {
		case opts.Synthetic:
			g := source.NewSyntheticSource(sc.ID, opts.Seed+int64(i), opts.Clock)
			g.Interval = cfg.GetRefreshInterval()
			if sc.RoomWidthMM != nil && *sc.RoomWidthMM > 0 {
				g.RoomWidthMM = *sc.RoomWidthMM
			}
			if sc.RoomDepthMM != nil && *sc.RoomDepthMM > 0 {
				g.RoomDepthMM = *sc.RoomDepthMM
			}
			out = append(out, g)
		case sc.Endpoint != "":
			out = append(out, source.NewHTTPSource(sc.ID, sc.Endpoint, cfg.GetRefreshInterval(), opts.Client, opts.Clock))
		case sc.SerialPath != "":
			src := source.NewSerialSource(sc.ID, sc.SerialPath,
				serialmux.PortOptions{BaudRate: sc.GetBaudRate()}, opts.OpenSerial, opts.Clock)
			if opts.OnSerialOpen != nil {
				id := sc.ID
				src.OnOpen = func(m serialmux.Mux) { opts.OnSerialOpen(id, m) }
			}
			out = append(out, src)
		}
	}
	return out
}
