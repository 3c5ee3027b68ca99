// Command trail-render replays a recorded capture through the trail engine
// and writes each sensor's plan as PNG and HTML, plus its final view as
// JSON, into an output directory.
//
// Usage:
//
//	trail-render -input capture.jsonl -out renders/
//	trail-render -input capture.pcap -port 9000 -sensor lounge -config viewer.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/render"
	"github.com/banshee-data/radarview/internal/security"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/source"
)

// Options holds configuration for one render run.
type Options struct {
	Input      string
	OutputDir  string
	ConfigPath string
	SensorID   string
	UDPPort    uint
	Velocity   bool
}

func main() {
	var opts Options
	flag.StringVar(&opts.Input, "input", "", "Recording to replay: JSON lines, or .pcap/.pcapng")
	flag.StringVar(&opts.OutputDir, "out", "renders", "Output directory")
	flag.StringVar(&opts.ConfigPath, "config", "", "Viewer configuration file (optional)")
	flag.StringVar(&opts.SensorID, "sensor", "", "Sensor id for bare snapshots (defaults to the first configured sensor)")
	flag.UintVar(&opts.UDPPort, "port", 0, "UDP port carrying snapshots in a PCAP (0 matches any)")
	flag.BoolVar(&opts.Velocity, "velocity", false, "Colour markers by speed instead of slot")
	flag.Parse()

	if opts.Input == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	written, err := run(ctx, opts)
	if err != nil {
		log.Fatalf("trail-render: %v", err)
	}
	for _, path := range written {
		fmt.Println(path)
	}
}

func isPCAP(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".pcap" || ext == ".pcapng"
}

// run replays opts.Input and returns the files it wrote.
func run(ctx context.Context, opts Options) ([]string, error) {
	cfg := config.DefaultViewerConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return nil, err
		}
	}
	if opts.UDPPort > 65535 {
		return nil, fmt.Errorf("invalid -port %d", opts.UDPPort)
	}
	sensorID := opts.SensorID
	if sensorID == "" {
		sensorID = cfg.SensorIDs()[0]
	}

	sess, err := session.New(cfg)
	if err != nil {
		return nil, err
	}
	var src source.Source
	if isPCAP(opts.Input) {
		src = source.NewPCAPSource(sensorID, opts.Input, uint16(opts.UDPPort))
	} else {
		src = source.NewFileSource(sensorID, opts.Input, nil)
	}
	if err := sess.Run(ctx, []source.Source{src}); err != nil {
		return nil, err
	}

	frames := sess.Frames()
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames in %s", opts.Input)
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, f := range frames {
		view := render.BuildView(f, cfg, f.At)
		planOpts := render.PlanOptionsFor(cfg, f.SensorID)
		if opts.Velocity {
			planOpts.Mode = render.ModeVelocity
		}
		plan := render.BuildPlan(f, planOpts)
		log.Printf("%s: %d slots, %d legend rows, drawable=%t", f.SensorID, len(f.Tracks.Keys()), len(view.Legend), plan.Drawable)

		base := security.SanitizeFilename(f.SensorID)
		outputs := []struct {
			name  string
			write func(io.Writer) error
		}{
			{base + "-plan.png", func(w io.Writer) error { return render.WritePlanPNG(w, plan, 0, 0) }},
			{base + "-plan.html", func(w io.Writer) error { return render.WritePlanHTML(w, plan, cfg.GetTitle()) }},
			{base + "-view.json", func(w io.Writer) error {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}},
		}
		for _, out := range outputs {
			path, err := writeOutput(opts.OutputDir, out.name, out.write)
			if err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}
	return written, nil
}

func writeOutput(dir, name string, write func(io.Writer) error) (string, error) {
	path := filepath.Join(dir, name)
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}
