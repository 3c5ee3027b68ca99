// Command radarview polls, replays or simulates room radar sensors and serves
// their trails, plan renders and 3D scene frames over HTTP, websockets and
// gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/radarview/internal/api"
	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/eventlog"
	"github.com/banshee-data/radarview/internal/httputil"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/source"
	"github.com/banshee-data/radarview/internal/stream"
	"github.com/banshee-data/radarview/internal/version"
)

var (
	configPath   = flag.String("config", "", "Viewer configuration file (.json, .yaml or .yml); built-in defaults when empty")
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen   = flag.String("grpc-listen", "", "gRPC listen address for track streaming (disabled when empty)")
	devMode      = flag.Bool("dev", false, "Replace every sensor transport with synthetic walkers")
	seed         = flag.Int64("seed", 1, "Random seed for -dev")
	pcapFile     = flag.String("pcap", "", "Replay snapshots from a PCAP capture instead of live sources")
	pcapPort     = flag.Uint("pcap-port", 0, "UDP port carrying snapshots in the -pcap capture (0 matches any)")
	pcapSensor   = flag.String("pcap-sensor", "", "Sensor id for -pcap replay (defaults to the first configured sensor)")
	pcapRealtime = flag.Bool("pcap-realtime", true, "Pace -pcap replay by capture timestamps")
)

// pcapReplay selects PCAP replay instead of the configured transports.
type pcapReplay struct {
	Path     string
	Port     uint
	SensorID string
	Realtime bool
}

func loadConfig(path string) (*config.ViewerConfig, error) {
	if path == "" {
		return config.DefaultViewerConfig(), nil
	}
	return config.Load(path)
}

// sourcesFor builds the session sources: one PCAP replay when requested,
// otherwise the configured (or synthetic) transports.
func sourcesFor(cfg *config.ViewerConfig, replay pcapReplay, opts session.SourceOptions) ([]source.Source, error) {
	if replay.Path == "" {
		return session.Sources(cfg, opts), nil
	}
	if replay.Port > 65535 {
		return nil, fmt.Errorf("invalid -pcap-port %d", replay.Port)
	}
	sensorID := replay.SensorID
	if sensorID == "" {
		ids := cfg.SensorIDs()
		if len(ids) == 0 {
			return nil, errors.New("no sensor to attribute the capture to")
		}
		sensorID = ids[0]
	}
	src := source.NewPCAPSource(sensorID, replay.Path, uint16(replay.Port))
	src.Realtime = replay.Realtime
	return []source.Source{src}, nil
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	events, err := eventlog.Open("")
	if err != nil {
		log.Fatalf("failed to open event log: %v", err)
	}
	defer events.Close()

	sess, err := session.New(cfg, session.WithEventLog(events))
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}
	log.Printf("radarview %s: session %s, sensors %v", version.Current(), sess.ID(), cfg.SensorIDs())

	opts := []api.Option{api.WithEventLog(events)}
	if *configPath != "" {
		opts = append(opts, api.WithConfigPath(*configPath))
	}
	mux := api.NewServer(sess, opts...).ServeMux()
	if err := events.AttachAdminRoutes(mux); err != nil {
		log.Fatalf("failed to attach event log routes: %v", err)
	}
	admin := newSerialAdmin(mux)

	sources, err := sourcesFor(cfg, pcapReplay{
		Path:     *pcapFile,
		Port:     *pcapPort,
		SensorID: *pcapSensor,
		Realtime: *pcapRealtime,
	}, session.SourceOptions{
		Client:       httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second}),
		OnSerialOpen: admin.attach,
		Synthetic:    *devMode,
		Seed:         *seed,
	})
	if err != nil {
		log.Fatalf("failed to build sources: %v", err)
	}
	if len(sources) == 0 {
		log.Print("no sensor transports configured; waiting for pushed snapshots")
	}

	// Create a wait group for the source, gRPC and HTTP routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.Run(ctx, sources); err != nil {
			log.Printf("sources stopped with errors: %v", err)
		}
		log.Print("source routine terminated")
	}()

	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", *grpcListen, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			gs := grpc.NewServer()
			stream.Register(gs, stream.NewServer(sess, nil))

			go func() {
				log.Printf("gRPC %s listening on %s", stream.ServiceName, lis.Addr())
				if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					log.Printf("gRPC server error: %v", err)
				}
			}()

			<-ctx.Done()
			stopped := make(chan struct{})
			go func() {
				gs.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(time.Second):
				gs.Stop()
			}
			log.Printf("gRPC server routine stopped")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("HTTP listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
