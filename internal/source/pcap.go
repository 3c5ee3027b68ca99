package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/radarview/internal/monitoring"
)

var logPCAP = monitoring.Component("pcap")

// PCAPSource replays snapshot datagrams from a capture file. Sensors that
// push snapshots over UDP are recorded with tcpdump and replayed here; each
// UDP payload on Port is one snapshot and its capture timestamp becomes the
// reading time.
type PCAPSource struct {
	sensorID string
	path     string
	port     uint16

	// Realtime paces replay by the capture's inter-packet gaps.
	Realtime bool
}

// NewPCAPSource creates a replay source for UDP port on path.
func NewPCAPSource(sensorID, path string, port uint16) *PCAPSource {
	return &PCAPSource{sensorID: sensorID, path: path, port: port}
}

// SensorID implements Source.
func (s *PCAPSource) SensorID() string { return s.sensorID }

// packetReader is satisfied by both pcapgo readers.
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Run replays the capture and returns nil at end of file.
func (s *PCAPSource) Run(ctx context.Context, emit EmitFunc) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", s.path, err)
	}
	defer f.Close()

	reader, err := openCapture(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("failed to read PCAP file %s: %w", s.path, err)
	}

	packets := gopacket.NewPacketSource(reader, reader.LinkType())
	packets.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	var count, emitted int
	var prev time.Time
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		packet, err := packets.NextPacket()
		if errors.Is(err, io.EOF) {
			logPCAP("sensor=%s replay complete: %d packets, %d snapshots", s.sensorID, count, emitted)
			return nil
		}
		if err != nil {
			logPCAP("sensor=%s skipping unreadable packet %d: %v", s.sensorID, count+1, err)
			continue
		}
		count++

		payload, ok := s.udpPayload(packet)
		if !ok {
			continue
		}
		at := packet.Metadata().Timestamp
		if s.Realtime && !prev.IsZero() && !sleep(ctx, at.Sub(prev)) {
			return ctx.Err()
		}
		prev = at

		emit(Reading{SensorID: s.sensorID, Payload: payload, At: at})
		emitted++
	}
}

func (s *PCAPSource) udpPayload(packet gopacket.Packet) ([]byte, bool) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, false
	}
	if s.port != 0 && uint16(udp.DstPort) != s.port && uint16(udp.SrcPort) != s.port {
		return nil, false
	}
	out := make([]byte, len(udp.Payload))
	copy(out, udp.Payload)
	return out, true
}

// openCapture accepts classic pcap and pcapng files.
func openCapture(r *bufio.Reader) (packetReader, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, err
	}
	// pcapng section header block type.
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		return pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(r)
}
