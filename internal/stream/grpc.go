package stream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/radarview/internal/monitoring"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/timeutil"
)

var logGRPC = monitoring.Component("gRPC")

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "radarview.TrailService"

// streamTracksMethod is the full method path of StreamTracks.
const streamTracksMethod = "/" + ServiceName + "/StreamTracks"

// TrailServer is the server API for TrailService. Requests and frames are
// google.protobuf.Struct messages: the request carries an optional
// "sensor_id", each frame is a sensor view.
type TrailServer interface {
	StreamTracks(req *structpb.Struct, stream grpc.ServerStream) error
}

// ServiceDesc describes TrailService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrailServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamTracks",
			Handler:       streamTracksHandler,
			ServerStreams: true,
		},
	},
	Metadata: "radarview/trail.proto",
}

func streamTracksHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(TrailServer).StreamTracks(req, stream)
}

// Ensure Server implements the service interface.
var _ TrailServer = (*Server)(nil)

// Server streams session frames to gRPC clients.
type Server struct {
	viewer
}

// NewServer creates a server over sess. A nil clock uses the real one.
func NewServer(sess *session.Session, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{viewer{sess: sess, clock: clock}}
}

// Register adds the service to gs.
func Register(gs *grpc.Server, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// StreamTracks sends the latest frame of each matching sensor, then every
// new frame until the client goes away.
func (s *Server) StreamTracks(req *structpb.Struct, stream grpc.ServerStream) error {
	sensorID := req.GetFields()["sensor_id"].GetStringValue()
	if sensorID != "" && !known(s.sess, sensorID) {
		return status.Errorf(codes.NotFound, "unknown sensor %q", sensorID)
	}
	logGRPC("StreamTracks started: sensor=%q", sensorID)

	id, frames := s.sess.Subscribe()
	defer s.sess.Unsubscribe(id)

	for _, f := range s.sess.Frames() {
		if wants(sensorID, f) {
			if err := s.send(stream, f); err != nil {
				return err
			}
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			logGRPC("StreamTracks cancelled: sensor=%q", sensorID)
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if !wants(sensorID, f) {
				continue
			}
			if err := s.send(stream, f); err != nil {
				logGRPC("Send error: %v", err)
				return err
			}
		}
	}
}

func (s *Server) send(stream grpc.ServerStream, f session.Frame) error {
	msg, err := ViewToStruct(s.view(f))
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(msg)
}

// TrackStream is the client side of StreamTracks.
type TrackStream struct {
	cs grpc.ClientStream
}

// StreamTracks opens a stream for sensorID (empty for every sensor).
func StreamTracks(ctx context.Context, conn grpc.ClientConnInterface, sensorID string) (*TrackStream, error) {
	cs, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], streamTracksMethod)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"sensor_id": sensorID})
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &TrackStream{cs: cs}, nil
}

// Recv blocks for the next frame.
func (t *TrackStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := t.cs.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
