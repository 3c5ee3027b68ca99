// Package stream pushes live sensor views to remote clients over gRPC and
// websockets.
package stream

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/radarview/internal/render"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/timeutil"
)

// viewer builds views from frames against the live configuration.
type viewer struct {
	sess  *session.Session
	clock timeutil.Clock
}

func (v viewer) view(f session.Frame) render.View {
	return render.BuildView(f, v.sess.Config(), v.clock.Now())
}

// wants reports whether a frame passes a sensor filter; empty matches all.
func wants(filter string, f session.Frame) bool {
	return filter == "" || filter == f.SensorID
}

// known reports whether sensorID is configured or has produced frames.
func known(sess *session.Session, sensorID string) bool {
	if _, ok := sess.Config().Sensor(sensorID); ok {
		return true
	}
	_, ok := sess.Frame(sensorID)
	return ok
}

// ViewToStruct converts a view into a protobuf Struct via its JSON form.
func ViewToStruct(v render.View) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode view: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode view: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return s, nil
}
