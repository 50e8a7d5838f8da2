package main

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/host"
	"github.com/arscape/artifact-engine/internal/modelpool"
)

// renderSink serializes render commands for the visual collaborator, one
// JSON object per line. The collaborator owns the actual scene graph; this
// process only tells it what each marker's host should display.
type renderSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	log zerolog.Logger
}

func newRenderSink(w io.Writer, log zerolog.Logger) *renderSink {
	return &renderSink{enc: json.NewEncoder(w), log: log}
}

type renderCommand struct {
	Command  string `json:"command"`
	MarkerID string `json:"markerId"`
	Visible  *bool  `json:"visible,omitempty"`
	Centered *bool  `json:"centered,omitempty"`
	Time     int64  `json:"time"`
}

func (s *renderSink) emit(cmd renderCommand) {
	cmd.Time = time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(cmd); err != nil {
		s.log.Error().Err(err).Str("command", cmd.Command).Msg("Failed to emit render command")
	}
}

// NewVisual satisfies engine.VisualFactory.
func (s *renderSink) NewVisual(markerID string) host.Visual {
	return &sinkVisual{sink: s, markerID: markerID}
}

type sinkVisual struct {
	sink     *renderSink
	markerID string
}

func (v *sinkVisual) ShowPlaceholder() {
	v.sink.emit(renderCommand{Command: "host.placeholder", MarkerID: v.markerID})
}

func (v *sinkVisual) Attach(node modelpool.Node) {
	cmd := renderCommand{Command: "host.attach", MarkerID: v.markerID}
	if n, ok := node.(*glbNode); ok {
		cmd.Centered = &n.centered
	}
	v.sink.emit(cmd)
}

func (v *sinkVisual) Detach() {
	v.sink.emit(renderCommand{Command: "host.detach", MarkerID: v.markerID})
}

func (v *sinkVisual) SetVisible(visible bool) {
	v.sink.emit(renderCommand{Command: "host.visible", MarkerID: v.markerID, Visible: &visible})
}
