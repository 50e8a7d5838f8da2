package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arscape/artifact-engine/internal/dispatcher"
)

// Commands accepted from the tracking collaborator.
const (
	CmdMarkerRecognized = ":MARKER:RECOGNIZED:"
	CmdMarkerUpdated    = ":MARKER:UPDATED:"
	CmdMarkerLost       = ":MARKER:LOST:"
	CmdMarkerRemoved    = ":MARKER:REMOVED:"
)

// RegisterHandlers wires the engine into the dispatcher. Recognition and
// removal are low-volume and logged; position updates arrive every frame
// and get a deep buffer.
func (e *Engine) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(CmdMarkerRecognized, e.handleRecognized,
		dispatcher.Buffered(64), dispatcher.Logged())
	d.Register(CmdMarkerUpdated, e.handleUpdated,
		dispatcher.Buffered(512))
	d.Register(CmdMarkerLost, e.handleLost,
		dispatcher.Buffered(64), dispatcher.Logged())
	d.Register(CmdMarkerRemoved, e.handleRemoved,
		dispatcher.Buffered(64), dispatcher.Logged())
}

func (e *Engine) handleRecognized(ev dispatcher.Event) (any, error) {
	markerID, size, err := parseMarkerArgs(ev.Args)
	if err != nil {
		return nil, err
	}
	e.MarkerRecognized(markerID, size)
	return nil, nil
}

func (e *Engine) handleUpdated(ev dispatcher.Event) (any, error) {
	markerID, size, err := parseMarkerArgs(ev.Args)
	if err != nil {
		return nil, err
	}
	e.MarkerUpdated(markerID, size)
	return nil, nil
}

func (e *Engine) handleLost(ev dispatcher.Event) (any, error) {
	markerID, _, err := parseMarkerArgs(ev.Args)
	if err != nil {
		return nil, err
	}
	e.MarkerLost(markerID)
	return nil, nil
}

func (e *Engine) handleRemoved(ev dispatcher.Event) (any, error) {
	markerID, _, err := parseMarkerArgs(ev.Args)
	if err != nil {
		return nil, err
	}
	e.MarkerRemoved(markerID)
	return nil, nil
}

// parseMarkerArgs extracts the marker identity and optional physical size
// (meters) from a command's arguments.
func parseMarkerArgs(args []string) (string, float64, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", 0, fmt.Errorf("missing marker id")
	}
	markerID := strings.TrimSpace(args[0])

	var size float64
	if len(args) > 1 && args[1] != "" {
		parsed, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", 0, fmt.Errorf("bad physical size %q: %w", args[1], err)
		}
		size = parsed
	}
	return markerID, size, nil
}
