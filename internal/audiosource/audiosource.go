// Package audiosource maps active PipeWire audio streams to a boost
// signal the app policy engine can act on. There is no Go (or cgo-free)
// client for PipeWire's native socket protocol, so this package drives
// the daemon's own JSON monitoring CLI as a subprocess instead of
// binding libpipewire.
package audiosource

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/uresourced/uresourced/internal/osexec"
)

const pipewirePulseAPI = "pipewire-pulse"

// Event reports a PipeWire node's running state change for the process
// owning it.
type Event struct {
	PID     int
	Running bool
}

// node mirrors the small subset of pw-dump's per-object JSON shape this
// package needs; everything else is left for encoding/json to discard.
type node struct {
	Type string `json:"type"`
	Info struct {
		State string         `json:"state"`
		Props map[string]any `json:"props"`
	} `json:"info"`
}

const nodeType = "PipeWire:Interface:Node"

// Source runs a monitoring subprocess and decodes its streamed JSON
// documents into Events.
type Source struct {
	logger *slog.Logger
	cmd    string
	args   []string
	events chan Event
}

// New prepares a Source that will run cmd (e.g. "pw-dump") with args when
// Run is called. cmd is expected to stream one JSON document per graph
// change on stdout for as long as it runs (the "--monitor" style mode).
func New(logger *slog.Logger, cmd string, args ...string) *Source {
	return &Source{
		logger: logger,
		cmd:    cmd,
		args:   args,
		events: make(chan Event, 32),
	}
}

// Events returns the channel of node running-state changes.
func (s *Source) Events() <-chan Event { return s.events }

// Run starts the monitoring subprocess and decodes its stdout until ctx
// is cancelled or the stream ends. A document whose fields have
// unexpected JSON types is logged and skipped and the stream keeps going;
// a syntax or read error ends decoding, since the decoder cannot resume
// after one.
func (s *Source) Run(ctx context.Context) error {
	stdout, wait, err := osexec.StreamReader(ctx, s.cmd, s.args...)
	if err != nil {
		return fmt.Errorf("starting %s: %w", s.cmd, err)
	}

	decoder := json.NewDecoder(bufio.NewReader(stdout))

	for {
		var n node

		if err := decoder.Decode(&n); err != nil {
			if err == io.EOF {
				break
			}

			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &typeErr) {
				s.logger.Warn("pipewire monitor stream is no longer decodable, stopping", "err", err)

				break
			}

			s.logger.Warn("failed to decode pipewire monitor document, skipping", "err", err)

			continue
		}

		if ev, ok := translate(n); ok {
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return wait()
			}
		}
	}

	return wait()
}

// translate extracts an Event from a decoded node document, reporting
// ok=false for anything this package doesn't act on: non-Node objects,
// nodes not belonging to the pipewire-pulse client bridge, nodes lacking
// a process id, or states other than running/idle/suspended.
func translate(n node) (Event, bool) {
	if n.Type != nodeType {
		return Event{}, false
	}

	api, _ := n.Info.Props["client.api"].(string)
	if api != pipewirePulseAPI {
		return Event{}, false
	}

	pid, ok := processID(n.Info.Props["application.process.id"])
	if !ok {
		return Event{}, false
	}

	switch n.Info.State {
	case "running":
		return Event{PID: pid, Running: true}, true
	case "idle", "suspended":
		return Event{PID: pid, Running: false}, true
	default:
		return Event{}, false
	}
}

// processID normalizes application.process.id, which pw-dump may encode
// as either a JSON number or a numeric string depending on version.
func processID(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		var pid int
		if _, err := fmt.Sscanf(t, "%d", &pid); err != nil {
			return 0, false
		}

		return pid, true
	default:
		return 0, false
	}
}
