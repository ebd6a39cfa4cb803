// Package gamesource maps GameMode daemon registrations to a boost
// signal the app policy engine can act on.
package gamesource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
)

const iface = "com.feralinteractive.GameMode"

// Event reports a game process registering or unregistering with the
// GameMode daemon.
type Event struct {
	PID        int
	Registered bool
}

// Source subscribes to GameMode's GameRegistered/GameUnregistered
// signals on the session bus. go-systemd/v22/dbus has no generic
// signal-subscription surface for third-party bus names, so this uses
// godbus/dbus/v5 directly, the same way the login watcher drives
// logind's signals.
type Source struct {
	logger  *slog.Logger
	conn    *dbus.Conn
	signals chan *dbus.Signal
	events  chan Event
}

// New subscribes to GameMode's signals on conn, the session bus.
func New(logger *slog.Logger, conn *dbus.Conn) (*Source, error) {
	if err := conn.AddMatchSignal(dbus.WithMatchInterface(iface)); err != nil {
		return nil, fmt.Errorf("subscribing to %s signals: %w", iface, err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	return &Source{
		logger:  logger,
		conn:    conn,
		signals: signals,
		events:  make(chan Event, 16),
	}, nil
}

// Events returns the channel of game registration changes.
func (s *Source) Events() <-chan Event { return s.events }

// Run forwards validated signals to Events until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-s.signals:
			if !ok {
				return nil
			}

			if ev, valid := translate(sig); valid {
				select {
				case s.events <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// translate extracts an Event from a raw dbus signal, reporting
// valid=false for anything other than a well-formed GameRegistered or
// GameUnregistered(pid int32, path object_path) payload from the
// expected interface.
func translate(sig *dbus.Signal) (Event, bool) {
	if !strings.HasPrefix(string(sig.Name), iface+".") {
		return Event{}, false
	}

	member := strings.TrimPrefix(string(sig.Name), iface+".")

	var registered bool

	switch member {
	case "GameRegistered":
		registered = true
	case "GameUnregistered":
		registered = false
	default:
		return Event{}, false
	}

	if len(sig.Body) != 2 {
		return Event{}, false
	}

	pid, ok := sig.Body[0].(int32)
	if !ok {
		return Event{}, false
	}

	if _, ok := sig.Body[1].(dbus.ObjectPath); !ok {
		return Event{}, false
	}

	return Event{PID: int(pid), Registered: registered}, true
}
