// Package inotify wraps the raw inotify syscalls in the thin shape both
// the app monitor and cgroupify need: add/remove a watch by path, and
// read decoded events off a channel fed by one blocking-read goroutine.
// Grounded on containerd/cgroups' own v2 manager, which opens its
// memory.events/cgroup.events watches with the same
// syscall.InotifyInit/InotifyAddWatch/Read/Close primitives rather than
// a higher-level notify library.
package inotify

import (
	"bytes"
	"fmt"
	"syscall"
	"unsafe"
)

// Event is a decoded inotify_event: the watch descriptor it fired on,
// the event mask, and (for directory watches) the name of the affected
// entry.
type Event struct {
	Wd   int32
	Mask uint32
	Name string
}

// Watcher owns one inotify file descriptor and fans decoded events out
// on Events(). Callers run the single reader goroutine started by New;
// all other access (Add/Remove) is safe to call from the consuming
// goroutine since the fd itself serializes kernel-side state.
type Watcher struct {
	fd     int
	events chan Event
	errs   chan error
	done   chan struct{}
}

// New creates an inotify instance and starts its background reader
// goroutine, which does nothing but block on syscall.Read and forward
// decoded events to the single event-loop consumer.
func New() (*Watcher, error) {
	fd, err := syscall.InotifyInit1(syscall.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}

	w := &Watcher{
		fd:     fd,
		events: make(chan Event, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	go w.loop()

	return w, nil
}

// Add registers a watch on path for the given event mask (e.g.
// unix.IN_MODIFY, unix.IN_CREATE) and returns its watch descriptor.
func (w *Watcher) Add(path string, mask uint32) (int32, error) {
	wd, err := syscall.InotifyAddWatch(w.fd, path, mask)
	if err != nil {
		return 0, fmt.Errorf("inotify_add_watch %s: %w", path, err)
	}

	return int32(wd), nil
}

// Remove drops a previously registered watch. EINVAL (already gone,
// e.g. the watched file was deleted) is not an error.
func (w *Watcher) Remove(wd int32) error {
	if _, err := syscall.InotifyRmWatch(w.fd, uint32(wd)); err != nil && err != syscall.EINVAL {
		return fmt.Errorf("inotify_rm_watch: %w", err)
	}

	return nil
}

// Events returns the channel decoded events are delivered on.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel a fatal read error (if any) is delivered
// on; the loop exits afterward.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the reader goroutine and releases the file descriptor.
func (w *Watcher) Close() error {
	close(w.done)

	return syscall.Close(w.fd)
}

// maxNameLen bounds a single inotify_event's variable-length name field;
// 255 matches NAME_MAX, the kernel's own per-component filename limit.
const maxNameLen = 255

func (w *Watcher) loop() {
	buf := make([]byte, 64*(syscall.SizeofInotifyEvent+maxNameLen+1))

	for {
		n, err := syscall.Read(w.fd, buf)
		if err != nil {
			select {
			case w.errs <- err:
			default:
			}

			return
		}

		if n <= 0 {
			continue
		}

		for _, ev := range decodeEvents(buf[:n]) {
			select {
			case w.events <- ev:
			case <-w.done:
				return
			}
		}
	}
}

// decodeEvents parses a raw inotify read buffer into zero or more
// Events. Split out from loop so the variable-length-record parsing
// (each inotify_event is followed by Len bytes of NUL-padded name) is
// unit-testable without a real inotify fd.
func decodeEvents(buf []byte) []Event {
	var events []Event

	for offset := 0; offset+syscall.SizeofInotifyEvent <= len(buf); {
		raw := (*syscall.InotifyEvent)(unsafe.Pointer(&buf[offset]))

		nameLen := int(raw.Len)
		nameStart := offset + syscall.SizeofInotifyEvent
		name := ""

		if nameLen > 0 && nameStart+nameLen <= len(buf) {
			name = cString(buf[nameStart : nameStart+nameLen])
		}

		events = append(events, Event{Wd: raw.Wd, Mask: raw.Mask, Name: name})

		offset = nameStart + nameLen
	}

	return events
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}
