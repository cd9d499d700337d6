// Package examplehal provides a file-system-backed stand-in for real
// device hardware: one hard-coded sensor, the same shape hal_mock.rs
// ships, but with attribute changes and watches backed by real files
// under a base directory so the observe engine's
// blocking-producer/file-system-polling bridge has something genuine to
// watch rather than a synthetic channel.
package examplehal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/jasta/coaphald/hal"
)

var log = logrus.WithField("component", "examplehal")

// MockHAL is a single hard-coded "in1" sensor device, exposing "hello"
// (constant) and "time" (current time in milliseconds, re-read on every
// GetAttributeStr) attributes, mirroring HalMock::with_hardcoded_devices.
type MockHAL struct {
	baseDir string
	watcher *fsnotify.Watcher
	device  *mockDevice

	mu       sync.Mutex
	watchers map[string][]chan struct{} // file path -> registered subscriber channels
	closed   chan struct{}
}

// NewMockHAL constructs a MockHAL rooted at baseDir, creating it if
// necessary. Each device attribute is backed by a file under
// baseDir/<address>/<attribute>; writing the file is what
// SetAttributeStr does, and what a watch observes.
func NewMockHAL(baseDir string) (*MockHAL, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create HAL base dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	m := &MockHAL{
		baseDir:  baseDir,
		watcher:  watcher,
		watchers: make(map[string][]chan struct{}),
		closed:   make(chan struct{}),
	}

	dev, err := newMockDevice(m, baseDir, "in1")
	if err != nil {
		watcher.Close()
		return nil, err
	}
	m.device = dev

	go m.dispatchLoop()
	return m, nil
}

// Close releases the underlying filesystem watcher. Not part of the Hal
// interface: callers that own a MockHAL directly (tests, cmd/coaphald)
// shut it down at process exit.
func (m *MockHAL) Close() error {
	close(m.closed)
	return m.watcher.Close()
}

func (m *MockHAL) ListDevices() ([]hal.Device, error) {
	return []hal.Device{m.device}, nil
}

func (m *MockHAL) ByDriver(driver string) ([]hal.Device, error) {
	if driver != m.device.DriverName() {
		return nil, nil
	}
	return []hal.Device{m.device}, nil
}

func (m *MockHAL) ByAddress(address string) (hal.Device, bool, error) {
	if address != m.device.Address() {
		return nil, false, nil
	}
	return m.device, true, nil
}

// WatchDevices never fires: this mock has a fixed device set, so no event
// ever invalidates ListDevices' result. The channel is still valid to
// range over; it simply never yields.
func (m *MockHAL) WatchDevices() (hal.WatchHandle, error) {
	return &staticWatchHandle{events: make(chan struct{})}, nil
}

// dispatchLoop is the single goroutine reading off the shared fsnotify
// watcher and fanning each Write event out to every subscriber registered
// on that path.
func (m *MockHAL) dispatchLoop() {
	for {
		select {
		case <-m.closed:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.notify(ev.Name)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("fsnotify watcher error")
		}
	}
}

func (m *MockHAL) notify(path string) {
	m.mu.Lock()
	subs := append([]chan struct{}(nil), m.watchers[path]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
			// Coalesce: a subscriber that hasn't drained the previous
			// signal yet doesn't need a second one queued up.
		}
	}
}

// subscribe registers a channel to receive a value every time path
// changes, adding path to the shared watcher the first time it's
// observed.
func (m *MockHAL) subscribe(path string) (chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, watching := m.watchers[path]; !watching {
		if err := m.watcher.Add(path); err != nil {
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	}
	ch := make(chan struct{}, 1)
	m.watchers[path] = append(m.watchers[path], ch)
	return ch, nil
}

func (m *MockHAL) unsubscribe(path string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.watchers[path]
	for i, c := range subs {
		if c == ch {
			m.watchers[path] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.watchers[path]) == 0 {
		delete(m.watchers, path)
		m.watcher.Remove(path)
	}
}

// mockDevice is the single hard-coded "in1" sensor.
type mockDevice struct {
	hal     *MockHAL
	dir     string
	address string
}

var mockAttributes = []hal.Attribute{
	hal.NewReadOnlyAttribute(hal.String, "hello"),
	hal.NewReadOnlyAttribute(hal.UInt32, "time"),
}

func newMockDevice(h *MockHAL, baseDir, address string) (*mockDevice, error) {
	dir := filepath.Join(baseDir, address)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hello"), []byte("world"), 0o644); err != nil {
		return nil, fmt.Errorf("seed hello attribute: %w", err)
	}
	return &mockDevice{hal: h, dir: dir, address: address}, nil
}

func (d *mockDevice) Type() hal.DeviceType   { return hal.Sensor }
func (d *mockDevice) DriverName() string     { return "mock" }
func (d *mockDevice) Address() string        { return d.address }
func (d *mockDevice) ApplicableAttributes() ([]hal.Attribute, error) {
	return mockAttributes, nil
}

func (d *mockDevice) GetAttributeStr(name string) (string, error) {
	switch name {
	case "hello":
		raw, err := os.ReadFile(filepath.Join(d.dir, "hello"))
		if err != nil {
			return "", hal.Internal(err)
		}
		return string(raw), nil
	case "time":
		return strconv.FormatInt(time.Now().UnixMilli(), 10), nil
	default:
		return "", hal.Internal(fmt.Errorf("invalid attribute: name=%s", name))
	}
}

func (d *mockDevice) SetAttributeStr(name, value string) error {
	switch name {
	case "hello":
		path := filepath.Join(d.dir, "hello")
		if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
			return hal.Internal(err)
		}
		return nil
	default:
		return hal.Internal(fmt.Errorf("attribute not writable: name=%s", name))
	}
}

// WatchAttributes watches the file backing each named attribute. "time"
// has no backing file (it is computed on read), so it is watched via a
// periodic synthetic tick instead of fsnotify, consistent with the HAL
// contract that any emission indicates "go re-read this".
func (d *mockDevice) WatchAttributes(names []string) (hal.WatchHandle, error) {
	events := make(chan struct{}, 1)
	handle := &fileWatchHandle{events: events, closed: make(chan struct{})}

	for _, name := range names {
		if name == "time" {
			handle.startTicker(time.Second, events)
			continue
		}
		path := filepath.Join(d.dir, name)
		ch, err := d.hal.subscribe(path)
		if err != nil {
			handle.Close()
			return nil, err
		}
		handle.addSource(d.hal, path, ch, events)
	}
	return handle, nil
}

// fileWatchHandle fans one or more per-attribute subscriptions (file
// watches and/or a ticker) into a single Events channel, the "hand off a
// change signal" half of the cross-execution-model bridge; the OS-thread
// side lives in the observe package.
type fileWatchHandle struct {
	events chan struct{}
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	hal     *MockHAL
	sources []fileWatchSource
	tickers []*time.Ticker
}

type fileWatchSource struct {
	path string
	ch   chan struct{}
}

func (h *fileWatchHandle) addSource(hl *MockHAL, path string, ch chan struct{}, out chan struct{}) {
	h.mu.Lock()
	h.hal = hl
	h.sources = append(h.sources, fileWatchSource{path: path, ch: ch})
	h.mu.Unlock()
	go func() {
		for {
			select {
			case <-h.closed:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
}

func (h *fileWatchHandle) startTicker(interval time.Duration, out chan struct{}) {
	t := time.NewTicker(interval)
	h.mu.Lock()
	h.tickers = append(h.tickers, t)
	h.mu.Unlock()
	go func() {
		for {
			select {
			case <-h.closed:
				t.Stop()
				return
			case <-t.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
}

func (h *fileWatchHandle) Events() <-chan struct{} { return h.events }

func (h *fileWatchHandle) Close() error {
	h.once.Do(func() {
		close(h.closed)
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, src := range h.sources {
			h.hal.unsubscribe(src.path, src.ch)
		}
	})
	return nil
}

// staticWatchHandle is a WatchHandle whose Events channel never fires,
// used where the underlying set genuinely never changes.
type staticWatchHandle struct {
	events chan struct{}
}

func (s *staticWatchHandle) Events() <-chan struct{} { return s.events }
func (s *staticWatchHandle) Close() error             { return nil }
