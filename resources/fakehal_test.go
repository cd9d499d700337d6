package resources

import (
	"fmt"
	"sync"

	"github.com/jasta/coaphald/coreapi"
	"github.com/jasta/coaphald/hal"
	"github.com/jasta/coaphald/observe"
)

// fakeHAL and fakeDevice are minimal stand-ins for examplehal.MockHAL,
// scoped to exactly what the resources package's tests need: no
// filesystem, no fsnotify, synchronous attribute storage.
type fakeHAL struct {
	devices map[string]*fakeDevice
}

func newFakeHAL(devices ...*fakeDevice) *fakeHAL {
	m := make(map[string]*fakeDevice, len(devices))
	for _, d := range devices {
		m[d.address] = d
	}
	return &fakeHAL{devices: m}
}

func (h *fakeHAL) ListDevices() ([]hal.Device, error) {
	out := make([]hal.Device, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, d)
	}
	return out, nil
}

func (h *fakeHAL) ByDriver(driver string) ([]hal.Device, error) {
	var out []hal.Device
	for _, d := range h.devices {
		if d.driver == driver {
			out = append(out, d)
		}
	}
	return out, nil
}

func (h *fakeHAL) ByAddress(address string) (hal.Device, bool, error) {
	d, ok := h.devices[address]
	if !ok {
		return nil, false, nil
	}
	return d, true, nil
}

func (h *fakeHAL) WatchDevices() (hal.WatchHandle, error) {
	return &fakeWatchHandle{events: make(chan struct{})}, nil
}

type fakeDevice struct {
	address string
	driver  string
	typ     hal.DeviceType
	attrs   []hal.Attribute
	values  map[string]string

	watched []string
}

func newFakeDevice(address, driver string) *fakeDevice {
	return &fakeDevice{
		address: address,
		driver:  driver,
		typ:     hal.Sensor,
		attrs: []hal.Attribute{
			hal.NewReadWriteAttribute(hal.String, "label"),
			hal.NewReadOnlyAttribute(hal.Int32, "reading"),
		},
		values: map[string]string{"label": "unset", "reading": "0"},
	}
}

func (d *fakeDevice) Type() hal.DeviceType { return d.typ }
func (d *fakeDevice) DriverName() string   { return d.driver }
func (d *fakeDevice) Address() string      { return d.address }
func (d *fakeDevice) ApplicableAttributes() ([]hal.Attribute, error) {
	return d.attrs, nil
}

func (d *fakeDevice) GetAttributeStr(name string) (string, error) {
	v, ok := d.values[name]
	if !ok {
		return "", fmt.Errorf("no such attribute: %s", name)
	}
	return v, nil
}

func (d *fakeDevice) SetAttributeStr(name, value string) error {
	if _, ok := d.values[name]; !ok {
		return fmt.Errorf("no such attribute: %s", name)
	}
	d.values[name] = value
	return nil
}

func (d *fakeDevice) WatchAttributes(names []string) (hal.WatchHandle, error) {
	d.watched = append(d.watched, names...)
	return &fakeWatchHandle{events: make(chan struct{})}, nil
}

type fakeWatchHandle struct {
	events chan struct{}
	closed bool
}

func (h *fakeWatchHandle) Events() <-chan struct{} { return h.events }
func (h *fakeWatchHandle) Close() error {
	if !h.closed {
		h.closed = true
		close(h.events)
	}
	return nil
}

// fakeSender records every notification handed to it, for tests that
// exercise PUT-triggered observation fan-out.
type fakeSender struct {
	mu   sync.Mutex
	sent []fakeSent
}

type fakeSent struct {
	obs     observe.Observer
	seq     uint32
	payload string
}

func (s *fakeSender) SendNotification(obs observe.Observer, seq uint32, resp *coreapi.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, fakeSent{obs: obs, seq: seq, payload: string(resp.Payload)})
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
