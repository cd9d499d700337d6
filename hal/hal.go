// Package hal defines the hardware-abstraction-layer contract the
// resource handlers are built against: a small set of devices exposing
// typed attributes, each of which can be watched for change. Exactly one
// implementation is wired at process startup (examplehal.MockHAL); a real
// sysfs-backed driver is out of scope, per the Non-goals.
package hal

import "fmt"

// Hal is the process-wide device directory. Exactly one instance is
// constructed at startup and injected into the resource builders, rather
// than sensed lazily as a global singleton the way the original server's
// HalFactory::sense_from_environment does.
type Hal interface {
	ListDevices() ([]Device, error)
	ByDriver(driver string) ([]Device, error)
	ByAddress(address string) (Device, bool, error)

	// WatchDevices returns a handle whose Events channel receives a value
	// whenever ListDevices would yield a different result. Closing the
	// handle stops the underlying watch.
	WatchDevices() (WatchHandle, error)
}

// Device is a single addressable motor or sensor.
type Device interface {
	Type() DeviceType
	DriverName() string
	Address() string
	ApplicableAttributes() ([]Attribute, error)

	GetAttributeStr(name string) (string, error)
	SetAttributeStr(name, value string) error

	// WatchAttributes returns a handle whose Events channel receives a
	// value whenever GetAttributeStr would yield a different result for
	// any of the named attributes.
	WatchAttributes(names []string) (WatchHandle, error)
}

// WatchHandle is a live subscription to a HAL change stream. Closing it
// (Close) releases the underlying resource and terminates whatever thread
// or goroutine is feeding Events; per spec, dropping the handle is what
// cancels the watch, not an explicit "unsubscribe" call.
type WatchHandle interface {
	// Events delivers one value per distinct change. It is closed when the
	// watch is released.
	Events() <-chan struct{}
	Close() error
}

// DeviceType distinguishes sensors from actuators for discovery purposes.
type DeviceType int

const (
	Sensor DeviceType = iota
	Actuator
)

func (t DeviceType) String() string {
	switch t {
	case Sensor:
		return "sensor"
	case Actuator:
		return "actuator"
	default:
		return "unknown"
	}
}

// AttributeType is the wire/JSON representation of an attribute's value.
type AttributeType int

const (
	Int8 AttributeType = iota
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Float32
	Float64
	String
)

// Attribute describes one named, typed property of a Device: whether it
// is an array, its wire type, and its access mode.
type Attribute struct {
	Name       string
	DataType   AttributeType
	IsArray    bool
	IsReadable bool
	IsWritable bool
}

// NewReadWriteAttribute constructs a readable and writable scalar
// attribute, e.g. a motor's target speed.
func NewReadWriteAttribute(typ AttributeType, name string) Attribute {
	return Attribute{DataType: typ, Name: name, IsReadable: true, IsWritable: true}
}

// NewReadOnlyAttribute constructs a readable-only scalar attribute, e.g. a
// sensor's current reading.
func NewReadOnlyAttribute(typ AttributeType, name string) Attribute {
	return Attribute{DataType: typ, Name: name, IsReadable: true, IsWritable: false}
}

// NewWriteOnlyAttribute constructs a writable-only scalar attribute.
func NewWriteOnlyAttribute(typ AttributeType, name string) Attribute {
	return Attribute{DataType: typ, Name: name, IsReadable: false, IsWritable: true}
}

// NewReadOnlyArrayAttribute constructs a readable-only array attribute,
// e.g. a color sensor's raw RGB triple.
func NewReadOnlyArrayAttribute(typ AttributeType, name string) Attribute {
	return Attribute{DataType: typ, Name: name, IsArray: true, IsReadable: true, IsWritable: false}
}

// ErrorKind discriminates the ways a HAL operation can fail.
type ErrorKind int

const (
	KindNotApplicable ErrorKind = iota
	KindInternal
	KindNotConnected
)

// Error is the HAL's error type: ported from HalError, with the
// NotConnected variant's device/port context preserved for logging.
type Error struct {
	Kind   ErrorKind
	Device string
	Port   string
	Detail string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotApplicable:
		return "not applicable"
	case KindNotConnected:
		if e.Port != "" {
			return fmt.Sprintf("not connected %s @ %s", e.Device, e.Port)
		}
		return fmt.Sprintf("not connected %s", e.Device)
	default:
		return fmt.Sprintf("internal error: %s", e.Detail)
	}
}

// NotApplicable constructs the "operation doesn't apply to this device"
// variant.
func NotApplicable() error {
	return &Error{Kind: KindNotApplicable}
}

// NotConnected constructs the "no device present at this address/port"
// variant.
func NotConnected(device, port string) error {
	return &Error{Kind: KindNotConnected, Device: device, Port: port}
}

// Internal wraps an unexpected underlying error.
func Internal(err error) error {
	return &Error{Kind: KindInternal, Detail: err.Error()}
}
