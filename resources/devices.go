package resources

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/jasta/coaphald/coreapi"
	"github.com/jasta/coaphald/hal"
)

// Devices lists the whole HAL device inventory, and a by-driver-name
// filter of it, grounded on device_resource.rs's handle_devices_list /
// handle_devices_by_driver. It is a plain (non-observable) GET-only
// resource; observing individual devices is Device's job.
type Devices struct {
	Hal hal.Hal
}

func (Devices) RelativePath() string { return "devices" }
func (Devices) DebugName() string    { return "DevicesResource" }
func (Devices) IsDiscoverable() bool { return true }

func (Devices) WriteAttributes(w *coreapi.LinkAttributeWriter) *coreapi.LinkAttributeWriter {
	return w.Attr("rt", "devices")
}

func (d *Devices) Handle(req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	if req.Code != codes.GET {
		return coreapi.MethodNotAllowed()
	}

	devices, hErr := d.resolve(remaining)
	if hErr != nil {
		return hErr
	}

	payload, err := encodeDeviceList(devices)
	if err != nil {
		return coreapi.Internal(err)
	}
	return encodeResponse(req, resp, payload)
}

// resolve answers either the full inventory (remaining is empty) or the
// by_driver/<name> filter (remaining is ["by_driver", name]); any other
// remaining path is a miss.
func (d *Devices) resolve(remaining coreapi.Path) ([]hal.Device, *coreapi.HandlingError) {
	switch len(remaining) {
	case 0:
		devices, err := d.Hal.ListDevices()
		if err != nil {
			return nil, coreapi.Internal(err)
		}
		return devices, nil
	case 2:
		if remaining[0] != "by_driver" {
			return nil, coreapi.NotFound()
		}
		devices, err := d.Hal.ByDriver(remaining[1])
		if err != nil {
			return nil, coreapi.Internal(err)
		}
		return devices, nil
	default:
		return nil, coreapi.NotFound()
	}
}

func encodeDeviceList(devices []hal.Device) ([]byte, error) {
	docs := make([]deviceJSON, 0, len(devices))
	for _, dev := range devices {
		doc, err := deviceToJSON(dev)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return jsoniter.Marshal(docs)
}
