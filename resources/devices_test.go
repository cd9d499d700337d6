package resources

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/jasta/coaphald/coreapi"
)

func TestDevicesListsEveryDevice(t *testing.T) {
	h := newFakeHAL(newFakeDevice("in1", "mock"), newFakeDevice("in2", "other"))
	d := &Devices{Hal: h}

	req := &coreapi.Request{Code: codes.GET}
	resp := &coreapi.Response{}
	if hErr := d.Handle(req, resp, nil); hErr != nil {
		t.Fatalf("Handle: %v", hErr)
	}

	var docs []deviceJSON
	if err := jsoniter.Unmarshal(resp.Payload, &docs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d devices, want 2", len(docs))
	}
}

func TestDevicesByDriverFiltersInventory(t *testing.T) {
	h := newFakeHAL(newFakeDevice("in1", "mock"), newFakeDevice("in2", "other"))
	d := &Devices{Hal: h}

	req := &coreapi.Request{Code: codes.GET}
	resp := &coreapi.Response{}
	remaining := coreapi.Path{"by_driver", "mock"}
	if hErr := d.Handle(req, resp, remaining); hErr != nil {
		t.Fatalf("Handle: %v", hErr)
	}

	var docs []deviceJSON
	if err := jsoniter.Unmarshal(resp.Payload, &docs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(docs) != 1 || docs[0].Address != "in1" {
		t.Fatalf("docs = %+v, want exactly in1", docs)
	}
}

func TestDevicesRejectsUnknownSubpath(t *testing.T) {
	h := newFakeHAL(newFakeDevice("in1", "mock"))
	d := &Devices{Hal: h}

	req := &coreapi.Request{Code: codes.GET}
	resp := &coreapi.Response{}
	hErr := d.Handle(req, resp, coreapi.Path{"nonsense"})
	if hErr == nil || hErr.Code() != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", hErr)
	}
}
