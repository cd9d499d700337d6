package resources

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/jasta/coaphald/coreapi"
	"github.com/jasta/coaphald/observe"
)

type testEndpoint string

func (e testEndpoint) Bytes() []byte  { return []byte(e) }
func (e testEndpoint) String() string { return string(e) }

func TestDeviceGetReturnsDeviceDocument(t *testing.T) {
	h := newFakeHAL(newFakeDevice("in1", "mock"))
	d := &Device{Hal: h, Sender: &fakeSender{}}

	req := &coreapi.Request{Code: codes.GET}
	resp := &coreapi.Response{}
	if hErr := d.Handle(req, resp, coreapi.Path{"in1"}); hErr != nil {
		t.Fatalf("Handle: %v", hErr)
	}

	var doc deviceJSON
	if err := jsoniter.Unmarshal(resp.Payload, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Address != "in1" || doc.DriverName != "mock" {
		t.Errorf("doc = %+v, want address in1/driver mock", doc)
	}
}

func TestDeviceGetUnknownAddressYieldsNotFound(t *testing.T) {
	h := newFakeHAL(newFakeDevice("in1", "mock"))
	d := &Device{Hal: h, Sender: &fakeSender{}}

	req := &coreapi.Request{Code: codes.GET}
	resp := &coreapi.Response{}
	hErr := d.Handle(req, resp, coreapi.Path{"nope"})
	if hErr == nil || hErr.Code() != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", hErr)
	}
}

func TestDevicePutUpdatesAttributeAndNotifiesObservers(t *testing.T) {
	dev := newFakeDevice("in1", "mock")
	h := newFakeHAL(dev)
	sender := &fakeSender{}
	d := &Device{Hal: h, Sender: sender}

	remaining := coreapi.Path{"in1"}
	holder := d.HolderFor(remaining)
	obs := observe.Observer{Endpoint: testEndpoint("peer-1"), Token: message.Token("tok")}
	if !holder.Attach(obs) {
		t.Fatal("Attach should report becameActive on first observer")
	}

	putReq := &coreapi.Request{
		Code:    codes.PUT,
		Payload: []byte(`[{"name":"label","value":"bright"}]`),
	}
	putResp := &coreapi.Response{}
	if hErr := d.Handle(putReq, putResp, remaining); hErr != nil {
		t.Fatalf("PUT Handle: %v", hErr)
	}
	if putResp.Code != codes.Changed {
		t.Errorf("PUT Code = %v, want Changed", putResp.Code)
	}
	if got, _ := dev.GetAttributeStr("label"); got != "bright" {
		t.Errorf("attribute label = %q, want %q", got, "bright")
	}

	if sender.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", sender.count())
	}
}

func TestDevicePutRejectsMalformedPayload(t *testing.T) {
	h := newFakeHAL(newFakeDevice("in1", "mock"))
	d := &Device{Hal: h, Sender: &fakeSender{}}

	req := &coreapi.Request{Code: codes.PUT, Payload: []byte("not json")}
	resp := &coreapi.Response{}
	hErr := d.Handle(req, resp, coreapi.Path{"in1"})
	if hErr == nil || hErr.Code() != codes.BadRequest {
		t.Fatalf("expected BadRequest, got %v", hErr)
	}
}

func TestDeviceStartWatchNarrowsToNamedAttribute(t *testing.T) {
	dev := newFakeDevice("in1", "mock")
	h := newFakeHAL(dev)
	d := &Device{Hal: h, Sender: &fakeSender{}}

	if _, err := d.StartWatch(coreapi.Path{"in1", "attributes", "label"}); err != nil {
		t.Fatalf("StartWatch: %v", err)
	}
	if len(dev.watched) != 1 || dev.watched[0] != "label" {
		t.Errorf("watched = %v, want [label]", dev.watched)
	}
}

func TestDeviceStartWatchOnWholeDeviceWatchesEveryAttribute(t *testing.T) {
	dev := newFakeDevice("in1", "mock")
	h := newFakeHAL(dev)
	d := &Device{Hal: h, Sender: &fakeSender{}}

	if _, err := d.StartWatch(coreapi.Path{"in1"}); err != nil {
		t.Fatalf("StartWatch: %v", err)
	}
	if len(dev.watched) != 2 {
		t.Errorf("watched = %v, want 2 attributes", dev.watched)
	}
}
