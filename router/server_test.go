package router

import (
	"context"
	"testing"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/jasta/coaphald/coreapi"
)

// echoResource reflects the request payload back, grounding scenario S1.
type echoResource struct{}

func (echoResource) RelativePath() string { return "echo" }
func (echoResource) DebugName() string    { return "EchoResource" }
func (echoResource) IsDiscoverable() bool { return true }
func (echoResource) WriteAttributes(w *coreapi.LinkAttributeWriter) *coreapi.LinkAttributeWriter {
	return w.Attr("rt", "echo")
}
func (echoResource) Handle(req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	resp.Code = codes.Content
	resp.Payload = append([]byte(nil), req.Payload...)
	return nil
}

// attrResource is a minimal resource used to populate discovery filter
// scenarios with a configurable resource-type attribute.
type attrResource struct {
	path string
	rt   string
}

func (r attrResource) RelativePath() string { return r.path }
func (r attrResource) DebugName() string    { return r.path }
func (r attrResource) IsDiscoverable() bool { return true }
func (r attrResource) WriteAttributes(w *coreapi.LinkAttributeWriter) *coreapi.LinkAttributeWriter {
	return w.Attr("rt", r.rt)
}
func (attrResource) Handle(req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	resp.Code = codes.Content
	return nil
}

// getOnlyResource replies 4.05 to anything but GET, grounding S6.
type getOnlyResource struct{}

func (getOnlyResource) RelativePath() string { return "time" }
func (getOnlyResource) DebugName() string    { return "TimeResource" }
func (getOnlyResource) IsDiscoverable() bool { return false }
func (getOnlyResource) WriteAttributes(w *coreapi.LinkAttributeWriter) *coreapi.LinkAttributeWriter {
	return w
}
func (getOnlyResource) Handle(req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	if req.Code != codes.GET {
		return coreapi.MethodNotAllowed()
	}
	resp.Code = codes.Content
	resp.Payload = []byte("2026-07-29T00:00:00Z")
	return nil
}

func TestEchoRoundTrip(t *testing.T) {
	srv := NewBuilder().AddResource(echoResource{}).Build()

	req := &coreapi.Request{Code: codes.GET, Path: coreapi.SplitPath("/echo"), Payload: []byte("Echo test")}
	resp := srv.Handle(context.Background(), req)
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Code != codes.Content {
		t.Errorf("Code = %v, want Content", resp.Code)
	}
	if string(resp.Payload) != "Echo test" {
		t.Errorf("Payload = %q, want %q", resp.Payload, "Echo test")
	}
}

func TestDiscoveryListsRegisteredResources(t *testing.T) {
	srv := NewBuilder().AddResource(echoResource{}).Build()

	req := &coreapi.Request{Code: codes.GET, Path: coreapi.SplitPath("/.well-known/core")}
	resp := srv.Handle(context.Background(), req)
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.ContentFormat != message.AppLinkFormat {
		t.Errorf("ContentFormat = %v, want AppLinkFormat", resp.ContentFormat)
	}
	want := "</echo>;rt=echo"
	if string(resp.Payload) != want {
		t.Errorf("Payload = %q, want %q", resp.Payload, want)
	}
}

func TestDiscoveryFilterNarrowsToMatchingResources(t *testing.T) {
	srv := NewBuilder().
		AddResource(attrResource{path: "a", rt: "x"}).
		AddResource(attrResource{path: "b", rt: "y"}).
		Build()

	req := &coreapi.Request{Code: codes.GET, Path: coreapi.SplitPath("/.well-known/core"), Queries: []string{"rt=x"}}
	resp := srv.Handle(context.Background(), req)
	if resp == nil {
		t.Fatal("expected a response")
	}
	want := "</a>;rt=x"
	if string(resp.Payload) != want {
		t.Errorf("Payload = %q, want %q", resp.Payload, want)
	}
}

func TestDiscoveryFilterMissSuppressesReply(t *testing.T) {
	srv := NewBuilder().
		AddResource(attrResource{path: "a", rt: "x"}).
		AddResource(attrResource{path: "b", rt: "y"}).
		Build()

	req := &coreapi.Request{Code: codes.GET, Path: coreapi.SplitPath("/.well-known/core"), Queries: []string{"rt=z"}}
	resp := srv.Handle(context.Background(), req)
	if resp != nil {
		t.Errorf("expected no reply, got %+v", resp)
	}
}

func TestMethodNotAllowedYieldsCorrectCode(t *testing.T) {
	srv := NewBuilder().AddResource(getOnlyResource{}).Build()

	req := &coreapi.Request{Code: codes.POST, Path: coreapi.SplitPath("/time")}
	resp := srv.Handle(context.Background(), req)
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Code != codes.MethodNotAllowed {
		t.Errorf("Code = %v, want MethodNotAllowed", resp.Code)
	}
}

func TestUnknownPathYieldsNotFound(t *testing.T) {
	srv := NewBuilder().AddResource(echoResource{}).Build()

	req := &coreapi.Request{Code: codes.GET, Path: coreapi.SplitPath("/nonexistent")}
	resp := srv.Handle(context.Background(), req)
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Code != codes.NotFound {
		t.Errorf("Code = %v, want NotFound", resp.Code)
	}
}

func TestLongestPrefixMatchPassesRemainingPath(t *testing.T) {
	var gotRemaining coreapi.Path
	r := &remainingCapturingResource{onHandle: func(remaining coreapi.Path) {
		gotRemaining = remaining
	}}
	srv := NewBuilder().AddResource(r).Build()

	req := &coreapi.Request{Code: codes.GET, Path: coreapi.SplitPath("/devices/1/motor")}
	srv.Handle(context.Background(), req)

	want := coreapi.Path{"1", "motor"}
	if len(gotRemaining) != len(want) {
		t.Fatalf("remaining = %v, want %v", gotRemaining, want)
	}
	for i := range want {
		if gotRemaining[i] != want[i] {
			t.Errorf("remaining[%d] = %q, want %q", i, gotRemaining[i], want[i])
		}
	}
}

type remainingCapturingResource struct {
	onHandle func(remaining coreapi.Path)
}

func (remainingCapturingResource) RelativePath() string { return "devices" }
func (remainingCapturingResource) DebugName() string    { return "devices" }
func (remainingCapturingResource) IsDiscoverable() bool { return false }
func (remainingCapturingResource) WriteAttributes(w *coreapi.LinkAttributeWriter) *coreapi.LinkAttributeWriter {
	return w
}
func (r *remainingCapturingResource) Handle(req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	r.onHandle(remaining)
	resp.Code = codes.Content
	return nil
}
