package resources

import (
	"testing"

	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/jasta/coaphald/coreapi"
)

// TestEchoReturnsPayloadUnchanged grounds scenario S1.
func TestEchoReturnsPayloadUnchanged(t *testing.T) {
	req := &coreapi.Request{Code: codes.GET, Payload: []byte("hi")}
	resp := &coreapi.Response{}

	if hErr := (Echo{}).Handle(req, resp, nil); hErr != nil {
		t.Fatalf("Handle: %v", hErr)
	}
	if resp.Code != codes.Content {
		t.Errorf("Code = %v, want Content", resp.Code)
	}
	if string(resp.Payload) != "hi" {
		t.Errorf("Payload = %q, want %q", resp.Payload, "hi")
	}
}
