package resources

import (
	"strconv"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/jasta/coaphald/coreapi"
)

func fixedTime() time.Time {
	return time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
}

func TestTimeDefaultFormatIsMillisText(t *testing.T) {
	r := Time{Now: fixedTime}
	req := &coreapi.Request{Code: codes.GET}
	resp := &coreapi.Response{}

	if hErr := r.Handle(req, resp, nil); hErr != nil {
		t.Fatalf("Handle: %v", hErr)
	}
	if resp.Code != codes.Content {
		t.Errorf("Code = %v, want Content", resp.Code)
	}
	want := strconv.FormatInt(fixedTime().UnixMilli(), 10)
	if string(resp.Payload) != want {
		t.Errorf("Payload = %q, want %q", resp.Payload, want)
	}
}

func TestTimeJSONFormat(t *testing.T) {
	r := Time{Now: fixedTime}
	req := &coreapi.Request{Code: codes.GET, Queries: []string{"format=json"}}
	resp := &coreapi.Response{}

	if hErr := r.Handle(req, resp, nil); hErr != nil {
		t.Fatalf("Handle: %v", hErr)
	}
	if resp.ContentFormat != message.AppJSON {
		t.Errorf("ContentFormat = %v, want AppJSON", resp.ContentFormat)
	}
}

// TestTimeRejectsPutWithMethodNotAllowed grounds scenario S6: PUT /time
// must yield 4.05 with body "Method not supported", not 4.00.
func TestTimeRejectsPutWithMethodNotAllowed(t *testing.T) {
	r := Time{Now: fixedTime}
	req := &coreapi.Request{Code: codes.PUT}
	resp := &coreapi.Response{}

	hErr := r.Handle(req, resp, nil)
	if hErr == nil {
		t.Fatal("expected an error")
	}
	if hErr.Code() != codes.MethodNotAllowed {
		t.Errorf("Code() = %v, want MethodNotAllowed", hErr.Code())
	}
	if hErr.Message != "Method not supported" {
		t.Errorf("Message = %q, want %q", hErr.Message, "Method not supported")
	}
}
