package resources

import (
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/jasta/coaphald/coreapi"
)

// Echo reflects the request payload back as the response payload,
// grounding scenario S1 and serving as the simplest possible
// coreapi.Resource.
type Echo struct{}

func (Echo) RelativePath() string { return "echo" }
func (Echo) DebugName() string    { return "EchoResource" }
func (Echo) IsDiscoverable() bool { return true }

func (Echo) WriteAttributes(w *coreapi.LinkAttributeWriter) *coreapi.LinkAttributeWriter {
	return w.Attr("rt", "echo")
}

func (Echo) Handle(req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	resp.Code = codes.Content
	resp.Payload = append([]byte(nil), req.Payload...)
	return nil
}
