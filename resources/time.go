package resources

import (
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"

	"github.com/jasta/coaphald/coreapi"
)

// Time reports the current wall-clock time, ported from TimeResource: GET
// only (anything else is a 4.05, grounding scenario S6), with an optional
// ?format= query selecting text (milliseconds since epoch, the default)
// or json.
type Time struct {
	// Now is overridable for tests; defaults to time.Now when nil.
	Now func() time.Time
}

func (Time) RelativePath() string { return "time" }
func (Time) DebugName() string    { return "TimeResource" }
func (Time) IsDiscoverable() bool { return true }

func (Time) WriteAttributes(w *coreapi.LinkAttributeWriter) *coreapi.LinkAttributeWriter {
	return w.AttrQuoted("rt", "time").Attr("ct", strconv.Itoa(int(message.TextPlain)))
}

func (t Time) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t Time) Handle(req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	if req.Code != codes.GET {
		return coreapi.MethodNotAllowed()
	}

	format := queryValue(req.Queries, "format")
	if format == "" {
		format = "text"
	}
	nowMillis := t.now().UnixMilli()

	switch strings.ToLower(format) {
	case "json":
		payload, err := jsoniter.Marshal(timeJSON{
			Value: nowMillis,
			Clock: "realtime",
			Unit:  "milliseconds_since_epoch",
		})
		if err != nil {
			return coreapi.Internal(err)
		}
		resp.Code = codes.Content
		resp.ContentFormat = message.AppJSON
		resp.Payload = payload
	case "text":
		resp.Code = codes.Content
		resp.ContentFormat = message.TextPlain
		resp.Payload = []byte(strconv.FormatInt(nowMillis, 10))
	default:
		return coreapi.BadRequest("Unknown format " + format)
	}
	return nil
}

type timeJSON struct {
	Value int64  `json:"value"`
	Clock string `json:"clock"`
	Unit  string `json:"unit"`
}

// queryValue finds the first value for key among raw "key=value" query
// strings (spec's UriQuery representation, see router.parseQuery).
func queryValue(raw []string, key string) string {
	for _, q := range raw {
		k, v, found := strings.Cut(q, "=")
		if found && k == key {
			return v
		}
	}
	return ""
}
