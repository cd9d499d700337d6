package coreapi

import (
	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// Endpoint is the identity of a peer at the transport layer, as RFC 7641
// defines it: whatever the transport can tell us (IP+port for UDP). Only
// bytes and a stable string form are required of it so it can key a
// RequestCacheKey or an observer registration.
type Endpoint interface {
	// Bytes returns a value suitable for equality/ordering comparisons.
	Bytes() []byte
	String() string
}

// Request is the core's view of an incoming CoAP request: already parsed
// by the external codec, reduced to what a Resource or the block/discovery
// engines need. The core never touches the wire.
type Request struct {
	Code     codes.Code
	Token    message.Token
	Path     Path
	Queries  []string
	Payload  []byte
	Options  message.Options
	Endpoint Endpoint
}

// Response is the core's mutable, pre-wire view of an outgoing response. A
// Resource.Handle populates it; the block handler may subsequently rewrite
// Payload and append a Block2 option before it is finally marshalled by the
// transport adapter.
type Response struct {
	Code          codes.Code
	ContentFormat message.MediaType
	Options       message.Options
	Payload       []byte
}

// HasOption reports whether id is already present among Options, the way
// the block handler checks "did the handler already set Block2 itself".
func (r *Response) HasOption(id message.OptionID) bool {
	for _, o := range r.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// SetOption replaces (or appends) a single-valued option by ID.
func (r *Response) SetOption(id message.OptionID, value []byte) {
	for i, o := range r.Options {
		if o.ID == id {
			r.Options[i].Value = value
			return
		}
	}
	r.Options = append(r.Options, message.Option{ID: id, Value: value})
}

// RemoveOption drops all occurrences of id.
func (r *Response) RemoveOption(id message.OptionID) {
	kept := r.Options[:0]
	for _, o := range r.Options {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	r.Options = kept
}

// LinkAttributeWriter accumulates CoRE Link Format (RFC 6690) attributes
// for a single resource, in the order Resource.WriteAttributes appends
// them. Rendering happens in the discovery resource, which knows how to
// quote/format values by type.
type LinkAttributeWriter struct {
	attrs []LinkAttribute
}

// LinkAttribute is a single "name=value" pair of a link-format resource
// description; Quoted controls whether value is wrapped in double quotes
// when rendered (RFC 6690 §2 distinguishes quoted-string vs token/cardinal
// attribute values).
type LinkAttribute struct {
	Name   string
	Value  string
	Quoted bool
}

// Attr appends an unquoted token attribute, e.g. `if=sensor`.
func (w *LinkAttributeWriter) Attr(name, value string) *LinkAttributeWriter {
	w.attrs = append(w.attrs, LinkAttribute{Name: name, Value: value})
	return w
}

// AttrQuoted appends a quoted-string attribute, e.g. `rt="echo"`.
func (w *LinkAttributeWriter) AttrQuoted(name, value string) *LinkAttributeWriter {
	w.attrs = append(w.attrs, LinkAttribute{Name: name, Value: value, Quoted: true})
	return w
}

// Attrs returns the accumulated attributes in insertion order.
func (w *LinkAttributeWriter) Attrs() []LinkAttribute {
	return w.attrs
}

// Resource is the contract every registered path handler satisfies. It is
// bound at router-build time and is immutable thereafter: no mutation
// happens after Build, only concurrent reads of resource state, the way
// CoapResourceNode binds a boxed trait object once in the original server.
type Resource interface {
	// RelativePath is the '/'-joined path stem this resource is registered
	// at, relative to whatever parent it's added under.
	RelativePath() string
	// DebugName is a stable, human-readable identifier used only in logs.
	DebugName() string
	// IsDiscoverable reports whether this resource appears in
	// .well-known/core.
	IsDiscoverable() bool
	// WriteAttributes appends this resource's CoRE link-format attributes.
	WriteAttributes(w *LinkAttributeWriter) *LinkAttributeWriter
	// Handle answers a request. remaining is the suffix of the request
	// path past wherever this resource was matched; it is empty on an
	// exact match.
	Handle(req *Request, resp *Response, remaining Path) *HandlingError
}
