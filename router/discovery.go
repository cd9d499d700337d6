package router

import (
	"sort"
	"strings"

	"github.com/plgd-dev/go-coap/v2/message"

	"github.com/jasta/coaphald/coreapi"
)

// discoveryEntry pairs a resource with its already-rendered full path
// string (e.g. "/echo"), frozen at Builder.Build time.
type discoveryEntry struct {
	path     string
	resource coreapi.Resource
}

// discoveryResource implements RFC 6690 CoRE Link Format discovery at
// .well-known/core. It closes over a snapshot of every resource known to
// the server at build time, the way CoreCoapResource closes over a cloned
// copy of the full path mapping.
type discoveryResource struct {
	entries []discoveryEntry
}

func newDiscoveryResource(entries []discoveryEntry) *discoveryResource {
	filtered := make([]discoveryEntry, 0, len(entries))
	for _, e := range entries {
		if e.resource.IsDiscoverable() {
			filtered = append(filtered, e)
		}
	}
	// Stable, deterministic rendering order; the original implementation
	// iterates a HashMap and so has no defined order at all, but a stable
	// order makes the filtered scenarios (S4/S5) reproducible in tests.
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].path < filtered[j].path })
	return &discoveryResource{entries: filtered}
}

func (d *discoveryResource) RelativePath() string   { return ".well-known/core" }
func (d *discoveryResource) DebugName() string      { return "CoRE" }
func (d *discoveryResource) IsDiscoverable() bool   { return false }
func (d *discoveryResource) WriteAttributes(w *coreapi.LinkAttributeWriter) *coreapi.LinkAttributeWriter {
	return w
}

// Handle renders every discoverable resource matching the request's
// UriQuery filter into CoRE link format. If the filter (or the unfiltered
// set) yields nothing, the response is suppressed: spec §4.4's
// empty-reply-suppression behaviour, which this implementation always
// enables, matching the resolved default for suppress_empty_core_reply.
func (d *discoveryResource) Handle(req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	filter := parseQuery(req.Queries)

	var lines []string
	for _, e := range d.entries {
		attrs := e.resource.WriteAttributes(&coreapi.LinkAttributeWriter{}).Attrs()
		if !matchesFilter(attrs, filter) {
			continue
		}
		lines = append(lines, renderLink(e.path, attrs))
	}

	if len(lines) == 0 {
		return coreapi.NotHandled()
	}

	resp.ContentFormat = message.AppLinkFormat
	resp.Payload = []byte(strings.Join(lines, ","))
	return nil
}

// matchesFilter reports whether attrs satisfies every (key, value) pair in
// filter: spec §4.4 requires an exact value match for every required key.
func matchesFilter(attrs []coreapi.LinkAttribute, filter map[string]string) bool {
	for key, want := range filter {
		found := false
		for _, a := range attrs {
			if a.Name == key && a.Value == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// renderLink formats one link-format entry: </path>;attr1="v";attr2=N
func renderLink(path string, attrs []coreapi.LinkAttribute) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(path)
	b.WriteByte('>')
	for _, a := range attrs {
		b.WriteByte(';')
		b.WriteString(a.Name)
		b.WriteByte('=')
		if a.Quoted {
			b.WriteByte('"')
			b.WriteString(a.Value)
			b.WriteByte('"')
		} else {
			b.WriteString(a.Value)
		}
	}
	return b.String()
}
