// Package coreapi defines the data model shared by the router, block
// handler and observation engine: resource paths, the Resource contract
// handlers implement, and the HandlingError taxonomy used to turn a
// handler failure into a CoAP response.
package coreapi

import "strings"

// Path is an ordered sequence of UTF-8 path segments, as derived from the
// UriPath options on a request. An empty Path means the root resource.
type Path []string

// SplitPath splits a '/'-joined path stem into segments the way
// CoapResourceNode::split_path does in the original resource builder: a
// leading or trailing slash does not introduce empty segments, but an
// internal empty segment (e.g. "a//b") is preserved as-is since callers
// are expected to pass well-formed stems.
func SplitPath(stem string) Path {
	stem = strings.Trim(stem, "/")
	if stem == "" {
		return nil
	}
	return strings.Split(stem, "/")
}

// String renders the path the way it appears in CoRE link format and in
// log lines: "/a/b/c", or "/" for the root.
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	return "/" + strings.Join(p, "/")
}

// Clone returns a copy so callers may retain a Path past the lifetime of
// the slice it was derived from (e.g. caching it as part of a
// RequestCacheKey).
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}
