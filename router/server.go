// Package router dispatches incoming requests to the most specific
// registered resource and, when enabled, exposes a synthetic
// .well-known/core discovery resource over the whole tree.
package router

import (
	"context"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jasta/coaphald/blockhandler"
	"github.com/jasta/coaphald/coreapi"
)

// resourceNode pairs a bound resource with its full path, computed once at
// Builder.add time by concatenating every base stem it was nested under.
type resourceNode struct {
	fullPath coreapi.Path
	resource coreapi.Resource
}

// Builder collects resources and base-path prefixes and, on Build,
// produces an immutable Server: the same two-phase construction the
// original resource-server builder uses (register everything, then freeze
// into a lookup map), so that dispatch never has to take a write lock.
type Builder struct {
	coreDiscovery bool
	blockConfig   blockhandler.Config
	metrics       *Metrics
	nodes         []resourceNode
}

// NewBuilder returns a Builder with core discovery enabled and default
// block-handler configuration, matching CoapResourceServerBuilder::new's
// defaults.
func NewBuilder() *Builder {
	return &Builder{
		coreDiscovery: true,
		blockConfig:   blockhandler.DefaultConfig(),
	}
}

// WithCoreDiscovery toggles the synthetic .well-known/core resource.
func (b *Builder) WithCoreDiscovery(enabled bool) *Builder {
	b.coreDiscovery = enabled
	return b
}

// WithBlockConfig overrides the block handler's configuration.
func (b *Builder) WithBlockConfig(config blockhandler.Config) *Builder {
	b.blockConfig = config
	return b
}

// AddResource registers a single resource at its own RelativePath.
func (b *Builder) AddResource(resource coreapi.Resource) *Builder {
	b.nodes = append(b.nodes, resourceNode{
		fullPath: coreapi.SplitPath(resource.RelativePath()),
		resource: resource,
	})
	return b
}

// AddChildResources nests every resource already registered on child under
// baseStem, the equivalent of add_child_resources: it rewrites each
// resource's full path to be prefixed by baseStem's segments.
func (b *Builder) AddChildResources(baseStem string, child *Builder) *Builder {
	prefix := coreapi.SplitPath(baseStem)
	for _, n := range child.nodes {
		full := append(prefix.Clone(), n.fullPath...)
		b.nodes = append(b.nodes, resourceNode{fullPath: full, resource: n.resource})
	}
	return b
}

// Build freezes the registered resources into a Server. If core discovery
// is enabled, a synthetic resource closing over a snapshot of the mapping
// is inserted at .well-known/core.
func (b *Builder) Build() *Server {
	mapping := make(map[string]resourceNode, len(b.nodes)+1)
	for _, n := range b.nodes {
		mapping[n.fullPath.String()] = n
	}

	if b.coreDiscovery {
		entries := make([]discoveryEntry, 0, len(mapping))
		for path, n := range mapping {
			entries = append(entries, discoveryEntry{path: path, resource: n.resource})
		}
		core := newDiscoveryResource(entries)
		corePath := coreapi.SplitPath(core.RelativePath())
		mapping[corePath.String()] = resourceNode{
			fullPath: corePath,
			resource: core,
		}
	}

	return &Server{
		mapping:      mapping,
		blockHandler: blockhandler.New(b.blockConfig),
		metrics:      b.metrics,
		log:          logrus.WithField("component", "router"),
	}
}

// Server is the built, immutable dispatch table plus the one piece of
// mutable shared state it owns: the block handler's cache.
type Server struct {
	mapping      map[string]resourceNode
	blockHandler *blockhandler.BlockHandler
	metrics      *Metrics
	log          *logrus.Entry
}

// Handle dispatches req to the most specific matching resource, threading
// the exchange through the block handler exactly once on each side, and
// materialises any HandlingError into a response. It returns nil if no
// reply should be sent at all (HandlingError.HasCode() == false).
func (s *Server) Handle(ctx context.Context, req *coreapi.Request) *coreapi.Response {
	matchDepth, node, found := s.findMostSpecific(req.Path)

	var resp coreapi.Response
	var hErr *coreapi.HandlingError
	resourceName := "<none>"
	if !found {
		hErr = coreapi.NotFound()
		if s.metrics != nil {
			s.metrics.notFoundTotal.Inc()
		}
	} else {
		resourceName = node.resource.DebugName()
		remaining := req.Path[matchDepth:]
		s.log.WithField("path", req.Path.String()).
			WithField("resource", resourceName).
			Debug("dispatching request")
		if s.metrics != nil {
			timer := prometheus.NewTimer(s.metrics.dispatchSeconds)
			hErr = s.dispatchToResource(ctx, node.resource, req, &resp, remaining)
			timer.ObserveDuration()
			s.metrics.requestsTotal.WithLabelValues(resourceName).Inc()
		} else {
			hErr = s.dispatchToResource(ctx, node.resource, req, &resp, remaining)
		}
	}

	if hErr != nil {
		if !hErr.HasCode() {
			return nil
		}
		applyErrorResponse(&resp, hErr)
	}
	return &resp
}

// FindResource resolves path to its most specific registered resource
// without dispatching a request, so a caller that needs to act on the
// matched resource itself (the transport layer registering an Observe
// subscription) doesn't have to duplicate the longest-prefix search.
func (s *Server) FindResource(path coreapi.Path) (coreapi.Resource, coreapi.Path, bool) {
	depth, node, found := s.findMostSpecific(path)
	if !found {
		return nil, nil, false
	}
	return node.resource, path[depth:], true
}

// findMostSpecific walks path depths from longest to shortest (the
// reverse-search CoapResourceServer::find_most_specific_handler performs),
// returning the first registered prefix that matches.
func (s *Server) findMostSpecific(path coreapi.Path) (int, resourceNode, bool) {
	for depth := len(path); depth >= 0; depth-- {
		key := path[:depth].String()
		if node, ok := s.mapping[key]; ok {
			return depth, node, true
		}
	}
	return 0, resourceNode{}, false
}

// dispatchToResource threads the request through the block handler on
// both sides of the resource call, matching maybe_dispatch_to_handler:
// if InterceptRequest already served a cached block, the resource handler
// is not invoked at all.
func (s *Server) dispatchToResource(ctx context.Context, resource coreapi.Resource, req *coreapi.Request, resp *coreapi.Response, remaining coreapi.Path) *coreapi.HandlingError {
	served, hErr := s.blockHandler.InterceptRequest(ctx, req, resp)
	if hErr != nil {
		return hErr
	}
	if served {
		return nil
	}

	if hErr := resource.Handle(req, resp, remaining); hErr != nil {
		return hErr
	}

	if _, hErr := s.blockHandler.InterceptResponse(ctx, req, resp); hErr != nil {
		return hErr
	}
	return nil
}

// applyErrorResponse materialises a HandlingError into resp, the Go
// equivalent of apply_response_from_error.
func applyErrorResponse(resp *coreapi.Response, hErr *coreapi.HandlingError) {
	resp.Code = hErr.Code()
	resp.ContentFormat = message.TextPlain
	resp.Payload = []byte(hErr.Message)
	resp.Options = nil
}
