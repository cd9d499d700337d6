// Package transport is the thin adapter between plgd-dev/go-coap/v2's wire
// codec/UDP server and the core's Request/Response types: it never
// implements protocol semantics itself, only translation, matching the
// spec's "the core operates purely on in-memory representations" stance.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/mux"
	"github.com/sirupsen/logrus"

	"github.com/jasta/coaphald/coreapi"
	"github.com/jasta/coaphald/observe"
)

// Logger is the narrow Printf-style logging seam the teacher repo's
// CoAPHTTP exposes. No function in this package accepts one; NewHandler
// logs through logrus.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Dispatcher is whatever answers a fully-decoded request; router.Server
// satisfies it.
type Dispatcher interface {
	Handle(ctx context.Context, req *coreapi.Request) *coreapi.Response
}

// ResourceResolver exposes the router's longest-prefix match outside of a
// full dispatch, so the transport layer can find out whether a GET that
// carries an Observe option landed on a resource that supports
// subscriptions at all; router.Server satisfies it.
type ResourceResolver interface {
	FindResource(path coreapi.Path) (coreapi.Resource, coreapi.Path, bool)
}

// udpEndpoint adapts a net.Addr (as returned by mux.Client.RemoteAddr) to
// coreapi.Endpoint.
type udpEndpoint struct {
	addr string
}

func (e udpEndpoint) Bytes() []byte  { return []byte(e.addr) }
func (e udpEndpoint) String() string { return e.addr }

// NewHandler adapts a Dispatcher into a mux.Handler suitable for
// udp.ListenAndServe, logging unexpected translation failures through
// log. If notifier is non-nil, every request's client handle is recorded
// against its endpoint so the observe engine can later push notifications
// outside of a request/response cycle. If resolver and engine are both
// non-nil, a GET carrying RFC 7641's Observe option additionally
// registers or deregisters a subscription against whatever resource the
// router would have matched, the way Observations.HandleRegistration does
// in the teacher's HTTP bridge.
func NewHandler(dispatcher Dispatcher, notifier *Notifier, resolver ResourceResolver, engine *observe.Engine) mux.HandlerFunc {
	log := logrus.WithField("component", "transport")

	return func(w mux.ResponseWriter, r *mux.Message) {
		req, err := decodeRequest(w, r)
		if err != nil {
			log.WithError(err).Debug("dropping malformed request")
			return
		}

		if notifier != nil {
			notifier.Remember(req.Endpoint.String(), w.Client())
		}

		resp := dispatcher.Handle(r.Context, req)
		if resp == nil {
			// HandlingError with Kind NotHandled: silently drop, per spec
			// §4.2's "if code is absent, drop the response".
			return
		}

		if holder := maybeHandleObserve(r.Context, req, resolver, engine, log); holder != nil {
			resp.SetOption(message.Observe, encodeSeq(holder.CurrentSeq()))
		}

		if err := writeResponse(w, r, resp); err != nil {
			log.WithError(err).Warn("failed to write response")
		}
	}
}

// maybeHandleObserve inspects req for an Observe option and, if present
// and the matched resource supports it, registers or deregisters the
// subscription. It returns the holder a successful registration attached
// to, so the caller can stamp the initial response with the holder's
// current Observe sequence number (a later notification carries a higher
// one); nil otherwise.
func maybeHandleObserve(ctx context.Context, req *coreapi.Request, resolver ResourceResolver, engine *observe.Engine, log *logrus.Entry) *observe.ObserversHolder {
	if resolver == nil || engine == nil {
		return nil
	}
	obsValue, ok := observeOption(req.Options)
	if !ok {
		return nil
	}

	resource, remaining, found := resolver.FindResource(req.Path)
	if !found {
		return nil
	}
	obsResource, ok := resource.(observe.ObservableResource)
	if !ok {
		return nil
	}

	obs := observe.Observer{Endpoint: req.Endpoint, Token: req.Token}
	if obsValue != 0 {
		engine.HandleDeregister(obsResource, remaining, obs)
		return nil
	}

	if err := engine.HandleRegister(ctx, obsResource, remaining, obs); err != nil {
		log.WithError(err).Warn("failed to register observation")
		return nil
	}
	return obsResource.HolderFor(remaining)
}

func observeOption(opts message.Options) (uint32, bool) {
	raw, ok := firstOption(opts, message.Observe)
	if !ok {
		return 0, false
	}
	var v uint32
	for _, b := range raw {
		v = v<<8 | uint32(b)
	}
	return v, true
}

func firstOption(opts message.Options, id message.OptionID) ([]byte, bool) {
	for _, o := range opts {
		if o.ID == id {
			return o.Value, true
		}
	}
	return nil, false
}

func encodeSeq(seq uint32) []byte {
	switch {
	case seq == 0:
		return nil
	case seq < 1<<8:
		return []byte{byte(seq)}
	case seq < 1<<16:
		return []byte{byte(seq >> 8), byte(seq)}
	default:
		return []byte{byte(seq >> 16), byte(seq >> 8), byte(seq)}
	}
}

// decodeRequest builds a coreapi.Request out of a mux.Message, the
// translation CoAPToHTTPRequest performs for its own HTTP-shaped target
// type, adapted to our in-memory Request instead.
func decodeRequest(w mux.ResponseWriter, r *mux.Message) (*coreapi.Request, error) {
	path, err := r.Options.Path()
	if err != nil && err != message.ErrOptionNotFound {
		return nil, fmt.Errorf("extract Uri-Path: %w", err)
	}

	queries, err := r.Options.Queries()
	if err != nil && err != message.ErrOptionNotFound {
		return nil, fmt.Errorf("extract Uri-Query: %w", err)
	}

	var payload []byte
	if r.Body != nil {
		payload, err = ioutil.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	return &coreapi.Request{
		Code:     r.Code,
		Token:    r.Token,
		Path:     coreapi.SplitPath(path),
		Queries:  queries,
		Payload:  payload,
		Options:  r.Options,
		Endpoint: udpEndpoint{addr: w.Client().RemoteAddr().String()},
	}, nil
}

// writeResponse marshals resp back onto the wire. It constructs the
// message's option set directly (ContentFormat, then every extra option
// the block handler appended, e.g. Block2) rather than going through a
// narrower response-writer helper, mirroring how the original
// Observations.sendResponse built its message.Message by hand to retain
// full control over the option set.
func writeResponse(w mux.ResponseWriter, r *mux.Message, resp *coreapi.Response) error {
	opts := append(message.Options{}, resp.Options...)

	var buf []byte
	var n int
	var err error
	opts, n, err = opts.SetContentFormat(buf, resp.ContentFormat)
	if err == message.ErrTooSmall {
		buf = append(buf, make([]byte, n)...)
		opts, n, err = opts.SetContentFormat(buf, resp.ContentFormat)
	}
	if err != nil {
		return fmt.Errorf("set content format: %w", err)
	}

	m := message.Message{
		Code:    resp.Code,
		Token:   r.Token,
		Options: opts,
		Body:    bytes.NewReader(resp.Payload),
	}
	return w.Client().WriteMessage(&m)
}
