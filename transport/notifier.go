package transport

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/mux"

	"github.com/jasta/coaphald/coreapi"
	"github.com/jasta/coaphald/observe"
)

// Notifier is an observe.Sender backed by a registry of live mux.Client
// handles, one per endpoint that has been seen on an inbound request: the
// same shape Observations.obs (registration ID -> *coapmux.Client) takes
// in the original long-poll bridge, since a CoAP client handle is the
// only way to push a datagram outside of a request/response cycle.
type Notifier struct {
	mu      sync.Mutex
	clients map[string]mux.Client
}

// NewNotifier returns an empty Notifier; clients are registered lazily as
// requests arrive.
func NewNotifier() *Notifier {
	return &Notifier{clients: make(map[string]mux.Client)}
}

// Remember records the client handle behind the request currently being
// served, so a later out-of-band notification can find it again. Call
// this from the handler wrapper before dispatching.
func (n *Notifier) Remember(endpoint string, client mux.Client) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clients[endpoint] = client
}

// Forget drops a client handle, e.g. once its connection is known closed.
func (n *Notifier) Forget(endpoint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.clients, endpoint)
}

// SendNotification implements observe.Sender: it rebuilds a message by
// hand (content format, then the Observe sequence number option) the same
// way the teacher's sendResponse does, since the per-observer Observe
// option and arbitrary token aren't expressible through the narrower
// response-writer helper used for ordinary replies.
func (n *Notifier) SendNotification(obs observe.Observer, seq uint32, resp *coreapi.Response) error {
	n.mu.Lock()
	client, ok := n.clients[obs.Endpoint.String()]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("no live client for endpoint %s", obs.Endpoint.String())
	}

	var opts message.Options
	var buf []byte
	var sz int
	var err error
	opts, sz, err = opts.SetContentFormat(buf, resp.ContentFormat)
	if err == message.ErrTooSmall {
		buf = append(buf, make([]byte, sz)...)
		opts, sz, err = opts.SetContentFormat(buf, resp.ContentFormat)
	}
	if err != nil {
		return fmt.Errorf("set content format: %w", err)
	}
	// SetX stores each option's Value as a slice into the buffer it was
	// given, so the next Set must be handed a fresh region of buf rather
	// than the same one Content-Format just wrote into.
	buf = buf[sz:]
	var n2 int
	opts, n2, err = opts.SetObserve(buf, seq)
	if err == message.ErrTooSmall {
		buf = append(buf, make([]byte, n2)...)
		opts, n2, err = opts.SetObserve(buf, seq)
	}
	if err != nil {
		return fmt.Errorf("set observe sequence: %w", err)
	}

	m := message.Message{
		Code:    resp.Code,
		Token:   obs.Token,
		Options: opts,
		Body:    bytes.NewReader(resp.Payload),
	}
	return client.WriteMessage(&m)
}
