// Package observe implements RFC 7641 Observe: per-path registries of
// long-lived client subscriptions, a notification fan-out, and the bridge
// between the HAL's blocking change producers and the server's
// notification delivery.
package observe

import (
	"github.com/plgd-dev/go-coap/v2/message"

	"github.com/jasta/coaphald/coreapi"
)

// Observer identifies one client's subscription to a path: the entry in
// the list of observers is keyed by endpoint+token per RFC 7641 §4.1, so
// re-registering the same pair updates rather than duplicates the entry.
type Observer struct {
	Endpoint coreapi.Endpoint
	Token    message.Token
}

func (o Observer) key() string {
	return o.Endpoint.String() + "@" + o.Token.String()
}

// Sender delivers a single notification datagram to a registered
// observer. Its implementation lives in the transport package, which
// knows how to reach back out to a UDP peer outside of any inbound
// request/response cycle.
type Sender interface {
	SendNotification(obs Observer, seq uint32, resp *coreapi.Response) error
}
