package observe

import (
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/jasta/coaphald/coreapi"
	"github.com/jasta/coaphald/hal"
)

// ObserversHolder is the set of active observers for exactly one observed
// path, plus the watch lifecycle bound to that set's non-emptiness: the
// Go equivalent of ObserversHolder/Observers from the original server,
// collapsed into a single type since Go has no async-trait split between
// "the holder" and "a handle to the currently active set".
type ObserversHolder struct {
	sender Sender
	log    *logrus.Entry

	mu        sync.Mutex
	observers map[string]Observer
	watch     hal.WatchHandle // non-nil while active

	seq atomic.Uint32
}

// NewObserversHolder constructs an empty holder that delivers
// notifications through sender.
func NewObserversHolder(sender Sender, debugName string) *ObserversHolder {
	return &ObserversHolder{
		sender:    sender,
		log:       logrus.WithField("component", "observe").WithField("resource", debugName),
		observers: make(map[string]Observer),
	}
}

// Attach registers obs, returning true iff it is the first observer (the
// holder just transitioned from empty to active, and the caller must
// start a watch).
func (h *ObserversHolder) Attach(obs Observer) (becameActive bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	wasEmpty := len(h.observers) == 0
	h.observers[obs.key()] = obs
	return wasEmpty
}

// Detach removes obs, returning true iff the holder just transitioned to
// empty (the caller must stop the watch).
func (h *ObserversHolder) Detach(obs Observer) (becameEmpty bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.observers, obs.key())
	return len(h.observers) == 0
}

// Count reports the number of currently registered observers.
func (h *ObserversHolder) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// CurrentSeq reports the most recently assigned observe sequence number
// (0 if no notification has been sent yet), so the registering GET's own
// response can carry the latest number already used; the next
// notification increments it and so is numbered above that response.
func (h *ObserversHolder) CurrentSeq() uint32 {
	return h.seq.Load()
}

// SetWatch records the watch handle the engine started on this holder's
// behalf, so a later empty-transition can retrieve and close it.
func (h *ObserversHolder) SetWatch(handle hal.WatchHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watch = handle
}

// TakeWatch clears and returns the currently recorded watch handle, or
// nil if none is set. Called once the holder has gone empty.
func (h *ObserversHolder) TakeWatch() hal.WatchHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := h.watch
	h.watch = nil
	return w
}

// NotifyAll delivers resp to every currently registered observer, reusing
// each observer's own token and a single shared, incrementing observe
// sequence number: spec §4.5's "increment a server-chosen observe
// sequence number" per notification, not per observer.
func (h *ObserversHolder) NotifyAll(resp *coreapi.Response) {
	h.mu.Lock()
	snapshot := make([]Observer, 0, len(h.observers))
	for _, obs := range h.observers {
		snapshot = append(snapshot, obs)
	}
	h.mu.Unlock()

	seq := h.seq.Inc()
	for _, obs := range snapshot {
		if err := h.sender.SendNotification(obs, seq, resp); err != nil {
			h.log.WithError(err).WithField("endpoint", obs.Endpoint.String()).
				Warn("failed to deliver notification")
		}
	}
}
