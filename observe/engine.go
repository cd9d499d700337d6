package observe

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/jasta/coaphald/coreapi"
)

// ObservableResource is implemented by resources that support RFC 7641
// subscriptions on top of their normal Resource.Handle GET semantics.
type ObservableResource interface {
	coreapi.Resource

	// HolderFor returns the ObserversHolder for remaining (the
	// resource-relative path within this resource that is being
	// observed), creating it on first use. Calls for the same remaining
	// path must always return the same holder.
	HolderFor(remaining coreapi.Path) *ObserversHolder

	// StartWatch begins watching whatever HAL state backs remaining, to be
	// called exactly once per activation (first observer attaching).
	StartWatch(remaining coreapi.Path) (WatchSource, error)

	// Render produces the current representation of remaining, the same
	// payload a plain GET would return, used to build each notification.
	Render(remaining coreapi.Path) (*coreapi.Response, *coreapi.HandlingError)
}

// WatchSource is the minimal shape the engine needs from a HAL watch: an
// events channel and a way to release it. hal.WatchHandle satisfies this
// directly.
type WatchSource interface {
	Events() <-chan struct{}
	Close() error
}

// DefaultWatchThreadBudget bounds how many concurrent dedicated watch
// threads the engine will run at once, so a client subscribing to
// unboundedly many distinct paths can't exhaust OS threads.
const DefaultWatchThreadBudget = 64

// Engine runs the cross-execution-model bridge described in spec §4.5:
// each active watch gets its own OS thread (via runtime.LockOSThread,
// budgeted by a semaphore) that blocks on the HAL's channel and hands off
// a notification fan-out to the holder for every event.
type Engine struct {
	sem *semaphore.Weighted
	log *logrus.Entry

	wg sync.WaitGroup
}

// NewEngine constructs an Engine with the given concurrent-watch-thread
// budget.
func NewEngine(threadBudget int64) *Engine {
	return &Engine{
		sem: semaphore.NewWeighted(threadBudget),
		log: logrus.WithField("component", "observe-engine"),
	}
}

// HandleRegister processes an Observe registration (the Observe option
// set to 0) against resource, at remaining. Deregistration is
// HandleDeregister's job; the transport calls it when the option carries
// a non-zero value.
func (e *Engine) HandleRegister(ctx context.Context, resource ObservableResource, remaining coreapi.Path, obs Observer) error {
	holder := resource.HolderFor(remaining)
	if !holder.Attach(obs) {
		return nil
	}
	return e.activate(ctx, resource, remaining, holder)
}

// HandleDeregister processes a client forgetting an observation.
func (e *Engine) HandleDeregister(resource ObservableResource, remaining coreapi.Path, obs Observer) {
	holder := resource.HolderFor(remaining)
	if !holder.Detach(obs) {
		return
	}
	if handle := holder.TakeWatch(); handle != nil {
		if err := handle.Close(); err != nil {
			e.log.WithError(err).Warn("error closing watch handle")
		}
	}
}

// activate starts the watch for a newly-active holder and launches its
// dedicated bridge goroutine. The semaphore acquisition happens
// synchronously so a caller can observe backpressure (ctx cancellation)
// if the thread budget is exhausted, rather than spawning an unbounded
// number of blocked bridge goroutines.
func (e *Engine) activate(ctx context.Context, resource ObservableResource, remaining coreapi.Path, holder *ObserversHolder) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire watch thread budget: %w", err)
	}

	source, err := resource.StartWatch(remaining)
	if err != nil {
		e.sem.Release(1)
		return fmt.Errorf("start watch: %w", err)
	}
	holder.SetWatch(source)

	e.wg.Add(1)
	go e.bridge(resource, remaining, holder, source)
	return nil
}

// bridge is the dedicated-OS-thread half of the cross-execution-model
// bridge: it locks its goroutine to the current OS thread (the HAL's
// blocking channel receive is, conceptually, a blocking syscall-style
// wait) and hands every change off to the holder's cooperative
// notification fan-out.
func (e *Engine) bridge(resource ObservableResource, remaining coreapi.Path, holder *ObserversHolder, source WatchSource) {
	defer e.wg.Done()
	defer e.sem.Release(1)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for range source.Events() {
		if holder.Count() == 0 {
			// Last observer detached between this wakeup and the one
			// that will close the handle; stop feeding it regardless.
			return
		}
		resp, hErr := resource.Render(remaining)
		if hErr != nil {
			e.log.WithField("path", remaining.String()).WithError(hErr).
				Warn("failed to render observed representation")
			continue
		}
		holder.NotifyAll(resp)
	}
}

// Wait blocks until every bridge goroutine this engine started has
// returned. Used by tests and graceful shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}
