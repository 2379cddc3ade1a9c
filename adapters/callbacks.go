package adapters

import (
	"context"
	"log/slog"
	"sync"
	"time"

	seatbridge "github.com/opengovern/seat-bridge"
)

// DefaultLateRetention is how long a timed-out callback keeps absorbing a
// late response before it is deleted.
const DefaultLateRetention = 60 * time.Second

type callbackState int

const (
	callbackLive callbackState = iota
	callbackDefused
)

type callback struct {
	state    callbackState
	delivery chan *seatbridge.Result
	cancel   context.CancelFunc // stops the script loads behind this callback
	timer    *time.Timer
}

// callbackRegistry is the set of named JSONP callbacks currently expecting a
// payload. A timed-out callback is defused: it stays registered for the
// retention window so a late payload is swallowed, then it is removed and
// its loads are cancelled.
type callbackRegistry struct {
	mu        sync.Mutex
	callbacks map[string]*callback
	logger    *slog.Logger
}

func newCallbackRegistry(logger *slog.Logger) *callbackRegistry {
	return &callbackRegistry{callbacks: make(map[string]*callback), logger: logger}
}

func (r *callbackRegistry) register(name string, cancel context.CancelFunc) <-chan *seatbridge.Result {
	ch := make(chan *seatbridge.Result, 1)
	r.mu.Lock()
	r.callbacks[name] = &callback{delivery: ch, cancel: cancel}
	r.mu.Unlock()
	return ch
}

// deliver hands a payload to the named callback. It reports whether a live
// callback accepted it.
func (r *callbackRegistry) deliver(name string, res *seatbridge.Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[name]
	if !ok {
		r.logger.Debug("dropping payload for unknown callback", "callback", name)
		return false
	}
	if cb.state == callbackDefused {
		r.logger.Debug("absorbed late payload", "callback", name)
		return false
	}
	select {
	case cb.delivery <- res:
		return true
	default:
		// A payload was already delivered; later scripts lose.
		return false
	}
}

// defuse turns the callback into a sink for retention, then removes it.
func (r *callbackRegistry) defuse(name string, retention time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[name]
	if !ok || cb.state == callbackDefused {
		return
	}
	cb.state = callbackDefused
	cb.timer = time.AfterFunc(retention, func() { r.remove(name) })
}

// remove deletes the callback and cancels its outstanding loads.
func (r *callbackRegistry) remove(name string) {
	r.mu.Lock()
	cb, ok := r.callbacks[name]
	delete(r.callbacks, name)
	r.mu.Unlock()
	if !ok {
		return
	}
	if cb.timer != nil {
		cb.timer.Stop()
	}
	if cb.cancel != nil {
		cb.cancel()
	}
}

// state reports the callback state and whether it exists.
func (r *callbackRegistry) state(name string) (callbackState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.callbacks[name]
	if !ok {
		return 0, false
	}
	return cb.state, true
}

func (r *callbackRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}
