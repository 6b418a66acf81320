package output

import (
	"sync"
	"time"

	"rapidoutput/pkg/models"
)

// event is a manual-reset event: once signaled it stays signaled until reset
type event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		close(e.ch)
		e.set = true
	}
}

func (e *event) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.ch = make(chan struct{})
		e.set = false
	}
}

func (e *event) isSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// wait blocks for d or until the event is signaled. It reports whether the
// event was signaled.
func (e *event) wait(d time.Duration) bool {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// outputReconnect schedules the next reconnect attempt, or gives up once
// the retry budget is spent or a stop with a deadline is pending
func (o *Output) outputReconnect() {
	o.reconnectMu.Lock()

	if o.reconnecting.Load() && o.reconnectStop.isSet() {
		// a stop is tearing the cycle down
		o.reconnectMu.Unlock()
		return
	}

	if !o.reconnecting.Load() {
		o.reconnectCurSec = o.retrySec
		o.reconnectRetries = 0
	}

	hardStop := o.hardStop.Load() != 0
	if o.reconnectRetries >= o.maxRetries || hardStop {
		retries := o.reconnectRetries
		o.reconnectMu.Unlock()

		o.reconnecting.Store(false)
		o.teardownDelay()

		code := models.StopDisconnected
		if hardStop {
			code = models.StopSuccess
		} else {
			o.log.Warnf("Output '%s': giving up after %d reconnect attempts", o.name, retries)
		}
		o.finish(code)
		return
	}

	if !o.reconnecting.Load() {
		o.reconnectStop.reset()
		o.reconnecting.Store(true)
	}

	if o.reconnectRetries > 0 {
		o.reconnectCurSec *= 2
	}
	o.reconnectRetries++

	sec := o.reconnectCurSec
	attempt := o.reconnectRetries

	o.handle.AddRef()
	o.reconnectWG.Add(1)
	o.reconnectMu.Unlock()

	// announce the attempt before the worker can report its outcome
	o.log.Infof("Output '%s': Reconnecting in %d seconds.. (attempt %d)", o.name, sec, attempt)
	o.m.RecordReconnectAttempt(o.name)
	o.emit(models.Event{Type: models.EventReconnect, TimeoutSec: sec})

	go o.reconnectWorker(time.Duration(sec) * o.retryUnit)
}

// reconnectWorker waits out the backoff and restarts the sink. A stop
// signaled during the wait ends the cycle without another attempt.
func (o *Output) reconnectWorker(d time.Duration) {
	defer o.handle.Release()
	defer o.reconnectWG.Done()

	if o.reconnectStop.wait(d) {
		return
	}
	if o.actualStart() {
		return
	}
	if o.reconnectStop.isSet() {
		return
	}
	o.outputReconnect()
}

// reconnectAttempts returns the attempt count of the current cycle
func (o *Output) reconnectAttempts() int {
	o.reconnectMu.Lock()
	defer o.reconnectMu.Unlock()
	return o.reconnectRetries
}
