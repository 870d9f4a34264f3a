package session

import (
	"fmt"
	"log/slog"
	"sync"
)

// dispatcher runs queued notifications one at a time on its own goroutine.
// push never blocks, so a slow listener cannot stall a render worker.
type dispatcher struct {
	log    *slog.Logger
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newDispatcher(log *slog.Logger) *dispatcher {
	d := &dispatcher{
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) push(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		d.run(fn)
	}
}

func (d *dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("listener panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// close delivers everything already queued, then stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
	<-d.done
}
