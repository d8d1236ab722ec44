package navigator

import (
	"sync/atomic"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

const progressBuffer = 32

// dispatcher hands progress updates to the observer on its own goroutine.
// When the observer falls behind, updates are dropped rather than stalling
// the loop.
type dispatcher struct {
	ch      chan schemas.Progress
	done    chan struct{}
	dropped atomic.Int64
}

func newDispatcher(fn schemas.ProgressFunc) *dispatcher {
	if fn == nil {
		return nil
	}
	d := &dispatcher{
		ch:   make(chan schemas.Progress, progressBuffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for p := range d.ch {
			fn(p)
		}
	}()
	return d
}

func (d *dispatcher) send(p schemas.Progress) {
	if d == nil {
		return
	}
	select {
	case d.ch <- p:
	default:
		d.dropped.Add(1)
	}
}

// close flushes queued updates and stops the goroutine.
func (d *dispatcher) close() {
	if d == nil {
		return
	}
	close(d.ch)
	<-d.done
}
