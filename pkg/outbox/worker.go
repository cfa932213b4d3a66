package outbox

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Worker is the background poller. One goroutine drains a wake channel fed by
// both the interval ticker and publish-time kicks, so poll cycles are
// single-flight by construction: two cycles can never run concurrently within
// a process.
type Worker struct {
	dispatcher *dispatcher
	interval   time.Duration
	batchSize  int
	logging    bool
	now        func() time.Time

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	running  atomic.Bool
	inFlight atomic.Bool
}

func newWorker(d *dispatcher, interval time.Duration, batchSize int, logging bool) *Worker {
	return &Worker{
		dispatcher: d,
		interval:   interval,
		batchSize:  batchSize,
		logging:    logging,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
}

// Start launches the poll loop. Calling Start on a running worker does nothing.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.run()
}

// Stop cancels the ticker and waits for any in-flight poll cycle to finish
// before returning, so no dispatch work continues after shutdown.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.stop)
	<-w.done
}

// Kick requests one additional poll cycle without waiting for the next tick.
// It is best-effort and never blocks: if a wake-up is already queued the
// request is dropped.
func (w *Worker) Kick() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		case <-w.wake:
		}
		w.runCycle(context.Background())
	}
}

// runCycle executes one poll cycle. The in-flight flag rejects overlapping
// invocations; it reports whether the cycle actually ran.
func (w *Worker) runCycle(ctx context.Context) bool {
	if !w.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer w.inFlight.Store(false)

	events, err := w.dispatcher.repo.FetchDue(ctx, w.now(), w.batchSize)
	if err != nil {
		if w.logging {
			log.Printf("Failed to fetch due events: %v", err)
		}
		return true
	}

	for i := range events {
		w.dispatcher.dispatch(ctx, &events[i])
	}

	return true
}
