package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axmq/broker/destination"
	"github.com/axmq/broker/metrics"
)

// idleWait bounds how long an idle worker blocks on its waker: the
// liveness backstop that guarantees eventual delivery even if a post was
// lost or a message became eligible through a selector state change rather
// than a fresh send.
const idleWait = 1 * time.Second

// workerPool is the fixed-size set of dispatch workers draining the event
// queue and sweeping the registry for progress.
type workerPool struct {
	registry *registry
	queue    *eventQueue
	wakers   []*waker
	metrics  metrics.Recorder
	log      Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

func newWorkerPool(reg *registry, size int, rec metrics.Recorder, log Logger) *workerPool {
	if size <= 0 {
		size = 1
	}
	if rec == nil {
		rec = metrics.Noop()
	}
	if log == nil {
		log = noopLogger{}
	}
	wakers := make([]*waker, size)
	for i := range wakers {
		wakers[i] = newWaker()
	}
	return &workerPool{registry: reg, queue: newEventQueue(), wakers: wakers, metrics: rec, log: log}
}

// postNewMessageEvent enqueues key (if non-empty) and wakes every worker.
// Signaling all W wakers on every post is deliberate: the queue is shared,
// so any worker may service the enqueued key, and the coalesced wake plus
// the sweep backstop make a missed signal a latency bug at worst.
func (p *workerPool) postNewMessageEvent(key string) {
	p.queue.push(key)
	for _, w := range p.wakers {
		w.broadcast()
	}
}

// start launches one goroutine per waker slot.
func (p *workerPool) start() {
	if p.running.Swap(true) {
		return
	}
	for i := range p.wakers {
		p.wg.Add(1)
		go p.run(i)
	}
}

// stop clears the running flag, wakes every worker so it observes the
// flag promptly, and waits for all of them to exit. Idempotent.
func (p *workerPool) stop() {
	if !p.running.Swap(false) {
		return
	}
	for _, w := range p.wakers {
		w.broadcast()
	}
	p.wg.Wait()
}

func (p *workerPool) run(num int) {
	defer p.wg.Done()
	w := p.wakers[num]
	ctx := context.Background()

	for p.running.Load() {
		p.metrics.WorkerBusy(num, true)
		start := time.Now()
		for p.sweepOnceSafe(ctx, num) {
		}
		p.metrics.SweepDuration(num, time.Since(start))
		p.metrics.WorkerBusy(num, false)

		select {
		case <-w.ch:
		case <-time.After(idleWait):
		}
	}
}

// sweepOnceSafe runs sweepOnce with a recover guard: a panic surfacing from
// a destination or a Consumer's Push implementation degrades to a logged
// error for this worker's current pass rather than taking down the process,
// matching the broker's policy that a per-message failure stays local.
func (p *workerPool) sweepOnceSafe(ctx context.Context, num int) (progressed bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("dispatch worker panic recovered", "worker", num, "panic", r)
			progressed = false
		}
	}()
	return p.sweepOnce(ctx, num)
}

// sweepOnce performs one targeted drain followed by one full sweep,
// returning whether the full sweep made any progress (so the caller
// should loop again rather than go idle).
func (p *workerPool) sweepOnce(ctx context.Context, num int) bool {
	for {
		key, ok := p.queue.tryDequeue()
		if !ok {
			break
		}
		if d, found := p.registry.lookup(key); found {
			d.GetNextMessageForAllSubscriptions(ctx)
		}
	}

	progressed := false
	count := 0
	p.registry.forEach(func(d *destination.Destination) {
		count++
		if d.GetNextMessageForAllSubscriptions(ctx) {
			progressed = true
			p.log.Debug("dispatch progress", "worker", num, "destination", d.URI())
		}
	})
	p.metrics.ActiveDestinations(count)
	return progressed
}
