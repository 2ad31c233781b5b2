package worker

import (
	"log/slog"
	"sync"
	"time"
)

type poolSlot struct {
	id        int
	ch        chan Job
	lastUsed  time.Time
	enqueued  bool // on the idle list
	discarded bool // retired or retiring
}

// sendPool is an elastic set of workers between min and max. Idle
// workers above min retire after the expiry.
type sendPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*poolSlot
	metadata map[chan Job]*poolSlot
	min      int
	max      int
	running  int
	nextID   int
	expiry   time.Duration
	sender   Sender
	logger   *slog.Logger
	quit     chan struct{}
	closed   bool
}

const defaultWorkerIdle = 30 * time.Second

func newSendPool(minWorkers, maxWorkers int, idle time.Duration, sender Sender, logger *slog.Logger) *sendPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &sendPool{
		metadata: make(map[chan Job]*poolSlot),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		sender:   sender,
		logger:   logger,
		quit:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.reapIdle()
	return p
}

// newWorkerLocked registers a worker; callers hold p.mu and start it after unlocking.
func (p *sendPool) newWorkerLocked() (*Worker, *poolSlot) {
	p.nextID++
	worker := NewWorker(p.nextID, p, p.sender, p.logger)
	meta := &poolSlot{id: p.nextID, ch: worker.jobChannel, lastUsed: time.Now()}
	p.metadata[worker.jobChannel] = meta
	p.running++
	return worker, meta
}

// spawnWorker adds an idle worker, used to warm the pool up to min.
func (p *sendPool) spawnWorker() {
	p.mu.Lock()
	if p.closed || p.running >= p.max {
		p.mu.Unlock()
		return
	}
	worker, meta := p.newWorkerLocked()
	meta.enqueued = true
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	worker.Start()
	p.cond.Signal()
}

// acquire returns an idle worker, spawns one below max, or waits for a release.
// It returns nil once the pool is closed.
func (p *sendPool) acquire() chan Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil
		}
		if meta := p.popIdleLocked(); meta != nil {
			return meta.ch
		}
		if p.running < p.max {
			worker, meta := p.newWorkerLocked()
			worker.Start()
			return meta.ch
		}
		p.cond.Wait()
	}
}

// Release puts a worker back on the idle list.
func (p *sendPool) Release(ch chan Job) {
	p.mu.Lock()
	meta, ok := p.metadata[ch]
	if !ok || meta.discarded || meta.enqueued {
		p.mu.Unlock()
		return
	}
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	p.cond.Signal()
}

// retire deletes a worker.
func (p *sendPool) retire(ch chan Job) {
	p.mu.Lock()
	if meta, ok := p.metadata[ch]; ok {
		delete(p.metadata, ch)
		meta.discarded = true
		if p.running > 0 {
			p.running--
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *sendPool) workerID(ch chan Job) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if meta, ok := p.metadata[ch]; ok {
		return meta.id
	}
	return 0
}

func (p *sendPool) stats() (running, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, len(p.idle)
}

// popIdleLocked takes the oldest live idle worker, or nil.
func (p *sendPool) popIdleLocked() *poolSlot {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

// reapIdle retires expired idle workers every expiry period until close.
func (p *sendPool) reapIdle() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.retireExpired()
		case <-p.quit:
			return
		}
	}
}

// retireExpired retires idle workers past the expiry while staying at or above min.
func (p *sendPool) retireExpired() {
	var stale []*poolSlot
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0] // reuse the backing array
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			meta.discarded = true
			meta.enqueued = false
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, meta := range stale {
		p.logger.Debug("retiring idle worker", "worker", meta.id)
		select {
		case meta.ch <- Job{Type: Stop}:
		case <-p.quit:
			return
		}
	}
}

// close stops every worker once its current job finishes and wakes waiters.
func (p *sendPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()
	p.cond.Broadcast()
}
