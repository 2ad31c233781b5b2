package worker

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"personachat/internal/chatapi"
)

// ErrDispatcherBusy is returned when the send queue is full.
var ErrDispatcherBusy = errors.New("send queue full")

var errDispatcherStopped = errors.New("dispatcher stopped")

// Sender performs the actual chat API call.
type Sender interface {
	Send(ctx context.Context, req chatapi.SendRequest) (*chatapi.SendReply, error)
}

// DispatcherConfig sizes the worker pool and the intake queue.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type viewQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs chat sends on a bounded pool, taking one job per view in
// round-robin order so a busy view cannot starve the others.
type Dispatcher struct {
	pool     *sendPool
	jobQueue chan Job // interface for outer jobs get in the dispatcher
	logger   *slog.Logger

	mu        sync.Mutex
	queues    map[string]*viewQueue // job queue for each view
	ready     *list.List            // LRU queue storing view IDs
	positions map[string]*list.Element

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:      newSendPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, sender, logger),
		jobQueue:  make(chan Job, queueSize),
		logger:    logger,
		queues:    make(map[string]*viewQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		stopCh:    make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// ForView returns the chat API as seen by one view's controller.
func (d *Dispatcher) ForView(viewID string) Sender {
	return viewSender{d: d, viewID: viewID}
}

type viewSender struct {
	d      *Dispatcher
	viewID string
}

func (v viewSender) Send(ctx context.Context, req chatapi.SendRequest) (*chatapi.SendReply, error) {
	return v.d.Submit(ctx, v.viewID, req)
}

// Submit queues a send for viewID and waits for its result. A full queue
// fails at once with a transport error wrapping ErrDispatcherBusy.
func (d *Dispatcher) Submit(ctx context.Context, viewID string, req chatapi.SendRequest) (*chatapi.SendReply, error) {
	resultCh := make(chan sendResult, 1)
	job := Job{Type: Send, send: &sendTask{ctx: ctx, viewID: viewID, req: req, resultCh: resultCh}}

	select {
	case <-d.stopCh:
		return nil, &chatapi.Error{Kind: chatapi.KindTransport, Message: "send rejected", Err: errDispatcherStopped}
	default:
	}
	select {
	case d.jobQueue <- job:
	default:
		d.logger.Warn("send queue full", "view", viewID)
		return nil, &chatapi.Error{Kind: chatapi.KindTransport, Message: "send rejected", Err: ErrDispatcherBusy}
	}

	select {
	case res := <-resultCh:
		return res.reply, res.err
	case <-d.stopCh:
		return nil, &chatapi.Error{Kind: chatapi.KindTransport, Message: "send abandoned", Err: errDispatcherStopped}
	case <-ctx.Done():
		return nil, &chatapi.Error{Kind: chatapi.KindTransport, Message: "send abandoned", Err: ctx.Err()}
	}
}

// CancelView drops jobs of viewID that have not reached a worker yet.
func (d *Dispatcher) CancelView(viewID string) {
	d.mu.Lock()
	q := d.queues[viewID]
	delete(d.queues, viewID)
	if elem, ok := d.positions[viewID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, viewID)
	}
	d.mu.Unlock()

	if q == nil {
		return
	}
	for _, job := range q.jobs {
		if job.send != nil {
			job.send.resultCh <- sendResult{err: &chatapi.Error{Kind: chatapi.KindTransport, Message: "view closed", Err: errDispatcherStopped}}
		}
	}
}

// Stop shuts the dispatcher and its workers down. In-flight sends finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.pool.close()
	})
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the view in the front of the LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue: // wait for work
				d.enqueueJob(job)
			case <-d.stopCh:
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.stopCh:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	viewID := job.viewID()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[viewID]
	if q == nil {
		q = &viewQueue{}
		d.queues[viewID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		// view already waiting its turn
		return
	}
	q.enqueued = true
	d.positions[viewID] = d.ready.PushBack(viewID)
}

// dispatchOne hands the next job of the least recently served view to a worker.
func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.next()
	if !ok {
		return false
	}
	workerChan := d.pool.acquire()
	if workerChan == nil {
		return false
	}
	d.logger.Debug("dispatching job", "type", job.Type, "view", job.viewID(), "worker", d.pool.workerID(workerChan))
	select {
	case workerChan <- job:
	case <-d.stopCh:
	}
	return true
}

// next pops one job from the view at the front of the LRU queue and moves
// that view to the back.
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	viewID := elem.Value.(string)
	q := d.queues[viewID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// last job of this view, it leaves the queue
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, viewID)
		delete(d.queues, viewID)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

func (job Job) viewID() string {
	if job.send != nil {
		return job.send.viewID
	}
	return ""
}
