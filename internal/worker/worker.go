package worker

import (
	"context"
	"log/slog"
	"time"

	"personachat/internal/chatapi"
)

// JobType is what a worker is asked to do.
type JobType string

const (
	Send JobType = "send"
	Stop JobType = "stop"
)

// Job travels from the dispatcher to a worker.
type Job struct {
	Type JobType
	send *sendTask
}

type sendTask struct {
	ctx      context.Context
	viewID   string
	req      chatapi.SendRequest
	resultCh chan sendResult
}

type sendResult struct {
	reply *chatapi.SendReply
	err   error
}

// Worker runs jobs handed to its channel, one at a time.
type Worker struct {
	id         int
	pool       *sendPool
	sender     Sender
	logger     *slog.Logger
	jobChannel chan Job
}

func NewWorker(id int, pool *sendPool, sender Sender, logger *slog.Logger) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		sender:     sender,
		logger:     logger,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for {
			select {
			case job := <-w.jobChannel:
				switch job.Type {
				case Stop:
					return
				case Send:
					w.handleSend(job.send)
				}
				w.pool.Release(w.jobChannel)
			case <-w.pool.quit:
				return
			}
		}
	}()
}

func (w *Worker) handleSend(task *sendTask) {
	if task == nil {
		return
	}
	started := time.Now()
	reply, err := w.sender.Send(task.ctx, task.req)
	w.logger.Debug("send finished",
		"worker", w.id,
		"view", task.viewID,
		"elapsed", time.Since(started),
		"kind", errKind(err),
	)
	task.resultCh <- sendResult{reply: reply, err: err}
}

func errKind(err error) string {
	if err == nil {
		return "ok"
	}
	return chatapi.KindOf(err).String()
}
