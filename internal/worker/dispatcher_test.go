package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"personachat/internal/chatapi"
)

type orderedSender struct {
	mu    sync.Mutex
	order []string
	gate  chan struct{}
}

func (s *orderedSender) Send(ctx context.Context, req chatapi.SendRequest) (*chatapi.SendReply, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.order = append(s.order, req.ID)
	s.mu.Unlock()
	reply := "ok"
	return &chatapi.SendReply{Reply: &reply}, nil
}

func TestDispatcherDeliversResult(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4}, &orderedSender{}, nil)
	defer d.Stop()

	reply, err := d.ForView("v1").Send(context.Background(), chatapi.SendRequest{Message: "hi", ID: "c"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Reply == nil || *reply.Reply != "ok" {
		t.Fatalf("unexpected reply %#v", reply)
	}
}

func TestDispatcherQueueFullIsTransportError(t *testing.T) {
	sender := &mockSender{gate: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{MinWorkers: 0, MaxWorkers: 1, QueueSize: 1}, sender, nil)
	defer d.Stop()

	const submits = 5
	errs := make(chan error, submits)
	var wg sync.WaitGroup
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Submit(context.Background(), "v", chatapi.SendRequest{Message: "m", ID: "c"})
			errs <- err
		}(i)
	}

	// one worker, one job waiting for it and one queued slot: the rest must bounce
	busy := 0
	deadline := time.After(2 * time.Second)
	for busy < submits-3 {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrDispatcherBusy) {
				t.Fatalf("expected busy error before release, got %v", err)
			}
			if chatapi.KindOf(err) != chatapi.KindTransport {
				t.Fatalf("busy must classify as transport, got %s", chatapi.KindOf(err))
			}
			busy++
		case <-deadline:
			t.Fatalf("only %d submits bounced", busy)
		}
	}

	close(sender.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil && !errors.Is(err, ErrDispatcherBusy) {
			t.Fatalf("unexpected error %v", err)
		}
	}
}

func TestDispatcherRoundRobinAcrossViews(t *testing.T) {
	d := &Dispatcher{
		queues:    make(map[string]*viewQueue),
		ready:     newReadyList(),
		positions: make(map[string]*listElement),
	}
	job := func(view string) Job {
		return Job{Type: Send, send: &sendTask{viewID: view}}
	}
	d.enqueueJob(job("a"))
	d.enqueueJob(job("a"))
	d.enqueueJob(job("a"))
	d.enqueueJob(job("b"))
	d.enqueueJob(job("c"))

	var got []string
	for {
		job, ok := d.next()
		if !ok {
			break
		}
		got = append(got, job.viewID())
	}
	want := []string{"a", "b", "c", "a", "a"}
	if len(got) != len(want) {
		t.Fatalf("order mismatch: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: want %v got %v", want, got)
		}
	}
}

func TestDispatcherCancelViewFailsQueuedJobs(t *testing.T) {
	d := &Dispatcher{
		queues:    make(map[string]*viewQueue),
		ready:     newReadyList(),
		positions: make(map[string]*listElement),
	}
	resultCh := make(chan sendResult, 1)
	d.enqueueJob(Job{Type: Send, send: &sendTask{viewID: "v", resultCh: resultCh}})

	d.CancelView("v")
	res := <-resultCh
	if chatapi.KindOf(res.err) != chatapi.KindTransport {
		t.Fatalf("expected transport error, got %v", res.err)
	}
	if d.ready.Len() != 0 {
		t.Fatalf("view still queued")
	}
}

func TestDispatcherStopRejectsSends(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MaxWorkers: 1, QueueSize: 1}, &orderedSender{}, nil)
	d.Stop()
	d.Stop()
	_, err := d.Submit(context.Background(), "v", chatapi.SendRequest{})
	if chatapi.KindOf(err) != chatapi.KindTransport || err == nil {
		t.Fatalf("expected transport error after stop, got %v", err)
	}
}

func TestPoolShrinksToMin(t *testing.T) {
	p := newSendPool(1, 3, 10*time.Millisecond, &orderedSender{}, discardLogger())
	defer p.close()

	chans := []chan Job{p.acquire(), p.acquire(), p.acquire()}
	if running, _ := p.stats(); running != 3 {
		t.Fatalf("expected 3 workers, got %d", running)
	}
	for _, ch := range chans {
		p.Release(ch)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if running, _ := p.stats(); running == 1 {
			return
		}
		if time.Now().After(deadline) {
			running, idle := p.stats()
			t.Fatalf("pool did not shrink: running=%d idle=%d", running, idle)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
