package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"personachat/internal/chatapi"
	"personachat/internal/models"
)

type fakeAPI struct {
	mu       sync.Mutex
	calls    []chatapi.SendRequest
	reply    *chatapi.SendReply
	err      error
	gate     chan struct{}
	started  chan struct{}
	ctxAlive []bool
}

func (f *fakeAPI) Send(ctx context.Context, req chatapi.SendRequest) (*chatapi.SendReply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.ctxAlive = append(f.ctxAlive, ctx.Err() == nil)
	f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func seeded(api ChatAPI, current, max int) *Controller {
	c := New("char-1", api)
	c.Seed(&models.Profile{ID: "char-1", CurrentTurnCount: current, MaxTurns: max})
	return c
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func messageTexts(c *Controller) []string {
	var out []string
	for _, e := range c.Snapshot().Entries {
		if !e.IsTyping() {
			out = append(out, string(e.Sender)+":"+e.Text)
		}
	}
	return out
}

func TestSubmitHappyPath(t *testing.T) {
	api := &fakeAPI{reply: &chatapi.SendReply{Reply: strPtr("Hi there"), CurrentTurnCount: intPtr(4), MaxTurns: intPtr(10)}}
	c := seeded(api, 2, 10)
	rec := &recorder{}

	outcome := c.Submit(context.Background(), "  Hello ", rec.sink)

	assert.Equal(t, OutcomeReplied, outcome)
	require.Equal(t, 1, api.callCount())
	assert.Equal(t, chatapi.SendRequest{Message: "Hello", ID: "char-1"}, api.calls[0])
	assert.Equal(t, []string{"user:Hello", "assistant:Hi there"}, messageTexts(c))

	snap := c.Snapshot()
	assert.Equal(t, 6, snap.Turns.Remaining)
	assert.False(t, snap.Responding)
	assert.Equal(t, StateIdle, snap.State)

	assert.Equal(t, []EventType{
		EventErrorsCleared,
		EventAppend, EventScroll,
		EventInputCleared,
		EventTyping, EventScroll,
		EventTypingRemoved,
		EventAppend, EventScroll,
		EventTurns,
		EventDone,
	}, rec.types())
}

func TestSubmitLimitReachedPrecheck(t *testing.T) {
	api := &fakeAPI{}
	c := seeded(api, 10, 10)
	rec := &recorder{}

	outcome := c.Submit(context.Background(), "test", rec.sink)

	assert.Equal(t, OutcomeRejected, outcome)
	assert.Zero(t, api.callCount())
	assert.Equal(t, []string{"error:" + msgTurnLimit}, messageTexts(c))
	assert.False(t, c.Responding())
	assert.NotContains(t, rec.types(), EventInputCleared)
}

func TestSubmitLimitPrecheckReplacesStaleError(t *testing.T) {
	c := seeded(&fakeAPI{}, 10, 10)
	c.Submit(context.Background(), "one", nil)
	c.Submit(context.Background(), "two", nil)
	assert.Equal(t, []string{"error:" + msgTurnLimit}, messageTexts(c))
}

func TestSubmitServerSignalledLimit(t *testing.T) {
	api := &fakeAPI{err: &chatapi.Error{
		Kind:   chatapi.KindTurnLimit,
		Status: 403,
		Code:   chatapi.TurnLimitCode,
		Turns:  &chatapi.TurnCounts{Current: 10, Max: 10},
	}}
	c := seeded(api, 8, 10)

	outcome := c.Submit(context.Background(), "hi", nil)

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, []string{"user:hi", "error:" + msgTurnLimit}, messageTexts(c))
	snap := c.Snapshot()
	assert.Equal(t, 0, snap.Turns.Remaining)
	assert.True(t, snap.Turns.LimitReached)
}

func TestSubmitMalformedReply(t *testing.T) {
	api := &fakeAPI{reply: &chatapi.SendReply{}}
	c := seeded(api, 0, 10)

	outcome := c.Submit(context.Background(), "hi", nil)

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, []string{"user:hi", "error:" + msgNoResponse}, messageTexts(c))
	assert.Equal(t, 10, c.Snapshot().Turns.Remaining)
}

func TestSubmitMalformedReplyStillRefreshesCounts(t *testing.T) {
	api := &fakeAPI{reply: &chatapi.SendReply{CurrentTurnCount: intPtr(3), MaxTurns: intPtr(10)}}
	c := seeded(api, 0, 10)
	rec := &recorder{}

	c.Submit(context.Background(), "hi", rec.sink)

	assert.Equal(t, 7, c.Snapshot().Turns.Remaining)
	assert.Contains(t, rec.types(), EventTurns)
}

func TestSubmitWhileSendingIsIgnored(t *testing.T) {
	api := &fakeAPI{
		reply:   &chatapi.SendReply{Reply: strPtr("ok")},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := seeded(api, 0, 0)

	done := make(chan Outcome, 1)
	go func() { done <- c.Submit(context.Background(), "first", nil) }()
	<-api.started

	assert.Equal(t, StateSending, c.State())
	snap := c.Snapshot()
	second := c.Submit(context.Background(), "second", nil)
	assert.Equal(t, OutcomeIgnored, second)
	assert.Equal(t, snap.Entries, c.Snapshot().Entries)

	close(api.gate)
	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeReplied, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("first submit did not finish")
	}
	assert.Equal(t, 1, api.callCount())
	assert.Equal(t, []string{"user:first", "assistant:ok"}, messageTexts(c))
}

func TestSubmitBlankIsIgnored(t *testing.T) {
	api := &fakeAPI{}
	c := seeded(api, 0, 10)
	rec := &recorder{}

	assert.Equal(t, OutcomeIgnored, c.Submit(context.Background(), "   \n", rec.sink))
	assert.Zero(t, api.callCount())
	assert.Empty(t, messageTexts(c))
	assert.Equal(t, []EventType{EventDone}, rec.types())
}

func TestSubmitMissingIdentity(t *testing.T) {
	api := &fakeAPI{}
	c := New("  ", api)

	assert.Equal(t, OutcomeRejected, c.Submit(context.Background(), "hello", nil))
	assert.Zero(t, api.callCount())
	assert.Equal(t, []string{"error:" + msgMissingIdentity}, messageTexts(c))
}

func TestSubmitTransportError(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	c := seeded(api, 0, 10)

	assert.Equal(t, OutcomeFailed, c.Submit(context.Background(), "hi", nil))
	assert.Equal(t, []string{"user:hi", "error:" + msgNetwork}, messageTexts(c))
	assert.False(t, c.Responding())
}

func TestSubmitServerErrorText(t *testing.T) {
	api := &fakeAPI{err: &chatapi.Error{Kind: chatapi.KindServer, Status: 500, Message: "AI Service Error: Invalid API Key."}}
	c := seeded(api, 0, 10)

	c.Submit(context.Background(), "hi", nil)
	assert.Equal(t, []string{"user:hi", "error:Server error: AI Service Error: Invalid API Key."}, messageTexts(c))
}

func TestSubmitClearsStaleErrorsOnRetry(t *testing.T) {
	api := &fakeAPI{err: errors.New("down")}
	c := seeded(api, 0, 10)
	c.Submit(context.Background(), "one", nil)

	api.err = nil
	api.reply = &chatapi.SendReply{Reply: strPtr("back")}
	c.Submit(context.Background(), "two", nil)

	assert.Equal(t, []string{"user:one", "user:two", "assistant:back"}, messageTexts(c))
}

func TestSubmitNotFoundRunsHook(t *testing.T) {
	api := &fakeAPI{err: &chatapi.Error{Kind: chatapi.KindNotFound, Status: 404}}
	var invalidated []string
	c := New("char-1", api, WithInvalidIdentityHook(func(id string) { invalidated = append(invalidated, id) }))

	assert.Equal(t, OutcomeFailed, c.Submit(context.Background(), "hi", nil))
	assert.Equal(t, []string{"char-1"}, invalidated)
	assert.Equal(t, []string{"user:hi", "error:" + msgNotFound}, messageTexts(c))
}

func TestSubmitDetachedFromCallerCancellation(t *testing.T) {
	api := &fakeAPI{
		reply:   &chatapi.SendReply{Reply: strPtr("late")},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := seeded(api, 0, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Outcome, 1)
	go func() { done <- c.Submit(ctx, "hi", nil) }()
	<-api.started
	cancel()
	close(api.gate)

	assert.Equal(t, OutcomeReplied, <-done)
	assert.Equal(t, []bool{true}, api.ctxAlive)
}

func TestSeedLoadsHistory(t *testing.T) {
	c := New("char-1", &fakeAPI{})
	c.Seed(&models.Profile{
		CurrentTurnCount: 2,
		MaxTurns:         10,
		History: []models.HistoryEntry{
			{Role: "user", Text: "hi"},
			{Role: "model", Text: "hello"},
		},
	})
	assert.Equal(t, []string{"user:hi", "assistant:hello"}, messageTexts(c))
	assert.Equal(t, "8 turns left", c.Snapshot().Turns.Text)
}

func TestErrorTextIsExhaustive(t *testing.T) {
	kinds := []chatapi.ErrorKind{
		chatapi.KindTransport, chatapi.KindTurnLimit, chatapi.KindNotFound,
		chatapi.KindForbidden, chatapi.KindServer, chatapi.KindMalformed,
	}
	for _, k := range kinds {
		assert.NotEmpty(t, errorText(&chatapi.Error{Kind: k}), k.String())
	}
	assert.Equal(t, msgNoResponse, errorText(&chatapi.Error{Kind: chatapi.KindMalformed}))
}
