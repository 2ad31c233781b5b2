// Package conversation implements the per-view chat state machine: it guards
// submits, drives the message log and turn counter through one send at a
// time, and turns every send outcome into log entries.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"personachat/internal/chatapi"
	"personachat/internal/chatlog"
	"personachat/internal/models"
	"personachat/internal/turns"
)

// ChatAPI is the remote chat endpoint as seen by a controller.
type ChatAPI interface {
	Send(ctx context.Context, req chatapi.SendRequest) (*chatapi.SendReply, error)
}

// State is the controller's position in its two-state machine.
type State string

const (
	StateIdle    State = "idle"
	StateSending State = "sending"
)

// Snapshot is the pure view state of a controller.
type Snapshot struct {
	CharacterID string          `json:"character_id"`
	State       State           `json:"state"`
	Responding  bool            `json:"responding"`
	Entries     []chatlog.Entry `json:"entries"`
	Turns       turns.Display   `json:"turns"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger for send outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLogOptions passes options through to the message log.
func WithLogOptions(opts ...chatlog.Option) Option {
	return func(c *Controller) { c.logOpts = append(c.logOpts, opts...) }
}

// WithInvalidIdentityHook registers fn to run, outside the controller lock,
// when a send reports that the character no longer exists.
func WithInvalidIdentityHook(fn func(characterID string)) Option {
	return func(c *Controller) { c.onInvalidIdentity = fn }
}

// Controller owns the message log and turn counter of one conversation view.
// All transitions are serialised by mu; the responding flag is the single
// permit for an in-flight send.
type Controller struct {
	mu          sync.Mutex
	characterID string
	api         ChatAPI
	log         *chatlog.Log
	counter     turns.Counter
	responding  bool

	logOpts           []chatlog.Option
	logger            *slog.Logger
	onInvalidIdentity func(characterID string)
}

// New returns an idle controller for characterID with an empty log.
func New(characterID string, api ChatAPI, opts ...Option) *Controller {
	c := &Controller{
		characterID: strings.TrimSpace(characterID),
		api:         api,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = chatlog.New(c.logOpts...)
	return c
}

// Seed loads the fetched profile: history into the log and the counts into
// the turn counter.
func (c *Controller) Seed(p *models.Profile) {
	if p == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.LoadHistory(p.History)
	c.log.TakeChanges()
	c.counter.SetState(p.CurrentTurnCount, p.MaxTurns)
}

// CharacterID returns the character this conversation talks to.
func (c *Controller) CharacterID() string { return c.characterID }

// Responding reports whether a send is in flight.
func (c *Controller) Responding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responding
}

// State returns Sending while a send is in flight, Idle otherwise.
func (c *Controller) State() State {
	if c.Responding() {
		return StateSending
	}
	return StateIdle
}

// Snapshot returns a copy of the current view state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := StateIdle
	if c.responding {
		state = StateSending
	}
	return Snapshot{
		CharacterID: c.characterID,
		State:       state,
		Responding:  c.responding,
		Entries:     c.log.Entries(),
		Turns:       c.counter.Display(),
	}
}

// ObserveViewport records the viewer's scroll position for the scroll policy.
func (c *Controller) ObserveViewport(v chatlog.Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.ObserveViewport(v)
}

// Submit runs one send cycle for text and reports its outcome. Events of this
// cycle are delivered to sink in order, never while the lock is held. Once
// issued, the send is not cancelled by ctx; it runs until the API answers or
// the transport gives up.
func (c *Controller) Submit(ctx context.Context, text string, sink Sink) Outcome {
	if sink == nil {
		sink = func(Event) {}
	}
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if text == "" || c.responding {
		c.mu.Unlock()
		sink(Event{Type: EventDone, Outcome: OutcomeIgnored})
		return OutcomeIgnored
	}

	var rejection string
	switch {
	case c.characterID == "":
		rejection = msgMissingIdentity
	case c.counter.IsLimitReached():
		rejection = msgTurnLimit
	}
	if rejection != "" {
		c.log.ClearErrors()
		events := translate(c.log.TakeChanges(), EventErrorsCleared)
		c.log.Append(models.SenderError, rejection)
		events = append(events, translate(c.log.TakeChanges(), "")...)
		c.mu.Unlock()

		c.logger.Info("submit rejected", "character", c.characterID, "reason", rejection)
		emit(sink, events, OutcomeRejected)
		return OutcomeRejected
	}

	c.log.ClearErrors()
	events := translate(c.log.TakeChanges(), EventErrorsCleared)
	c.log.Append(models.SenderUser, text)
	events = append(events, translate(c.log.TakeChanges(), "")...)
	events = append(events, Event{Type: EventInputCleared})
	c.log.ShowTyping()
	events = append(events, translate(c.log.TakeChanges(), "")...)
	c.responding = true
	c.mu.Unlock()

	for _, ev := range events {
		sink(ev)
	}

	reply, err := c.api.Send(context.WithoutCancel(ctx), chatapi.SendRequest{Message: text, ID: c.characterID})

	outcome, events, invalid := c.resolve(reply, err)
	if invalid && c.onInvalidIdentity != nil {
		c.onInvalidIdentity(c.characterID)
	}
	emit(sink, events, outcome)
	return outcome
}

// resolve applies a finished send to the log and counter and releases the
// responding permit.
func (c *Controller) resolve(reply *chatapi.SendReply, err error) (Outcome, []Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.responding = false }()

	c.log.RemoveTyping()
	events := translate(c.log.TakeChanges(), EventTypingRemoved)

	if err == nil && (reply == nil || reply.Reply == nil || *reply.Reply == "") {
		err = &chatapi.Error{Kind: chatapi.KindMalformed, Message: "reply missing"}
		if counts, ok := reply.Counts(); ok {
			events = append(events, c.refreshTurns(counts))
		}
	}

	if err != nil {
		kind := chatapi.KindOf(err)
		if apiErr, ok := chatapi.AsError(err); ok && kind == chatapi.KindTurnLimit && apiErr.Turns != nil {
			events = append(events, c.refreshTurns(*apiErr.Turns))
		}
		c.log.Append(models.SenderError, errorText(err))
		events = append(events, translate(c.log.TakeChanges(), "")...)
		c.logger.Warn("send failed", "character", c.characterID, "kind", kind.String(), "error", err)
		return OutcomeFailed, events, kind == chatapi.KindNotFound
	}

	c.log.Append(models.SenderAssistant, *reply.Reply)
	events = append(events, translate(c.log.TakeChanges(), "")...)
	if counts, ok := reply.Counts(); ok {
		events = append(events, c.refreshTurns(counts))
	}
	c.logger.Info("send replied", "character", c.characterID, "remaining", c.counter.Remaining())
	return OutcomeReplied, events, false
}

func (c *Controller) refreshTurns(counts chatapi.TurnCounts) Event {
	c.counter.SetState(counts.Current, counts.Max)
	d := c.counter.Display()
	return Event{Type: EventTurns, Turns: &d}
}

func emit(sink Sink, events []Event, outcome Outcome) {
	for _, ev := range events {
		sink(ev)
	}
	sink(Event{Type: EventDone, Outcome: outcome})
}
