package conversation

import (
	"personachat/internal/chatlog"
	"personachat/internal/turns"
)

// EventType names an incremental update a view binding applies in order.
type EventType string

const (
	EventErrorsCleared EventType = "errors_cleared"
	EventAppend        EventType = "append"
	EventInputCleared  EventType = "input_cleared"
	EventTyping        EventType = "typing"
	EventTypingRemoved EventType = "typing_removed"
	EventTurns         EventType = "turns"
	EventScroll        EventType = "scroll"
	EventReset         EventType = "reset"
	EventDone          EventType = "done"
)

// Outcome is how a submit attempt ended.
type Outcome string

const (
	// OutcomeIgnored is a silent no-op: blank input or a send already running.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means a guard failed with a visible error; nothing was sent.
	OutcomeRejected Outcome = "rejected"
	// OutcomeReplied means the assistant reply was appended.
	OutcomeReplied Outcome = "replied"
	// OutcomeFailed means the send resolved to an in-chat error.
	OutcomeFailed Outcome = "failed"
)

// Event is one update produced by the controller.
type Event struct {
	Type    EventType       `json:"type"`
	Entry   *chatlog.Entry  `json:"entry,omitempty"`
	IDs     []string        `json:"ids,omitempty"`
	Entries []chatlog.Entry `json:"entries,omitempty"`
	Turns   *turns.Display  `json:"turns,omitempty"`
	Outcome Outcome         `json:"outcome,omitempty"`
}

// Sink receives the events of one submit, in order.
type Sink func(Event)

// translate turns log changes into events. Removals are reported as
// removedAs: a single aggregated event for errors, one per id otherwise.
func translate(changes []chatlog.Change, removedAs EventType) []Event {
	var events []Event
	var cleared []string
	for _, ch := range changes {
		switch ch.Kind {
		case chatlog.ChangeAppended:
			typ := EventAppend
			if ch.Entry != nil && ch.Entry.IsTyping() {
				typ = EventTyping
			}
			events = append(events, Event{Type: typ, Entry: ch.Entry})
		case chatlog.ChangeRemoved:
			if removedAs == EventErrorsCleared {
				cleared = append(cleared, ch.ID)
				continue
			}
			events = append(events, Event{Type: removedAs, IDs: []string{ch.ID}})
		case chatlog.ChangeReset:
			events = append(events, Event{Type: EventReset, Entries: ch.Entries})
		case chatlog.ChangeScroll:
			events = append(events, Event{Type: EventScroll})
		}
	}
	if removedAs == EventErrorsCleared {
		events = append([]Event{{Type: EventErrorsCleared, IDs: cleared}}, events...)
	}
	return events
}
