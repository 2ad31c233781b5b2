// Package chatlog holds the ordered entries of one conversation view: rendered
// messages plus at most one typing placeholder.
//
// A Log is not safe for concurrent use. It is owned by a single conversation
// controller which serialises every mutation.
package chatlog

import (
	"html/template"
	"time"

	"github.com/google/uuid"

	"personachat/internal/models"
	"personachat/internal/render"
)

// Kind distinguishes real messages from the transient typing placeholder.
type Kind string

const (
	KindMessage Kind = "message"
	KindTyping  Kind = "typing"
)

// Entry is one row of the log.
type Entry struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	Sender     models.Sender `json:"sender,omitempty"`
	Text       string        `json:"text,omitempty"`
	HTML       template.HTML `json:"html"`
	RenderedAt time.Time     `json:"rendered_at"`
}

// IsTyping reports whether the entry is the typing placeholder.
func (e Entry) IsTyping() bool { return e.Kind == KindTyping }

// ChangeKind names an incremental mutation of the log.
type ChangeKind string

const (
	ChangeAppended ChangeKind = "appended"
	ChangeRemoved  ChangeKind = "removed"
	ChangeReset    ChangeKind = "reset"
	ChangeScroll   ChangeKind = "scroll"
)

// Change describes one mutation so a view binding can replay it.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	Entry   *Entry     `json:"entry,omitempty"`
	ID      string     `json:"id,omitempty"`
	Entries []Entry    `json:"entries,omitempty"`
}

// Renderer turns untrusted text into safe markup.
type Renderer func(text string, sender models.Sender) template.HTML

// Option configures a Log.
type Option func(*Log)

// WithRenderer replaces the default text renderer.
func WithRenderer(r Renderer) Option {
	return func(l *Log) {
		if r != nil {
			l.render = r
		}
	}
}

// WithScrollPolicy replaces the default near-bottom policy.
func WithScrollPolicy(p ScrollPolicy) Option {
	return func(l *Log) { l.policy = p }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// Log is the ordered message log of a conversation.
type Log struct {
	entries []Entry
	changes []Change
	policy  ScrollPolicy
	follow  bool
	render  Renderer
	now     func() time.Time
}

// New returns an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		policy: ScrollPolicy{Threshold: DefaultThreshold},
		follow: true,
		render: render.Render,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append renders text, adds it at the tail and returns the new message id.
func (l *Log) Append(sender models.Sender, text string) string {
	e := Entry{
		ID:         newID(""),
		Kind:       KindMessage,
		Sender:     sender,
		Text:       text,
		HTML:       l.render(text, sender),
		RenderedAt: l.now(),
	}
	l.entries = append(l.entries, e)
	l.record(Change{Kind: ChangeAppended, Entry: &e})
	l.scroll()
	return e.ID
}

// ShowTyping adds the typing placeholder unless one is already present.
func (l *Log) ShowTyping() {
	if l.HasTyping() {
		return
	}
	e := Entry{
		ID:         newID("typing-"),
		Kind:       KindTyping,
		RenderedAt: l.now(),
	}
	l.entries = append(l.entries, e)
	l.record(Change{Kind: ChangeAppended, Entry: &e})
	l.scroll()
}

// RemoveTyping drops the placeholder. It is a no-op when none is shown.
func (l *Log) RemoveTyping() {
	l.removeWhere(func(e Entry) bool { return e.IsTyping() })
}

// ClearErrors removes every error entry and returns how many were removed.
func (l *Log) ClearErrors() int {
	return l.removeWhere(func(e Entry) bool {
		return e.Kind == KindMessage && e.Sender == models.SenderError
	})
}

// LoadHistory replaces the whole log with the given history, in order.
// Unknown roles and blank messages are skipped. A single scroll to the end is
// issued afterwards when anything was loaded.
func (l *Log) LoadHistory(history []models.HistoryEntry) {
	entries := make([]Entry, 0, len(history))
	at := l.now()
	for _, h := range history {
		sender, ok := models.NormalizeSender(h.Role)
		if !ok || h.Text == "" {
			continue
		}
		entries = append(entries, Entry{
			ID:         newID(""),
			Kind:       KindMessage,
			Sender:     sender,
			Text:       h.Text,
			HTML:       l.render(h.Text, sender),
			RenderedAt: at,
		})
	}
	l.entries = entries
	l.record(Change{Kind: ChangeReset, Entries: l.Entries()})
	l.follow = true
	if len(entries) > 0 {
		l.record(Change{Kind: ChangeScroll})
	}
}

// ObserveViewport records where the viewer currently is.
func (l *Log) ObserveViewport(v Viewport) {
	l.follow = l.policy.ShouldFollow(v)
}

// Following reports whether the next visible mutation will scroll.
func (l *Log) Following() bool { return l.follow }

// Entries returns a copy of the log rows in order.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Messages returns the real messages, without the typing placeholder.
func (l *Log) Messages() []models.Message {
	out := make([]models.Message, 0, len(l.entries))
	for _, e := range l.entries {
		if e.IsTyping() {
			continue
		}
		out = append(out, models.Message{
			ID:         e.ID,
			Sender:     e.Sender,
			Text:       e.Text,
			RenderedAt: e.RenderedAt,
		})
	}
	return out
}

// HasTyping reports whether the placeholder is shown.
func (l *Log) HasTyping() bool {
	for _, e := range l.entries {
		if e.IsTyping() {
			return true
		}
	}
	return false
}

// Len returns the number of rows, placeholder included.
func (l *Log) Len() int { return len(l.entries) }

// TakeChanges returns the mutations recorded since the previous call.
func (l *Log) TakeChanges() []Change {
	changes := l.changes
	l.changes = nil
	return changes
}

func (l *Log) removeWhere(match func(Entry) bool) int {
	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if match(e) {
			removed++
			l.record(Change{Kind: ChangeRemoved, ID: e.ID})
			continue
		}
		kept = append(kept, e)
	}
	// clear the tail so removed entries are not retained
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = Entry{}
	}
	l.entries = kept
	return removed
}

func (l *Log) scroll() {
	if l.follow {
		l.record(Change{Kind: ChangeScroll})
	}
}

func (l *Log) record(c Change) {
	l.changes = append(l.changes, c)
}

func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + id.String()
}
