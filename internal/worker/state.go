package worker

import (
	"time"

	"personachat/internal/conversation"
	"personachat/internal/models"
)

// View is one open chat page: a conversation controller plus the persona it
// was opened for.
type View struct {
	ID          string
	CharacterID string
	Persona     *models.Profile
	Controller  *conversation.Controller
	CreatedAt   time.Time
}

type viewState struct {
	view     *View
	lastUsed time.Time
}

func (s *viewState) touch(now time.Time) {
	s.lastUsed = now
}

// idle reports whether the view has gone unused for ttl and has no send in flight.
func (s *viewState) idle(now time.Time, ttl time.Duration) bool {
	if now.Sub(s.lastUsed) < ttl {
		return false
	}
	return !s.view.Controller.Responding()
}
