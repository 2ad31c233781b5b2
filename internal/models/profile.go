package models

// Profile is the persona metadata plus the conversation seed returned by the
// profile fetch.
type Profile struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	IconURL          string         `json:"iconUrl"`
	ProfileText      string         `json:"profileText"`
	CurrentTurnCount int            `json:"currentTurnCount"`
	MaxTurns         int            `json:"maxTurns"`
	History          []HistoryEntry `json:"history"`
}

// Persona returns a copy carrying only the display metadata. Turn counts and
// history are left zero because they are only meaningful when fresh.
func (p *Profile) Persona() *Profile {
	if p == nil {
		return nil
	}
	return &Profile{
		ID:          p.ID,
		Name:        p.Name,
		IconURL:     p.IconURL,
		ProfileText: p.ProfileText,
	}
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.History != nil {
		cp.History = make([]HistoryEntry, len(p.History))
		copy(cp.History, p.History)
	}
	return &cp
}
