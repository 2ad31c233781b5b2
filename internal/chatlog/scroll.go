package chatlog

// DefaultThreshold is how far, in pixels, the viewer may sit above the bottom
// of the log and still be followed by auto-scroll.
const DefaultThreshold = 80

// Viewport is the scroll geometry of the log container as reported by the
// browser.
type Viewport struct {
	ScrollTop    float64 `json:"scroll_top"`
	ScrollHeight float64 `json:"scroll_height"`
	ClientHeight float64 `json:"client_height"`
}

// DistanceFromBottom returns how far the visible area ends above the last row.
func (v Viewport) DistanceFromBottom() float64 {
	d := v.ScrollHeight - v.ScrollTop - v.ClientHeight
	if d < 0 {
		return 0
	}
	return d
}

// ScrollPolicy auto-scrolls unless the user has scrolled more than Threshold
// pixels away from the bottom.
type ScrollPolicy struct {
	Threshold float64
}

// ShouldFollow reports whether a mutation should scroll the log to its end.
func (p ScrollPolicy) ShouldFollow(v Viewport) bool {
	if v.ScrollHeight <= 0 {
		// nothing measured yet
		return true
	}
	threshold := p.Threshold
	if threshold < 0 {
		threshold = 0
	}
	return v.DistanceFromBottom() <= threshold
}
