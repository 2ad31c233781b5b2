// Package turns tracks the server-reported turn allowance of a conversation.
package turns

import "fmt"

// Counter holds the current and maximum turn counts. Both values are only ever
// replaced wholesale from server responses; the client never increments them.
// The zero value is a suppressed counter.
type Counter struct {
	current int
	max     int
}

// Display is the derived presentation state of a Counter.
type Display struct {
	Text         string `json:"text"`
	Current      int    `json:"current"`
	Max          int    `json:"max"`
	Remaining    int    `json:"remaining"`
	LimitReached bool   `json:"limit_reached"`
	Suppressed   bool   `json:"suppressed"`
}

// SetState replaces both counts unconditionally.
func (c *Counter) SetState(current, max int) {
	c.current = current
	c.max = max
}

// Current returns the last server-reported turn count.
func (c Counter) Current() int { return c.current }

// Max returns the last server-reported turn limit.
func (c Counter) Max() int { return c.max }

// Suppressed reports whether no limit is configured or known.
func (c Counter) Suppressed() bool { return c.max <= 0 }

// Remaining returns max(0, max-current), or 0 while suppressed.
func (c Counter) Remaining() int {
	if c.Suppressed() {
		return 0
	}
	if r := c.max - c.current; r > 0 {
		return r
	}
	return 0
}

// IsLimitReached reports whether a limit is configured and exhausted.
func (c Counter) IsLimitReached() bool {
	return !c.Suppressed() && c.Remaining() == 0
}

// Display derives the presentation state from the counts.
func (c Counter) Display() Display {
	d := Display{
		Current:    c.current,
		Max:        c.max,
		Remaining:  c.Remaining(),
		Suppressed: c.Suppressed(),
	}
	if d.Suppressed {
		return d
	}
	d.LimitReached = c.IsLimitReached()
	if d.LimitReached {
		d.Text = "No turns left"
	} else {
		d.Text = fmt.Sprintf("%d turns left", d.Remaining)
	}
	return d
}
