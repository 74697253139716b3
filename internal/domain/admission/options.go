package admission

import "time"

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithMinInterval sets the minimum spacing between two submissions of one participant.
func WithMinInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.minInterval = d
		}
	}
}

// WithMaxQuota sets the total number of submissions a participant may make.
func WithMaxQuota(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.maxQuota = n
		}
	}
}
