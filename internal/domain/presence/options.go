package presence

import "time"

// Option configures a Classifier.
type Option func(*Classifier)

// WithLiveWindow sets the live window. Non-positive values are ignored.
func WithLiveWindow(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.liveWindow = d
		}
	}
}
