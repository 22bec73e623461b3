package remote

import "time"

// Clock is the server clock reading attached to every response.
// ServerTime comes from the response Date header, ReceivedAt is the
// local time the response arrived.
type Clock struct {
	ServerTime time.Time
	ReceivedAt time.Time
}

// Skew returns serverTime minus local time at receipt. It is zero when
// the response carried no usable Date header.
func (c Clock) Skew() time.Duration {
	if c.ServerTime.IsZero() || c.ReceivedAt.IsZero() {
		return 0
	}

	return c.ServerTime.Sub(c.ReceivedAt)
}

// Valid reports whether the reading can be used to measure skew.
func (c Clock) Valid() bool {
	return !c.ServerTime.IsZero() && !c.ReceivedAt.IsZero()
}

// Reading gives access to the clock of any result embedding Clock.
func (c Clock) Reading() Clock {
	return c
}
