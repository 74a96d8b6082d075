// Package clock provides the logical timestamps used for last-writer-wins
// conflict resolution.
//
// Timestamps are wall-clock milliseconds scaled by 1000 with a random
// 0..999 tie-breaker in the low digits, so two devices stamping within
// the same millisecond almost never collide. The clock carries an offset
// to the server clock, estimated once per connection from a round trip;
// the offset only tightens ordering across devices and is never a source
// of correctness.
package clock

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// Clock produces offset-adjusted logical timestamps.
//
// A Clock is safe for concurrent use. The zero offset means local wall
// time; the syncer owns one Clock and adjusts it on every (re)connect.
type Clock struct {
	offsetMillis atomic.Int64
}

// New creates a Clock with no remote offset applied.
func New() *Clock {
	return &Clock{}
}

// Now returns the next logical timestamp:
// (wall millis + offset) * 1000 + jitter in [0, 1000).
func (c *Clock) Now() int64 {
	millis := time.Now().UnixMilli() + c.offsetMillis.Load()
	return millis*1000 + rand.Int64N(1000)
}

// Adjust sets the estimated offset to the remote clock, in milliseconds.
func (c *Clock) Adjust(offsetMillis int64) {
	c.offsetMillis.Store(offsetMillis)
}

// Offset returns the currently applied offset in milliseconds.
func (c *Clock) Offset() int64 {
	return c.offsetMillis.Load()
}

// AdjustFromExchange estimates the offset from a single request/response
// exchange: before and after are local epoch millis sampled around the
// round trip, remote is the server's reported epoch millis. The local
// time at the server's sampling point is approximated by the midpoint.
func (c *Clock) AdjustFromExchange(before, after, remote int64) {
	local := (before + after) / 2
	c.Adjust(remote - local)
}
